// Package pattern expands namespace regular expressions into concrete targets.
package pattern

import (
	"regexp"
	"sync"

	"github.com/go-logr/logr"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
)

// Resolver matches namespace patterns against live namespaces.
// Compiled expressions are memoized; a Resolver is safe for concurrent use.
type Resolver struct {
	log      logr.Logger
	compiled sync.Map // string -> *regexp.Regexp
}

// NewResolver returns a Resolver that logs malformed patterns to log.
func NewResolver(log logr.Logger) *Resolver {
	return &Resolver{log: log}
}

// ResolveNamespaces returns, for each pattern in order, every namespace the
// pattern matches. A namespace matched by N patterns appears N times.
// Malformed patterns are logged and skipped.
func (r *Resolver) ResolveNamespaces(namespaces, patterns []string) []string {
	var out []string
	for _, p := range patterns {
		re, err := r.compile(p)
		if err != nil {
			r.log.Error(err, "Skipping malformed namespace pattern", "pattern", p)
			continue
		}
		for _, ns := range namespaces {
			if re.MatchString(ns) {
				out = append(out, ns)
			}
		}
	}
	return out
}

// ResolveManagedSecrets returns the cross product of each definition's resolved
// namespaces and its Secret name.
func (r *Resolver) ResolveManagedSecrets(namespaces []string, defs []secretsv1alpha1.ManagedSecret) []resource.Key {
	var out []resource.Key
	for _, def := range defs {
		for _, ns := range r.ResolveNamespaces(namespaces, def.Namespaces) {
			out = append(out, resource.NewKey(ns, def.Name))
		}
	}
	return out
}

func (r *Resolver) compile(p string) (*regexp.Regexp, error) {
	if v, ok := r.compiled.Load(p); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	r.compiled.Store(p, re)
	return re, nil
}
