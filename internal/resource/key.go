// Package resource defines the normalized identity used to look up manifests,
// target Secrets and credential Secrets.
package resource

import (
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// DefaultNamespace is substituted for an empty namespace.
const DefaultNamespace = "default"

// Key is a normalized (namespace, name) pair. Construct it with NewKey so that
// two keys compare equal with == iff their normalized forms are equal.
type Key struct {
	Namespace string
	Name      string
}

// NewKey lowercases both fields and defaults an empty namespace.
func NewKey(namespace, name string) Key {
	namespace = strings.ToLower(strings.TrimSpace(namespace))
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Key{Namespace: namespace, Name: strings.ToLower(strings.TrimSpace(name))}
}

// KeyFor returns the key of a Kubernetes object.
func KeyFor(obj metav1.Object) Key {
	return NewKey(obj.GetNamespace(), obj.GetName())
}

// String renders the key as namespace/name.
func (k Key) String() string {
	return k.Namespace + "/" + k.Name
}

// NamespacedName converts the key for controller-runtime client calls.
func (k Key) NamespacedName() types.NamespacedName {
	return types.NamespacedName{Namespace: k.Namespace, Name: k.Name}
}

// Set is a set of keys.
type Set map[Key]struct{}

// NewSet builds a set from keys, collapsing duplicates.
func NewSet(keys ...Key) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Insert adds keys to the set.
func (s Set) Insert(keys ...Key) {
	for _, k := range keys {
		s[k] = struct{}{}
	}
}

// Has reports membership.
func (s Set) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Difference returns the members of candidates not in s, in candidate order and de-duplicated.
func (s Set) Difference(candidates []Key) []Key {
	var out []Key
	seen := make(Set)
	for _, k := range candidates {
		if s.Has(k) || seen.Has(k) {
			continue
		}
		seen.Insert(k)
		out = append(out, k)
	}
	return out
}
