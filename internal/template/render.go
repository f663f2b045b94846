// Package template renders ManagedSecret data templates against an external store.
//
// Templates are Go text/template strings with the hermetic sprig function set. A store
// secret is referenced as {{ .name }} or, for names that are not valid
// identifiers, {{ secret "path/to-name" }}. Every reference is fetched before
// execution; the first failed fetch aborts the whole map so a partially
// populated Secret is never produced.
package template

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"text/template"
	"text/template/parse"

	"github.com/Masterminds/sprig/v3"

	"github.com/dc-tec/vaultsync-operator/internal/reconcile"
)

const secretFunc = "secret"

// ErrUnresolved wraps the fault of the first placeholder that could not be fetched.
var ErrUnresolved = errors.New("unresolved placeholder")

// Lookup fetches a store secret by logical name.
type Lookup func(ctx context.Context, name string) reconcile.Result[string]

// Render parses every template in data, fetches all referenced secrets in
// key order and returns the rendered values. On any failure it returns nil.
func Render(ctx context.Context, data map[string]string, lookup Lookup) (map[string][]byte, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parsed := make(map[string]*template.Template, len(keys))
	var refs []string
	for _, k := range keys {
		t, err := newTemplate(k).Parse(data[k])
		if err != nil {
			return nil, fmt.Errorf("failed to parse template for key %q: %w", k, err)
		}
		parsed[k] = t
		for _, name := range Placeholders(t) {
			if !slices.Contains(refs, name) {
				refs = append(refs, name)
			}
		}
	}

	values := make(map[string]string, len(refs))
	for _, name := range refs {
		v, err := lookup(ctx, name).Unwrap()
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrUnresolved, name, err)
		}
		values[name] = v
	}

	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		t := parsed[k].Funcs(template.FuncMap{
			secretFunc: func(name string) (string, error) {
				v, ok := values[name]
				if !ok {
					return "", fmt.Errorf("%w %q", ErrUnresolved, name)
				}
				return v, nil
			},
		})
		var buf bytes.Buffer
		if err := t.Execute(&buf, values); err != nil {
			return nil, fmt.Errorf("failed to render key %q: %w", k, err)
		}
		out[k] = buf.Bytes()
	}
	return out, nil
}

func newTemplate(name string) *template.Template {
	return template.New(name).
		Option("missingkey=error").
		Funcs(sprig.HermeticTxtFuncMap()).
		Funcs(template.FuncMap{
			secretFunc: func(string) (string, error) { return "", ErrUnresolved },
		})
}

// Placeholders returns the store secret names a parsed template references,
// in order of first appearance.
func Placeholders(t *template.Template) []string {
	var out []string
	add := func(name string) {
		if name != "" && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	if t.Tree != nil {
		walk(t.Tree.Root, add)
	}
	return out
}

func walk(node parse.Node, add func(string)) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walk(c, add)
		}
	case *parse.ActionNode:
		walk(n.Pipe, add)
	case *parse.IfNode:
		walkBranch(&n.BranchNode, add)
	case *parse.RangeNode:
		walkBranch(&n.BranchNode, add)
	case *parse.WithNode:
		walkBranch(&n.BranchNode, add)
	case *parse.TemplateNode:
		walk(n.Pipe, add)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			walk(cmd, add)
		}
	case *parse.CommandNode:
		if len(n.Args) >= 2 {
			if id, ok := n.Args[0].(*parse.IdentifierNode); ok && id.Ident == secretFunc {
				if s, ok := n.Args[1].(*parse.StringNode); ok {
					add(s.Text)
				}
			}
		}
		for _, arg := range n.Args {
			walk(arg, add)
		}
	case *parse.FieldNode:
		if len(n.Ident) > 0 {
			add(n.Ident[0])
		}
	case *parse.ChainNode:
		walk(n.Node, add)
	}
}

func walkBranch(b *parse.BranchNode, add func(string)) {
	walk(b.Pipe, add)
	walk(b.List, add)
	if b.ElseList != nil {
		walk(b.ElseList, add)
	}
}
