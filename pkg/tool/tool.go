// Package tool defines the executable tool contract and the glob-based
// access policy the run controller and pruner both consult.
package tool

import (
	"context"
	"path/filepath"
)

// Definition describes one callable tool: its name, a model-facing
// description and JSON input schema, and the handler that executes it.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Execute     func(ctx context.Context, input map[string]interface{}) (interface{}, error)
}

// Policy is a glob allow/deny pair. Deny always overrides allow. An
// empty Allow list means "allow everything not denied" — this is the
// opposite of a conventional default-deny allowlist, and is a deliberate
// behavior choice for this runtime rather than an oversight: a run with
// no explicit Allow entries should not silently lose every tool.
type Policy struct {
	Allow []string
	Deny  []string
}

// Allows reports whether name may run under this policy.
func (p Policy) Allows(name string) bool {
	for _, pattern := range p.Deny {
		if globMatch(pattern, name) {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, pattern := range p.Allow {
		if globMatch(pattern, name) {
			return true
		}
	}
	return false
}

// Filter returns the subset of definitions this policy allows, in their
// original order.
func (p Policy) Filter(defs []Definition) []Definition {
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		if p.Allows(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

// Intersect combines two policies for nested scopes (e.g. a subagent
// running inside a sandbox): a tool must be allowed by both to run.
func (p Policy) Intersect(other Policy) Policy {
	return Policy{
		Allow: intersectAllow(p.Allow, other.Allow),
		Deny:  append(append([]string{}, p.Deny...), other.Deny...),
	}
}

func intersectAllow(a, b []string) []string {
	if len(a) == 0 {
		return append([]string{}, b...)
	}
	if len(b) == 0 {
		return append([]string{}, a...)
	}
	var out []string
	for _, x := range a {
		for _, y := range b {
			if x == y || x == "*" || y == "*" {
				out = append(out, x)
				break
			}
		}
	}
	return out
}

func globMatch(pattern, name string) bool {
	if pattern == "*" || pattern == name {
		return true
	}
	matched, err := filepath.Match(pattern, name)
	if err != nil {
		return false
	}
	return matched
}
