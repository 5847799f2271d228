// Package template substitutes {{path.to.value}} expressions over a
// run's dataflow context. The context maps node ids (plus the reserved
// key "input") to node outputs.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Resolver resolves templated values against a context. The zero value
// is ready to use.
type Resolver struct{}

// NewResolver creates a new template resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve walks value recursively and substitutes every {{...}} token
// found in string leaves. Unresolvable tokens are left untouched so the
// caller can detect them. Input structures must be tree-shaped.
func (r *Resolver) Resolve(value interface{}, ctx map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = r.Resolve(item, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = r.Resolve(item, ctx)
		}
		return out
	default:
		return value
	}
}

// ResolveInputs resolves a node's input mapping.
func (r *Resolver) ResolveInputs(inputs map[string]interface{}, ctx map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		out[k] = r.Resolve(v, ctx)
	}
	return out
}

// HasUnresolved reports whether value still contains template tokens
// after resolution, which the engine treats as an input error.
func HasUnresolved(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		if m := tokenPattern.FindString(v); m != "" && strings.TrimSpace(tokenPattern.FindStringSubmatch(m)[1]) != "" {
			return m, true
		}
	case map[string]interface{}:
		for _, item := range v {
			if tok, ok := HasUnresolved(item); ok {
				return tok, true
			}
		}
	case []interface{}:
		for _, item := range v {
			if tok, ok := HasUnresolved(item); ok {
				return tok, true
			}
		}
	}
	return "", false
}

func (r *Resolver) resolveString(s string, ctx map[string]interface{}) interface{} {
	// A string that is exactly one template preserves the native type of
	// the resolved value.
	if m := tokenPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		path := strings.TrimSpace(m[1])
		if path == "" {
			return s
		}
		if v, ok := lookup(path, ctx); ok {
			return v
		}
		return s
	}

	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		path := strings.TrimSpace(tokenPattern.FindStringSubmatch(tok)[1])
		if path == "" {
			return tok
		}
		v, ok := lookup(path, ctx)
		if !ok {
			return tok
		}
		return stringify(v)
	})
}

// lookup resolves a dotted path left-to-right. Each segment is used as
// a mapping key, or as an index when the current value is a sequence.
func lookup(path string, ctx map[string]interface{}) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = ctx
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		switch c := current.(type) {
		case map[string]interface{}:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			current = c[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
