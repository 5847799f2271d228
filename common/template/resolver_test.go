package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_PlainValuesPassThrough(t *testing.T) {
	r := NewResolver()
	ctx := map[string]interface{}{"a": "anything"}

	assert.Equal(t, "hello", r.Resolve("hello", ctx))
	assert.Equal(t, 42, r.Resolve(42, ctx))
	assert.Equal(t, true, r.Resolve(true, ctx))
	assert.Nil(t, r.Resolve(nil, ctx))
}

func TestResolve_WholeTemplatePreservesType(t *testing.T) {
	r := NewResolver()
	ctx := map[string]interface{}{
		"a": map[string]interface{}{"count": 7, "items": []interface{}{"x", "y"}},
	}

	assert.Equal(t, 7, r.Resolve("{{a.count}}", ctx))
	assert.Equal(t, []interface{}{"x", "y"}, r.Resolve("{{a.items}}", ctx))
	assert.Equal(t, ctx["a"], r.Resolve("{{a}}", ctx))
}

func TestResolve_Interpolation(t *testing.T) {
	r := NewResolver()
	ctx := map[string]interface{}{"p": 7, "name": "world"}

	assert.Equal(t, "x-7-y", r.Resolve("x-{{p}}-y", ctx))
	assert.Equal(t, "hello world!", r.Resolve("hello {{name}}!", ctx))
}

func TestResolve_MissingPathLeftUntouched(t *testing.T) {
	r := NewResolver()
	ctx := map[string]interface{}{"a": map[string]interface{}{"b": 1}}

	assert.Equal(t, "{{a.missing}}", r.Resolve("{{a.missing}}", ctx))
	assert.Equal(t, "pre {{nope}} post", r.Resolve("pre {{nope}} post", ctx))
}

func TestResolve_EmptyPathIsLiteral(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, "{{}}", r.Resolve("{{}}", map[string]interface{}{}))
	assert.Equal(t, "a {{ }} b", r.Resolve("a {{ }} b", map[string]interface{}{}))
}

func TestResolve_WhitespaceTrimmedAroundPath(t *testing.T) {
	r := NewResolver()
	ctx := map[string]interface{}{"input": map[string]interface{}{"m": "hi"}}

	assert.Equal(t, "hi", r.Resolve("{{ input.m }}", ctx))
}

func TestResolve_SequenceIndex(t *testing.T) {
	r := NewResolver()
	ctx := map[string]interface{}{"a": []interface{}{"zero", "one"}}

	assert.Equal(t, "one", r.Resolve("{{a.1}}", ctx))
	assert.Equal(t, "{{a.9}}", r.Resolve("{{a.9}}", ctx))
}

func TestResolve_StructuredWalk(t *testing.T) {
	r := NewResolver()
	ctx := map[string]interface{}{
		"input": map[string]interface{}{"m": "hello"},
		"a":     "upstream",
	}

	in := map[string]interface{}{
		"message": "{{input.m}}",
		"nested":  map[string]interface{}{"from": "{{a}}", "literal": 3},
		"list":    []interface{}{"{{a}}", "plain"},
	}
	got := r.Resolve(in, ctx)

	want := map[string]interface{}{
		"message": "hello",
		"nested":  map[string]interface{}{"from": "upstream", "literal": 3},
		"list":    []interface{}{"upstream", "plain"},
	}
	assert.Equal(t, want, got)
}

func TestResolveInputs(t *testing.T) {
	r := NewResolver()
	ctx := map[string]interface{}{"input": map[string]interface{}{"m": "hi"}}

	got := r.ResolveInputs(map[string]interface{}{"message": "{{input.m}}"}, ctx)
	require.Equal(t, map[string]interface{}{"message": "hi"}, got)
}

func TestHasUnresolved(t *testing.T) {
	tok, ok := HasUnresolved(map[string]interface{}{"x": "{{a.b}}"})
	require.True(t, ok)
	assert.Equal(t, "{{a.b}}", tok)

	_, ok = HasUnresolved(map[string]interface{}{"x": "resolved", "y": "{{}}"})
	assert.False(t, ok)
}
