package macros

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyStringTemplate(t *testing.T) {
	data := map[string]any{
		"a":      map[string]any{"b": "x"},
		"amount": 1.5,
		"list":   []any{"first", map[string]any{"k": true}},
	}

	assert.Equal(t, "x", ApplyStringTemplate("{{a.b}}", data))
	assert.Equal(t, "got x and 1.5", ApplyStringTemplate("got {{ a.b }} and {{amount}}", data))
	assert.Equal(t, "first/true", ApplyStringTemplate("{{list.0}}/{{list.1.k}}", data))
	assert.Equal(t, "missing: ", ApplyStringTemplate("missing: {{a.c}}", data))
	assert.Equal(t, `{"b":"x"}`, ApplyStringTemplate("{{a}}", data))
	assert.Equal(t, "no placeholders", ApplyStringTemplate("no placeholders", data))
}

func TestApplyJSONTemplate(t *testing.T) {
	data := map[string]any{
		"a":    []any{1, 2},
		"user": map[string]any{"name": "alice", "age": 30},
	}

	assert.Equal(t, []any{1, 2}, ApplyJSONTemplate("{{a}}", data))

	out := ApplyJSONTemplate(map[string]any{
		"values":   "{{a}}",
		"greeting": "hi {{user.name}}",
		"nested":   []any{"{{user.age}}", "{{user.missing}}", 7},
		"gone":     "{{nope}}",
		"literal":  false,
	}, data)

	assert.Equal(t, map[string]any{
		"values":   []any{1, 2},
		"greeting": "hi alice",
		"nested":   []any{30, nil, 7},
		"literal":  false,
	}, out)

	assert.Nil(t, ApplyJSONTemplate("{{nope}}", data))
}

func TestResolvePathTypedValues(t *testing.T) {
	data := map[string]any{"m": map[string]string{"k": "v"}, "s": []string{"a", "b"}}

	v, ok := ResolvePath(data, "m.k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	v, ok = ResolvePath(data, "s.1")
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = ResolvePath(data, "s.9")
	assert.False(t, ok)
	_, ok = ResolvePath(data, "")
	assert.False(t, ok)
}
