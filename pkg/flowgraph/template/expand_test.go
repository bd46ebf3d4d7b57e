package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExpand tests {key} expansion with the default expander.
func TestExpand(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		vars     map[string]string
		expected string
	}{
		{"simple", "Hello {name}", map[string]string{"name": "World"}, "Hello World"},
		{"multiple", "{greeting} {name}!", map[string]string{"greeting": "Hi", "name": "Ann"}, "Hi Ann!"},
		{"repeated", "{x}-{x}", map[string]string{"x": "a"}, "a-a"},
		{"missing kept", "Hello {who}", nil, "Hello {who}"},
		{"non-ascii key", "対象: {会社名}", map[string]string{"会社名": "ACME"}, "対象: ACME"},
		{"hyphen key", "{target-url}", map[string]string{"target-url": "https://x"}, "https://x"},
		{"json untouched", `{"a": 1}`, map[string]string{"a": "no"}, `{"a": 1}`},
		{"dollar braces ignored", "${name}", map[string]string{"name": "x"}, "${name}"},
		{"nested braces", "{{name}}", map[string]string{"name": "x"}, "{x}"},
		{"empty", "", map[string]string{"a": "b"}, ""},
		{"value with braces not re-expanded", "{a}", map[string]string{"a": "{b}", "b": "no"}, "{b}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Expand(tt.input, tt.vars))
		})
	}
}

// TestExpander_OnMissing tests each missing key policy.
func TestExpander_OnMissing(t *testing.T) {
	vars := map[string]string{"known": "yes"}

	keep := NewExpander()
	out, err := keep.Expand("{known} {unknown}", vars)
	require.NoError(t, err)
	assert.Equal(t, "yes {unknown}", out)

	empty := NewExpander(OnMissing(DropMissing))
	out, err = empty.Expand("{known} {unknown}", vars)
	require.NoError(t, err)
	assert.Equal(t, "yes ", out)

	strict := NewExpander(OnMissing(ReportMissing))
	out, err = strict.Expand("{known} {a} {b} {a}", vars)
	var undef *UndefinedVariableError
	require.ErrorAs(t, err, &undef)
	assert.Equal(t, []string{"a", "b"}, undef.Names)
	assert.Equal(t, "undefined variables: a, b", err.Error())
	assert.Equal(t, "yes {a} {b} {a}", out)
}

// TestExpander_DollarBraces tests opting in to ${key}.
func TestExpander_DollarBraces(t *testing.T) {
	exp := NewExpander(WithDollarBraces())

	out, err := exp.Expand("${a} and {a}", map[string]string{"a": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x and x", out)
	assert.Equal(t, []string{"a"}, exp.Placeholders("${a} {a}"))
}

// TestPlaceholders tests key discovery.
func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"source", "audience"}, Placeholders("Summarise {source} for {audience}, cite {source}"))
	assert.Empty(t, Placeholders("no holes here"))
	assert.Empty(t, Placeholders("${skipped}"))
}

// TestUndefinedVariableError tests the single key message.
func TestUndefinedVariableError(t *testing.T) {
	err := &UndefinedVariableError{Names: []string{"x"}}
	assert.Equal(t, "undefined variable: x", err.Error())
}

// TestExpand_ProjectInstruction tests a realistic step prompt.
func TestExpand_ProjectInstruction(t *testing.T) {
	instruction := "Read {brief} and draft a launch post for {channel}. Output as:\n{\"title\": ..., \"body\": ...}"
	out := Expand(instruction, map[string]string{
		"brief":   "the Q3 brief",
		"channel": "Slack",
	})

	assert.Equal(t, "Read the Q3 brief and draft a launch post for Slack. Output as:\n{\"title\": ..., \"body\": ...}", out)
}
