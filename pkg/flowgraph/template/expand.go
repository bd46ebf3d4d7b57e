package template

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// placeholderPattern matches {key} with an optional leading '$'.
var placeholderPattern = regexp.MustCompile(`\$?\{([^{}\s$]+)\}`)

// Missing is what an Expander does with a placeholder whose key has no value.
type Missing int

const (
	// KeepMissing leaves the placeholder in the output. It is the default.
	KeepMissing Missing = iota
	// DropMissing replaces the placeholder with nothing.
	DropMissing
	// ReportMissing keeps the placeholder and returns an
	// *UndefinedVariableError naming every missing key.
	ReportMissing
)

// Option configures an Expander.
type Option func(*Expander)

// OnMissing sets the policy for keys without a value.
func OnMissing(m Missing) Option {
	return func(e *Expander) { e.missing = m }
}

// WithDollarBraces also expands ${key}, which is otherwise left alone.
func WithDollarBraces() Option {
	return func(e *Expander) { e.dollar = true }
}

// Expander fills {key} placeholders. It is safe for concurrent use.
type Expander struct {
	missing Missing
	dollar  bool
}

// NewExpander returns an Expander that keeps missing placeholders unless
// an option says otherwise.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand fills placeholders in s from vars. Only ReportMissing returns an
// error, alongside the partially expanded string.
func (e *Expander) Expand(s string, vars map[string]string) (string, error) {
	var missing []string
	result := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		if e.skip(match) {
			return match
		}
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if val, ok := vars[key]; ok {
			return val
		}
		switch e.missing {
		case DropMissing:
			return ""
		case ReportMissing:
			if !slices.Contains(missing, key) {
				missing = append(missing, key)
			}
		}
		return match
	})

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

// Placeholders returns the distinct keys referenced in s, in order of
// first appearance.
func (e *Expander) Placeholders(s string) []string {
	var keys []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		if e.skip(m[0]) {
			continue
		}
		if !slices.Contains(keys, m[1]) {
			keys = append(keys, m[1])
		}
	}
	return keys
}

func (e *Expander) skip(match string) bool {
	return !e.dollar && strings.HasPrefix(match, "$")
}

// UndefinedVariableError names the keys ReportMissing found without a
// value, in order of first appearance.
type UndefinedVariableError struct {
	Names []string
}

func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

var defaultExpander = NewExpander()

// Expand fills placeholders, keeping those without a value.
func Expand(s string, vars map[string]string) string {
	result, _ := defaultExpander.Expand(s, vars)
	return result
}

// Placeholders lists the {key} names in s, ignoring ${key}.
func Placeholders(s string) []string {
	return defaultExpander.Placeholders(s)
}
