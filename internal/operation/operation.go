// Package operation defines the three transformation kinds and validates
// them against a dataset before anything is executed.
//
// Operations usually originate from the translator and are treated as
// untrusted: Validate is the only way to obtain a Validated operation, and
// the executor accepts nothing else.
package operation

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabula/internal/fault"
)

// Kind is the operation variant.
type Kind string

const (
	KindSubstitute Kind = "substitute"
	KindFilter     Kind = "filter"
	KindCompute    Kind = "compute"
)

// ParseKind reads a kind name. The route aliases "regex" and "math" are
// accepted for substitute and compute.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "substitute", "regex", "replace":
		return KindSubstitute, nil
	case "filter":
		return KindFilter, nil
	case "compute", "math":
		return KindCompute, nil
	default:
		return "", fmt.Errorf("unknown operation kind %q", s)
	}
}

// Operation is a tagged variant over the three kinds. Only the fields of
// the active kind are meaningful.
type Operation struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Substitute
	Pattern     string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Replacement string `json:"replacement,omitempty" yaml:"replacement,omitempty"`
	Column      string `json:"column,omitempty" yaml:"column,omitempty"` // empty means every column

	// Filter (predicate) and Compute (assignment)
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Substitute returns a substitution over every column.
func Substitute(pattern, replacement string) Operation {
	return Operation{Kind: KindSubstitute, Pattern: pattern, Replacement: replacement}
}

// SubstituteIn returns a substitution scoped to one column.
func SubstituteIn(column, pattern, replacement string) Operation {
	return Operation{Kind: KindSubstitute, Pattern: pattern, Replacement: replacement, Column: column}
}

// Filter returns a row filter.
func Filter(predicate string) Operation {
	return Operation{Kind: KindFilter, Expression: predicate}
}

// Compute returns a column assignment such as "Total := Price * Qty".
func Compute(assignment string) Operation {
	return Operation{Kind: KindCompute, Expression: assignment}
}

// Scoped reports whether a substitution targets a single column.
func (o Operation) Scoped() bool { return o.Column != "" }

// Describe renders the operation for logs and version messages.
func (o Operation) Describe() string {
	switch o.Kind {
	case KindSubstitute:
		scope := "all columns"
		if o.Scoped() {
			scope = fmt.Sprintf("column %q", o.Column)
		}
		return fmt.Sprintf("replace /%s/ with %q in %s", o.Pattern, o.Replacement, scope)
	case KindFilter:
		return fmt.Sprintf("keep rows where %s", o.Expression)
	case KindCompute:
		return fmt.Sprintf("compute %s", o.Expression)
	default:
		return string(o.Kind)
	}
}

// Label is the version label recorded for a successful operation.
func (k Kind) Label() string {
	switch k {
	case KindSubstitute:
		return "edited"
	case KindFilter:
		return "filtered"
	case KindCompute:
		return "computed"
	default:
		return "unknown"
	}
}

func checkKind(k Kind) error {
	switch k {
	case KindSubstitute, KindFilter, KindCompute:
		return nil
	default:
		return fault.New(fault.InvalidExpression, "validate", fmt.Sprintf("unknown operation kind %q", k))
	}
}
