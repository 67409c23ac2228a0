package operation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/JonMunkholm/tabula/internal/dataset"
	"github.com/JonMunkholm/tabula/internal/fault"
	"github.com/JonMunkholm/tabula/internal/operation/expr"
)

// Validated is an operation that passed validation. Its zero value is not
// usable; obtain one from Validate.
type Validated struct {
	op         Operation
	pattern    *regexp.Regexp
	predicate  *expr.Expr
	assignment *expr.Assignment
}

// Operation returns the validated operation.
func (v *Validated) Operation() Operation { return v.op }

// Kind returns the operation kind.
func (v *Validated) Kind() Kind { return v.op.Kind }

// Pattern returns the compiled substitution pattern. It uses
// leftmost-longest matching.
func (v *Validated) Pattern() *regexp.Regexp { return v.pattern }

// Predicate returns the parsed filter predicate.
func (v *Validated) Predicate() *expr.Expr { return v.predicate }

// Assignment returns the parsed compute assignment.
func (v *Validated) Assignment() *expr.Assignment { return v.assignment }

// Validate checks op against d without modifying d.
//
//   - Substitute: the target column, if set, must exist exactly and the
//     pattern must compile. Failures are ColumnNotFound and InvalidPattern.
//   - Filter: the predicate must be non-empty and well-formed. Column
//     references are resolved when the filter runs.
//   - Compute: the assignment must parse and its right-hand side may only
//     reference existing columns. The target may be new.
func Validate(op Operation, d *dataset.Dataset) (*Validated, error) {
	if err := checkKind(op.Kind); err != nil {
		return nil, err
	}

	switch op.Kind {
	case KindSubstitute:
		return validateSubstitute(op, d)
	case KindFilter:
		return validateFilter(op)
	default:
		return validateCompute(op, d)
	}
}

func validateSubstitute(op Operation, d *dataset.Dataset) (*Validated, error) {
	if op.Scoped() && !d.HasColumn(op.Column) {
		return nil, fault.Column("validate substitute", op.Column)
	}
	re, err := CompilePattern(op.Pattern)
	if err != nil {
		return nil, err
	}
	return &Validated{op: op, pattern: re}, nil
}

// CompilePattern compiles a substitution pattern with leftmost-longest
// semantics. Empty patterns are rejected because they match between every
// character.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fault.New(fault.InvalidPattern, "validate substitute", "pattern is empty")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidPattern, "validate substitute", err)
	}
	re.Longest()
	return re, nil
}

func validateFilter(op Operation) (*Validated, error) {
	if strings.TrimSpace(op.Expression) == "" {
		return nil, fault.New(fault.InvalidExpression, "validate filter", "predicate is empty")
	}
	e, err := expr.ParsePredicate(op.Expression)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidExpression, "validate filter", err)
	}
	return &Validated{op: op, predicate: e}, nil
}

func validateCompute(op Operation, d *dataset.Dataset) (*Validated, error) {
	if strings.TrimSpace(op.Expression) == "" {
		return nil, fault.New(fault.InvalidExpression, "validate compute", "assignment is empty")
	}
	a, err := expr.ParseAssignment(op.Expression)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidExpression, "validate compute", err)
	}
	if _, err := a.Value.Bind(d.Columns()); err != nil {
		var uc *expr.UnknownColumnError
		if errors.As(err, &uc) {
			return nil, fault.Column("validate compute", uc.Name)
		}
		return nil, fault.Wrap(fault.InvalidExpression, "validate compute", err)
	}
	return &Validated{op: op, assignment: a}, nil
}
