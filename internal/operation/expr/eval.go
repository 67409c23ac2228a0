package expr

import (
	"errors"
	"fmt"
	"math"

	"github.com/JonMunkholm/tabula/internal/dataset"
)

// Evaluation failures. Callers attach the row index.
var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrType           = errors.New("type mismatch")
	ErrNonFinite      = errors.New("result is not a finite number")
)

// UnknownColumnError reports a name that is not a column of the dataset.
type UnknownColumnError struct {
	Name string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q", e.Name)
}

// Program is an expression bound to a column layout, ready to evaluate
// against rows of that layout.
type Program struct {
	src  string
	root node
}

// Bind resolves every referenced name against columns. It fails with an
// *UnknownColumnError naming the first unresolved column.
func (e *Expr) Bind(columns []string) (*Program, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	root, err := e.root.bind(index)
	if err != nil {
		return nil, err
	}
	return &Program{src: e.src, root: root}, nil
}

func (p *Program) String() string { return p.src }

// Eval evaluates the program against one row.
func (p *Program) Eval(row []dataset.Value) (dataset.Value, error) {
	return p.root.eval(row)
}

// Test evaluates the program as a predicate.
func (p *Program) Test(row []dataset.Value) (bool, error) {
	v, err := p.root.eval(row)
	if err != nil {
		return false, err
	}
	return truth(p.root, v)
}

type node interface {
	bind(index map[string]int) (node, error)
	eval(row []dataset.Value) (dataset.Value, error)
}

type literal struct{ v dataset.Value }

func (n *literal) bind(map[string]int) (node, error)           { return n, nil }
func (n *literal) eval([]dataset.Value) (dataset.Value, error) { return n.v, nil }

type column struct {
	name string
	idx  int
}

func (n *column) bind(index map[string]int) (node, error) {
	i, ok := index[n.name]
	if !ok {
		return nil, &UnknownColumnError{Name: n.name}
	}
	return &column{name: n.name, idx: i}, nil
}

func (n *column) eval(row []dataset.Value) (dataset.Value, error) {
	return row[n.idx], nil
}

type negation struct{ x node }

func (n *negation) bind(index map[string]int) (node, error) {
	x, err := n.x.bind(index)
	if err != nil {
		return nil, err
	}
	return &negation{x: x}, nil
}

func (n *negation) eval(row []dataset.Value) (dataset.Value, error) {
	v, err := n.x.eval(row)
	if err != nil {
		return dataset.Value{}, err
	}
	b, err := truth(n.x, v)
	if err != nil {
		return dataset.Value{}, err
	}
	return dataset.Boolean(!b), nil
}

type logical struct {
	op          TokenType
	left, right node
}

func (n *logical) bind(index map[string]int) (node, error) {
	l, err := n.left.bind(index)
	if err != nil {
		return nil, err
	}
	r, err := n.right.bind(index)
	if err != nil {
		return nil, err
	}
	return &logical{op: n.op, left: l, right: r}, nil
}

func (n *logical) eval(row []dataset.Value) (dataset.Value, error) {
	lv, err := n.left.eval(row)
	if err != nil {
		return dataset.Value{}, err
	}
	l, err := truth(n.left, lv)
	if err != nil {
		return dataset.Value{}, err
	}
	if n.op == TokenAnd && !l {
		return dataset.Boolean(false), nil
	}
	if n.op == TokenOr && l {
		return dataset.Boolean(true), nil
	}
	rv, err := n.right.eval(row)
	if err != nil {
		return dataset.Value{}, err
	}
	r, err := truth(n.right, rv)
	if err != nil {
		return dataset.Value{}, err
	}
	return dataset.Boolean(r), nil
}

type comparison struct {
	op          TokenType
	left, right node
}

func (n *comparison) bind(index map[string]int) (node, error) {
	l, err := n.left.bind(index)
	if err != nil {
		return nil, err
	}
	r, err := n.right.bind(index)
	if err != nil {
		return nil, err
	}
	return &comparison{op: n.op, left: l, right: r}, nil
}

func (n *comparison) eval(row []dataset.Value) (dataset.Value, error) {
	l, err := n.left.eval(row)
	if err != nil {
		return dataset.Value{}, err
	}
	r, err := n.right.eval(row)
	if err != nil {
		return dataset.Value{}, err
	}
	ok, err := compare(n.op, l, r)
	if err != nil {
		return dataset.Value{}, err
	}
	return dataset.Boolean(ok), nil
}

// compare applies op to two scalars. Missing operands never compare equal
// to anything, like NaN. A string meets a number numerically when it parses
// as one; otherwise the two are simply unequal and cannot be ordered.
func compare(op TokenType, l, r dataset.Value) (bool, error) {
	if l.IsMissing() || r.IsMissing() {
		return op == TokenNe, nil
	}

	lk, rk := l.Kind(), r.Kind()
	switch {
	case lk == dataset.Number && rk == dataset.Number:
		return ordered(op, cmpFloat(l.Float(), r.Float()), math.IsNaN(l.Float()) || math.IsNaN(r.Float())), nil
	case lk == dataset.String && rk == dataset.String:
		return ordered(op, cmpString(l.RawString(), r.RawString()), false), nil
	case lk == dataset.String && rk == dataset.Number:
		if f, ok := dataset.ParseNumber(l.RawString()); ok {
			return compare(op, dataset.Num(f), r)
		}
	case lk == dataset.Number && rk == dataset.String:
		if f, ok := dataset.ParseNumber(r.RawString()); ok {
			return compare(op, l, dataset.Num(f))
		}
	case lk == dataset.Bool && rk == dataset.Bool:
		switch op {
		case TokenEq:
			return l.Bool() == r.Bool(), nil
		case TokenNe:
			return l.Bool() != r.Bool(), nil
		}
	}

	switch op {
	case TokenEq:
		return false, nil
	case TokenNe:
		return true, nil
	default:
		return false, fmt.Errorf("%w: cannot order %s %q and %s %q with %s",
			ErrType, lk, l.String(), rk, r.String(), op)
	}
}

// ordered maps a three-way comparison result onto op. unordered marks a
// NaN operand, for which only != holds.
func ordered(op TokenType, c int, unordered bool) bool {
	if unordered {
		return op == TokenNe
	}
	switch op {
	case TokenEq:
		return c == 0
	case TokenNe:
		return c != 0
	case TokenLt:
		return c < 0
	case TokenLe:
		return c <= 0
	case TokenGt:
		return c > 0
	case TokenGe:
		return c >= 0
	}
	return false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

type arithmetic struct {
	op          TokenType
	left, right node
}

func (n *arithmetic) bind(index map[string]int) (node, error) {
	l, err := n.left.bind(index)
	if err != nil {
		return nil, err
	}
	r, err := n.right.bind(index)
	if err != nil {
		return nil, err
	}
	return &arithmetic{op: n.op, left: l, right: r}, nil
}

func (n *arithmetic) eval(row []dataset.Value) (dataset.Value, error) {
	l, err := operand(n.left, row)
	if err != nil {
		return dataset.Value{}, err
	}
	r, err := operand(n.right, row)
	if err != nil {
		return dataset.Value{}, err
	}

	var out float64
	switch n.op {
	case TokenPlus:
		out = l + r
	case TokenMinus:
		out = l - r
	case TokenStar:
		out = l * r
	case TokenSlash:
		if r == 0 {
			return dataset.Value{}, ErrDivisionByZero
		}
		out = l / r
	case TokenPercent:
		if r == 0 {
			return dataset.Value{}, ErrDivisionByZero
		}
		out = math.Mod(l, r)
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return dataset.Value{}, ErrNonFinite
	}
	return dataset.Num(out), nil
}

type minus struct{ x node }

func (n *minus) bind(index map[string]int) (node, error) {
	x, err := n.x.bind(index)
	if err != nil {
		return nil, err
	}
	return &minus{x: x}, nil
}

func (n *minus) eval(row []dataset.Value) (dataset.Value, error) {
	f, err := operand(n.x, row)
	if err != nil {
		return dataset.Value{}, err
	}
	return dataset.Num(-f), nil
}

// operand evaluates n and coerces the result to a finite number. Text cells
// are read with the lenient numeric grammar so "$1,200" counts as 1200.
func operand(n node, row []dataset.Value) (float64, error) {
	v, err := n.eval(row)
	if err != nil {
		return 0, err
	}
	switch v.Kind() {
	case dataset.Number:
		if !v.Finite() {
			return 0, fmt.Errorf("%w: %s is %s", ErrType, label(n), v.String())
		}
		return v.Float(), nil
	case dataset.String:
		if f, ok := dataset.ParseNumberLenient(v.RawString()); ok {
			return f, nil
		}
		return 0, fmt.Errorf("%w: %s value %q is not numeric", ErrType, label(n), v.RawString())
	case dataset.Bool:
		return 0, fmt.Errorf("%w: %s is a boolean, not a number", ErrType, label(n))
	default:
		return 0, fmt.Errorf("%w: %s is missing", ErrType, label(n))
	}
}

func truth(n node, v dataset.Value) (bool, error) {
	switch v.Kind() {
	case dataset.Bool:
		return v.Bool(), nil
	case dataset.Missing:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s is %s %q, expected true or false", ErrType, label(n), v.Kind(), v.String())
	}
}

func label(n node) string {
	if c, ok := n.(*column); ok {
		return fmt.Sprintf("column %q", c.name)
	}
	return "operand"
}
