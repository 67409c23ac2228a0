package dataset

import (
	"math"
	"strconv"
)

// Kind is the type of a scalar cell.
type Kind uint8

const (
	Missing Kind = iota
	String
	Number
	Bool
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	default:
		return "missing"
	}
}

// Value is a typed scalar. The zero Value is missing.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
}

// Null returns a missing value.
func Null() Value { return Value{} }

// Text returns a string value.
func Text(s string) Value { return Value{kind: String, s: s} }

// Num returns a numeric value.
func Num(f float64) Value { return Value{kind: Number, n: f} }

// Boolean returns a boolean value.
func Boolean(b bool) Value { return Value{kind: Bool, b: b} }

func (v Value) Kind() Kind        { return v.kind }
func (v Value) IsMissing() bool   { return v.kind == Missing }
func (v Value) Float() float64    { return v.n }
func (v Value) Bool() bool        { return v.b }
func (v Value) RawString() string { return v.s }

// Finite reports whether v is a number that is neither NaN nor infinite.
func (v Value) Finite() bool {
	return v.kind == Number && !math.IsNaN(v.n) && !math.IsInf(v.n, 0)
}

// String renders v as text. Missing renders as the empty string; integral
// numbers render without a fractional part.
func (v Value) String() string {
	switch v.kind {
	case String:
		return v.s
	case Number:
		return FormatNumber(v.n)
	case Bool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Equal reports whether two values have the same kind and content.
// NaN equals NaN so that datasets compare structurally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case String:
		return v.s == o.s
	case Number:
		if math.IsNaN(v.n) && math.IsNaN(o.n) {
			return true
		}
		return v.n == o.n
	case Bool:
		return v.b == o.b
	default:
		return true
	}
}

// FormatNumber renders f canonically: integers without a decimal point,
// everything else in the shortest representation that round-trips.
func FormatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Inf"
	}
	if math.IsInf(f, -1) {
		return "-Inf"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
