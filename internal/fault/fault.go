// Package fault defines the error taxonomy shared by every layer of the
// transformation engine.
//
// Each failure carries a Kind so callers can branch on the category with
// errors.Is against the exported sentinels (ErrColumnNotFound, ...) without
// string matching. The web layer maps kinds to HTTP statuses and the core
// layer maps them to user-facing messages.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	UnsupportedFormat
	MalformedInput
	ColumnNotFound
	InvalidPattern
	InvalidExpression
	TranslationFailure
	NotFound
	StorageFailure
	BranchConflict
	Busy
)

var kindNames = map[Kind]string{
	Unknown:            "unknown",
	UnsupportedFormat:  "unsupported format",
	MalformedInput:     "malformed input",
	ColumnNotFound:     "column not found",
	InvalidPattern:     "invalid pattern",
	InvalidExpression:  "invalid expression",
	TranslationFailure: "translation failure",
	NotFound:           "not found",
	StorageFailure:     "storage failure",
	BranchConflict:     "branch conflict",
	Busy:               "busy",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// NoRow marks an Error that is not tied to a specific row.
const NoRow = -1

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "decode", "filter"
	Column string // offending column, if any
	Row    int    // 0-based offending row, or NoRow
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Column != "" {
		fmt.Fprintf(&b, " %q", e.Column)
	}
	if e.Row != NoRow {
		fmt.Fprintf(&b, " at row %d", e.Row)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.sentinel() && t.Kind == e.Kind
}

func (e *Error) sentinel() bool {
	return e.Op == "" && e.Column == "" && e.Row == NoRow && e.Msg == "" && e.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrUnsupportedFormat  = &Error{Kind: UnsupportedFormat, Row: NoRow}
	ErrMalformedInput     = &Error{Kind: MalformedInput, Row: NoRow}
	ErrColumnNotFound     = &Error{Kind: ColumnNotFound, Row: NoRow}
	ErrInvalidPattern     = &Error{Kind: InvalidPattern, Row: NoRow}
	ErrInvalidExpression  = &Error{Kind: InvalidExpression, Row: NoRow}
	ErrTranslationFailure = &Error{Kind: TranslationFailure, Row: NoRow}
	ErrNotFound           = &Error{Kind: NotFound, Row: NoRow}
	ErrStorageFailure     = &Error{Kind: StorageFailure, Row: NoRow}
	ErrBranchConflict     = &Error{Kind: BranchConflict, Row: NoRow}
	ErrBusy               = &Error{Kind: Busy, Row: NoRow}
)

// New returns an Error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Row: NoRow, Msg: msg}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Row: NoRow, Err: err}
}

// Column returns a ColumnNotFound error naming col.
func Column(op, col string) *Error {
	return &Error{Kind: ColumnNotFound, Op: op, Column: col, Row: NoRow}
}

// AtRow returns an InvalidExpression error for a specific row.
func AtRow(op string, row int, err error) *Error {
	return &Error{Kind: InvalidExpression, Op: op, Row: row, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}
