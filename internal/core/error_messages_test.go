package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/tabula/internal/fault"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "unsupported format", err: fault.New(fault.UnsupportedFormat, "decode", "report.pdf"), wantCode: "FMT001"},
		{name: "malformed input", err: fault.New(fault.MalformedInput, "decode", "line 3"), wantCode: "FILE002"},
		{name: "column not found", err: fault.Column("validate", "Price"), wantCode: "VAL005"},
		{name: "invalid pattern", err: fault.New(fault.InvalidPattern, "validate", "missing )"), wantCode: "OP001"},
		{name: "row failure", err: fault.AtRow("compute", 2, errors.New("division by zero")), wantCode: "OP002"},
		{name: "translation failure", err: fault.New(fault.TranslationFailure, "translate", "no choices"), wantCode: "AI001"},
		{name: "not found", err: fault.New(fault.NotFound, "get", "version 9"), wantCode: "VER001"},
		{name: "branch conflict", err: fault.New(fault.BranchConflict, "create", "version 1"), wantCode: "VER002"},
		{name: "storage failure", err: fault.Wrap(fault.StorageFailure, "create", errors.New("disk full")), wantCode: "STO001"},
		{name: "busy", err: ErrBusy, wantCode: "UPL002"},
		{name: "wrapped fault keeps its kind", err: fmt.Errorf("apply: %w", fault.Column("filter", "Age")), wantCode: "VAL005"},
		{name: "kind wins over substring", err: fault.New(fault.MalformedInput, "decode", "empty file: no header row"), wantCode: "FILE002"},
		{name: "body too large", err: errors.New("http: request body too large"), wantCode: "FILE001"},
		{name: "deadline", err: errors.New("context deadline exceeded"), wantCode: "UPL005"},
		{name: "case insensitive matching", err: errors.New("RATE LIMIT exceeded"), wantCode: "RATE001"},
		{name: "unknown error returns default", err: errors.New("some random internal error"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && got.Message == "" {
				t.Error("MapError() message is empty")
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(fault.Column("validate", "Price"))
	want := "The operation refers to a column that does not exist (Code: VAL005). Check the column name, including case and spaces"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error is not user facing", err: nil, want: false},
		{name: "classified error is user facing", err: fault.New(fault.NotFound, "get", "x"), want: true},
		{name: "known pattern is user facing", err: errors.New("no file provided"), want: true},
		{name: "unknown error is not user facing", err: errors.New("random internal error xyz"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetail(t *testing.T) {
	err := fault.AtRow("compute", 2, errors.New("division by zero"))
	if got, want := Detail(err), "compute: invalid expression at row 2: division by zero"; got != want {
		t.Errorf("Detail() = %q, want %q", got, want)
	}
	if got := Detail(fault.Wrap(fault.StorageFailure, "create", errors.New("pq: password authentication failed"))); got != "" {
		t.Errorf("storage detail leaked: %q", got)
	}
	if got := Detail(errors.New("plain")); got != "" {
		t.Errorf("Detail(plain) = %q", got)
	}
}
