// Package translator turns natural-language instructions into candidate
// operations.
//
// A translator only ever sees a bounded sample of the dataset, and whatever it
// returns is an untrusted candidate: callers must run it through
// operation.Validate before applying it. Every failure, including a reply
// that does not describe a usable operation, is a TranslationFailure.
package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabula/internal/dataset"
	"github.com/JonMunkholm/tabula/internal/fault"
	"github.com/JonMunkholm/tabula/internal/operation"
	"github.com/JonMunkholm/tabula/internal/preview"
)

// MaxSampleRows is the most rows a translator is ever shown.
const MaxSampleRows = 5

// Sample is the dataset context given to a translator.
type Sample struct {
	Columns []string      `json:"columns"`
	Rows    []preview.Row `json:"rows"`
}

// NewSample takes the column names and the first n rows of d, with n capped
// at MaxSampleRows.
func NewSample(d *dataset.Dataset, n int) Sample {
	if n < 0 || n > MaxSampleRows {
		n = MaxSampleRows
	}
	p := preview.Project(d, n)
	return Sample{Columns: p.Columns, Rows: p.Rows}
}

func (s Sample) bounded() Sample {
	if len(s.Rows) > MaxSampleRows {
		s.Rows = s.Rows[:MaxSampleRows]
	}
	return s
}

// Request is one translation request. Kind, when set, restricts the
// candidate to that operation kind.
type Request struct {
	Instruction string
	Kind        operation.Kind
	Sample      Sample
}

// Translator produces an operation candidate from an instruction.
type Translator interface {
	Translate(ctx context.Context, req Request) (operation.Operation, error)
}

// Func adapts a function to the Translator interface.
type Func func(ctx context.Context, req Request) (operation.Operation, error)

func (f Func) Translate(ctx context.Context, req Request) (operation.Operation, error) {
	return f(ctx, req)
}

// Static returns a translator that always answers op. Useful in tests and
// for wiring without a model.
func Static(op operation.Operation) Translator {
	return Func(func(context.Context, Request) (operation.Operation, error) { return op, nil })
}

// Unavailable is used when no translator is configured.
var Unavailable Translator = Func(func(context.Context, Request) (operation.Operation, error) {
	return operation.Operation{}, failure("translator is not configured")
})

// ErrInvalidInstruction is the cause recorded when the model declines.
var ErrInvalidInstruction = errors.New("could not interpret instruction")

func failure(msg string) error {
	return fault.New(fault.TranslationFailure, "translate", msg)
}

// candidate is the reply schema the model is asked to produce.
type candidate struct {
	Kind        string `json:"kind"`
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Column      string `json:"column"`
	Expression  string `json:"expression"`
	Error       string `json:"error"`
}

// ParseCandidate reads a model reply into an operation. It checks structure
// only; the dataset is not consulted.
func ParseCandidate(reply string, want operation.Kind) (operation.Operation, error) {
	reply = stripFences(reply)
	if reply == "" {
		return operation.Operation{}, failure("empty reply")
	}
	if strings.EqualFold(reply, "INVALID") {
		return operation.Operation{}, fault.Wrap(fault.TranslationFailure, "translate", ErrInvalidInstruction)
	}

	var c candidate
	if err := json.Unmarshal([]byte(reply), &c); err != nil {
		return operation.Operation{}, fault.Wrap(fault.TranslationFailure, "translate", fmt.Errorf("reply is not a valid operation: %w", err))
	}
	if c.Error != "" || strings.EqualFold(c.Kind, "invalid") {
		msg := c.Error
		if msg == "" {
			msg = ErrInvalidInstruction.Error()
		}
		return operation.Operation{}, fault.Wrap(fault.TranslationFailure, "translate", fmt.Errorf("%w: %s", ErrInvalidInstruction, msg))
	}

	kind, err := operation.ParseKind(c.Kind)
	if err != nil {
		return operation.Operation{}, fault.Wrap(fault.TranslationFailure, "translate", err)
	}
	if want != "" && kind != want {
		return operation.Operation{}, failure(fmt.Sprintf("expected a %s operation, got %s", want, kind))
	}

	op := operation.Operation{Kind: kind}
	switch kind {
	case operation.KindSubstitute:
		if c.Pattern == "" {
			return operation.Operation{}, failure("substitute candidate has no pattern")
		}
		op.Pattern, op.Replacement, op.Column = c.Pattern, c.Replacement, c.Column
	default:
		if strings.TrimSpace(c.Expression) == "" {
			return operation.Operation{}, failure(fmt.Sprintf("%s candidate has no expression", kind))
		}
		op.Expression = c.Expression
	}
	return op, nil
}

// stripFences removes a surrounding Markdown code block, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		tag := strings.TrimSpace(s[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{}\"") {
			s = s[nl+1:]
		}
	}
	return strings.TrimSpace(s)
}
