package dataset

// convert.go turns cell text into typed scalars.
//
// Two grammars are provided:
//   - ParseNumber is strict: plain decimal or scientific notation only. It is
//     what the codec uses to infer numeric columns, so "NaN", "Inf" and "1,000"
//     stay text.
//   - ParseNumberLenient additionally strips currency symbols and thousands
//     separators and reads accounting negatives "(12.50)". Arithmetic uses it
//     to coerce text cells that are clearly amounts.

import (
	"regexp"
	"strconv"
	"strings"
)

// numericRegex matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// ParseNumber parses s with the strict numeric grammar.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseNumberLenient parses s, tolerating currency symbols, thousands
// separators and accounting-format negatives.
func ParseNumberLenient(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	// Detect negative accounting format "(123.45)"
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	f, ok := ParseNumber(s)
	if !ok {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

// ParseBool accepts "true" and "false" in any case.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

// InferColumn types a column of raw cells: numeric if every non-empty cell
// parses as a number, boolean if every non-empty cell is true/false, text
// otherwise. Empty cells are missing in every case.
func InferColumn(cells []string) []Value {
	out := make([]Value, len(cells))
	kind := inferKind(cells)
	for i, raw := range cells {
		if raw == "" {
			out[i] = Null()
			continue
		}
		switch kind {
		case Number:
			f, _ := ParseNumber(raw)
			out[i] = Num(f)
		case Bool:
			b, _ := ParseBool(raw)
			out[i] = Boolean(b)
		default:
			out[i] = Text(raw)
		}
	}
	return out
}

func inferKind(cells []string) Kind {
	numeric, boolean, seen := true, true, false
	for _, raw := range cells {
		if raw == "" {
			continue
		}
		seen = true
		if numeric {
			if _, ok := ParseNumber(raw); !ok {
				numeric = false
			}
		}
		if boolean {
			if _, ok := ParseBool(raw); !ok {
				boolean = false
			}
		}
		if !numeric && !boolean {
			return String
		}
	}
	switch {
	case !seen:
		return Missing
	case numeric:
		return Number
	case boolean:
		return Bool
	default:
		return String
	}
}
