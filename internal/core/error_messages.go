package core

// error_messages.go maps technical errors to user-facing messages with a
// support code.
//
// Classified failures (*fault.Error) are mapped by kind:
//
//	FMT001  - Unsupported format: only .csv and .xlsx are accepted
//	FILE002 - Malformed input: the file could not be parsed as a table
//	VAL005  - Column not found: an operation names a column the table lacks
//	OP001   - Invalid pattern: the regular expression does not compile
//	OP002   - Invalid expression: a filter or formula is malformed or failed at a row
//	AI001   - Translation failure: the instruction could not be turned into an operation
//	VER001  - Version not found
//	VER002  - Branch conflict: the version already has a child under the linear policy
//	STO001  - Storage failure
//	UPL002  - System busy: every transform slot is taken
//
// Anything else falls back to a case-insensitive substring table; the first
// matching pattern wins. ERR000 is the catch-all. Support staff should check
// the application logs for the original error when users report ERR000.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabula/internal/fault"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var kindMessages = map[fault.Kind]UserMessage{
	fault.UnsupportedFormat: {
		Message: "This file type is not supported",
		Action:  "Upload a .csv or .xlsx file",
		Code:    "FMT001",
	},
	fault.MalformedInput: {
		Message: "The file could not be read as a table",
		Action:  "Check that the file has a header row and consistent columns",
		Code:    "FILE002",
	},
	fault.ColumnNotFound: {
		Message: "The operation refers to a column that does not exist",
		Action:  "Check the column name, including case and spaces",
		Code:    "VAL005",
	},
	fault.InvalidPattern: {
		Message: "The search pattern is not a valid regular expression",
		Action:  "Rephrase the instruction or fix the pattern",
		Code:    "OP001",
	},
	fault.InvalidExpression: {
		Message: "The expression could not be evaluated",
		Action:  "Check the expression syntax and the values in the named row",
		Code:    "OP002",
	},
	fault.TranslationFailure: {
		Message: "The instruction could not be turned into an operation",
		Action:  "Try rephrasing the instruction more specifically",
		Code:    "AI001",
	},
	fault.NotFound: {
		Message: "Version not found",
		Action:  "Upload the file again or pick a version from the history",
		Code:    "VER001",
	},
	fault.BranchConflict: {
		Message: "This version already has a newer edit",
		Action:  "Continue from the latest version instead",
		Code:    "VER002",
	},
	fault.StorageFailure: {
		Message: "The version could not be saved or loaded",
		Action:  "Please try again in a few moments",
		Code:    "STO001",
	},
	fault.Busy: {
		Message: "System is busy processing other requests",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns covers errors raised outside the engine, mostly by the
// transport and the runtime. Specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a file with a header row",
			Code:    "FILE005",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "UPL005",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to reach the version store",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request is missing a required field",
			Action:  "Check the request body",
			Code:    "REQ001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Classified
// errors map by kind; others by the first matching substring; anything left
// gets ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	if msg, ok := kindMessages[fault.KindOf(err)]; ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// Detail returns the part of err that is safe and useful to show a user:
// the fault message and position for classified errors, nothing otherwise.
func Detail(err error) string {
	fe, ok := asFault(err)
	if !ok || fe.Kind == fault.StorageFailure {
		return ""
	}
	return fe.Error()
}

func asFault(err error) (*fault.Error, bool) {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
