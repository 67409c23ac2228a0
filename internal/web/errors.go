package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Returned to clients as user-friendly messages with action suggestions
//   - Given a status code derived from the fault kind
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls s.respondError(w, r, err)
//  3. statusFor picks the HTTP status from the fault kind
//  4. core.MapError supplies the user message and support code
//  5. The response is JSON, or an HTML fragment for HTMX requests

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/tabula/internal/core"
	"github.com/JonMunkholm/tabula/internal/fault"
	"github.com/JonMunkholm/tabula/internal/logging"
	"github.com/JonMunkholm/tabula/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code, Kind) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Column  string `json:"column,omitempty"`
	Row     *int   `json:"row,omitempty"`
}

// requestError is a malformed request rejected before reaching the service.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, msg: "invalid request: " + msg}
}

var (
	errNoFile       = &requestError{status: http.StatusBadRequest, msg: "no file provided"}
	errFileTooLarge = &requestError{status: http.StatusRequestEntityTooLarge, msg: "file too large"}
	errRateLimited  = &requestError{status: http.StatusTooManyRequests, msg: "rate limit exceeded"}
)

// statusClientClosedRequest is the nginx convention for a request the client
// abandoned before the response was ready.
const statusClientClosedRequest = 499

var kindStatus = map[fault.Kind]int{
	fault.UnsupportedFormat:  http.StatusUnsupportedMediaType,
	fault.MalformedInput:     http.StatusBadRequest,
	fault.ColumnNotFound:     http.StatusUnprocessableEntity,
	fault.InvalidPattern:     http.StatusUnprocessableEntity,
	fault.InvalidExpression:  http.StatusUnprocessableEntity,
	fault.TranslationFailure: http.StatusBadGateway,
	fault.NotFound:           http.StatusNotFound,
	fault.BranchConflict:     http.StatusConflict,
	fault.StorageFailure:     http.StatusInternalServerError,
	fault.Busy:               http.StatusServiceUnavailable,
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	var re *requestError
	if errors.As(err, &re) {
		return re.status
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	if status, ok := kindStatus[fault.KindOf(err)]; ok {
		return status
	}
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError logs the technical error server-side and writes a
// user-friendly response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	log := logging.FromContext(r.Context()).With(
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"user_facing", core.IsUserFacing(err),
	)
	if status >= http.StatusInternalServerError {
		log.Error("request error")
	} else {
		log.Warn("request rejected")
	}

	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "5")
	}

	if isHTMX(r) {
		renderErrorPartial(w, r, userMsg, status)
		return
	}
	respondErrorJSON(w, errorResponse(err, userMsg), status)
}

func errorResponse(err error, msg core.UserMessage) ErrorResponse {
	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Detail:  core.Detail(err),
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		resp.Kind = strings.ReplaceAll(fe.Kind.String(), " ", "_")
		resp.Column = fe.Column
		if fe.Row != fault.NoRow {
			row := fe.Row
			resp.Row = &row
		}
	}
	var re *requestError
	if errors.As(err, &re) {
		resp.Detail = re.msg
	}
	return resp
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, resp ErrorResponse, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// renderErrorPartial renders an HTMX-compatible error fragment.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
