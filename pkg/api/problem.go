// Package api is the HTTP surface of the negotiation service. Errors are
// RFC 7807 Problem Details carrying a stable code.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tome-gg/negotiation-protocols/pkg/auth"
	"github.com/tome-gg/negotiation-protocols/pkg/ledger"
)

// Codes produced by the HTTP layer itself.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeRateLimited    = "RATE_LIMITED"
)

// ProblemContentType is the media type of error responses.
const ProblemContentType = "application/problem+json"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s (%s): %s", p.Title, p.Code, p.Detail)
}

var statusByCode = map[string]int{
	ledger.CodeNegotiationClosed: http.StatusConflict,
	ledger.CodeWrongTurn:         http.StatusForbidden,
	ledger.CodeIllegalTransition: http.StatusUnprocessableEntity,
	ledger.CodeUnconfirmedAccept: http.StatusUnprocessableEntity,
	ledger.CodeInvalidValue:      http.StatusBadRequest,
	ledger.CodeNotFound:          http.StatusNotFound,
	ledger.CodeConflict:          http.StatusConflict,
	ledger.CodePolicyDenied:      http.StatusForbidden,
	ledger.CodeUnauthorized:      http.StatusUnauthorized,
	CodeInvalidRequest:           http.StatusBadRequest,
	CodeRateLimited:              http.StatusTooManyRequests,
}

// StatusFor returns the HTTP status for a problem code.
func StatusFor(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WriteProblem writes a Problem Detail enriched with the request path and id.
func WriteProblem(w http.ResponseWriter, r *http.Request, code, detail string) {
	status := StatusFor(code)
	problem := &ProblemDetail{
		Type:     "https://negotiator.tome.gg/errors/" + code,
		Title:    http.StatusText(status),
		Status:   status,
		Code:     code,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  auth.RequestID(r.Context()),
	}
	w.Header().Set("Content-Type", ProblemContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError maps err to its problem code. Unknown errors become a generic
// 500 and are only logged.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := ledger.ErrorCode(err)
	if code == ledger.CodeInternal || code == ledger.CodeIntegrity {
		WriteInternal(w, r, err)
		return
	}
	WriteProblem(w, r, code, err.Error())
}

// WriteInternal writes a 500 response. err is logged, never sent.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "internal server error",
		"error", err,
		"path", r.URL.Path,
		"request_id", auth.RequestID(r.Context()),
	)
	WriteProblem(w, r, ledger.CodeInternal, "An unexpected error occurred. Please try again later.")
}

// WriteUnauthorized is the auth.RejectFunc used by the server.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteProblem(w, r, ledger.CodeUnauthorized, detail)
}

// WriteTooManyRequests writes a 429 response with Retry-After.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteProblem(w, r, CodeRateLimited, "Rate limit exceeded. Retry after the specified interval.")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
