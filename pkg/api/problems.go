// Package api is the core's HTTP surface. Errors leave as RFC 7807
// Problem Details; the fault taxonomy fixes the status code for each
// failure kind so clients can branch on status alone.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses must use this format. Code carries the
// stable machine code from the fault taxonomy when one exists.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// Code is the stable machine code for programmatic handling.
	Code string `json:"code,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, code, instance string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://decentralizedrights.com/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Code:     code,
		Instance: instance,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteFault translates a core fault into the documented status
// mapping: invalid-input 400, not-found 404, unauthorized-action 403,
// precondition-failed 409, infrastructure-unavailable 503. Anything
// without a taxonomy kind is a 500; its detail is logged and never
// leaked to the client.
func WriteFault(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := fault.KindOf(err)
	if !ok {
		WriteInternal(w, err)
		return
	}

	code := fault.CodeOf(err)
	instance := ""
	if r != nil {
		instance = r.URL.Path
	}

	switch kind {
	case fault.InvalidInput:
		writeProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), code, instance)
	case fault.NotFound:
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), code, instance)
	case fault.Unauthorized:
		writeProblem(w, http.StatusForbidden, "Forbidden", err.Error(), code, instance)
	case fault.Precondition:
		writeProblem(w, http.StatusConflict, "Conflict", err.Error(), code, instance)
	case fault.Infrastructure:
		// Detail stays server-side; the caller only learns the class.
		slog.Error("infrastructure fault", "error", err, "path", instance)
		writeProblem(w, http.StatusServiceUnavailable, "Service Unavailable",
			"A backing service is unavailable. Retry later.", code, instance)
	default:
		WriteInternal(w, err)
	}
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	writeProblem(w, http.StatusBadRequest, "Bad Request", detail, fault.CodeBadInput, "")
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	writeProblem(w, http.StatusNotFound, "Not Found", detail, "", "")
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed",
		"The HTTP method is not supported for this endpoint", "", "")
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	writeProblem(w, http.StatusTooManyRequests, "Too Many Requests",
		"Rate limit exceeded. Retry after the specified interval.", "", "")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	// Log internally but never expose to client
	slog.Error("internal server error", "error", err)
	writeProblem(w, http.StatusInternalServerError, "Internal Server Error",
		"An unexpected error occurred. Please try again later.", "", "")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
