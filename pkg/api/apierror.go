// Package api renders errors on the admin HTTP surface (/health,
// /providers) as RFC 7807 Problem Details. The wire protocol (pkg/wire)
// has its own tagged ResponseEnvelope/ResponseError shape for the TCP
// side; this is the parallel convention for the HTTP side, so the two
// protocols don't have to agree on one error format.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ProblemDetail is an RFC 7807 (Problem Details for HTTP APIs) response body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// write builds and sends a ProblemDetail. r is optional: when given, the
// problem is enriched with the request path and the already-set
// X-Request-ID trace header.
func write(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://providerhub.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
	if r != nil {
		problem.Instance = r.URL.Path
		problem.TraceID = w.Header().Get("X-Request-ID")
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError writes a bare Problem Detail with no request context.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	write(w, nil, status, title, detail)
}

// WriteErrorR writes a Problem Detail enriched with the request's path and
// trace id.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	write(w, r, status, title, detail)
}

// WriteUnauthorized writes a 401 response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteNotFound writes a 404 response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 response for the admin mux's
// single-method handlers.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "the HTTP method is not supported for this endpoint")
}

// WriteTooManyRequests writes a 429 response with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded, retry after the specified interval")
}

// WriteInternal writes a 500 response. err is logged but never exposed in
// the response body.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("admin http internal error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "an unexpected error occurred")
}
