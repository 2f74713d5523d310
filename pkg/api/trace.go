package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type traceIDKey struct{}

// TraceHeader is the header carrying the per-request trace id that
// ProblemDetail responses echo back as trace_id.
const TraceHeader = "X-Request-ID"

// WithTraceID wraps an admin handler so every request carries a trace id:
// a client-supplied X-Request-ID is kept, otherwise a fresh UUID is minted.
// The id is set on the response header before the handler runs, which is
// where write() picks it up when building a ProblemDetail.
func WithTraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TraceHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(TraceHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceIDKey{}, id)))
	})
}

// TraceID returns the request's trace id, or "" outside a WithTraceID chain.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}
