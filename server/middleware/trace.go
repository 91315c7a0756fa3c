package middleware

import (
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/godamri/helix-audit/pkg/contextx"
)

const (
	TraceHeader   = contextx.TraceHeader
	RequestHeader = "X-Request-Id"
)

// TraceIDMiddleware assigns trace and request ids. The trace id of an active
// OTel span wins over the header so logs, spans and responses agree.
func TraceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var traceID string
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		} else if traceID = r.Header.Get(TraceHeader); traceID == "" {
			uid := uuid.New()
			traceID = hex.EncodeToString(uid[:])
		}

		reqID := r.Header.Get(RequestHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		w.Header().Set(TraceHeader, traceID)
		w.Header().Set(RequestHeader, reqID)

		ctx = contextx.WithTraceID(ctx, traceID)
		ctx = contextx.WithRequestID(ctx, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
