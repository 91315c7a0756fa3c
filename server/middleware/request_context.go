package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/godamri/helix-audit/pkg/contextx"
)

// AuditReasonHeader lets a caller explain a change. It lands in the audit
// record metadata.
const AuditReasonHeader = "X-Audit-Reason"

// RequestContext marks the request scope and stores the caller's address and
// user agent, so audit metadata resolvers can read them.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := contextx.WithRequestScope(r.Context(), "http")
		ctx = contextx.WithRemoteIP(ctx, clientIP(r))
		if ua := r.UserAgent(); ua != "" {
			ctx = contextx.WithUserAgent(ctx, ua)
		}
		if reason := r.Header.Get(AuditReasonHeader); reason != "" {
			ctx = contextx.WithAuditReason(ctx, reason)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP prefers the left-most X-Forwarded-For entry, then X-Real-Ip, then
// the socket peer. The headers are only trustworthy behind an ingress that
// overwrites them.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
