package contextx

import (
	"context"
)

type contextKey string

// TraceHeader carries the trace id across HTTP hops.
const TraceHeader = "X-Trace-Id"

// UnknownTraceID is returned when no trace id was attached.
const UnknownTraceID = "untriaged"

const (
	RequestScopeKey contextKey = "helix.request_scope"

	ActorIDKey   contextKey = "helix.actor_id"   // sub / user id
	ActorTypeKey contextKey = "helix.actor_type" // user | service | system
	TenantIDKey  contextKey = "helix.tenant_id"
	SessionIDKey contextKey = "helix.session_id"

	TraceIDKey    contextKey = "helix.trace_id"
	RequestIDKey  contextKey = "helix.request_id"
	EntryPointKey contextKey = "helix.entry_point" // http | grpc | cron | consumer | cli

	RemoteIPKey    contextKey = "helix.remote_ip"
	UserAgentKey   contextKey = "helix.user_agent"
	AuditReasonKey contextKey = "helix.audit_reason"
)

// WithRequestScope marks ctx as carrying a request. Context resolvers treat a
// context without it as a background job.
func WithRequestScope(ctx context.Context, entryPoint string) context.Context {
	ctx = context.WithValue(ctx, RequestScopeKey, true)
	return context.WithValue(ctx, EntryPointKey, entryPoint)
}

func HasRequestScope(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(RequestScopeKey).(bool)
	return v
}

func GetActorID(ctx context.Context) string { return getString(ctx, ActorIDKey, "") }
func WithActorID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, ActorIDKey, v)
}

func GetActorType(ctx context.Context) string { return getString(ctx, ActorTypeKey, "") }
func WithActorType(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, ActorTypeKey, v)
}

func GetTenantID(ctx context.Context) string { return getString(ctx, TenantIDKey, "") }
func WithTenantID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, TenantIDKey, v)
}

func GetSessionID(ctx context.Context) string { return getString(ctx, SessionIDKey, "") }
func WithSessionID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, SessionIDKey, v)
}

func GetTraceID(ctx context.Context) string { return getString(ctx, TraceIDKey, UnknownTraceID) }
func WithTraceID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, TraceIDKey, v)
}

func GetRequestID(ctx context.Context) string { return getString(ctx, RequestIDKey, "") }
func WithRequestID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, RequestIDKey, v)
}

func GetEntryPoint(ctx context.Context) string { return getString(ctx, EntryPointKey, "unknown") }

func GetRemoteIP(ctx context.Context) string { return getString(ctx, RemoteIPKey, "") }
func WithRemoteIP(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, v)
}

func GetUserAgent(ctx context.Context) string { return getString(ctx, UserAgentKey, "") }
func WithUserAgent(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, UserAgentKey, v)
}

func GetAuditReason(ctx context.Context) string { return getString(ctx, AuditReasonKey, "") }
func WithAuditReason(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, AuditReasonKey, v)
}

func getString(ctx context.Context, key contextKey, fallback string) string {
	if ctx == nil {
		return fallback
	}
	if val, ok := ctx.Value(key).(string); ok && val != "" {
		return val
	}
	return fallback
}
