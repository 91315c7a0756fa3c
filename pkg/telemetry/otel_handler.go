package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/godamri/helix-audit/pkg/contextx"
)

// OTelHandler decorates a slog.Handler. Every record gets the correlation ids
// found in ctx (trace, span, request, actor, tenant). Records at WARN or
// above are mirrored onto the active span.
type OTelHandler struct {
	slog.Handler
}

func NewOTelHandler(h slog.Handler) *OTelHandler {
	return &OTelHandler{Handler: h}
}

func (h *OTelHandler) Handle(ctx context.Context, r slog.Record) error {
	for key, get := range correlation {
		if v := get(ctx); v != "" {
			r.AddAttrs(slog.String(key, v))
		}
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return h.Handler.Handle(ctx, r)
	}

	sc := span.SpanContext()
	if sc.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
	}

	switch {
	case r.Level >= slog.LevelError:
		attrs, err := spanAttrs(r)
		if err == nil {
			err = errors.New(r.Message)
		}
		span.RecordError(err, trace.WithAttributes(attrs...))
		span.SetStatus(codes.Error, r.Message)
	case r.Level >= slog.LevelWarn:
		attrs, _ := spanAttrs(r)
		attrs = append(attrs, attribute.String("message", r.Message))
		span.AddEvent("log_warning", trace.WithAttributes(attrs...))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *OTelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &OTelHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *OTelHandler) WithGroup(name string) slog.Handler {
	return &OTelHandler{Handler: h.Handler.WithGroup(name)}
}

var correlation = map[string]func(context.Context) string{
	"request_id": contextx.GetRequestID,
	"actor_id":   contextx.GetActorID,
	"tenant_id":  contextx.GetTenantID,
}

// spanAttrs converts the record's attributes for OTel, flattening groups
// into dotted keys. The value under "error", if it is one, is returned
// separately.
func spanAttrs(r slog.Record) ([]attribute.KeyValue, error) {
	out := make([]attribute.KeyValue, 0, r.NumAttrs())
	var found error
	var walk func(prefix string, a slog.Attr)
	walk = func(prefix string, a slog.Attr) {
		key := prefix + a.Key
		v := a.Value.Resolve()
		switch v.Kind() {
		case slog.KindGroup:
			for _, ga := range v.Group() {
				walk(key+".", ga)
			}
			return
		case slog.KindString:
			out = append(out, attribute.String(key, v.String()))
		case slog.KindInt64:
			out = append(out, attribute.Int64(key, v.Int64()))
		case slog.KindUint64:
			out = append(out, attribute.Int64(key, int64(v.Uint64())))
		case slog.KindFloat64:
			out = append(out, attribute.Float64(key, v.Float64()))
		case slog.KindBool:
			out = append(out, attribute.Bool(key, v.Bool()))
		default:
			out = append(out, attribute.String(key, v.String()))
		}
		if key == "error" && v.Kind() == slog.KindAny {
			if e, ok := v.Any().(error); ok {
				found = e
			}
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		walk("", a)
		return true
	})
	return out, found
}
