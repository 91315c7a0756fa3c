package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/godamri/helix-audit/http/response"
)

func logPanic(ctx context.Context, logger *slog.Logger, rec any, route string) {
	logger.ErrorContext(ctx, "panic recovered",
		"error", fmt.Sprint(rec),
		"route", route,
		"stack", string(debug.Stack()),
	)
}

// PanicRecovery turns a handler panic into a 500 envelope. The stack is
// logged, never sent to the client.
func PanicRecovery(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logPanic(r.Context(), logger, rec, r.Method+" "+r.URL.Path)
				response.ErrorJSON(w, r, http.StatusInternalServerError, response.ErrSystem, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// GRPCRecoveryInterceptor turns a unary handler panic into codes.Internal.
func GRPCRecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logPanic(ctx, logger, rec, info.FullMethod)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
