package middleware

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/godamri/helix-audit/http/response"
	"github.com/godamri/helix-audit/pkg/contextx"
)

var errNoCredentials = errors.New("no credentials presented")

// Identity is the caller an AuthStrategy resolved. It becomes the actor and
// tenant stamped on audit records written during the request.
type Identity struct {
	ActorID   string
	ActorType string
	TenantID  string
	SessionID string
	Roles     []string
}

func (id Identity) apply(ctx context.Context) context.Context {
	ctx = contextx.WithActorID(ctx, id.ActorID)
	ctx = contextx.WithActorType(ctx, id.ActorType)
	if id.TenantID != "" {
		ctx = contextx.WithTenantID(ctx, id.TenantID)
	}
	if id.SessionID != "" {
		ctx = contextx.WithSessionID(ctx, id.SessionID)
	}
	return context.WithValue(ctx, rolesKey{}, id.Roles)
}

type rolesKey struct{}

// Roles returns the roles of the authenticated caller.
func Roles(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey{}).([]string)
	return roles
}

// AuthPayload is what a strategy sees of a request, whatever the transport.
type AuthPayload struct {
	Header     http.Header
	RemoteAddr string
	// Route is the URL path for HTTP and the full method for gRPC.
	Route string
}

// AuthStrategy resolves the caller of a request.
type AuthStrategy interface {
	Authenticate(ctx context.Context, payload AuthPayload) (Identity, error)
}

// AuthMiddleware runs one strategy on both transports and puts the resolved
// identity into the request context.
type AuthMiddleware struct {
	strategy AuthStrategy
}

func NewAuthMiddleware(strategy AuthStrategy) *AuthMiddleware {
	return &AuthMiddleware{strategy: strategy}
}

func (m *AuthMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.strategy.Authenticate(r.Context(), AuthPayload{
			Header:     r.Header,
			RemoteAddr: r.RemoteAddr,
			Route:      r.URL.Path,
		})
		if err != nil {
			response.ErrorJSON(w, r, http.StatusUnauthorized, response.ErrInvalidToken, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(id.apply(r.Context())))
	})
}

func (m *AuthMiddleware) GRPCUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, errNoCredentials.Error())
	}

	header := make(http.Header, len(md))
	for k, vs := range md {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	remoteAddr := "0.0.0.0:0"
	if p, ok := peer.FromContext(ctx); ok {
		remoteAddr = p.Addr.String()
	}

	ctx = contextx.WithRequestScope(ctx, "grpc")
	id, err := m.strategy.Authenticate(ctx, AuthPayload{
		Header:     header,
		RemoteAddr: remoteAddr,
		Route:      info.FullMethod,
	})
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return handler(id.apply(ctx), req)
}
