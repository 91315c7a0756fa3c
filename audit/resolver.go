package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/godamri/helix-audit/pkg/contextx"
)

// Actor identifies who triggered a change.
type Actor struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// ActorResolver returns the current actor, or nil when there is none.
type ActorResolver interface {
	ResolveActor(ctx context.Context) (*Actor, error)
}

// TenantResolver returns the current tenant id, or "" when there is none.
type TenantResolver interface {
	ResolveTenant(ctx context.Context) (string, error)
}

// MetadataResolver produces one named metadata value.
type MetadataResolver interface {
	Resolve(ctx context.Context) (any, error)
}

type ActorResolverFunc func(ctx context.Context) (*Actor, error)

func (f ActorResolverFunc) ResolveActor(ctx context.Context) (*Actor, error) { return f(ctx) }

type TenantResolverFunc func(ctx context.Context) (string, error)

func (f TenantResolverFunc) ResolveTenant(ctx context.Context) (string, error) { return f(ctx) }

type MetadataResolverFunc func(ctx context.Context) (any, error)

func (f MetadataResolverFunc) Resolve(ctx context.Context) (any, error) { return f(ctx) }

// ContextActorResolver reads the actor placed in ctx by the auth middleware.
type ContextActorResolver struct {
	// DefaultType is used when the context carries an id without a type.
	DefaultType string
}

func (r ContextActorResolver) ResolveActor(ctx context.Context) (*Actor, error) {
	if !contextx.HasRequestScope(ctx) {
		return nil, ErrMissingContext
	}
	id := contextx.GetActorID(ctx)
	if id == "" {
		return nil, nil
	}
	typ := contextx.GetActorType(ctx)
	if typ == "" {
		typ = r.DefaultType
	}
	return &Actor{ID: id, Type: typ}, nil
}

// ContextTenantResolver reads the tenant placed in ctx by the transport layer.
type ContextTenantResolver struct{}

func (ContextTenantResolver) ResolveTenant(ctx context.Context) (string, error) {
	if !contextx.HasRequestScope(ctx) {
		return "", ErrMissingContext
	}
	return contextx.GetTenantID(ctx), nil
}

// Enrichment is the contextual data attached to a record.
type Enrichment struct {
	Actor    *Actor
	TenantID string
	Metadata map[string]any
}

// Enricher resolves actor, tenant and metadata for one audit write. Failures
// never abort the write: they are logged and the value is left out.
type Enricher struct {
	actor       ActorResolver
	tenant      TenantResolver
	metadata    map[string]MetadataResolver
	logger      *slog.Logger
	metrics     *Metrics
	warnMissing bool
}

func (e *Enricher) Enrich(ctx context.Context) Enrichment {
	var (
		out = Enrichment{Metadata: map[string]any{}}
		mu  sync.Mutex
		g   errgroup.Group
	)

	if e.actor != nil {
		g.Go(func() error {
			actor, err := e.actor.ResolveActor(ctx)
			if err != nil {
				e.warn(ctx, "actor", err)
				return nil
			}
			mu.Lock()
			out.Actor = actor
			mu.Unlock()
			return nil
		})
	}

	if e.tenant != nil {
		g.Go(func() error {
			tenant, err := e.tenant.ResolveTenant(ctx)
			if err != nil {
				e.warn(ctx, "tenant", err)
				return nil
			}
			mu.Lock()
			out.TenantID = tenant
			mu.Unlock()
			return nil
		})
	}

	for _, name := range e.metadataNames() {
		resolver := e.metadata[name]
		g.Go(func() error {
			value, err := resolver.Resolve(ctx)
			if err != nil {
				e.warn(ctx, name, err)
				return nil
			}
			mu.Lock()
			out.Metadata[name] = value
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return out
}

func (e *Enricher) metadataNames() []string {
	names := make([]string, 0, len(e.metadata))
	for name := range e.metadata {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Enricher) warn(ctx context.Context, resolver string, err error) {
	if errors.Is(err, ErrMissingContext) {
		if e.warnMissing {
			e.logger.WarnContext(ctx, "audit: no request context, did you forget the context middleware?", "resolver", resolver)
		}
		return
	}
	e.metrics.incResolverFailure(resolver)
	e.logger.WarnContext(ctx, "audit: failed to resolve auditing metadata", "resolver", resolver, "error", err)
}
