package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Auditor runs the capture pipeline for audited entities and answers history
// queries. Build one per process and share it; it holds no per-entity state.
type Auditor struct {
	store    Store
	policy   Policy
	masker   *Masker
	notifier Notifier
	enricher *Enricher
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// Option configures the Auditor.
type Option func(*Auditor)

func WithNotifier(n Notifier) Option {
	return func(a *Auditor) {
		a.notifier = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Auditor) {
		a.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(a *Auditor) {
		a.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(a *Auditor) {
		a.tracer = t
	}
}

func WithActorResolver(r ActorResolver) Option {
	return func(a *Auditor) {
		a.enricher.actor = r
	}
}

func WithTenantResolver(r TenantResolver) Option {
	return func(a *Auditor) {
		a.enricher.tenant = r
	}
}

// WithMetadataResolver adds a named metadata resolver. A later resolver with
// the same name replaces the earlier one.
func WithMetadataResolver(name string, r MetadataResolver) Option {
	return func(a *Auditor) {
		a.enricher.metadata[name] = r
	}
}

// New creates an Auditor. The store is required.
func New(cfg Config, store Store, opts ...Option) (*Auditor, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}

	a := &Auditor{
		store:    store,
		policy:   cfg.Policy(),
		masker:   NewMasker(cfg.HiddenFields),
		notifier: NoopNotifier{},
		enricher: &Enricher{
			metadata:    make(map[string]MetadataResolver),
			warnMissing: cfg.WarnOnMissingContext,
		},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer("helix-audit/audit")
	}
	a.enricher.logger = a.logger
	a.enricher.metrics = a.metrics

	return a, nil
}

// BeforeMutate captures the entity's pre-mutation state. Call it right before
// the host applies a create, update or delete.
func (a *Auditor) BeforeMutate(entity Entity) {
	entity.StashSnapshot(Snapshot{
		Original:   entity.AuditOriginal().Clone(),
		Attributes: entity.AuditAttributes().Clone(),
	})
}

// AfterMutate records the transition once the host mutation succeeded. It
// returns (nil, nil) when an update changed nothing worth recording.
func (a *Auditor) AfterMutate(ctx context.Context, entity Entity, event Event) (*Record, error) {
	entityType := TypeName(entity)
	ctx, span := a.tracer.Start(ctx, "audit.record",
		trace.WithAttributes(
			attribute.String("audit.event", string(event)),
			attribute.String("audit.entity_type", entityType),
		),
	)
	defer span.End()

	before := entity.TakeSnapshot()
	changes, ok := ComputeChanges(event, entity.AuditAttributes(), before, a.policy)
	if !ok {
		a.metrics.incSkipped("no_changes")
		a.logger.DebugContext(ctx, "audit: nothing changed, skipping record",
			"event", event,
			"entity_type", entityType,
			"entity_id", entity.AuditKey(),
		)
		return nil, nil
	}

	info := a.enricher.Enrich(ctx)

	rec := Record{
		Event:      event,
		EntityType: entityType,
		EntityID:   entity.AuditKey(),
		OldValues:  a.masker.Mask(changes.Old),
		NewValues:  a.masker.Mask(changes.New),
		Metadata:   info.Metadata,
	}
	if info.Actor != nil {
		rec.ActorID = strPtr(info.Actor.ID)
		if info.Actor.Type != "" {
			rec.ActorType = strPtr(info.Actor.Type)
		}
	}
	if info.TenantID != "" {
		rec.TenantID = strPtr(info.TenantID)
	} else if scoped, ok := entity.(TenantScoped); ok {
		if tenant, ok := scoped.AuditTenantID(); ok && tenant != "" {
			rec.TenantID = strPtr(tenant)
		}
	}

	if err := rec.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	saved, err := a.store.Append(ctx, rec)
	a.metrics.observeAppend(start)
	if err != nil {
		err = WrapPersistence("append audit", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		a.logger.ErrorContext(ctx, "audit: failed to persist record",
			"event", event,
			"entity_type", rec.EntityType,
			"entity_id", rec.EntityID,
			"error", err,
		)
		return nil, err
	}
	a.metrics.incRecorded(event)
	span.SetAttributes(attribute.Int64("audit.record_id", saved.ID))

	if err := a.notifier.Notify(ctx, NewNotification(saved)); err != nil {
		a.metrics.incNotifyFailure()
		a.logger.WarnContext(ctx, "audit: notification failed, record kept",
			"topic", saved.Event.Topic(),
			"record_id", saved.ID,
			"error", err,
		)
	}

	return &saved, nil
}

// Mutate wraps a host mutation with the before and after hooks. When fn fails
// its error is returned and nothing is audited.
func (a *Auditor) Mutate(ctx context.Context, entity Entity, event Event, fn func(ctx context.Context) error) (*Record, error) {
	a.BeforeMutate(entity)
	if err := fn(ctx); err != nil {
		entity.TakeSnapshot()
		return nil, err
	}
	return a.AfterMutate(ctx, entity, event)
}

// Audits returns the history of entity.
func (a *Auditor) Audits(entity Entity) *History {
	return a.History(TypeName(entity), entity.AuditKey())
}

// History returns the history of the instance identified by type and id.
func (a *Auditor) History(entityType, entityID string) *History {
	return &History{store: a.store, entityType: entityType, entityID: entityID}
}

func (a *Auditor) ListAudits(ctx context.Context, entityType, entityID string) ([]Record, error) {
	return a.History(entityType, entityID).All(ctx)
}

func (a *Auditor) FirstAudit(ctx context.Context, entityType, entityID string) (*Record, error) {
	return a.History(entityType, entityID).First(ctx)
}

func (a *Auditor) LastAudit(ctx context.Context, entityType, entityID string) (*Record, error) {
	return a.History(entityType, entityID).Last(ctx)
}

// TransitionTo applies one side of rec onto entity. It does not record anything.
func (a *Auditor) TransitionTo(entity Entity, rec Record, side Side) error {
	return TransitionTo(entity, rec, side)
}

// Revert restores the old values of the entity's newest record. Saving the
// entity afterwards is up to the caller and is audited as a normal update.
func (a *Auditor) Revert(ctx context.Context, entity Entity) error {
	ctx, span := a.tracer.Start(ctx, "audit.revert",
		trace.WithAttributes(attribute.String("audit.entity_type", TypeName(entity))),
	)
	defer span.End()

	last, err := a.Audits(entity).Last(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if last == nil {
		return ErrCannotRevert
	}
	if err := TransitionTo(entity, *last, SideOld); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int64("audit.record_id", last.ID))
	return nil
}
