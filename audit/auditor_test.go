package audit

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/godamri/helix-audit/pkg/contextx"
)

type AuditorSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memStore
	emitter *Emitter
	metrics *Metrics
	logs    *bytes.Buffer
	auditor *Auditor
	topics  []string
}

func TestAuditorSuite(t *testing.T) {
	suite.Run(t, new(AuditorSuite))
}

func (s *AuditorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = &memStore{}
	s.emitter = NewEmitter()
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.logs = &bytes.Buffer{}
	s.topics = nil
	for _, topic := range []string{"audit:create", "audit:update", "audit:delete"} {
		s.emitter.On(topic, func(_ context.Context, n Notification) error {
			s.topics = append(s.topics, n.Topic)
			return nil
		})
	}
	s.auditor = s.newAuditor(Config{IgnoredFieldsOnUpdate: []string{"updated_at"}})
}

func (s *AuditorSuite) newAuditor(cfg Config, opts ...Option) *Auditor {
	base := []Option{
		WithNotifier(s.emitter),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(s.logs, nil))),
	}
	a, err := New(cfg, s.store, append(base, opts...)...)
	s.Require().NoError(err)
	return a
}

func (s *AuditorSuite) save(a *Auditor, b *book, event Event) *Record {
	rec, err := a.Mutate(s.ctx, b, event, func(context.Context) error { return nil })
	s.Require().NoError(err)
	b.sync()
	return rec
}

func (s *AuditorSuite) TestNewRequiresStore() {
	_, err := New(Config{}, nil)
	s.Error(err)
}

func (s *AuditorSuite) TestCreate() {
	b := newBook(Values{"id": 1, "name": "Book"})
	rec := s.save(s.auditor, b, EventCreate)

	s.Require().NotNil(rec)
	s.Equal(int64(1), rec.ID)
	s.Equal(EventCreate, rec.Event)
	s.Equal("book", rec.EntityType)
	s.Equal("1", rec.EntityID)
	s.Nil(rec.OldValues)
	s.Equal(Values{"id": 1, "name": "Book"}, rec.NewValues)
	s.Nil(rec.ActorID)
	s.Nil(rec.TenantID)
	s.Equal([]string{"audit:create"}, s.topics)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.recorded.WithLabelValues("create")))
}

func (s *AuditorSuite) TestUpdate() {
	b := newBook(Values{"id": 1, "name": "Book", "updated_at": "t1"})
	s.save(s.auditor, b, EventCreate)

	b.set("name", "Updated")
	b.set("updated_at", "t2")
	rec := s.save(s.auditor, b, EventUpdate)

	s.Require().NotNil(rec)
	s.Equal(Values{"name": "Book"}, rec.OldValues)
	s.Equal(Values{"name": "Updated"}, rec.NewValues)
	s.Equal([]string{"audit:create", "audit:update"}, s.topics)
}

func (s *AuditorSuite) TestUpdateWithoutChangesIsSkipped() {
	b := newBook(Values{"id": 1, "name": "Book", "updated_at": "t1"})
	s.save(s.auditor, b, EventCreate)

	b.set("updated_at", "t2")
	rec := s.save(s.auditor, b, EventUpdate)
	s.Nil(rec)

	rec = s.save(s.auditor, b, EventUpdate)
	s.Nil(rec)

	s.Equal(1, s.store.count())
	s.Equal([]string{"audit:create"}, s.topics)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.skipped.WithLabelValues("no_changes")))
}

func (s *AuditorSuite) TestFullSnapshotOnUpdate() {
	a := s.newAuditor(Config{FullSnapshotOnUpdate: true})
	b := newBook(Values{"id": 1, "name": "Book", "pages": 10})
	s.save(a, b, EventCreate)

	b.set("name", "Updated")
	rec := s.save(a, b, EventUpdate)
	s.Require().NotNil(rec)
	s.Equal(Values{"id": 1, "name": "Book", "pages": 10}, rec.OldValues)
	s.Equal(Values{"id": 1, "name": "Updated", "pages": 10}, rec.NewValues)
}

func (s *AuditorSuite) TestDelete() {
	b := newBook(Values{"id": 1, "name": "Book"})
	s.save(s.auditor, b, EventCreate)

	b.set("name", "Unsaved")
	rec, err := s.auditor.Mutate(s.ctx, b, EventDelete, func(context.Context) error { return nil })
	s.Require().NoError(err)
	s.Equal(Values{"id": 1, "name": "Unsaved"}, rec.OldValues)
	s.Nil(rec.NewValues)
	s.Equal("1", rec.EntityID)
	s.Equal([]string{"audit:create", "audit:delete"}, s.topics)
}

func (s *AuditorSuite) TestFailedMutationIsNotAudited() {
	b := newBook(Values{"id": 1, "name": "Book"})
	_, err := s.auditor.Mutate(s.ctx, b, EventCreate, func(context.Context) error { return errBoom })
	s.ErrorIs(err, errBoom)
	s.Zero(s.store.count())
	s.Empty(s.topics)
	s.False(b.Stashed(), "snapshot must not leak into the next mutation")
}

func (s *AuditorSuite) TestHiddenFields() {
	a := s.newAuditor(Config{HiddenFields: []string{"id", "name"}})
	b := newBook(Values{"id": 1, "name": "Book", "pages": 3})
	rec := s.save(a, b, EventCreate)

	s.Equal(Values{"id": Redacted, "name": Redacted, "pages": 3}, rec.NewValues)
	s.Equal("1", rec.EntityID, "entity id is not masked")
	s.Equal("Book", b.attrs["name"], "entity must be untouched")
}

func (s *AuditorSuite) TestEnrichment() {
	a := s.newAuditor(Config{},
		WithActorResolver(ContextActorResolver{DefaultType: "user"}),
		WithTenantResolver(ContextTenantResolver{}),
		WithMetadataResolver("ip", MetadataResolverFunc(func(ctx context.Context) (any, error) {
			return contextx.GetRemoteIP(ctx), nil
		})),
	)

	ctx := contextx.WithRequestScope(s.ctx, "http")
	ctx = contextx.WithActorID(ctx, "7")
	ctx = contextx.WithTenantID(ctx, "tenant-a")
	ctx = contextx.WithRemoteIP(ctx, "10.1.1.1")

	b := newBook(Values{"id": 1, "name": "Book"})
	b.tenant = "tenant-b"
	rec, err := a.Mutate(ctx, b, EventCreate, func(context.Context) error { return nil })
	s.Require().NoError(err)

	s.Equal("7", *rec.ActorID)
	s.Equal("user", *rec.ActorType)
	s.Equal("tenant-a", *rec.TenantID)
	s.Equal(map[string]any{"ip": "10.1.1.1"}, rec.Metadata)
}

func (s *AuditorSuite) TestTenantFallsBackToEntity() {
	a := s.newAuditor(Config{}, WithTenantResolver(ContextTenantResolver{}))
	b := newBook(Values{"id": 1, "name": "Book"})
	b.tenant = "tenant-b"
	rec := s.save(a, b, EventCreate)

	s.Require().NotNil(rec.TenantID)
	s.Equal("tenant-b", *rec.TenantID)
}

func (s *AuditorSuite) TestNotifierFailureKeepsRecord() {
	a := s.newAuditor(Config{}, WithNotifier(NotifierFunc(func(context.Context, Notification) error { return errBoom })))
	b := newBook(Values{"id": 1, "name": "Book"})
	rec := s.save(a, b, EventCreate)

	s.NotNil(rec)
	s.Equal(1, s.store.count())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.notifyFailures))
	s.Contains(s.logs.String(), "notification failed")
}

func (s *AuditorSuite) TestPersistenceFailure() {
	s.store.failNext = errBoom
	b := newBook(Values{"id": 1, "name": "Book"})
	_, err := s.auditor.Mutate(s.ctx, b, EventCreate, func(context.Context) error { return nil })
	s.ErrorIs(err, ErrPersistence)
	s.ErrorIs(err, errBoom)
	s.Empty(s.topics)
}

func (s *AuditorSuite) TestHistory() {
	b := newBook(Values{"id": 1, "name": "Book"})
	s.save(s.auditor, b, EventCreate)
	other := newBook(Values{"id": 2, "name": "Other"})
	s.save(s.auditor, other, EventCreate)
	b.set("name", "Updated")
	s.save(s.auditor, b, EventUpdate)

	all, err := s.auditor.Audits(b).All(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(EventCreate, all[0].Event)
	s.Equal(EventUpdate, all[1].Event)

	first, err := s.auditor.FirstAudit(s.ctx, "book", "1")
	s.Require().NoError(err)
	s.Equal(all[0].ID, first.ID)

	last, err := s.auditor.LastAudit(s.ctx, "book", "1")
	s.Require().NoError(err)
	s.Equal(all[1].ID, last.ID)

	n, err := s.auditor.Audits(other).Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	none, err := s.auditor.LastAudit(s.ctx, "book", "99")
	s.Require().NoError(err)
	s.Nil(none)

	s.store.readErr = errBoom
	_, err = s.auditor.ListAudits(s.ctx, "book", "1")
	s.ErrorIs(err, ErrPersistence)
}

func (s *AuditorSuite) TestRevert() {
	b := newBook(Values{"id": 1, "name": "Book"})

	s.ErrorIs(s.auditor.Revert(s.ctx, b), ErrCannotRevert)

	s.save(s.auditor, b, EventCreate)
	b.set("name", "Updated")
	s.save(s.auditor, b, EventUpdate)

	s.Require().NoError(s.auditor.Revert(s.ctx, b))
	s.Equal("Book", b.attrs["name"])

	rec := s.save(s.auditor, b, EventUpdate)
	s.Require().NotNil(rec)
	s.Equal(Values{"name": "Updated"}, rec.OldValues)
	s.Equal(Values{"name": "Book"}, rec.NewValues)
	s.Equal(3, s.store.count())
}

func (s *AuditorSuite) TestRevertAfterCreateHasNullSnapshot() {
	b := newBook(Values{"id": 1, "name": "Book"})
	s.save(s.auditor, b, EventCreate)
	s.ErrorIs(s.auditor.Revert(s.ctx, b), ErrNullSnapshot)
}

func (s *AuditorSuite) TestTransitionToFirstRecord() {
	b := newBook(Values{"id": 1, "name": "Book"})
	s.save(s.auditor, b, EventCreate)
	b.set("name", "Updated")
	s.save(s.auditor, b, EventUpdate)

	first, err := s.auditor.FirstAudit(s.ctx, "book", "1")
	s.Require().NoError(err)
	s.Require().NoError(s.auditor.TransitionTo(b, *first, SideNew))
	s.Equal("Book", b.attrs["name"])

	m := newMovie(Values{"id": 1, "name": "Book"})
	s.ErrorIs(s.auditor.TransitionTo(m, *first, SideNew), ErrWrongEntityType)
}
