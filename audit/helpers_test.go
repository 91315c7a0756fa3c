package audit

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"
)

// book is a minimal host entity with dirty tracking.
type book struct {
	Tracker
	attrs    Values
	original Values
	tenant   string
}

func newBook(attrs Values) *book {
	return &book{attrs: attrs.Clone(), original: Values{}}
}

func (b *book) AuditKey() string {
	return keyString(b.attrs["id"])
}

func (b *book) AuditAttributes() Values { return b.attrs }
func (b *book) AuditOriginal() Values   { return b.original }

func (b *book) SetAuditAttribute(key string, value any) {
	b.set(key, value)
}

func (b *book) AuditTenantID() (string, bool) {
	return b.tenant, b.tenant != ""
}

func (b *book) set(key string, value any) {
	if _, dirty := b.original[key]; !dirty {
		b.original[key] = b.attrs[key]
	}
	b.attrs[key] = value
}

// sync drops dirty state as the host does after a successful save.
func (b *book) sync() {
	b.original = Values{}
}

type movie struct {
	book
}

func newMovie(attrs Values) *movie {
	return &movie{book: book{attrs: attrs.Clone(), original: Values{}}}
}

func keyString(v any) string {
	switch id := v.(type) {
	case int:
		return strconv.Itoa(id)
	case string:
		return id
	}
	return ""
}

// memStore is a minimal Store used by the package tests.
type memStore struct {
	mu       sync.Mutex
	records  []Record
	failNext error
	readErr  error
}

func (s *memStore) Append(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return Record{}, err
	}
	rec.ID = int64(len(s.records) + 1)
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *memStore) ListByEntity(_ context.Context, entityType, entityID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	var out []Record
	for _, rec := range s.records {
		if rec.EntityType == entityType && rec.EntityID == entityID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) FirstByEntity(ctx context.Context, entityType, entityID string) (*Record, error) {
	recs, err := s.ListByEntity(ctx, entityType, entityID)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (s *memStore) LastByEntity(ctx context.Context, entityType, entityID string) (*Record, error) {
	recs, err := s.ListByEntity(ctx, entityType, entityID)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[len(recs)-1], nil
}

func (s *memStore) CountByEntity(ctx context.Context, entityType, entityID string) (int, error) {
	recs, err := s.ListByEntity(ctx, entityType, entityID)
	return len(recs), err
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var errBoom = errors.New("boom")
