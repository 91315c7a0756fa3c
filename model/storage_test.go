package model

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godamri/helix-audit/audit"
	"github.com/godamri/helix-audit/store"
)

var fullSnapshot = audit.Config{FullSnapshotOnUpdate: true}

var auditColumns = []string{
	"id", "actor_type", "actor_id", "tenant_id", "event", "entity_type", "entity_id",
	"old_values", "new_values", "metadata", "created_at", "updated_at",
}

func newPagedBook(name string, pages int) *Book {
	b := newBook(name)
	b.Set("pages", pages)
	return b
}

func TestRevertThroughRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	memory := store.NewMemory()
	a, err := audit.New(fullSnapshot, store.NewCached(memory, rdb, time.Minute, nil))
	require.NoError(t, err)
	books := NewTable(a, func() *Book { return &Book{} }, nameColumn)

	book := newPagedBook("The Hobbit", 310)
	_, err = books.Create(ctx, book)
	require.NoError(t, err)
	book.Set("name", "The Lord of the Rings")
	_, err = books.Update(ctx, book)
	require.NoError(t, err)

	require.NoError(t, a.Revert(ctx, book))
	assert.Equal(t, int64(1), book.Get("id"))
	assert.Equal(t, int64(310), book.Get("pages"))
	assert.Equal(t, "The Hobbit", book.Get("name"))

	rec, err := books.Update(ctx, book)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "The Lord of the Rings", rec.OldValues["name"])
	assert.Equal(t, "The Hobbit", rec.NewValues["name"])
	assert.Equal(t, "1", rec.EntityID)
	assert.Equal(t, 3, memory.Len())
}

func TestRevertThroughPostgres(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a, err := audit.New(fullSnapshot, store.NewPostgres(db))
	require.NoError(t, err)
	books := NewTable(a, func() *Book { return &Book{} }, nameColumn)

	now := time.Now().UTC()
	inserted := func(id int64) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id, now, now)
	}

	mock.ExpectQuery("INSERT INTO audits").WillReturnRows(inserted(1))
	mock.ExpectQuery("INSERT INTO audits").WillReturnRows(inserted(2))
	mock.ExpectQuery("FROM audits").
		WithArgs("Book", "1").
		WillReturnRows(sqlmock.NewRows(auditColumns).AddRow(
			int64(2), nil, nil, nil, "update", "Book", "1",
			[]byte(`{"id":1,"name":"The Hobbit","pages":310}`),
			[]byte(`{"id":1,"name":"The Lord of the Rings","pages":310}`),
			nil, now, now,
		))
	mock.ExpectQuery("INSERT INTO audits").WillReturnRows(inserted(3))

	book := newPagedBook("The Hobbit", 310)
	_, err = books.Create(ctx, book)
	require.NoError(t, err)
	book.Set("name", "The Lord of the Rings")
	_, err = books.Update(ctx, book)
	require.NoError(t, err)

	require.NoError(t, a.Revert(ctx, book))
	assert.Equal(t, int64(1), book.Get("id"))
	assert.Equal(t, int64(310), book.Get("pages"))

	rec, err := books.Update(ctx, book)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(3), rec.ID)
	assert.Equal(t, "The Hobbit", rec.NewValues["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistedIDAcceptsIntegerKinds(t *testing.T) {
	books := NewTable[*Book](nil, func() *Book { return &Book{} })

	for _, id := range []any{int64(7), 7, int32(7), uint16(7)} {
		b := &Book{}
		b.load(audit.Values{"id": id})
		got, err := books.persistedID(&b.Base)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got)
	}

	b := &Book{}
	b.load(audit.Values{"id": 7.0})
	_, err := books.persistedID(&b.Base)
	assert.ErrorIs(t, err, ErrNotPersisted)
}
