package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godamri/helix-audit/audit"
)

var columns = []string{
	"id", "actor_type", "actor_id", "tenant_id", "event", "entity_type", "entity_id",
	"old_values", "new_values", "metadata", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgres_Append(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	actor := "7"

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audits")).
		WithArgs(nil, &actor, nil, "update", "Book", "1", `{"name":"Book"}`, `{"name":"Updated"}`, `{"ip":"10.0.0.1"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(12), now, now))

	saved, err := store.Append(context.Background(), audit.Record{
		ActorID:    &actor,
		Event:      audit.EventUpdate,
		EntityType: "Book",
		EntityID:   "1",
		OldValues:  audit.Values{"name": "Book"},
		NewValues:  audit.Values{"name": "Updated"},
		Metadata:   map[string]any{"ip": "10.0.0.1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), saved.ID)
	assert.Equal(t, now, saved.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendCreateStoresNullOldValues(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audits")).
		WithArgs(nil, nil, nil, "create", "Book", "1", nil, `{"id":1}`, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), now, now))

	_, err := store.Append(context.Background(), audit.Record{
		Event:      audit.EventCreate,
		EntityType: "Book",
		EntityID:   "1",
		NewValues:  audit.Values{"id": 1},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendFailure(t *testing.T) {
	store, mock := newMockStore(t)
	pgErr := &pgconn.PgError{Code: "23514", Message: "audits_event_check"}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audits")).WillReturnError(pgErr)

	_, err := store.Append(context.Background(), audit.Record{Event: audit.EventCreate, EntityType: "Book", EntityID: "1", NewValues: audit.Values{}})
	require.ErrorIs(t, err, audit.ErrPersistence)

	var got *pgconn.PgError
	assert.True(t, errors.As(err, &got))
	assert.Contains(t, err.Error(), "VAL_INVALID_INPUT")
}

func TestPostgres_ListByEntity(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id ASC")).
		WithArgs("Book", "1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(1), nil, nil, "t-1", "create", "Book", "1", nil, []byte(`{"name":"Book"}`), nil, now, now).
			AddRow(int64(3), "user", "7", "t-1", "update", "Book", "1", []byte(`{"name":"Book"}`), []byte(`{"name":"Updated"}`), []byte(`{"ip":"1.1.1.1"}`), now, now))

	recs, err := store.ListByEntity(context.Background(), "Book", "1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, audit.EventCreate, recs[0].Event)
	assert.Nil(t, recs[0].OldValues)
	assert.Nil(t, recs[0].ActorID)
	assert.Equal(t, "t-1", *recs[0].TenantID)

	assert.Equal(t, "7", *recs[1].ActorID)
	assert.Equal(t, "user", *recs[1].ActorType)
	assert.Equal(t, audit.Values{"name": "Updated"}, recs[1].NewValues)
	assert.Equal(t, map[string]any{"ip": "1.1.1.1"}, recs[1].Metadata)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FirstAndLast(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id DESC LIMIT 1")).
		WithArgs("Book", "1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(3), nil, nil, nil, "delete", "Book", "1", []byte(`{"name":"Book"}`), nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id ASC LIMIT 1")).
		WithArgs("Book", "2").
		WillReturnError(sql.ErrNoRows)

	last, err := store.LastByEntity(context.Background(), "Book", "1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, int64(3), last.ID)
	assert.Nil(t, last.NewValues)

	first, err := store.FirstByEntity(context.Background(), "Book", "2")
	require.NoError(t, err)
	assert.Nil(t, first)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueryFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	_, err := store.ListByEntity(context.Background(), "Book", "1")
	assert.ErrorIs(t, err, audit.ErrPersistence)
}

func TestPostgres_DecodesIntegersAsInt64(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(2), nil, nil, nil, "update", "Book", "1",
			[]byte(`{"id":9007199254740993,"price":9.5}`), []byte(`{"id":9007199254740993,"price":10}`), nil, now, now,
		))

	last, err := store.LastByEntity(context.Background(), "Book", "1")
	require.NoError(t, err)
	assert.Equal(t, audit.Values{"id": int64(9007199254740993), "price": 9.5}, last.OldValues)
	assert.Equal(t, audit.Values{"id": int64(9007199254740993), "price": int64(10)}, last.NewValues)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountByEntity(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM audits")).
		WithArgs("Book", "1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := store.CountByEntity(context.Background(), "Book", "1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
