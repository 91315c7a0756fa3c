package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godamri/helix-audit/audit"
)

type countingStore struct {
	*Memory
	lastCalls int
}

func (c *countingStore) LastByEntity(ctx context.Context, entityType, entityID string) (*audit.Record, error) {
	c.lastCalls++
	return c.Memory.LastByEntity(ctx, entityType, entityID)
}

func newCached(t *testing.T) (*Cached, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &countingStore{Memory: NewMemory()}
	return NewCached(inner, rdb, time.Minute, nil), inner, mr
}

func createRecord(id string, values audit.Values) audit.Record {
	return audit.Record{Event: audit.EventCreate, EntityType: "Book", EntityID: id, NewValues: values}
}

func TestCached_AppendWritesThrough(t *testing.T) {
	c, inner, mr := newCached(t)
	ctx := context.Background()

	saved, err := c.Append(ctx, createRecord("1", audit.Values{"name": "Book"}))
	require.NoError(t, err)
	assert.True(t, mr.Exists("audit:last:Book:1"))
	assert.Equal(t, time.Minute, mr.TTL("audit:last:Book:1"))

	last, err := c.LastByEntity(ctx, "Book", "1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, last.ID)
	assert.Equal(t, "Book", last.NewValues["name"])
	assert.Zero(t, inner.lastCalls, "hit must not reach the wrapped store")
}

func TestCached_NewerRecordWins(t *testing.T) {
	c, _, _ := newCached(t)
	ctx := context.Background()

	_, err := c.Append(ctx, createRecord("1", audit.Values{"name": "Book"}))
	require.NoError(t, err)
	second, err := c.Append(ctx, audit.Record{
		Event: audit.EventUpdate, EntityType: "Book", EntityID: "1",
		OldValues: audit.Values{"name": "Book"}, NewValues: audit.Values{"name": "Updated"},
	})
	require.NoError(t, err)

	first, err := c.next.FirstByEntity(ctx, "Book", "1")
	require.NoError(t, err)
	c.remember(ctx, *first)

	last, err := c.LastByEntity(ctx, "Book", "1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
}

func TestCached_MissFillsCache(t *testing.T) {
	c, inner, mr := newCached(t)
	ctx := context.Background()

	_, err := inner.Append(ctx, createRecord("1", audit.Values{"name": "Book"}))
	require.NoError(t, err)

	_, err = c.LastByEntity(ctx, "Book", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.lastCalls)
	assert.True(t, mr.Exists("audit:last:Book:1"))

	_, err = c.LastByEntity(ctx, "Book", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.lastCalls)
}

func TestCached_NoHistory(t *testing.T) {
	c, _, mr := newCached(t)

	last, err := c.LastByEntity(context.Background(), "Book", "404")
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.False(t, mr.Exists("audit:last:Book:404"))
}

func TestCached_RedisDownFallsThrough(t *testing.T) {
	c, inner, mr := newCached(t)
	ctx := context.Background()
	mr.Close()

	saved, err := c.Append(ctx, createRecord("1", audit.Values{"name": "Book"}))
	require.NoError(t, err)

	last, err := c.LastByEntity(ctx, "Book", "1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, last.ID)
	assert.Equal(t, 1, inner.lastCalls)
}

func TestCached_AppendFailureSkipsCache(t *testing.T) {
	c, inner, mr := newCached(t)
	inner.FailNextAppend(assert.AnError)

	_, err := c.Append(context.Background(), createRecord("1", audit.Values{}))
	require.ErrorIs(t, err, audit.ErrPersistence)
	assert.False(t, mr.Exists("audit:last:Book:1"))
}

func TestCached_RefreshPicksUpForeignAppends(t *testing.T) {
	c, inner, mr := newCached(t)
	ctx := context.Background()

	first, err := c.Append(ctx, createRecord("1", audit.Values{"name": "Book"}))
	require.NoError(t, err)

	// Another process appends straight to the shared store.
	foreign, err := inner.Memory.Append(ctx, audit.Record{
		Event:      audit.EventUpdate,
		EntityType: "Book",
		EntityID:   "1",
		OldValues:  audit.Values{"name": "Book"},
		NewValues:  audit.Values{"name": "Novel"},
	})
	require.NoError(t, err)

	stale, err := c.LastByEntity(ctx, "Book", "1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stale.ID)

	require.NoError(t, c.Refresh(ctx, "Book", "1"))
	last, err := c.LastByEntity(ctx, "Book", "1")
	require.NoError(t, err)
	assert.Equal(t, foreign.ID, last.ID)

	require.NoError(t, c.Refresh(ctx, "Book", "2"))
	assert.False(t, mr.Exists("audit:last:Book:2"))
}

func TestCached_HitKeepsIntegerValues(t *testing.T) {
	c, inner, _ := newCached(t)
	ctx := context.Background()

	_, err := c.Append(ctx, createRecord("1", audit.Values{"id": int64(1), "pages": 310, "price": 9.5}))
	require.NoError(t, err)

	last, err := c.LastByEntity(ctx, "Book", "1")
	require.NoError(t, err)
	assert.Zero(t, inner.lastCalls)
	assert.Equal(t, audit.Values{"id": int64(1), "pages": int64(310), "price": 9.5}, last.NewValues)
}
