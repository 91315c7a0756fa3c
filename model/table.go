package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"sync"

	"github.com/godamri/helix-audit/audit"
)

var (
	ErrNotFound     = errors.New("model: row not found")
	ErrNotPersisted = errors.New("model: row is not persisted")
	ErrNotNull      = errors.New("model: not null violation")
	ErrUnique       = errors.New("model: unique violation")
)

// Row is any struct embedding *Base or Base.
type Row interface {
	audit.Entity
	Model() *Base
}

// Column declares constraints checked on every write.
type Column struct {
	Name    string
	NotNull bool
	Unique  bool
}

// Table is an in-memory host table whose writes are audited.
type Table[R Row] struct {
	auditor *audit.Auditor
	newRow  func() R
	columns []Column

	mu     sync.RWMutex
	rows   map[int64]audit.Values
	nextID int64
}

func NewTable[R Row](auditor *audit.Auditor, newRow func() R, columns ...Column) *Table[R] {
	return &Table[R]{
		auditor: auditor,
		newRow:  newRow,
		columns: columns,
		rows:    make(map[int64]audit.Values),
	}
}

// Create inserts row and assigns its id.
func (t *Table[R]) Create(ctx context.Context, row R) (*audit.Record, error) {
	base := row.Model()
	if base.IsPersisted() {
		return nil, fmt.Errorf("model: create: row %s already persisted", base.AuditKey())
	}

	rec, err := t.auditor.Mutate(ctx, row, audit.EventCreate, func(ctx context.Context) error {
		t.mu.Lock()
		defer t.mu.Unlock()

		attrs := base.Attributes()
		if err := t.check(attrs, 0); err != nil {
			return err
		}
		t.nextID++
		base.Set("id", t.nextID)
		attrs["id"] = t.nextID
		t.rows[t.nextID] = attrs
		return nil
	})
	if err != nil {
		return nil, err
	}
	base.Sync()
	base.setPersisted(true)
	return rec, nil
}

// Update writes the dirty attributes of row. A clean row is a no-op that
// still runs the audit hooks, which record nothing.
func (t *Table[R]) Update(ctx context.Context, row R) (*audit.Record, error) {
	base := row.Model()
	id, err := t.persistedID(base)
	if err != nil {
		return nil, err
	}

	rec, err := t.auditor.Mutate(ctx, row, audit.EventUpdate, func(ctx context.Context) error {
		t.mu.Lock()
		defer t.mu.Unlock()

		if _, ok := t.rows[id]; !ok {
			return ErrNotFound
		}
		attrs := base.Attributes()
		if err := t.check(attrs, id); err != nil {
			return err
		}
		t.rows[id] = attrs
		return nil
	})
	if err != nil {
		return nil, err
	}
	base.Sync()
	return rec, nil
}

// Delete removes row. Its attributes stay readable on the value.
func (t *Table[R]) Delete(ctx context.Context, row R) (*audit.Record, error) {
	base := row.Model()
	id, err := t.persistedID(base)
	if err != nil {
		return nil, err
	}

	rec, err := t.auditor.Mutate(ctx, row, audit.EventDelete, func(ctx context.Context) error {
		t.mu.Lock()
		defer t.mu.Unlock()

		if _, ok := t.rows[id]; !ok {
			return ErrNotFound
		}
		delete(t.rows, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	base.setPersisted(false)
	return rec, nil
}

// Find loads a fresh row by id.
func (t *Table[R]) Find(_ context.Context, id int64) (R, error) {
	t.mu.RLock()
	attrs, ok := t.rows[id]
	t.mu.RUnlock()

	var zero R
	if !ok {
		return zero, ErrNotFound
	}
	row := t.newRow()
	row.Model().load(attrs)
	return row, nil
}

func (t *Table[R]) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Load and Save let a table act as the revert repository of the HTTP API.
func (t *Table[R]) Load(ctx context.Context, id string) (audit.Entity, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	row, err := t.Find(ctx, n)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (t *Table[R]) Save(ctx context.Context, entity audit.Entity) error {
	row, ok := entity.(R)
	if !ok {
		return fmt.Errorf("model: save: unexpected entity %s", audit.TypeName(entity))
	}
	_, err := t.Update(ctx, row)
	return err
}

func (t *Table[R]) persistedID(base *Base) (int64, error) {
	if !base.IsPersisted() {
		return 0, ErrNotPersisted
	}
	id, ok := asInt64(base.Get("id"))
	if !ok {
		return 0, fmt.Errorf("%w: missing id", ErrNotPersisted)
	}
	return id, nil
}

// asInt64 accepts any Go integer kind, as ids may come back from storage
// with a different width than the one the table assigned.
func asInt64(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		return int64(u), u <= math.MaxInt64
	}
	return 0, false
}

// check runs column constraints against attrs, skipping row self.
// Caller holds t.mu.
func (t *Table[R]) check(attrs audit.Values, self int64) error {
	for _, col := range t.columns {
		value := attrs[col.Name]
		if col.NotNull && value == nil {
			return fmt.Errorf("%w: %s", ErrNotNull, col.Name)
		}
		if !col.Unique || value == nil || !reflect.TypeOf(value).Comparable() {
			continue
		}
		for id, row := range t.rows {
			if id != self && row[col.Name] == value {
				return fmt.Errorf("%w: %s", ErrUnique, col.Name)
			}
		}
	}
	return nil
}
