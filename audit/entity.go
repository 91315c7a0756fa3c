package audit

import (
	"reflect"
	"sync"
)

// Entity is the view of a host record the auditor needs. Hosts implement the
// attribute methods and usually embed Tracker for the snapshot stash.
type Entity interface {
	// AuditKey is the stable identity of the instance within its type.
	AuditKey() string
	// AuditAttributes returns the current attribute image.
	AuditAttributes() Values
	// AuditOriginal returns the pre-change values of attributes changed since last load.
	AuditOriginal() Values
	// SetAuditAttribute overwrites one attribute in the instance's storage.
	SetAuditAttribute(key string, value any)

	StashSnapshot(Snapshot)
	TakeSnapshot() Snapshot
}

// TenantScoped entities carry their own tenant, used when no tenant resolver yields one.
type TenantScoped interface {
	AuditTenantID() (string, bool)
}

// Tracker holds the snapshot captured between the before and after hooks of
// one mutation. The zero value is ready to use.
type Tracker struct {
	mu       sync.Mutex
	snapshot Snapshot
	stashed  bool
}

func (t *Tracker) StashSnapshot(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot = s
	t.stashed = true
}

// TakeSnapshot returns the stashed snapshot and clears it.
func (t *Tracker) TakeSnapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.snapshot
	t.snapshot = Snapshot{}
	t.stashed = false
	return s
}

// Stashed reports whether a snapshot is waiting to be consumed.
func (t *Tracker) Stashed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stashed
}

// TypeName returns the concrete runtime type name of entity, never the name of
// an embedded type.
func TypeName(entity any) string {
	t := reflect.TypeOf(entity)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}
