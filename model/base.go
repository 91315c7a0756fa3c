package model

import (
	"fmt"
	"sync"

	"github.com/godamri/helix-audit/audit"
)

// Base is an attribute bag with dirty tracking. Embed it in a struct to make
// that struct an auditable row:
//
//	type Book struct{ model.Base }
type Base struct {
	audit.Tracker

	mu        sync.RWMutex
	attrs     audit.Values
	original  audit.Values
	persisted bool
}

// Model exposes the embedded Base to Table.
func (b *Base) Model() *Base { return b }

func (b *Base) Get(key string) any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.attrs[key]
}

// Set writes an attribute and remembers its first pre-change value until the
// next Sync.
func (b *Base) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attrs == nil {
		b.attrs = audit.Values{}
	}
	if b.original == nil {
		b.original = audit.Values{}
	}
	if _, dirty := b.original[key]; !dirty {
		b.original[key] = b.attrs[key]
	}
	b.attrs[key] = value
}

// Attributes returns a copy of the current attributes.
func (b *Base) Attributes() audit.Values {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.attrs == nil {
		return audit.Values{}
	}
	return b.attrs.Clone()
}

// Original returns the pre-change values of dirty attributes.
func (b *Base) Original() audit.Values {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.original == nil {
		return audit.Values{}
	}
	return b.original.Clone()
}

// Dirty returns the current values of attributes changed since the last Sync.
func (b *Base) Dirty() audit.Values {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := audit.Values{}
	for key := range b.original {
		out[key] = b.attrs[key]
	}
	return out
}

func (b *Base) IsDirty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.original) > 0
}

// Sync marks the current attributes as persisted.
func (b *Base) Sync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.original = audit.Values{}
}

func (b *Base) IsPersisted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.persisted
}

func (b *Base) load(attrs audit.Values) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attrs = attrs.Clone()
	b.original = audit.Values{}
	b.persisted = true
}

func (b *Base) setPersisted(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.persisted = v
}

func (b *Base) AuditKey() string {
	id := b.Get("id")
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

func (b *Base) AuditAttributes() audit.Values { return b.Attributes() }

func (b *Base) AuditOriginal() audit.Values { return b.Original() }

func (b *Base) SetAuditAttribute(key string, value any) { b.Set(key, value) }
