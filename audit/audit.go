package audit

import (
	"context"
	"fmt"
	"time"
)

// Event is the lifecycle transition an audit record captures.
type Event string

const (
	EventCreate Event = "create"
	EventUpdate Event = "update"
	EventDelete Event = "delete"
)

// ParseEvent validates a stored event name.
func ParseEvent(s string) (Event, error) {
	switch e := Event(s); e {
	case EventCreate, EventUpdate, EventDelete:
		return e, nil
	}
	return "", fmt.Errorf("audit: unknown event %q", s)
}

// Topic is the notification name announced after a record of this event is persisted.
func (e Event) Topic() string {
	return "audit:" + string(e)
}

// Side selects which value map of a record to apply.
type Side string

const (
	SideOld Side = "old"
	SideNew Side = "new"
)

// Record is one persisted transition of an entity instance.
type Record struct {
	ID         int64          `json:"id"`
	ActorType  *string        `json:"actor_type"`
	ActorID    *string        `json:"actor_id"`
	TenantID   *string        `json:"tenant_id"`
	Event      Event          `json:"event"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	OldValues  Values         `json:"old_values"`
	NewValues  Values         `json:"new_values"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Values returns the map selected by side. Unknown sides yield nil.
func (r Record) Values(side Side) Values {
	switch side {
	case SideOld:
		return r.OldValues
	case SideNew:
		return r.NewValues
	}
	return nil
}

// Validate checks the shape invariants of a record before it is appended.
func (r Record) Validate() error {
	if r.EntityType == "" || r.EntityID == "" {
		return fmt.Errorf("audit: record requires entity type and id")
	}
	switch r.Event {
	case EventCreate:
		if r.OldValues != nil || r.NewValues == nil {
			return fmt.Errorf("audit: create record must carry only new values")
		}
	case EventDelete:
		if r.OldValues == nil || r.NewValues != nil {
			return fmt.Errorf("audit: delete record must carry only old values")
		}
	case EventUpdate:
		if r.OldValues == nil || r.NewValues == nil {
			return fmt.Errorf("audit: update record must carry old and new values")
		}
	default:
		return fmt.Errorf("audit: unknown event %q", r.Event)
	}
	return nil
}

// Store persists and queries audit records keyed by entity type and id.
// Records are write-once; implementations return them ordered by ascending ID.
type Store interface {
	Append(ctx context.Context, rec Record) (Record, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Record, error)
	// FirstByEntity and LastByEntity return (nil, nil) when no history exists.
	FirstByEntity(ctx context.Context, entityType, entityID string) (*Record, error)
	LastByEntity(ctx context.Context, entityType, entityID string) (*Record, error)
	CountByEntity(ctx context.Context, entityType, entityID string) (int, error)
}

func strPtr(s string) *string {
	return &s
}
