package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Notification announces a persisted audit record.
type Notification struct {
	Topic      string    `json:"topic"` // audit:<event>
	Event      Event     `json:"event"`
	RecordID   int64     `json:"record_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewNotification builds the announcement for a persisted record.
func NewNotification(rec Record) Notification {
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return Notification{
		Topic:      rec.Event.Topic(),
		Event:      rec.Event,
		RecordID:   rec.ID,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Timestamp:  ts,
	}
}

// Notifier defines where announcements go (in-process, stdout, Kafka).
// Failures are reported but never undo the persisted record.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// NoopNotifier is for dev/testing.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Notification) error {
	return nil
}

// Listener handles one notification delivered by an Emitter.
type Listener func(ctx context.Context, n Notification) error

// Emitter is an in-process bus. Listeners run synchronously in registration order.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]Listener)}
}

// On subscribes fn to a topic such as "audit:create".
func (e *Emitter) On(topic string, fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[topic] = append(e.listeners[topic], fn)
}

func (e *Emitter) Notify(ctx context.Context, n Notification) error {
	e.mu.RLock()
	listeners := append([]Listener(nil), e.listeners[n.Topic]...)
	e.mu.RUnlock()

	var errs []error
	for _, fn := range listeners {
		if err := fn(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiNotifier fans a notification out to every notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for i, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
