package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/godamri/helix-audit/audit"
)

// TopicHeader carries the audit:<event> name next to the payload.
const TopicHeader = "audit-topic"

// Notifier publishes audit notifications through a Publisher. Messages are
// keyed by entity so one instance's notifications stay ordered.
type Notifier struct {
	pub   Publisher
	topic string
}

func NewNotifier(pub Publisher, topic string) *Notifier {
	if topic == "" {
		topic = "system.audit.events"
	}
	return &Notifier{pub: pub, topic: topic}
}

func (n *Notifier) Notify(ctx context.Context, note audit.Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("messaging: encode notification: %w", err)
	}
	key := note.EntityType + ":" + note.EntityID
	return n.pub.Publish(ctx, n.topic, key, payload, map[string]string{TopicHeader: note.Topic})
}

// DecodeNotification parses a payload written by Notifier.
func DecodeNotification(payload []byte) (audit.Notification, error) {
	var note audit.Notification
	if err := json.Unmarshal(payload, &note); err != nil {
		return audit.Notification{}, fmt.Errorf("messaging: decode notification: %w", err)
	}
	if _, err := audit.ParseEvent(string(note.Event)); err != nil {
		return audit.Notification{}, fmt.Errorf("messaging: decode notification: %w", err)
	}
	if note.Topic == "" {
		note.Topic = note.Event.Topic()
	}
	return note, nil
}

var _ audit.Notifier = (*Notifier)(nil)
