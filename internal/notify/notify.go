// ABOUTME: Best-effort assignment notifications to the outbound messaging layer
// ABOUTME: Defines the Notifier interface, event payloads, and a no-op implementation

package notify

import (
	"context"
	"time"
)

// AssignmentEvent describes a routing outcome worth telling the outbound
// messaging layer about.
type AssignmentEvent struct {
	ConversationID string    `json:"conversation_id"`
	CustomerRef    string    `json:"customer_ref"`
	OperatorID     string    `json:"operator_id,omitempty"`
	Queued         bool      `json:"queued"`
	IntentTag      string    `json:"intent_tag,omitempty"`
	At             time.Time `json:"at"`
}

// Notifier delivers assignment events to external collaborators. Delivery is
// best-effort: implementations return errors for logging only, and callers
// must never roll back a state transition because notification failed.
type Notifier interface {
	AssignmentChanged(ctx context.Context, event AssignmentEvent) error
	Close() error
}

// Noop is a Notifier that discards every event. Used when no broker is
// configured and in tests.
type Noop struct{}

// AssignmentChanged discards the event.
func (Noop) AssignmentChanged(ctx context.Context, event AssignmentEvent) error { return nil }

// Close is a no-op.
func (Noop) Close() error { return nil }
