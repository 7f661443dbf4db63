// ABOUTME: Core entity types and sentinel errors for warren persistence
// ABOUTME: Defines Operator, Conversation, Message and their typed enums

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a customer already has an
// active (non-closed) conversation
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrStaleConversation is returned when a guarded routing write loses the
// race: the conversation no longer matches the state the caller observed
var ErrStaleConversation = errors.New("conversation state changed")

// ErrAlreadyRecorded is returned when an SLA field has already been written;
// the guarded write is a no-op for the caller
var ErrAlreadyRecorded = errors.New("already recorded")

// OperatorRole is the closed set of roles an operator account can have.
// Only RoleAgent is routable.
type OperatorRole string

const (
	RoleAgent  OperatorRole = "agent"
	RoleAdmin  OperatorRole = "admin"
	RoleViewer OperatorRole = "viewer"
)

// Valid reports whether the role is one of the known constants.
func (r OperatorRole) Valid() bool {
	switch r {
	case RoleAgent, RoleAdmin, RoleViewer:
		return true
	}
	return false
}

// Operator is a human capable of owning conversations. LastSeen is refreshed
// by the heartbeat service; the routers treat it as the liveness signal.
type Operator struct {
	ID          string
	DisplayName string
	Role        OperatorRole
	Online      bool
	Active      bool
	LastSeen    time.Time
	Skills      []string
}

// HasSkill reports whether the operator declared the given skill tag.
func (o *Operator) HasSkill(tag string) bool {
	for _, s := range o.Skills {
		if s == tag {
			return true
		}
	}
	return false
}

// Eligible reports whether the operator can currently receive conversations:
// agent role, online, active, and seen within the freshness window.
func (o *Operator) Eligible(now time.Time, freshness time.Duration) bool {
	return o.Role == RoleAgent &&
		o.Online &&
		o.Active &&
		now.Sub(o.LastSeen) <= freshness
}

// Status is the conversation lifecycle state.
type Status string

const (
	StatusBot     Status = "bot"
	StatusPending Status = "pending"
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
)

// SLAStatus is the recorded service-level outcome for a conversation.
type SLAStatus string

const (
	SLAMeet   SLAStatus = "meet"
	SLABreach SLAStatus = "breach"
)

// RoutingMode is the derived, explicitly-typed view of who owns a
// conversation. It collapses the status enum and the handover flag into a
// variant that cannot express illegal combinations.
type RoutingMode int

const (
	ModeBotManaged RoutingMode = iota
	ModeAwaitingOperator
	ModeHumanOwned
	ModeClosed
)

// String returns the mode name for logs and audit detail.
func (m RoutingMode) String() string {
	switch m {
	case ModeBotManaged:
		return "bot_managed"
	case ModeAwaitingOperator:
		return "awaiting_operator"
	case ModeHumanOwned:
		return "human_owned"
	case ModeClosed:
		return "closed"
	}
	return "unknown"
}

// Conversation is one customer's interaction thread. The lifecycle
// controller is the sole writer of Status, OperatorID and Handover; the SLA
// tracker owns the timing fields.
type Conversation struct {
	ID                string
	CustomerRef       string
	Status            Status
	OperatorID        *string
	Handover          bool
	CreatedAt         time.Time
	ClosedAt          *time.Time
	FirstResponseAt   *time.Time
	FirstResponseSecs *int64
	ResolutionSecs    *int64
	SLAStatus         *SLAStatus
}

// RoutingMode derives the typed ownership variant from status and
// assignment.
func (c *Conversation) RoutingMode() RoutingMode {
	switch {
	case c.Status == StatusClosed:
		return ModeClosed
	case c.OperatorID != nil:
		return ModeHumanOwned
	case c.Status == StatusPending:
		return ModeAwaitingOperator
	default:
		return ModeBotManaged
	}
}

// Active reports whether the conversation is still in primary rotation.
func (c *Conversation) Active() bool {
	return c.Status != StatusClosed
}

// SenderKind identifies who authored a message.
type SenderKind string

const (
	SenderCustomer SenderKind = "customer"
	SenderOperator SenderKind = "operator"
	SenderSystem   SenderKind = "system"
	SenderBot      SenderKind = "bot"
)

// Message is a single message on a conversation. The core only consumes it
// to compute first-operator-reply timing; the transport layer owns delivery.
type Message struct {
	ID             string
	ConversationID string
	Sender         SenderKind
	Body           string
	Outgoing       bool
	CreatedAt      time.Time
}

// RoutingGuard captures the conversation state a caller observed before
// deciding a routing write. Guarded updates only apply while the row still
// matches, which makes assignment a single atomic compare-and-set.
type RoutingGuard struct {
	Status     Status
	OperatorID *string
}

// RoutingChange is the new routing state to apply under a guard.
type RoutingChange struct {
	Status     Status
	OperatorID *string
	Handover   bool
}
