// ABOUTME: Session lifecycle controller, the sole writer of status/assignment/handover
// ABOUTME: Serializes per-conversation transitions and composes routers, SLA, audit, notify

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/warren/internal/notify"
	"github.com/2389/warren/internal/routing"
	"github.com/2389/warren/internal/store"
)

// Conflict outcomes. These are expected, user-facing results checked with
// errors.Is, never logged as system errors.
var (
	// ErrAlreadyAssigned means a take hit a conversation another operator
	// already holds.
	ErrAlreadyAssigned = errors.New("conversation already assigned to another operator")

	// ErrAlreadyClosed means the conversation is in its terminal state.
	ErrAlreadyClosed = errors.New("conversation already closed")

	// ErrSelfReassign means the reassignment target already holds the
	// conversation.
	ErrSelfReassign = errors.New("operator already holds this conversation")

	// ErrNotAnOperator means the assignment target does not have the agent
	// role.
	ErrNotAnOperator = errors.New("target is not a routable operator")
)

// Store is what the controller needs from persistence.
type Store interface {
	CreateConversation(ctx context.Context, c *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetActiveConversationByCustomer(ctx context.Context, customerRef string) (*store.Conversation, error)
	ListConversationsByStatus(ctx context.Context, status store.Status, limit int) ([]*store.Conversation, error)
	SetRouting(ctx context.Context, id string, prev store.RoutingGuard, next store.RoutingChange) error
	SaveMessage(ctx context.Context, msg *store.Message) error
	GetOperator(ctx context.Context, id string) (*store.Operator, error)
}

// AvailabilitySelector picks an operator by liveness and load.
type AvailabilitySelector interface {
	SelectOperator(ctx context.Context) (string, error)
}

// SkillSelector picks a best-fit operator for an intent tag.
type SkillSelector interface {
	SelectOperator(ctx context.Context, intentTag string) (string, error)
}

// SLAObserver records timing facts after lifecycle events commit.
type SLAObserver interface {
	RecordFirstResponse(ctx context.Context, conversationID string) error
	RecordResolution(ctx context.Context, conversationID string) error
}

// Auditor receives structured transition events, fire-and-forget.
type Auditor interface {
	Emit(e *store.AuditEntry)
}

// Deduper rejects replayed inbound events.
type Deduper interface {
	CheckAndMark(key string) bool
}

// Options configures controller behavior.
type Options struct {
	// ResetKeyword returns the conversation to bot-free open state and
	// clears any assignment. Default "menu".
	ResetKeyword string

	// HandoverKeywords trigger routing to a human operator.
	HandoverKeywords []string

	// RouteTimeout bounds a single selection-plus-assignment. Default 5s.
	RouteTimeout time.Duration
}

// Controller orchestrates conversation state transitions. All writes to
// status, assignment and handover flow through here, serialized per
// conversation by a keyed lock; after acquiring the lock the current state
// is re-read before any decision is made.
type Controller struct {
	store        Store
	availability AvailabilitySelector
	skill        SkillSelector
	sla          SLAObserver
	auditor      Auditor
	notifier     notify.Notifier
	dedupe       Deduper
	opts         Options
	locks        *lockTable
	logger       *slog.Logger
}

// New creates a Controller. sla, auditor, notifier and dedupe may each be
// nil, in which case the corresponding side work is skipped.
func New(st Store, availability AvailabilitySelector, skill SkillSelector, sla SLAObserver, auditor Auditor, notifier notify.Notifier, dedupe Deduper, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ResetKeyword == "" {
		opts.ResetKeyword = "menu"
	}
	if opts.RouteTimeout <= 0 {
		opts.RouteTimeout = 5 * time.Second
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Controller{
		store:        st,
		availability: availability,
		skill:        skill,
		sla:          sla,
		auditor:      auditor,
		notifier:     notifier,
		dedupe:       dedupe,
		opts:         opts,
		locks:        newLockTable(),
		logger:       logger.With("component", "session"),
	}
}

// RouteOutcome is the result of a routing attempt.
type RouteOutcome struct {
	ConversationID string
	OperatorID     string // set when an operator owns the conversation
	Queued         bool   // true when no operator was available
}

// InboundResult describes what HandleInboundMessage did.
type InboundResult struct {
	ConversationID string
	Status         store.Status
	Created        bool
	Duplicate      bool
	Routed         *RouteOutcome // set when the message triggered routing
}

// HandleInboundMessage processes one inbound customer message: deduplicates
// replays, finds or creates the customer's active conversation, persists the
// message, and applies any keyword-triggered transition (reset or handover).
func (c *Controller) HandleInboundMessage(ctx context.Context, customerRef, text string, at time.Time) (*InboundResult, error) {
	if c.dedupe != nil {
		key := inboundKey(customerRef, text, at)
		if c.dedupe.CheckAndMark(key) {
			c.logger.Debug("duplicate inbound message ignored", "customer", customerRef)
			return &InboundResult{Duplicate: true}, nil
		}
	}

	conv, created, err := c.ensureConversation(ctx, customerRef, at)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         store.SenderCustomer,
		Body:           text,
		Outgoing:       false,
		CreatedAt:      at,
	}
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording inbound message: %w", err)
	}

	result := &InboundResult{
		ConversationID: conv.ID,
		Status:         conv.Status,
		Created:        created,
	}

	switch {
	case text == c.opts.ResetKeyword:
		if err := c.Reset(ctx, conv.ID); err != nil && !errors.Is(err, ErrAlreadyClosed) {
			return nil, err
		}
		result.Status = store.StatusOpen

	case c.isHandoverKeyword(text):
		outcome, err := c.RouteNow(ctx, conv.ID, "")
		if err != nil {
			return nil, err
		}
		result.Routed = &outcome
		if outcome.Queued {
			result.Status = store.StatusPending
		} else {
			result.Status = store.StatusOpen
		}
	}

	return result, nil
}

// HandleOperatorReply persists an operator's message on a conversation they
// hold, then records first-response timing. Delivery to the customer is the
// caller's problem; this only captures the fact that a human replied.
func (c *Controller) HandleOperatorReply(ctx context.Context, conversationID, operatorID, text string, at time.Time) error {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status == store.StatusClosed {
		return ErrAlreadyClosed
	}
	if conv.OperatorID == nil || *conv.OperatorID != operatorID {
		return ErrAlreadyAssigned
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         store.SenderOperator,
		Body:           text,
		Outgoing:       true,
		CreatedAt:      at,
	}
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("recording operator reply: %w", err)
	}

	// Timing is observed after the message is durable. The tracker's
	// write-once guard makes replays harmless.
	if c.sla != nil {
		if err := c.sla.RecordFirstResponse(ctx, conversationID); err != nil {
			c.logger.Error("failed to record first response", "error", err, "conversation_id", conversationID)
		}
	}
	return nil
}

// RouteNow selects an operator and assigns the conversation to them in one
// critical section. With an intent tag the skill policy is used, otherwise
// the availability policy. If the conversation is already human-owned the
// existing assignment is returned untouched; if no operator is eligible the
// conversation moves to pending and the outcome reports Queued.
func (c *Controller) RouteNow(ctx context.Context, conversationID, intentTag string) (RouteOutcome, error) {
	unlock := c.locks.lock(conversationID)
	defer unlock()

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return RouteOutcome{}, err
	}

	switch conv.RoutingMode() {
	case store.ModeClosed:
		return RouteOutcome{}, ErrAlreadyClosed
	case store.ModeHumanOwned:
		// Concurrent trigger lost the race; report the standing assignment
		return RouteOutcome{ConversationID: conv.ID, OperatorID: *conv.OperatorID}, nil
	}

	routeCtx, cancel := context.WithTimeout(ctx, c.opts.RouteTimeout)
	defer cancel()

	operatorID, err := c.selectOperator(routeCtx, intentTag)
	if errors.Is(err, routing.ErrNoOperatorAvailable) {
		return c.queueConversation(ctx, conv)
	}
	if err != nil {
		return RouteOutcome{}, fmt.Errorf("selecting operator: %w", err)
	}

	prev := store.RoutingGuard{Status: conv.Status, OperatorID: conv.OperatorID}
	next := store.RoutingChange{Status: store.StatusOpen, OperatorID: &operatorID, Handover: true}
	if err := c.store.SetRouting(ctx, conv.ID, prev, next); err != nil {
		if errors.Is(err, store.ErrStaleConversation) {
			return c.observeCurrent(ctx, conv.ID)
		}
		return RouteOutcome{}, err
	}

	c.logger.Info("conversation assigned",
		"conversation_id", conv.ID,
		"operator_id", operatorID,
		"intent", intentTag,
		"was", conv.Status,
	)
	c.audit(store.AuditOperatorAssigned, conv.ID, &operatorID, map[string]any{
		"from_status": string(conv.Status),
		"to_status":   string(store.StatusOpen),
		"intent":      intentTag,
	})
	c.notifyAssignment(notify.AssignmentEvent{
		ConversationID: conv.ID,
		CustomerRef:    conv.CustomerRef,
		OperatorID:     operatorID,
		IntentTag:      intentTag,
		At:             time.Now(),
	})

	return RouteOutcome{ConversationID: conv.ID, OperatorID: operatorID}, nil
}

// Take assigns the conversation to the operator who claims it. Conflicts:
// the conversation is closed, or a different operator already holds it.
// Taking a conversation you already hold is a no-op success.
func (c *Controller) Take(ctx context.Context, conversationID, operatorID string) error {
	if err := c.requireAgent(ctx, operatorID); err != nil {
		return err
	}

	unlock := c.locks.lock(conversationID)
	defer unlock()

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	switch conv.RoutingMode() {
	case store.ModeClosed:
		return ErrAlreadyClosed
	case store.ModeHumanOwned:
		if *conv.OperatorID == operatorID {
			return nil
		}
		return ErrAlreadyAssigned
	}

	prev := store.RoutingGuard{Status: conv.Status, OperatorID: conv.OperatorID}
	next := store.RoutingChange{Status: store.StatusOpen, OperatorID: &operatorID, Handover: true}
	if err := c.store.SetRouting(ctx, conv.ID, prev, next); err != nil {
		if errors.Is(err, store.ErrStaleConversation) {
			return ErrAlreadyAssigned
		}
		return err
	}

	c.logger.Info("conversation taken",
		"conversation_id", conv.ID,
		"operator_id", operatorID,
		"was", conv.Status,
	)
	c.audit(store.AuditOperatorAssigned, conv.ID, &operatorID, map[string]any{
		"from_status": string(conv.Status),
		"to_status":   string(store.StatusOpen),
		"taken":       true,
	})
	return nil
}

// Reassign hands the conversation to a named operator, keeping its status.
// Conflicts: the conversation is closed, the target lacks the agent role,
// or the target already holds it.
func (c *Controller) Reassign(ctx context.Context, conversationID, operatorID string) error {
	if err := c.requireAgent(ctx, operatorID); err != nil {
		return err
	}

	unlock := c.locks.lock(conversationID)
	defer unlock()

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	if conv.Status == store.StatusClosed {
		return ErrAlreadyClosed
	}
	if conv.OperatorID != nil && *conv.OperatorID == operatorID {
		return ErrSelfReassign
	}

	// A bot conversation has no operator to move off; keep the explicit
	// reassignment surface to conversations in the routed states.
	status := conv.Status
	if status == store.StatusBot {
		status = store.StatusOpen
	}

	prevOperator := conv.OperatorID
	prev := store.RoutingGuard{Status: conv.Status, OperatorID: conv.OperatorID}
	next := store.RoutingChange{Status: status, OperatorID: &operatorID, Handover: conv.Handover || status == store.StatusOpen}
	if err := c.store.SetRouting(ctx, conv.ID, prev, next); err != nil {
		return err
	}

	c.logger.Info("conversation reassigned",
		"conversation_id", conv.ID,
		"operator_id", operatorID,
		"previous_operator", stringOrNone(prevOperator),
	)
	c.audit(store.AuditOperatorReassigned, conv.ID, &operatorID, map[string]any{
		"previous_operator": stringOrNone(prevOperator),
		"status":            string(status),
	})
	return nil
}

// Close moves the conversation to its terminal state, clearing assignment
// and handover, then records resolution timing. Returns ErrAlreadyClosed if
// it was already terminal.
func (c *Controller) Close(ctx context.Context, conversationID string) error {
	unlock := c.locks.lock(conversationID)
	defer unlock()

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status == store.StatusClosed {
		return ErrAlreadyClosed
	}

	prevOperator := conv.OperatorID
	prev := store.RoutingGuard{Status: conv.Status, OperatorID: conv.OperatorID}
	next := store.RoutingChange{Status: store.StatusClosed, OperatorID: nil, Handover: false}
	if err := c.store.SetRouting(ctx, conv.ID, prev, next); err != nil {
		if errors.Is(err, store.ErrStaleConversation) {
			return ErrAlreadyClosed
		}
		return err
	}

	c.logger.Info("conversation closed",
		"conversation_id", conv.ID,
		"operator_id", stringOrNone(prevOperator),
	)
	c.audit(store.AuditConversationClosed, conv.ID, prevOperator, map[string]any{
		"from_status": string(conv.Status),
	})

	// Resolution recording runs strictly after the close is durable. A
	// failure here does not undo the close; the tracker's idempotent guard
	// lets a later re-check fill it in.
	if c.sla != nil {
		if err := c.sla.RecordResolution(ctx, conv.ID); err != nil {
			c.logger.Error("failed to record resolution", "error", err, "conversation_id", conv.ID)
		}
	}
	return nil
}

// Reset returns the conversation to an unassigned open state, clearing
// assignment, handover and any bot handling. Triggered by the customer's
// reset keyword.
func (c *Controller) Reset(ctx context.Context, conversationID string) error {
	unlock := c.locks.lock(conversationID)
	defer unlock()

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status == store.StatusClosed {
		return ErrAlreadyClosed
	}

	prevOperator := conv.OperatorID
	prev := store.RoutingGuard{Status: conv.Status, OperatorID: conv.OperatorID}
	next := store.RoutingChange{Status: store.StatusOpen, OperatorID: nil, Handover: false}
	if err := c.store.SetRouting(ctx, conv.ID, prev, next); err != nil {
		return err
	}

	c.logger.Info("conversation reset",
		"conversation_id", conv.ID,
		"previous_operator", stringOrNone(prevOperator),
	)
	c.audit(store.AuditConversationReset, conv.ID, prevOperator, map[string]any{
		"from_status": string(conv.Status),
	})
	return nil
}

// RetryPending re-routes every pending conversation, typically on a timer
// or after an operator heartbeat. Returns how many got an operator.
func (c *Controller) RetryPending(ctx context.Context) (int, error) {
	pending, err := c.store.ListConversationsByStatus(ctx, store.StatusPending, 0)
	if err != nil {
		return 0, fmt.Errorf("listing pending conversations: %w", err)
	}

	assigned := 0
	for _, conv := range pending {
		outcome, err := c.RouteNow(ctx, conv.ID, "")
		if err != nil {
			if errors.Is(err, ErrAlreadyClosed) {
				continue
			}
			c.logger.Error("pending retry failed", "error", err, "conversation_id", conv.ID)
			continue
		}
		if !outcome.Queued {
			assigned++
		}
	}

	if assigned > 0 {
		c.logger.Info("pending retry complete", "assigned", assigned, "pending", len(pending))
	}
	return assigned, nil
}

// ensureConversation finds the customer's active conversation or creates a
// fresh bot-managed one, recovering from the create race the same way a
// concurrent first-message would observe it.
func (c *Controller) ensureConversation(ctx context.Context, customerRef string, at time.Time) (*store.Conversation, bool, error) {
	conv, err := c.store.GetActiveConversationByCustomer(ctx, customerRef)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	conv = &store.Conversation{
		ID:          uuid.New().String(),
		CustomerRef: customerRef,
		Status:      store.StatusBot,
		CreatedAt:   at,
	}
	if err := c.store.CreateConversation(ctx, conv); err != nil {
		// Another inbound message may have created the conversation between
		// our lookup and insert attempt
		if errors.Is(err, store.ErrDuplicateConversation) {
			existing, lookupErr := c.store.GetActiveConversationByCustomer(ctx, customerRef)
			if lookupErr == nil {
				c.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
				return existing, false, nil
			}
			c.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		}
		return nil, false, err
	}

	c.logger.Info("conversation created", "conversation_id", conv.ID, "customer", customerRef)
	c.audit(store.AuditConversationCreated, conv.ID, nil, map[string]any{
		"customer_ref": customerRef,
	})
	return conv, true, nil
}

// queueConversation moves an unassignable conversation to pending.
func (c *Controller) queueConversation(ctx context.Context, conv *store.Conversation) (RouteOutcome, error) {
	if conv.Status != store.StatusPending {
		prev := store.RoutingGuard{Status: conv.Status, OperatorID: conv.OperatorID}
		next := store.RoutingChange{Status: store.StatusPending, OperatorID: nil, Handover: false}
		if err := c.store.SetRouting(ctx, conv.ID, prev, next); err != nil {
			if errors.Is(err, store.ErrStaleConversation) {
				return c.observeCurrent(ctx, conv.ID)
			}
			return RouteOutcome{}, err
		}

		c.logger.Info("conversation queued, no operator available", "conversation_id", conv.ID)
		c.audit(store.AuditAssignmentQueued, conv.ID, nil, map[string]any{
			"from_status": string(conv.Status),
		})
		c.notifyAssignment(notify.AssignmentEvent{
			ConversationID: conv.ID,
			CustomerRef:    conv.CustomerRef,
			Queued:         true,
			At:             time.Now(),
		})
	}

	return RouteOutcome{ConversationID: conv.ID, Queued: true}, nil
}

// observeCurrent reports the conversation's standing assignment after a
// guarded write lost its race.
func (c *Controller) observeCurrent(ctx context.Context, conversationID string) (RouteOutcome, error) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return RouteOutcome{}, err
	}
	switch conv.RoutingMode() {
	case store.ModeClosed:
		return RouteOutcome{}, ErrAlreadyClosed
	case store.ModeHumanOwned:
		return RouteOutcome{ConversationID: conv.ID, OperatorID: *conv.OperatorID}, nil
	default:
		return RouteOutcome{ConversationID: conv.ID, Queued: true}, nil
	}
}

// selectOperator dispatches to the configured policy for this trigger.
func (c *Controller) selectOperator(ctx context.Context, intentTag string) (string, error) {
	if intentTag != "" && c.skill != nil {
		return c.skill.SelectOperator(ctx, intentTag)
	}
	return c.availability.SelectOperator(ctx)
}

// requireAgent validates that the target identity is a routable operator.
func (c *Controller) requireAgent(ctx context.Context, operatorID string) error {
	op, err := c.store.GetOperator(ctx, operatorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotAnOperator
		}
		return err
	}
	if op.Role != store.RoleAgent {
		return ErrNotAnOperator
	}
	return nil
}

// isHandoverKeyword reports whether the message text requests a human.
func (c *Controller) isHandoverKeyword(text string) bool {
	for _, kw := range c.opts.HandoverKeywords {
		if text == kw {
			return true
		}
	}
	return false
}

// audit emits an entry when an auditor is attached.
func (c *Controller) audit(action store.AuditAction, conversationID string, operatorID *string, detail map[string]any) {
	if c.auditor == nil {
		return
	}
	c.auditor.Emit(&store.AuditEntry{
		Action:         action,
		ConversationID: conversationID,
		OperatorID:     operatorID,
		Detail:         detail,
	})
}

// notifyAssignment publishes an assignment event. Failures are logged and
// never roll back the state transition.
func (c *Controller) notifyAssignment(event notify.AssignmentEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.notifier.AssignmentChanged(ctx, event); err != nil {
		c.logger.Warn("assignment notification failed",
			"error", err,
			"conversation_id", event.ConversationID)
	}
}

// inboundKey builds the dedupe key for one inbound event.
func inboundKey(customerRef, text string, at time.Time) string {
	return fmt.Sprintf("%s|%d|%s", customerRef, at.UnixNano(), text)
}

// stringOrNone renders an optional operator ID for logs and audit detail.
func stringOrNone(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}
