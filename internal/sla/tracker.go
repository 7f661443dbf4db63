// ABOUTME: Idempotent SLA recording for first-response and resolution timing
// ABOUTME: Each fact is written at most once; replays after the guard trips are no-ops

package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/warren/internal/store"
)

// Store is what the tracker needs from persistence. It only ever writes the
// timing columns; routing state belongs to the session controller.
type Store interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	FirstOperatorReply(ctx context.Context, conversationID string) (*store.Message, error)
	SetFirstResponse(ctx context.Context, id string, at time.Time, secs int64, status store.SLAStatus) error
	SetResolution(ctx context.Context, id string, secs int64, status store.SLAStatus) error
	ListMissingFirstResponse(ctx context.Context, limit int) ([]string, error)
	ListUnresolvedClosed(ctx context.Context, limit int) ([]string, error)
}

// Auditor receives SLA recording events, fire-and-forget.
type Auditor interface {
	Emit(e *store.AuditEntry)
}

// Thresholds are the configured service-level commitments.
type Thresholds struct {
	FirstResponse time.Duration
	Resolution    time.Duration
}

// Tracker observes lifecycle events and records timing facts once per
// conversation.
type Tracker struct {
	store      Store
	thresholds Thresholds
	auditor    Auditor
	logger     *slog.Logger
}

// New creates a Tracker. auditor may be nil. Pass nil logger for default.
func New(st Store, thresholds Thresholds, auditor Auditor, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:      st,
		thresholds: thresholds,
		auditor:    auditor,
		logger:     logger.With("component", "sla"),
	}
}

// RecordFirstResponse records when the first operator reply happened and
// whether it met the first-response threshold. No-op if already recorded or
// if no operator reply exists yet. Safe to call any number of times; the
// stored values never change after the first successful write.
func (t *Tracker) RecordFirstResponse(ctx context.Context, conversationID string) error {
	conv, err := t.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.FirstResponseAt != nil {
		return nil
	}
	if conv.CreatedAt.IsZero() {
		return fmt.Errorf("conversation %s has no creation timestamp", conversationID)
	}

	reply, err := t.store.FirstOperatorReply(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing to record yet
		return nil
	}
	if err != nil {
		return err
	}

	elapsed := reply.CreatedAt.Sub(conv.CreatedAt)
	secs := int64(elapsed.Seconds())
	status := store.SLAMeet
	if elapsed > t.thresholds.FirstResponse {
		status = store.SLABreach
	}

	if err := t.store.SetFirstResponse(ctx, conversationID, reply.CreatedAt, secs, status); err != nil {
		if errors.Is(err, store.ErrAlreadyRecorded) {
			return nil
		}
		return err
	}

	t.logger.Info("first response recorded",
		"conversation_id", conversationID,
		"secs", secs,
		"status", status,
	)
	t.audit(store.AuditFirstResponse, conversationID, map[string]any{
		"secs":   secs,
		"status": string(status),
	})
	return nil
}

// RecordResolution records how long the conversation took to close and the
// combined SLA outcome. The overall status is meet only when the resolution
// duration is within threshold and the first-response check also met. A
// conversation closed before any operator reply counts as a breach. No-op
// if the conversation is not closed or resolution is already recorded.
func (t *Tracker) RecordResolution(ctx context.Context, conversationID string) error {
	conv, err := t.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.ClosedAt == nil || conv.ResolutionSecs != nil {
		return nil
	}
	if conv.CreatedAt.IsZero() {
		return fmt.Errorf("conversation %s has no creation timestamp", conversationID)
	}

	elapsed := conv.ClosedAt.Sub(conv.CreatedAt)
	secs := int64(elapsed.Seconds())

	status := store.SLAMeet
	switch {
	case elapsed > t.thresholds.Resolution:
		status = store.SLABreach
	case conv.SLAStatus == nil || *conv.SLAStatus != store.SLAMeet:
		// First response was a breach, or never happened before close
		status = store.SLABreach
	}

	if err := t.store.SetResolution(ctx, conversationID, secs, status); err != nil {
		if errors.Is(err, store.ErrAlreadyRecorded) {
			return nil
		}
		return err
	}

	t.logger.Info("resolution recorded",
		"conversation_id", conversationID,
		"secs", secs,
		"status", status,
	)
	t.audit(store.AuditResolution, conversationID, map[string]any{
		"secs":   secs,
		"status": string(status),
	})
	return nil
}

// Recheck re-runs the idempotent recording operations over conversations
// whose timing facts are still missing: assigned conversations with no
// first-response recorded, and closed conversations with no resolution.
// This is how a recording lost to a crash or a failed write eventually lands.
// Per-conversation failures are logged and skipped; the pass continues.
func (t *Tracker) Recheck(ctx context.Context) error {
	missing, err := t.store.ListMissingFirstResponse(ctx, 0)
	if err != nil {
		return fmt.Errorf("listing conversations missing first response: %w", err)
	}
	for _, id := range missing {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.RecordFirstResponse(ctx, id); err != nil {
			t.logger.Error("first-response recheck failed", "error", err, "conversation_id", id)
		}
	}

	unresolved, err := t.store.ListUnresolvedClosed(ctx, 0)
	if err != nil {
		return fmt.Errorf("listing unresolved closed conversations: %w", err)
	}
	for _, id := range unresolved {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.RecordResolution(ctx, id); err != nil {
			t.logger.Error("resolution recheck failed", "error", err, "conversation_id", id)
		}
	}

	if len(missing) > 0 || len(unresolved) > 0 {
		t.logger.Debug("sla recheck pass complete",
			"first_response_candidates", len(missing),
			"resolution_candidates", len(unresolved),
		)
	}
	return nil
}

// audit emits an entry when an auditor is attached.
func (t *Tracker) audit(action store.AuditAction, conversationID string, detail map[string]any) {
	if t.auditor == nil {
		return
	}
	t.auditor.Emit(&store.AuditEntry{
		Action:         action,
		ConversationID: conversationID,
		Detail:         detail,
	})
}
