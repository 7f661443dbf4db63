// ABOUTME: Batch sweep relocating aged closed conversations into cold storage
// ABOUTME: One transaction per conversation; a single failure is logged and skipped

package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/warren/internal/store"
)

// Store is what the sweeper needs from persistence.
type Store interface {
	ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	ArchiveConversation(ctx context.Context, id string, archivedAt time.Time) error
}

// Auditor receives archive events, fire-and-forget.
type Auditor interface {
	Emit(e *store.AuditEntry)
}

// Clock returns the current time. Swapped for a fixed clock in tests.
type Clock func() time.Time

// Sweeper migrates conversations closed beyond the retention window into
// the archive tables. It only ever touches conversations already terminal
// past the window, so it is safe to run alongside live traffic.
type Sweeper struct {
	store   Store
	auditor Auditor
	now     Clock
	logger  *slog.Logger
}

// NewSweeper creates a Sweeper. auditor may be nil. Pass nil for now or
// logger to use defaults.
func NewSweeper(st Store, auditor Auditor, now Clock, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		store:   st,
		auditor: auditor,
		now:     now,
		logger:  logger.With("component", "archive"),
	}
}

// Run archives every conversation closed at least retentionDays ago and
// returns the count that fully succeeded. Each conversation is one atomic
// unit: on failure it is rolled back, logged with its identifier, and the
// sweep continues with the next candidate.
func (s *Sweeper) Run(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention days must be non-negative, got %d", retentionDays)
	}

	now := s.now()
	cutoff := now.AddDate(0, 0, -retentionDays)

	candidates, err := s.store.ListArchivable(ctx, cutoff, 0)
	if err != nil {
		return 0, fmt.Errorf("selecting archivable conversations: %w", err)
	}
	if len(candidates) == 0 {
		s.logger.Debug("no conversations past retention", "retention_days", retentionDays)
		return 0, nil
	}

	s.logger.Info("archival sweep starting",
		"candidates", len(candidates),
		"retention_days", retentionDays,
	)

	archived := 0
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("archival sweep interrupted", "archived", archived, "error", err)
			return archived, err
		}

		if err := s.store.ArchiveConversation(ctx, id, now); err != nil {
			s.logger.Error("failed to archive conversation, skipping",
				"error", err,
				"conversation_id", id,
			)
			continue
		}

		archived++
		if s.auditor != nil {
			s.auditor.Emit(&store.AuditEntry{
				Action:         store.AuditConversationArchived,
				ConversationID: id,
				Detail:         map[string]any{"retention_days": retentionDays},
			})
		}
	}

	s.logger.Info("archival sweep complete",
		"archived", archived,
		"failed", len(candidates)-archived,
	)
	return archived, nil
}
