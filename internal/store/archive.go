// ABOUTME: Cold-storage archive operations for aged closed conversations
// ABOUTME: ArchiveConversation moves one conversation and its messages in a single transaction

package store

import (
	"context"
	"fmt"
	"time"
)

// ListArchivable returns IDs of closed conversations whose closed timestamp
// is at or before the cutoff, oldest first.
func (s *SQLiteStore) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `
		SELECT id
		FROM conversations
		WHERE status = 'closed' AND closed_at <= ?
		ORDER BY closed_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, formatTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("querying archivable conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning archivable id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archivable rows: %w", err)
	}
	return ids, nil
}

// ArchiveConversation moves one closed conversation and its full message
// history into the archive tables and deletes the originals, all within a
// single transaction. Original timestamps are preserved; only archived_at is
// added. If anything fails the transaction rolls back and the conversation
// remains fully intact in primary storage.
func (s *SQLiteStore) ArchiveConversation(ctx context.Context, id string, archivedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning archive transaction: %w", err)
	}
	defer tx.Rollback()

	// Only terminal conversations may leave primary storage
	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM conversations WHERE id = ?`, id).Scan(&status)
	if err != nil {
		return fmt.Errorf("reading conversation %s: %w", id, err)
	}
	if Status(status) != StatusClosed {
		return fmt.Errorf("conversation %s is %s, refusing to archive", id, status)
	}

	ts := formatTime(archivedAt)

	result, err := tx.ExecContext(ctx, `
		INSERT INTO archived_conversations (
			id, customer_ref, status, operator_id, handover, created_at, closed_at,
			first_response_at, first_response_secs, resolution_secs, sla_status,
			archived_at
		)
		SELECT id, customer_ref, status, operator_id, handover, created_at, closed_at,
		       first_response_at, first_response_secs, resolution_secs, sla_status, ?
		FROM conversations
		WHERE id = ?
	`, ts, id)
	if err != nil {
		return fmt.Errorf("copying conversation %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO archived_messages (id, conversation_id, sender, body, outgoing, created_at, archived_at)
		SELECT id, conversation_id, sender, body, outgoing, created_at, ?
		FROM messages
		WHERE conversation_id = ?
	`, ts, id); err != nil {
		return fmt.Errorf("copying messages for %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages for %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing archive of %s: %w", id, err)
	}

	s.logger.Debug("archived conversation", "id", id)
	return nil
}

// GetArchivedConversation retrieves an archived conversation by ID, along
// with its archival timestamp.
// Returns ErrNotFound if no archive record exists.
func (s *SQLiteStore) GetArchivedConversation(ctx context.Context, id string) (*Conversation, time.Time, error) {
	query := `
		SELECT id, customer_ref, status, operator_id, handover, created_at, closed_at,
		       first_response_at, first_response_secs, resolution_secs, sla_status,
		       archived_at
		FROM archived_conversations
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)

	// Reuse the conversation scanner by splitting off archived_at
	var archivedAtStr string
	c, err := scanConversation(&archiveRowScanner{row: row, archivedAt: &archivedAtStr})
	if err != nil {
		return nil, time.Time{}, err
	}

	archivedAt, err := parseTime(archivedAtStr)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parsing archived_at: %w", err)
	}
	return c, archivedAt, nil
}

// CountArchivedMessages returns how many messages are archived for a
// conversation.
func (s *SQLiteStore) CountArchivedMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archived_messages WHERE conversation_id = ?`,
		conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting archived messages: %w", err)
	}
	return count, nil
}

// archiveRowScanner appends the archived_at destination to a conversation
// scan so scanConversation can be reused for archive rows.
type archiveRowScanner struct {
	row        interface{ Scan(dest ...any) error }
	archivedAt *string
}

func (a *archiveRowScanner) Scan(dest ...any) error {
	return a.row.Scan(append(dest, a.archivedAt)...)
}
