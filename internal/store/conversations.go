// ABOUTME: Conversation persistence: creation, lookup, guarded routing writes
// ABOUTME: Routing updates are compare-and-set so concurrent assigners cannot overwrite

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const conversationColumns = `
	id, customer_ref, status, operator_id, handover, created_at, closed_at,
	first_response_at, first_response_secs, resolution_secs, sla_status
`

// CreateConversation inserts a new conversation. If the customer already has
// an active (non-closed) conversation, it returns ErrDuplicateConversation
// so the caller can recover the existing one.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// One active conversation per customer. Checked inside the write
	// transaction so two concurrent first-messages cannot both pass.
	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE customer_ref = ? AND status != 'closed'`,
		c.CustomerRef,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("checking active conversations: %w", err)
	}
	if existing > 0 {
		return ErrDuplicateConversation
	}

	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		c.ID,
		c.CustomerRef,
		c.Status,
		c.OperatorID,
		c.Handover,
		formatTime(c.CreatedAt),
		formatTimePtr(c.ClosedAt),
		formatTimePtr(c.FirstResponseAt),
		c.FirstResponseSecs,
		c.ResolutionSecs,
		c.SLAStatus,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", c.ID, "customer", c.CustomerRef, "status", c.Status)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	return scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// GetActiveConversationByCustomer returns the customer's current non-closed
// conversation, or ErrNotFound if they have none.
func (s *SQLiteStore) GetActiveConversationByCustomer(ctx context.Context, customerRef string) (*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE customer_ref = ? AND status != 'closed'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanConversation(s.db.QueryRowContext(ctx, query, customerRef))
}

// ListConversationsByStatus returns conversations in the given status,
// oldest first. Used by the pending-retry sweep.
func (s *SQLiteStore) ListConversationsByStatus(ctx context.Context, status Status, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return conversations, nil
}

// ListMissingFirstResponse returns IDs of active assigned conversations with
// no first-response recorded yet, oldest first. Feeds the periodic SLA
// re-check.
func (s *SQLiteStore) ListMissingFirstResponse(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM conversations
		WHERE status != 'closed' AND operator_id IS NOT NULL AND first_response_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?
	`
	return s.listIDs(ctx, query, limit)
}

// ListUnresolvedClosed returns IDs of closed conversations whose resolution
// has not been recorded, oldest first. Feeds the periodic SLA re-check.
func (s *SQLiteStore) ListUnresolvedClosed(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM conversations
		WHERE status = 'closed' AND resolution_secs IS NULL
		ORDER BY closed_at ASC
		LIMIT ?
	`
	return s.listIDs(ctx, query, limit)
}

// listIDs runs an ID-projection query with a bounded limit.
func (s *SQLiteStore) listIDs(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversation ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation id rows: %w", err)
	}
	return ids, nil
}

// SetRouting applies a routing change (status, assignment, handover) guarded
// by the state the caller observed. If another writer changed the row first,
// nothing is written and ErrStaleConversation is returned. This is the
// single atomic write that makes double assignment impossible.
func (s *SQLiteStore) SetRouting(ctx context.Context, id string, prev RoutingGuard, next RoutingChange) error {
	var closedAt any
	if next.Status == StatusClosed {
		closedAt = formatTime(time.Now())
	}

	query := `
		UPDATE conversations
		SET status = ?, operator_id = ?, handover = ?,
		    closed_at = COALESCE(closed_at, ?)
		WHERE id = ? AND status = ? AND operator_id IS ?
	`

	result, err := s.db.ExecContext(ctx, query,
		next.Status,
		next.OperatorID,
		next.Handover,
		closedAt,
		id,
		prev.Status,
		prev.OperatorID,
	)
	if err != nil {
		return fmt.Errorf("updating routing: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish missing row from lost race
		if _, err := s.GetConversation(ctx, id); err != nil {
			return err
		}
		return ErrStaleConversation
	}

	s.logger.Debug("routing updated",
		"id", id,
		"status", next.Status,
		"operator", stringOrNone(next.OperatorID),
		"handover", next.Handover,
	)
	return nil
}

// SetFirstResponse records the first-response timing fields together. The
// write only applies while first_response_at is still null; a second call
// returns ErrAlreadyRecorded and leaves the stored values untouched. Once
// resolution is recorded, sla_status holds the combined outcome and a late
// first-response write must not replace it, so the status assignment is
// conditional on resolution_secs still being null.
func (s *SQLiteStore) SetFirstResponse(ctx context.Context, id string, at time.Time, secs int64, status SLAStatus) error {
	query := `
		UPDATE conversations
		SET first_response_at = ?, first_response_secs = ?,
		    sla_status = CASE WHEN resolution_secs IS NULL THEN ? ELSE sla_status END
		WHERE id = ? AND first_response_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, formatTime(at), secs, status, id)
	if err != nil {
		return fmt.Errorf("recording first response: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetConversation(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyRecorded
	}

	s.logger.Debug("first response recorded", "id", id, "secs", secs, "sla", status)
	return nil
}

// SetResolution records resolution duration and the combined SLA status.
// The write only applies while resolution_secs is still null and the
// conversation has a closed timestamp.
func (s *SQLiteStore) SetResolution(ctx context.Context, id string, secs int64, status SLAStatus) error {
	query := `
		UPDATE conversations
		SET resolution_secs = ?, sla_status = ?
		WHERE id = ? AND resolution_secs IS NULL AND closed_at IS NOT NULL
	`

	result, err := s.db.ExecContext(ctx, query, secs, status, id)
	if err != nil {
		return fmt.Errorf("recording resolution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetConversation(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyRecorded
	}

	s.logger.Debug("resolution recorded", "id", id, "secs", secs, "sla", status)
	return nil
}

// scanConversation scans a row into a Conversation.
func scanConversation(scanner interface{ Scan(dest ...any) error }) (*Conversation, error) {
	var c Conversation
	var createdAtStr string
	var closedAtStr, firstResponseAtStr, slaStr sql.NullString
	var operatorID sql.NullString
	var firstResponseSecs, resolutionSecs sql.NullInt64

	err := scanner.Scan(
		&c.ID,
		&c.CustomerRef,
		&c.Status,
		&operatorID,
		&c.Handover,
		&createdAtStr,
		&closedAtStr,
		&firstResponseAtStr,
		&firstResponseSecs,
		&resolutionSecs,
		&slaStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	c.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if operatorID.Valid {
		c.OperatorID = &operatorID.String
	}
	if closedAtStr.Valid {
		t, err := parseTime(closedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing closed_at: %w", err)
		}
		c.ClosedAt = &t
	}
	if firstResponseAtStr.Valid {
		t, err := parseTime(firstResponseAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing first_response_at: %w", err)
		}
		c.FirstResponseAt = &t
	}
	if firstResponseSecs.Valid {
		c.FirstResponseSecs = &firstResponseSecs.Int64
	}
	if resolutionSecs.Valid {
		c.ResolutionSecs = &resolutionSecs.Int64
	}
	if slaStr.Valid {
		status := SLAStatus(slaStr.String)
		c.SLAStatus = &status
	}

	return &c, nil
}

// stringOrNone renders an optional ID for logging.
func stringOrNone(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}
