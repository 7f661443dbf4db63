// ABOUTME: Audit log entity and store methods for lifecycle and SLA actions
// ABOUTME: Records who did what to which conversation, with before/after detail

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditConversationCreated  AuditAction = "conversation_created"
	AuditOperatorAssigned     AuditAction = "operator_assigned"
	AuditAssignmentQueued     AuditAction = "assignment_queued"
	AuditOperatorReassigned   AuditAction = "operator_reassigned"
	AuditConversationClosed   AuditAction = "conversation_closed"
	AuditConversationReset    AuditAction = "conversation_reset"
	AuditFirstResponse        AuditAction = "sla_first_response"
	AuditResolution           AuditAction = "sla_resolution"
	AuditConversationArchived AuditAction = "conversation_archived"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID             string
	Action         AuditAction
	ConversationID string
	OperatorID     *string
	Timestamp      time.Time
	Detail         map[string]any
}

// AppendAudit appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, action, conversation_id, operator_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Action,
		e.ConversationID,
		e.OperatorID,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"action", e.Action,
		"conversation", e.ConversationID,
	)
	return nil
}

// ListAuditByConversation returns audit entries for a conversation, oldest
// first.
func (s *SQLiteStore) ListAuditByConversation(ctx context.Context, conversationID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT audit_id, action, conversation_id, operator_id, ts, detail_json
		FROM audit_log
		WHERE conversation_id = ?
		ORDER BY ts ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var actionStr, tsStr string
		var operatorID, detailJSON sql.NullString

		if err := rows.Scan(&e.ID, &actionStr, &e.ConversationID, &operatorID, &tsStr, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.Action = AuditAction(actionStr)
		e.Timestamp, err = parseTime(tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp: %w", err)
		}
		if operatorID.Valid {
			e.OperatorID = &operatorID.String
		}
		if detailJSON.Valid {
			if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
