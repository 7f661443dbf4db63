// ABOUTME: Message persistence for conversation history
// ABOUTME: Supplies the earliest-operator-reply read the SLA tracker depends on

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveMessage saves a message on a conversation.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender, body, outgoing, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.Body,
		msg.Outgoing,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "sender", msg.Sender)
	return nil
}

// GetConversationMessages retrieves messages for a conversation in
// chronological order. If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender, body, outgoing, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
	`
	args := []any{conversationID}

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// FirstOperatorReply returns the earliest outgoing operator message on a
// conversation. Returns ErrNotFound if no operator has replied yet.
func (s *SQLiteStore) FirstOperatorReply(ctx context.Context, conversationID string) (*Message, error) {
	query := `
		SELECT id, conversation_id, sender, body, outgoing, created_at
		FROM messages
		WHERE conversation_id = ? AND sender = 'operator' AND outgoing = 1
		ORDER BY created_at ASC
		LIMIT 1
	`
	return scanMessage(s.db.QueryRowContext(ctx, query, conversationID))
}

// scanMessage scans a row into a Message.
func scanMessage(scanner interface{ Scan(dest ...any) error }) (*Message, error) {
	var msg Message
	var createdAtStr string

	err := scanner.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Sender,
		&msg.Body,
		&msg.Outgoing,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}

	return &msg, nil
}
