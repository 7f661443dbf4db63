// ABOUTME: Operator persistence: registration, heartbeat liveness, presence
// ABOUTME: Feeds the routers their eligibility and workload reads

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateOperator inserts a new operator. Role must be one of the known
// constants.
func (s *SQLiteStore) CreateOperator(ctx context.Context, op *Operator) error {
	if !op.Role.Valid() {
		return fmt.Errorf("invalid operator role %q", op.Role)
	}

	var skillsJSON any
	if len(op.Skills) > 0 {
		data, err := json.Marshal(op.Skills)
		if err != nil {
			return fmt.Errorf("marshaling skills: %w", err)
		}
		skillsJSON = string(data)
	}

	query := `
		INSERT INTO operators (id, display_name, role, online, active, last_seen, skills_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		op.ID,
		op.DisplayName,
		op.Role,
		op.Online,
		op.Active,
		formatTime(op.LastSeen),
		skillsJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting operator: %w", err)
	}

	s.logger.Debug("created operator", "id", op.ID, "role", op.Role)
	return nil
}

// GetOperator retrieves an operator by ID.
// Returns ErrNotFound if the operator doesn't exist.
func (s *SQLiteStore) GetOperator(ctx context.Context, id string) (*Operator, error) {
	query := `
		SELECT id, display_name, role, online, active, last_seen, skills_json
		FROM operators
		WHERE id = ?
	`
	return scanOperator(s.db.QueryRowContext(ctx, query, id))
}

// ListOperators returns all operators ordered by display name.
func (s *SQLiteStore) ListOperators(ctx context.Context) ([]*Operator, error) {
	query := `
		SELECT id, display_name, role, online, active, last_seen, skills_json
		FROM operators
		ORDER BY display_name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying operators: %w", err)
	}
	defer rows.Close()

	var operators []*Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		operators = append(operators, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operator rows: %w", err)
	}
	return operators, nil
}

// ListEligibleOperators returns operators that pass the routing eligibility
// filter: agent role, online, active, and seen within the freshness window
// ending at now.
func (s *SQLiteStore) ListEligibleOperators(ctx context.Context, now time.Time, freshness time.Duration) ([]*Operator, error) {
	cutoff := formatTime(now.Add(-freshness))

	query := `
		SELECT id, display_name, role, online, active, last_seen, skills_json
		FROM operators
		WHERE role = 'agent' AND online = 1 AND active = 1 AND last_seen >= ?
	`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying eligible operators: %w", err)
	}
	defer rows.Close()

	var operators []*Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		operators = append(operators, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating eligible operator rows: %w", err)
	}
	return operators, nil
}

// TouchOperator refreshes an operator's liveness timestamp and marks them
// online. Called on every heartbeat.
// Returns ErrNotFound if the operator doesn't exist.
func (s *SQLiteStore) TouchOperator(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE operators SET last_seen = ?, online = 1 WHERE id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("touching operator: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOperatorPresence flips the online flag without touching liveness.
// Returns ErrNotFound if the operator doesn't exist.
func (s *SQLiteStore) SetOperatorPresence(ctx context.Context, id string, online bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE operators SET online = ? WHERE id = ?`,
		online, id,
	)
	if err != nil {
		return fmt.Errorf("setting operator presence: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("operator presence changed", "id", id, "online", online)
	return nil
}

// ActiveWorkloads returns, per operator, the count of conversations they
// currently hold in open or pending status. Operators with no active
// conversations are absent from the map.
func (s *SQLiteStore) ActiveWorkloads(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT operator_id, COUNT(*)
		FROM conversations
		WHERE operator_id IS NOT NULL AND status IN ('open', 'pending')
		GROUP BY operator_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying workloads: %w", err)
	}
	defer rows.Close()

	workloads := make(map[string]int)
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scanning workload row: %w", err)
		}
		workloads[id] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workload rows: %w", err)
	}
	return workloads, nil
}

// scanOperator scans a row into an Operator.
func scanOperator(scanner interface{ Scan(dest ...any) error }) (*Operator, error) {
	var op Operator
	var lastSeenStr string
	var skillsJSON sql.NullString

	err := scanner.Scan(
		&op.ID,
		&op.DisplayName,
		&op.Role,
		&op.Online,
		&op.Active,
		&lastSeenStr,
		&skillsJSON,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning operator: %w", err)
	}

	op.LastSeen, err = parseTime(lastSeenStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}

	if skillsJSON.Valid && skillsJSON.String != "" {
		if err := json.Unmarshal([]byte(skillsJSON.String), &op.Skills); err != nil {
			return nil, fmt.Errorf("unmarshaling skills: %w", err)
		}
	}

	return &op, nil
}
