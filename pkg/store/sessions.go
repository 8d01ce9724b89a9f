package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcps/deep-thinking/pkg/models"
)

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID         string               `json:"session_id"`
	Topic      string               `json:"topic"`
	FlowType   string               `json:"flow_type"`
	Status     models.SessionStatus `json:"status"`
	StepNumber int                  `json:"step_number"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// SaveSession upserts the session row and its cursor pointer. Step result
// rows are managed separately through AppendStepResult/UpdateStepResult.
func (s *Store) SaveSession(ctx context.Context, sess *models.Session) error {
	contextJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	outputsJSON, err := json.Marshal(sess.StepOutputs)
	if err != nil {
		return fmt.Errorf("encoding step outputs: %w", err)
	}
	scoresJSON, err := json.Marshal(sess.QualityScores)
	if err != nil {
		return fmt.Errorf("encoding quality scores: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, topic, flow_type, status, context_json, step_outputs_json, quality_scores_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			context_json = excluded.context_json,
			step_outputs_json = excluded.step_outputs_json,
			quality_scores_json = excluded.quality_scores_json,
			updated_at = excluded.updated_at`,
		sess.ID, sess.Topic, sess.FlowType, string(sess.Status),
		string(contextJSON), string(outputsJSON), string(scoresJSON),
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_current (session_id, current_step_name, step_number)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			current_step_name = excluded.current_step_name,
			step_number = excluded.step_number`,
		sess.ID, sess.CurrentStep, sess.StepNumber,
	)
	if err != nil {
		return fmt.Errorf("saving session cursor: %w", err)
	}

	return tx.Commit()
}

// LoadSession reads a full session, including all step result rows.
func (s *Store) LoadSession(ctx context.Context, id string) (*models.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var (
		sess                 models.Session
		status               string
		contextJSON          string
		outputsJSON          string
		scoresJSON           string
		createdAt, updatedAt string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, topic, flow_type, status, context_json, step_outputs_json, quality_scores_json, created_at, updated_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Topic, &sess.FlowType, &status,
		&contextJSON, &outputsJSON, &scoresJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session '%s': %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	sess.Status = models.SessionStatus(status)
	if err := json.Unmarshal([]byte(contextJSON), &sess.Context); err != nil {
		return nil, fmt.Errorf("decoding context: %w", err)
	}
	if err := json.Unmarshal([]byte(outputsJSON), &sess.StepOutputs); err != nil {
		return nil, fmt.Errorf("decoding step outputs: %w", err)
	}
	if err := json.Unmarshal([]byte(scoresJSON), &sess.QualityScores); err != nil {
		return nil, fmt.Errorf("decoding quality scores: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT current_step_name, step_number FROM session_current WHERE session_id = ?`, id,
	).Scan(&sess.CurrentStep, &sess.StepNumber)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading session cursor: %w", err)
	}

	sess.StepResults = make(map[string][]*models.StepResult)
	rows, err := tx.QueryContext(ctx, `
		SELECT step_name, iteration_index, status, raw_text, structured_output_json, quality_score, retry_count, started_at, finished_at
		FROM session_steps WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("loading step results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                     models.StepResult
			stepStatus            string
			structuredJSON        sql.NullString
			qualityScore          sql.NullFloat64
			startedAt, finishedAt string
		)
		if err := rows.Scan(&r.StepName, &r.IterationIndex, &stepStatus, &r.RawText,
			&structuredJSON, &qualityScore, &r.RetryCount, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning step result: %w", err)
		}
		r.Status = models.StepStatus(stepStatus)
		if structuredJSON.Valid && structuredJSON.String != "" {
			if err := json.Unmarshal([]byte(structuredJSON.String), &r.StructuredOutput); err != nil {
				return nil, fmt.Errorf("decoding structured output for step '%s': %w", r.StepName, err)
			}
		}
		if qualityScore.Valid {
			score := qualityScore.Float64
			r.QualityScore = &score
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if r.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		sess.StepResults[r.StepName] = append(sess.StepResults[r.StepName], &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating step results: %w", err)
	}

	return &sess, tx.Commit()
}

// AppendStepResult inserts a new step result row. Inserting a duplicate
// (session_id, step_name, iteration_index) returns ErrDuplicate.
func (s *Store) AppendStepResult(ctx context.Context, sessionID string, r *models.StepResult) error {
	structuredJSON, err := encodeStructured(r.StructuredOutput)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_steps (session_id, step_name, iteration_index, status, raw_text, structured_output_json, quality_score, retry_count, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, r.StepName, r.IterationIndex, string(r.Status), r.RawText,
		structuredJSON, nullableScore(r.QualityScore), r.RetryCount,
		formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("step result '%s'[%d] for session '%s': %w",
				r.StepName, r.IterationIndex, sessionID, ErrDuplicate)
		}
		return fmt.Errorf("appending step result: %w", err)
	}
	return nil
}

// UpdateStepResult overwrites an existing step result row, identified by
// (session_id, step_name, iteration_index).
func (s *Store) UpdateStepResult(ctx context.Context, sessionID string, r *models.StepResult) error {
	structuredJSON, err := encodeStructured(r.StructuredOutput)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE session_steps
		SET status = ?, raw_text = ?, structured_output_json = ?, quality_score = ?, retry_count = ?, started_at = ?, finished_at = ?
		WHERE session_id = ? AND step_name = ? AND iteration_index = ?`,
		string(r.Status), r.RawText, structuredJSON, nullableScore(r.QualityScore),
		r.RetryCount, formatTime(r.StartedAt), formatTime(r.FinishedAt),
		sessionID, r.StepName, r.IterationIndex,
	)
	if err != nil {
		return fmt.Errorf("updating step result: %w", err)
	}
	return requireRow(res, sessionID)
}

// UpdateCurrentStep moves the session cursor and refreshes updated_at.
func (s *Store) UpdateCurrentStep(ctx context.Context, sessionID, stepName string, stepNumber int, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, formatTime(now), sessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if err := requireRow(res, sessionID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_current (session_id, current_step_name, step_number)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			current_step_name = excluded.current_step_name,
			step_number = excluded.step_number`,
		sessionID, stepName, stepNumber,
	)
	if err != nil {
		return fmt.Errorf("updating session cursor: %w", err)
	}

	return tx.Commit()
}

// MarkStatus sets the session status and refreshes updated_at.
func (s *Store) MarkStatus(ctx context.Context, sessionID string, status models.SessionStatus, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(now), sessionID)
	if err != nil {
		return fmt.Errorf("marking session status: %w", err)
	}
	return requireRow(res, sessionID)
}

// Touch refreshes updated_at without any other change.
func (s *Store) Touch(ctx context.Context, sessionID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, formatTime(now), sessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return requireRow(res, sessionID)
}

// ListExpired returns ids of active sessions whose updated_at is strictly
// before cutoff.
func (s *Store) ListExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status = ? AND updated_at < ?`,
		string(models.SessionActive), formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("listing expired sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListSessions returns summaries, newest first. An empty status matches
// all statuses; limit <= 0 means no limit.
func (s *Store) ListSessions(ctx context.Context, status models.SessionStatus, limit int) ([]*SessionSummary, error) {
	query := `
		SELECT s.id, s.topic, s.flow_type, s.status, COALESCE(c.step_number, 0), s.updated_at
		FROM sessions s
		LEFT JOIN session_current c ON c.session_id = s.id`
	args := []any{}
	if status != "" {
		query += ` WHERE s.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY s.updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionSummary
	for rows.Next() {
		var (
			sum       SessionSummary
			st        string
			updatedAt string
		)
		if err := rows.Scan(&sum.ID, &sum.Topic, &sum.FlowType, &st, &sum.StepNumber, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}
		sum.Status = models.SessionStatus(st)
		if sum.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// DeleteSession removes the session and, via foreign keys, its steps.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return requireRow(res, id)
}

// CountActive returns the number of sessions in active status.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE status = ?`,
		string(models.SessionActive)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active sessions: %w", err)
	}
	return n, nil
}

func requireRow(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session '%s': %w", sessionID, ErrNotFound)
	}
	return nil
}

func encodeStructured(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding structured output: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableScore(score *float64) sql.NullFloat64 {
	if score == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *score, Valid: true}
}

// Timestamps are stored as RFC3339Nano strings in UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
