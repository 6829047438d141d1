package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/watchit-dev/watchit/pkg/models"
)

// decisionDetails is the shape stored in decision.details_json.
type decisionDetails struct {
	Categories []string `json:"categories"`
}

// AddDecision records the policy verdict for an event. original_action is
// set here and never updated afterwards.
func (s *Store) AddDecision(ctx context.Context, eventID, policyVersion string, pd models.PolicyDecision) (*models.Decision, error) {
	details, err := json.Marshal(decisionDetails{Categories: pd.Categories})
	if err != nil {
		return nil, fmt.Errorf("marshal decision details: %w", err)
	}
	d := &models.Decision{
		ID:             "dec_" + uuid.New().String(),
		EventID:        eventID,
		PolicyVersion:  policyVersion,
		Action:         pd.Action,
		Reason:         pd.Reason,
		Categories:     pd.Categories,
		OriginalAction: pd.Action,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision (id, event_id, policy_version, action, reason, details_json, original_action)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.EventID, d.PolicyVersion, string(d.Action), d.Reason, string(details), string(d.OriginalAction),
	)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return d, nil
}

// GetDecision fetches one decision by id.
func (s *Store) GetDecision(ctx context.Context, id string) (*models.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, policy_version, action, reason, details_json,
		       original_action, manual_action, manual_flagged, manual_processed, manual_updated_at
		FROM decision WHERE id = ?`, id)
	return scanDecision(row)
}

func scanDecision(r rowScanner) (*models.Decision, error) {
	var d models.Decision
	var action, original, details string
	var flagged, processed int
	err := r.Scan(&d.ID, &d.EventID, &d.PolicyVersion, &action, &d.Reason, &details,
		&original, &d.ManualAction, &flagged, &processed, &d.ManualUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan decision: %w", err)
	}
	d.Action = models.Action(action)
	d.OriginalAction = models.Action(original)
	d.ManualFlagged = flagged != 0
	d.ManualProcessed = processed != 0
	var dd decisionDetails
	if json.Unmarshal([]byte(details), &dd) == nil {
		d.Categories = dd.Categories
	}
	return &d, nil
}

// OverrideDecision applies a manual action: the visible action changes,
// original_action does not, and the row is queued for guardian learning.
func (s *Store) OverrideDecision(ctx context.Context, decisionID string, action models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE decision
		SET action = ?, manual_action = ?, manual_flagged = 1,
		    manual_processed = 0, manual_updated_at = ?
		WHERE id = ?`,
		string(action), string(action), nowMillis(), decisionID,
	)
	if err != nil {
		return fmt.Errorf("override decision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// OverrideRow joins an unprocessed override with its event context, the
// shape the guardian learning prompt needs.
type OverrideRow struct {
	DecisionID     string
	URL            string
	Title          string
	OriginalAction models.Action
	ManualAction   string
	UpdatedAt      int64
}

// UnprocessedOverrides returns manual overrides not yet consumed by the
// learning loop, newest first.
func (s *Store) UnprocessedOverrides(ctx context.Context, limit int) ([]OverrideRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, e.url, e.title, d.original_action, d.manual_action, d.manual_updated_at
		FROM decision d
		JOIN event e ON e.id = d.event_id
		WHERE d.manual_flagged = 1 AND d.manual_processed = 0
		ORDER BY d.manual_updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed overrides: %w", err)
	}
	defer rows.Close()

	var out []OverrideRow
	for rows.Next() {
		var o OverrideRow
		var original string
		if err := rows.Scan(&o.DecisionID, &o.URL, &o.Title, &original, &o.ManualAction, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		o.OriginalAction = models.Action(original)
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkOverridesProcessed flags the given decisions as consumed by the
// learning loop. Processing never reverts.
func (s *Store) MarkOverridesProcessed(ctx context.Context, decisionIDs []string) error {
	if len(decisionIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(decisionIDs)), ",")
	args := make([]any, len(decisionIDs))
	for i, id := range decisionIDs {
		args[i] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE decision SET manual_processed = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark overrides processed: %w", err)
	}
	return nil
}

// DecisionWithEvent is a decision joined to its event for the read surface.
type DecisionWithEvent struct {
	models.Decision
	URL     string `json:"url"`
	Title   string `json:"title"`
	TS      int64  `json:"ts"`
	ChildID string `json:"child_id"`
}

// RecentDecisions returns the newest decisions joined to their events,
// optionally filtered by child, ordered by event ts descending.
func (s *Store) RecentDecisions(ctx context.Context, childID string, limit int) ([]DecisionWithEvent, error) {
	query := `
		SELECT d.id, d.event_id, d.policy_version, d.action, d.reason, d.details_json,
		       d.original_action, d.manual_action, d.manual_flagged, d.manual_processed, d.manual_updated_at,
		       e.url, e.title, e.ts, e.child_id
		FROM decision d
		JOIN event e ON e.id = d.event_id`
	args := []any{}
	if childID != "" {
		query += ` WHERE e.child_id = ?`
		args = append(args, childID)
	}
	query += ` ORDER BY e.ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionWithEvent
	for rows.Next() {
		var de DecisionWithEvent
		var action, original, details string
		var flagged, processed int
		if err := rows.Scan(&de.ID, &de.EventID, &de.PolicyVersion, &action, &de.Reason, &details,
			&original, &de.ManualAction, &flagged, &processed, &de.ManualUpdatedAt,
			&de.URL, &de.Title, &de.TS, &de.ChildID); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		de.Action = models.Action(action)
		de.OriginalAction = models.Action(original)
		de.ManualFlagged = flagged != 0
		de.ManualProcessed = processed != 0
		var dd decisionDetails
		if json.Unmarshal([]byte(details), &dd) == nil {
			de.Categories = dd.Categories
		}
		out = append(out, de)
	}
	return out, rows.Err()
}
