package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/watchit-dev/watchit/pkg/models"
)

// EventsAfter returns events with ts strictly greater than sinceTS,
// ascending, decrypted, capped at limit. Feed for the replicator.
func (s *Store) EventsAfter(ctx context.Context, sinceTS int64, limit int) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, child_id, ts, kind, url, title, tab_id, referrer, data_json
		FROM event WHERE ts > ? ORDER BY ts ASC LIMIT ?`, sinceTS, limit)
	if err != nil {
		return nil, fmt.Errorf("query events after cursor: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		e, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// MirrorDecision is a decision joined with its event's ts plus the change
// key the decision cursor tracks.
type MirrorDecision struct {
	Decision models.Decision
	EventTS  int64
	// ChangeKey is max(event.ts, manual_updated_at): overrides mutate
	// decisions after insert, so event ts alone would miss them.
	ChangeKey int64
}

// DecisionsChangedAfter returns decisions whose change key is strictly
// greater than sinceTS, ascending by that key, capped at limit.
func (s *Store) DecisionsChangedAfter(ctx context.Context, sinceTS int64, limit int) ([]MirrorDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.event_id, d.policy_version, d.action, d.reason, d.details_json,
		       d.original_action, d.manual_action, d.manual_flagged, d.manual_processed, d.manual_updated_at,
		       e.ts, MAX(e.ts, d.manual_updated_at) AS change_key
		FROM decision d
		JOIN event e ON e.id = d.event_id
		WHERE MAX(e.ts, d.manual_updated_at) > ?
		ORDER BY change_key ASC
		LIMIT ?`, sinceTS, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions after cursor: %w", err)
	}
	defer rows.Close()

	var out []MirrorDecision
	for rows.Next() {
		var md MirrorDecision
		var action, original, details string
		var flagged, processed int
		if err := rows.Scan(&md.Decision.ID, &md.Decision.EventID, &md.Decision.PolicyVersion,
			&action, &md.Decision.Reason, &details,
			&original, &md.Decision.ManualAction, &flagged, &processed, &md.Decision.ManualUpdatedAt,
			&md.EventTS, &md.ChangeKey); err != nil {
			return nil, fmt.Errorf("scan mirror decision: %w", err)
		}
		md.Decision.Action = models.Action(action)
		md.Decision.OriginalAction = models.Action(original)
		md.Decision.ManualFlagged = flagged != 0
		md.Decision.ManualProcessed = processed != 0
		md.Decision.Categories = categoriesFromDetails(details)
		out = append(out, md)
	}
	return out, rows.Err()
}

func categoriesFromDetails(details string) []string {
	var dd decisionDetails
	if err := json.Unmarshal([]byte(details), &dd); err != nil {
		return nil
	}
	return dd.Categories
}
