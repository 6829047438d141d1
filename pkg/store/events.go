package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/watchit-dev/watchit/pkg/models"
)

// AddEvent inserts a new event, creating the child profile lazily, and
// returns the generated event id. The event's ID field is filled in.
func (s *Store) AddEvent(ctx context.Context, e *models.Event) (string, error) {
	if e.ChildID == "" {
		e.ChildID = "child_default"
	}
	if e.ID == "" {
		e.ID = "evt_" + uuid.New().String()
	}
	payload, err := s.encodePayload(e.DataJSON)
	if err != nil {
		return "", fmt.Errorf("encode event payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureChildLocked(ctx, e.ChildID); err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event (id, child_id, ts, kind, url, title, tab_id, referrer, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ChildID, e.TS, e.Kind, e.URL, e.Title, e.TabID, e.Referrer, payload,
	)
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return e.ID, nil
}

// UpdateEventData replaces an event's opaque payload. Used exactly once per
// event, by an upgrade submission carrying screenshots.
func (s *Store) UpdateEventData(ctx context.Context, eventID, dataJSON string) error {
	payload, err := s.encodePayload(dataJSON)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE event SET data_json = ? WHERE id = ?`, payload, eventID)
	if err != nil {
		return fmt.Errorf("update event payload: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEvent fetches one event by id, decrypting its payload.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, child_id, ts, kind, url, title, tab_id, referrer, data_json
		FROM event WHERE id = ?`, id)
	return s.scanEvent(row)
}

// RecentEvents returns the newest events, optionally filtered by child,
// ordered by ts descending.
func (s *Store) RecentEvents(ctx context.Context, childID string, limit int) ([]models.Event, error) {
	query := `SELECT id, child_id, ts, kind, url, title, tab_id, referrer, data_json FROM event`
	args := []any{}
	if childID != "" {
		query += ` WHERE child_id = ?`
		args = append(args, childID)
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEvent(r rowScanner) (*models.Event, error) {
	var e models.Event
	var payload string
	err := r.Scan(&e.ID, &e.ChildID, &e.TS, &e.Kind, &e.URL, &e.Title, &e.TabID, &e.Referrer, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	if e.DataJSON, err = s.decodePayload(payload); err != nil {
		return nil, err
	}
	return &e, nil
}

// ensureChildLocked creates a default profile when none exists. Callers
// hold s.mu.
func (s *Store) ensureChildLocked(ctx context.Context, childID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO child_profile (id, strictness, age, created_at)
		VALUES (?, 'standard', 12, ?)
		ON CONFLICT(id) DO NOTHING`,
		childID, nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("ensure child profile: %w", err)
	}
	return nil
}

// EnsureChild creates a default profile for childID when none exists.
func (s *Store) EnsureChild(ctx context.Context, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureChildLocked(ctx, childID)
}

// GetChild returns the stored profile, or ErrNotFound.
func (s *Store) GetChild(ctx context.Context, childID string) (*models.ChildProfile, error) {
	var p models.ChildProfile
	var strictness string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, timezone, strictness, age, created_at
		FROM child_profile WHERE id = ?`, childID).
		Scan(&p.ID, &p.Name, &p.Timezone, &strictness, &p.Age, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get child profile: %w", err)
	}
	p.Strictness = models.NormalizeStrictness(strictness)
	return &p, nil
}

// UpdateChild mutates strictness and/or age. Nil fields are left unchanged.
func (s *Store) UpdateChild(ctx context.Context, childID string, strictness *models.Strictness, age *int) error {
	if strictness == nil && age == nil {
		return nil
	}
	query := `UPDATE child_profile SET `
	args := []any{}
	if strictness != nil {
		query += `strictness = ?`
		args = append(args, string(*strictness))
	}
	if age != nil {
		if strictness != nil {
			query += `, `
		}
		query += `age = ?`
		args = append(args, *age)
	}
	query += ` WHERE id = ?`
	args = append(args, childID)

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update child profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Children lists all profiles ordered by creation time.
func (s *Store) Children(ctx context.Context) ([]models.ChildProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, timezone, strictness, age, created_at
		FROM child_profile ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	var out []models.ChildProfile
	for rows.Next() {
		var p models.ChildProfile
		var strictness string
		if err := rows.Scan(&p.ID, &p.Name, &p.Timezone, &strictness, &p.Age, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan child profile: %w", err)
		}
		p.Strictness = models.NormalizeStrictness(strictness)
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddAnalysis appends an analysis artifact for an event. scores is
// marshalled to JSON as-is.
func (s *Store) AddAnalysis(ctx context.Context, eventID, model, version string, scores any, label string, latencyMS int64) (string, error) {
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return "", fmt.Errorf("marshal analysis scores: %w", err)
	}
	id := "ana_" + uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis (id, event_id, model, version, scores_json, label, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, eventID, model, version, string(scoresJSON), label, latencyMS,
	)
	if err != nil {
		return "", fmt.Errorf("insert analysis: %w", err)
	}
	return id, nil
}
