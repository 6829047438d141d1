package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Well-known settings keys.
const (
	SettingPausedUntil      = "paused_until"
	SettingGuardianFeedback = "guardian_feedback"
	SettingPGLastEventTS    = "pg_last_event_ts"
	SettingPGLastDecisionTS = "pg_last_decision_ts"
)

// GetSetting returns the value for key, or "" with found=false.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts a settings row.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a settings row; missing keys are fine.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// GetSettingInt64 parses an integer setting. Unset or malformed values
// return found=false.
func (s *Store) GetSettingInt64(ctx context.Context, key string) (int64, bool, error) {
	raw, found, err := s.GetSetting(ctx, key)
	if err != nil || !found {
		return 0, false, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}
