// Package replicator mirrors the local store to Postgres: children by
// upsert, events and decisions incrementally behind settings-backed
// cursors. Cycles are independent; a failed cycle leaves the cursors alone
// and the next cycle retries.
package replicator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/watchit-dev/watchit/pkg/models"
	"github.com/watchit-dev/watchit/pkg/store"
)

// Counts reports how many rows one cycle shipped.
type Counts struct {
	Events    int `json:"events"`
	Decisions int `json:"decisions"`
	Children  int `json:"children"`
}

func (c Counts) empty() bool { return c.Events == 0 && c.Decisions == 0 && c.Children == 0 }

// Replicator ships local rows to the mirror database.
type Replicator struct {
	local    *store.Store
	dsn      string
	interval time.Duration
	batch    int
}

// New creates a replicator for the mirror at dsn.
func New(local *store.Store, dsn string, interval time.Duration, batch int) *Replicator {
	return &Replicator{local: local, dsn: dsn, interval: interval, batch: batch}
}

// RunForever replicates on a fixed interval until ctx is cancelled. The
// in-flight cycle completes before return.
func (r *Replicator) RunForever(ctx context.Context) {
	slog.Info("Starting Postgres replicator", "interval", r.interval, "batch", r.batch)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		counts, err := r.SyncOnce(ctx)
		switch {
		case err != nil:
			slog.Error("Postgres replication failed", "error", err)
		case !counts.empty():
			slog.Info("Replicated rows", "events", counts.Events,
				"decisions", counts.Decisions, "children", counts.Children)
		}
		select {
		case <-ctx.Done():
			slog.Info("Postgres replicator stopped")
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce runs a single replication cycle over one autocommit connection.
func (r *Replicator) SyncOnce(ctx context.Context) (Counts, error) {
	var counts Counts
	db, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return counts, fmt.Errorf("open mirror connection: %w", err)
	}
	defer db.Close()

	if err := r.ensureSchema(ctx, db); err != nil {
		return counts, err
	}
	if counts.Children, err = r.syncChildren(ctx, db); err != nil {
		return counts, err
	}
	if counts.Events, err = r.syncEvents(ctx, db); err != nil {
		return counts, err
	}
	if counts.Decisions, err = r.syncDecisions(ctx, db); err != nil {
		return counts, err
	}
	return counts, nil
}

// schemaStatements are idempotent: plain creates plus alter-add for columns
// introduced after the first deployments.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS watchit_events (
		id TEXT PRIMARY KEY,
		child_id TEXT,
		ts BIGINT,
		kind TEXT,
		url TEXT,
		title TEXT,
		tab_id TEXT,
		referrer TEXT,
		data_json JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS watchit_decisions (
		id TEXT PRIMARY KEY,
		event_id TEXT REFERENCES watchit_events(id) ON DELETE CASCADE,
		policy_version TEXT,
		action TEXT,
		reason TEXT,
		details_json JSONB,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS watchit_children (
		id TEXT PRIMARY KEY,
		name TEXT,
		timezone TEXT,
		strictness TEXT,
		age INTEGER,
		created_at BIGINT
	)`,
	`ALTER TABLE watchit_decisions ADD COLUMN IF NOT EXISTS original_action TEXT DEFAULT ''`,
	`ALTER TABLE watchit_decisions ADD COLUMN IF NOT EXISTS manual_action TEXT DEFAULT ''`,
	`ALTER TABLE watchit_decisions ADD COLUMN IF NOT EXISTS manual_flagged BOOLEAN DEFAULT FALSE`,
	`ALTER TABLE watchit_decisions ADD COLUMN IF NOT EXISTS manual_updated_at BIGINT DEFAULT 0`,
}

func (r *Replicator) ensureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure mirror schema: %w", err)
		}
	}
	return nil
}

// syncChildren upserts every profile, last writer wins.
func (r *Replicator) syncChildren(ctx context.Context, db *sql.DB) (int, error) {
	children, err := r.local.Children(ctx)
	if err != nil {
		return 0, err
	}
	for _, c := range children {
		_, err := db.ExecContext(ctx, `
			INSERT INTO watchit_children (id, name, timezone, strictness, age, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				timezone = EXCLUDED.timezone,
				strictness = EXCLUDED.strictness,
				age = EXCLUDED.age,
				created_at = EXCLUDED.created_at`,
			c.ID, c.Name, c.Timezone, string(c.Strictness), c.Age, c.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert child %s: %w", c.ID, err)
		}
	}
	return len(children), nil
}

// syncEvents ships events past the cursor. Events are immutable, so
// conflicts do nothing; the cursor advances only after the whole batch
// landed.
func (r *Replicator) syncEvents(ctx context.Context, db *sql.DB) (int, error) {
	cursor, _, err := r.local.GetSettingInt64(ctx, store.SettingPGLastEventTS)
	if err != nil {
		return 0, err
	}
	events, err := r.local.EventsAfter(ctx, cursor, r.batch)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	for _, e := range events {
		_, err := db.ExecContext(ctx, `
			INSERT INTO watchit_events (id, child_id, ts, kind, url, title, tab_id, referrer, data_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, e.ChildID, e.TS, e.Kind, e.URL, e.Title, e.TabID, e.Referrer, jsonOrNull(e.DataJSON),
		)
		if err != nil {
			return 0, fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}
	if err := r.local.SetSetting(ctx, store.SettingPGLastEventTS, formatCursor(maxEventTS(events))); err != nil {
		return 0, err
	}
	return len(events), nil
}

// syncDecisions ships decisions whose change key moved past the cursor.
// Overrides mutate existing rows, so this is an upsert; original_action is
// preserved once set to keep it immutable across mirror recreations.
func (r *Replicator) syncDecisions(ctx context.Context, db *sql.DB) (int, error) {
	cursor, _, err := r.local.GetSettingInt64(ctx, store.SettingPGLastDecisionTS)
	if err != nil {
		return 0, err
	}
	decisions, err := r.local.DecisionsChangedAfter(ctx, cursor, r.batch)
	if err != nil {
		return 0, err
	}
	if len(decisions) == 0 {
		return 0, nil
	}
	for _, md := range decisions {
		d := md.Decision
		details, err := json.Marshal(map[string]any{"categories": emptyIfNil(d.Categories)})
		if err != nil {
			return 0, fmt.Errorf("marshal decision details: %w", err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO watchit_decisions
				(id, event_id, policy_version, action, reason, details_json,
				 original_action, manual_action, manual_flagged, manual_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				action = EXCLUDED.action,
				reason = EXCLUDED.reason,
				details_json = EXCLUDED.details_json,
				manual_action = EXCLUDED.manual_action,
				manual_flagged = EXCLUDED.manual_flagged,
				manual_updated_at = EXCLUDED.manual_updated_at,
				original_action = COALESCE(NULLIF(watchit_decisions.original_action, ''), EXCLUDED.original_action)`,
			d.ID, d.EventID, d.PolicyVersion, string(d.Action), d.Reason, string(details),
			string(d.OriginalAction), d.ManualAction, d.ManualFlagged, d.ManualUpdatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert decision %s: %w", d.ID, err)
		}
	}
	if err := r.local.SetSetting(ctx, store.SettingPGLastDecisionTS, formatCursor(maxChangeKey(decisions))); err != nil {
		return 0, err
	}
	return len(decisions), nil
}

// jsonOrNull maps empty or invalid payloads to NULL so the JSONB column
// never rejects a row.
func jsonOrNull(blob string) any {
	if blob == "" || !json.Valid([]byte(blob)) {
		return nil
	}
	return blob
}

func formatCursor(ts int64) string {
	return fmt.Sprintf("%d", ts)
}

func maxEventTS(events []models.Event) int64 {
	var max int64
	for _, e := range events {
		if e.TS > max {
			max = e.TS
		}
	}
	return max
}

func maxChangeKey(decisions []store.MirrorDecision) int64 {
	var max int64
	for _, d := range decisions {
		if d.ChangeKey > max {
			max = d.ChangeKey
		}
	}
	return max
}

func emptyIfNil(cats []string) []string {
	if cats == nil {
		return []string{}
	}
	return cats
}
