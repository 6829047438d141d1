package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchit-dev/watchit/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "watchit.db"), "test-key")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addTestEvent(t *testing.T, s *Store, ts int64, url string) *models.Event {
	t.Helper()
	e := &models.Event{
		ChildID:  "c1",
		TS:       ts,
		Kind:     "navigation",
		URL:      url,
		Title:    "title",
		DataJSON: `{"text":"hello"}`,
	}
	_, err := s.AddEvent(context.Background(), e)
	require.NoError(t, err)
	return e
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchit.db")
	s1, err := Open(path, "k")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Re-opening applies no migrations and loses nothing.
	s2, err := Open(path, "k")
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Ping(context.Background()))
}

func TestAddEventCreatesChildLazily(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := addTestEvent(t, s, 1000, "https://example.com/")
	assert.True(t, strings.HasPrefix(e.ID, "evt_"))

	child, err := s.GetChild(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StrictnessStandard, child.Strictness)
	assert.Equal(t, 12, child.Age)
}

func TestAddEventDefaultsChildID(t *testing.T) {
	s := openTestStore(t)
	e := &models.Event{TS: 1, Kind: "navigation"}
	_, err := s.AddEvent(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "child_default", e.ChildID)
}

func TestEventPayloadEncryptedAtRest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := addTestEvent(t, s, 1000, "https://example.com/")

	// The raw column must not contain the plaintext.
	var raw string
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT data_json FROM event WHERE id = ?`, e.ID).Scan(&raw))
	assert.True(t, strings.HasPrefix(raw, "enc:v1:"))
	assert.NotContains(t, raw, "hello")

	// Reads decrypt transparently.
	got, err := s.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"text":"hello"}`, got.DataJSON)
}

func TestUpdateEventData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t.Run("replaces payload in place", func(t *testing.T) {
		e := addTestEvent(t, s, 1000, "https://example.com/")
		require.NoError(t, s.UpdateEventData(ctx, e.ID, `{"screenshots_b64":["aGk="]}`))

		got, err := s.GetEvent(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, `{"screenshots_b64":["aGk="]}`, got.DataJSON)

		// No duplicate row was created.
		events, err := s.RecentEvents(ctx, "c1", 100)
		require.NoError(t, err)
		ids := 0
		for _, ev := range events {
			if ev.ID == e.ID {
				ids++
			}
		}
		assert.Equal(t, 1, ids)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := s.UpdateEventData(ctx, "evt_missing", "{}")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestIngestTwiceYieldsTwoEvents(t *testing.T) {
	s := openTestStore(t)
	e1 := addTestEvent(t, s, 1000, "https://example.com/")
	e2 := addTestEvent(t, s, 1000, "https://example.com/")
	assert.NotEqual(t, e1.ID, e2.ID)
}

func TestRecentEventsOrderAndFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	addTestEvent(t, s, 1000, "https://a.example/")
	addTestEvent(t, s, 3000, "https://c.example/")
	addTestEvent(t, s, 2000, "https://b.example/")

	other := &models.Event{ChildID: "c2", TS: 4000, Kind: "navigation"}
	_, err := s.AddEvent(ctx, other)
	require.NoError(t, err)

	events, err := s.RecentEvents(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3000), events[0].TS)
	assert.Equal(t, int64(2000), events[1].TS)
	assert.Equal(t, int64(1000), events[2].TS)

	limited, err := s.RecentEvents(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDecisionOverrideInvariants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := addTestEvent(t, s, 1000, "https://example.com/")

	d, err := s.AddDecision(ctx, e.ID, "1.0.0", models.PolicyDecision{
		Action: models.ActionBlock, Reason: "prefilter high", Categories: []string{"sexual"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ActionBlock, d.OriginalAction)

	require.NoError(t, s.OverrideDecision(ctx, d.ID, models.ActionAllow))

	got, err := s.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionAllow, got.Action)
	assert.Equal(t, "allow", got.ManualAction)
	assert.True(t, got.ManualFlagged)
	assert.False(t, got.ManualProcessed)
	assert.Greater(t, got.ManualUpdatedAt, int64(0))
	// original_action never changes.
	assert.Equal(t, models.ActionBlock, got.OriginalAction)
	assert.Equal(t, []string{"sexual"}, got.Categories)
}

func TestOverrideUnknownDecision(t *testing.T) {
	s := openTestStore(t)
	err := s.OverrideDecision(context.Background(), "dec_missing", models.ActionAllow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnprocessedOverridesLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		e := addTestEvent(t, s, int64(1000+i), "https://example.com/")
		d, err := s.AddDecision(ctx, e.ID, "1.0.0", models.PolicyDecision{Action: models.ActionBlock, Reason: "r"})
		require.NoError(t, err)
		require.NoError(t, s.OverrideDecision(ctx, d.ID, models.ActionAllow))
		ids = append(ids, d.ID)
	}

	rows, err := s.UnprocessedOverrides(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, models.ActionBlock, rows[0].OriginalAction)
	assert.Equal(t, "allow", rows[0].ManualAction)

	require.NoError(t, s.MarkOverridesProcessed(ctx, ids))
	rows, err = s.UnprocessedOverrides(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Processing never reverts.
	got, err := s.GetDecision(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, got.ManualProcessed)
}

func TestRecentDecisionsJoinsEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := addTestEvent(t, s, 5000, "https://example.com/page")
	_, err := s.AddDecision(ctx, e.ID, "1.0.0", models.PolicyDecision{Action: models.ActionAllow, Reason: "default allow"})
	require.NoError(t, err)

	rows, err := s.RecentDecisions(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://example.com/page", rows[0].URL)
	assert.Equal(t, int64(5000), rows[0].TS)
	assert.Equal(t, "c1", rows[0].ChildID)
}

func TestChildProfileUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureChild(ctx, "kid"))

	strict := models.StrictnessStrict
	age := 15
	require.NoError(t, s.UpdateChild(ctx, "kid", &strict, &age))

	child, err := s.GetChild(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, models.StrictnessStrict, child.Strictness)
	assert.Equal(t, 15, child.Age)

	t.Run("unknown child", func(t *testing.T) {
		err := s.UpdateChild(ctx, "ghost", &strict, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.GetSetting(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetSetting(ctx, SettingPausedUntil, "12345"))
	v, found, err := s.GetSettingInt64(ctx, SettingPausedUntil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(12345), v)

	// Upsert overwrites.
	require.NoError(t, s.SetSetting(ctx, SettingPausedUntil, "999"))
	v, _, _ = s.GetSettingInt64(ctx, SettingPausedUntil)
	assert.Equal(t, int64(999), v)

	require.NoError(t, s.DeleteSetting(ctx, SettingPausedUntil))
	_, found, err = s.GetSetting(ctx, SettingPausedUntil)
	require.NoError(t, err)
	assert.False(t, found)

	t.Run("malformed int", func(t *testing.T) {
		require.NoError(t, s.SetSetting(ctx, "weird", "not-a-number"))
		_, found, err := s.GetSettingInt64(ctx, "weird")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestAddAnalysis(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := addTestEvent(t, s, 1000, "https://example.com/")

	id, err := s.AddAnalysis(ctx, e.ID, "fast+ocr", "1.0", models.FastScores{Sexual: 0.5}, "", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "ana_"))
}
