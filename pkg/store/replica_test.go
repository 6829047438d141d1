package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchit-dev/watchit/pkg/models"
)

func TestEventsAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	addTestEvent(t, s, 1000, "https://a.example/")
	addTestEvent(t, s, 2000, "https://b.example/")
	addTestEvent(t, s, 3000, "https://c.example/")

	t.Run("strictly after cursor, ascending", func(t *testing.T) {
		events, err := s.EventsAfter(ctx, 1000, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(2000), events[0].TS)
		assert.Equal(t, int64(3000), events[1].TS)
	})

	t.Run("zero cursor returns everything", func(t *testing.T) {
		events, err := s.EventsAfter(ctx, 0, 10)
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})

	t.Run("limit respected", func(t *testing.T) {
		events, err := s.EventsAfter(ctx, 0, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(1000), events[0].TS)
	})

	t.Run("cursor past the end is empty", func(t *testing.T) {
		events, err := s.EventsAfter(ctx, 3000, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestDecisionsChangedAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e1 := addTestEvent(t, s, 1000, "https://a.example/")
	e2 := addTestEvent(t, s, 2000, "https://b.example/")
	d1, err := s.AddDecision(ctx, e1.ID, "1.0.0", models.PolicyDecision{
		Action: models.ActionAllow, Reason: "default allow", Categories: []string{}})
	require.NoError(t, err)
	_, err = s.AddDecision(ctx, e2.ID, "1.0.0", models.PolicyDecision{
		Action: models.ActionBlock, Reason: "prefilter high", Categories: []string{"sexual"}})
	require.NoError(t, err)

	t.Run("change key is the event ts before any override", func(t *testing.T) {
		rows, err := s.DecisionsChangedAfter(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(1000), rows[0].ChangeKey)
		assert.Equal(t, int64(2000), rows[1].ChangeKey)
		assert.Equal(t, []string{"sexual"}, rows[1].Decision.Categories)
	})

	t.Run("override bumps the change key past the cursor", func(t *testing.T) {
		// A cursor past both events would normally skip them both.
		rows, err := s.DecisionsChangedAfter(ctx, 2000, 10)
		require.NoError(t, err)
		require.Empty(t, rows)

		require.NoError(t, s.OverrideDecision(ctx, d1.ID, models.ActionBlock))

		rows, err = s.DecisionsChangedAfter(ctx, 2000, 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, d1.ID, rows[0].Decision.ID)
		assert.Greater(t, rows[0].ChangeKey, int64(2000))
		assert.Equal(t, models.ActionAllow, rows[0].Decision.OriginalAction)
		assert.Equal(t, models.ActionBlock, rows[0].Decision.Action)
		assert.True(t, rows[0].Decision.ManualFlagged)
	})
}
