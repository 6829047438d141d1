package analysis

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchit-dev/watchit/pkg/models"
)

func standardProfile() *models.ChildProfile {
	return &models.ChildProfile{ID: "c1", Strictness: models.StrictnessStandard, Age: 10}
}

func payloadWith(t *testing.T, text string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"text": text})
	require.NoError(t, err)
	return string(raw)
}

func TestHeadlinesHighRiskToken(t *testing.T) {
	h := NewHeadlines(NewScorer())

	tests := []struct {
		name  string
		url   string
		title string
	}{
		{"token in domain", "https://xxxmovies.example.com/", "harmless"},
		{"token in title", "https://example.com/", "Best casino bonuses"},
		{"nsfw subdomain", "https://nsfw.example.com/x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &models.Event{URL: tt.url, Title: tt.title}
			out := h.Run(e, standardProfile())
			assert.Equal(t, models.RiskHigh, out.Result.Risk)
			assert.Equal(t, models.ActionBlock, out.Result.Action)
			assert.Equal(t, 0.9, out.Result.Confidence)
			assert.Contains(t, out.Result.Flags, "headline_high_risk")
		})
	}
}

func TestHeadlinesHighSexualScore(t *testing.T) {
	h := NewHeadlines(NewScorer())
	// Dense sexual keywords push the fast score past 0.9.
	e := &models.Event{
		URL:      "https://example.com/",
		DataJSON: payloadWith(t, strings.Repeat("porn ", 10)),
	}
	out := h.Run(e, standardProfile())
	assert.Equal(t, models.RiskHigh, out.Result.Risk)
	assert.Equal(t, models.ActionBlock, out.Result.Action)
}

func TestHeadlinesLowRiskAllowlist(t *testing.T) {
	h := NewHeadlines(NewScorer())

	e := &models.Event{URL: "https://en.wikipedia.org/wiki/Cat", Title: "Cat"}
	out := h.Run(e, standardProfile())
	assert.Equal(t, models.RiskLow, out.Result.Risk)
	assert.Equal(t, models.ActionAllow, out.Result.Action)
	assert.Equal(t, 0.88, out.Result.Confidence)
	assert.Contains(t, out.Result.Flags, "headline_low_risk")
}

func TestHeadlinesUncertainDefault(t *testing.T) {
	h := NewHeadlines(NewScorer())

	t.Run("clean unknown domain", func(t *testing.T) {
		e := &models.Event{URL: "https://example.com/", Title: "News"}
		out := h.Run(e, standardProfile())
		assert.Equal(t, models.RiskLow, out.Result.Risk)
		assert.Equal(t, models.ActionAllow, out.Result.Action)
		assert.Equal(t, 0.55, out.Result.Confidence)
		assert.Contains(t, out.Result.Flags, "headline_uncertain")
	})

	t.Run("elevated scores raise risk to medium", func(t *testing.T) {
		// One violence keyword in ten words scores 0.5: above the 0.4
		// medium line, below the 0.95 high line.
		e := &models.Event{
			URL:      "https://example.com/",
			DataJSON: payloadWith(t, "a detailed gun review for sport shooting fans this week"),
		}
		out := h.Run(e, standardProfile())
		assert.Equal(t, models.RiskMedium, out.Result.Risk)
		assert.Equal(t, models.ActionAllow, out.Result.Action)
	})
}

func TestHeadlinesStrictNudges(t *testing.T) {
	h := NewHeadlines(NewScorer())
	strict := &models.ChildProfile{ID: "c1", Strictness: models.StrictnessStrict, Age: 8}

	t.Run("block confidence boosted", func(t *testing.T) {
		e := &models.Event{URL: "https://xxx.example.com/"}
		out := h.Run(e, strict)
		assert.InDelta(t, 0.95, out.Result.Confidence, 1e-9)
	})

	t.Run("allow confidence penalized", func(t *testing.T) {
		e := &models.Event{URL: "https://en.wikipedia.org/wiki/Cat"}
		out := h.Run(e, strict)
		assert.InDelta(t, 0.83, out.Result.Confidence, 1e-9)
	})
}
