// Package guardian distills manual overrides into guidance for the judge.
// A periodic loop summarizes recent overrides through the model, merges the
// summary with the stored guidance, and marks the overrides processed.
package guardian

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/watchit-dev/watchit/pkg/judge"
	"github.com/watchit-dev/watchit/pkg/store"
)

const (
	// maxOverridesPerCycle caps one cycle's fetch.
	maxOverridesPerCycle = 100
	// promptSampleSize is how many of the newest overrides reach the model.
	promptSampleSize = 15
)

const summarizerSystemPrompt = "You review guardian overrides of a parental-control system. " +
	"Infer likely reasons (maturity, educational purpose, harmless fun, etc.) why a guardian corrected decisions." +
	"Respond in JSON with keys 'guidance' (short paragraph) and 'patterns' (array of short bullet strings)."

// Feedback is the settings payload the judge consumes.
type Feedback struct {
	GeneratedAt int64    `json:"generated_at"`
	Guidance    string   `json:"guidance"`
	Patterns    []string `json:"patterns"`
	SampleCount int      `json:"sample_count"`
}

// Loop is the learning job.
type Loop struct {
	store    *store.Store
	llm      judge.Completer
	interval time.Duration
	kick     chan struct{}
	now      func() time.Time
}

// New creates the loop. interval is the periodic cadence; Refresh triggers
// an extra cycle early.
func New(st *store.Store, llm judge.Completer, interval time.Duration) *Loop {
	return &Loop{
		store:    st,
		llm:      llm,
		interval: interval,
		kick:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Refresh requests an opportunistic cycle without blocking the caller.
func (l *Loop) Refresh() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// RunForever processes overrides on the interval (or on Refresh) until ctx
// is cancelled.
func (l *Loop) RunForever(ctx context.Context) {
	slog.Info("Starting guardian learning loop", "interval", l.interval)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Guardian learning loop stopped")
			return
		case <-ticker.C:
		case <-l.kick:
		}
		if err := l.ProcessOnce(ctx); err != nil {
			slog.Error("Guardian learning cycle failed", "error", err)
		}
	}
}

// ProcessOnce runs one cycle. On any failure the fetched overrides stay
// unprocessed and the next cycle retries them.
func (l *Loop) ProcessOnce(ctx context.Context) error {
	overrides, err := l.store.UnprocessedOverrides(ctx, maxOverridesPerCycle)
	if err != nil {
		return err
	}
	if len(overrides) == 0 {
		return nil
	}

	inferred, err := l.inferGuidance(ctx, overrides)
	if err != nil {
		return err
	}

	merged := l.mergeWithStored(ctx, inferred)
	merged.GeneratedAt = l.now().Unix()
	merged.SampleCount = len(overrides)

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal guardian feedback: %w", err)
	}
	if err := l.store.SetSetting(ctx, store.SettingGuardianFeedback, string(payload)); err != nil {
		return err
	}

	ids := make([]string, len(overrides))
	for i, o := range overrides {
		ids[i] = o.DecisionID
	}
	if err := l.store.MarkOverridesProcessed(ctx, ids); err != nil {
		return err
	}
	slog.Info("Updated guardian feedback", "overrides", len(overrides))
	return nil
}

// inferGuidance asks the model to summarize the newest overrides. A reply
// that isn't the requested JSON is used verbatim as guidance.
func (l *Loop) inferGuidance(ctx context.Context, overrides []store.OverrideRow) (Feedback, error) {
	sample := overrides
	if len(sample) > promptSampleSize {
		sample = sample[:promptSampleSize]
	}
	var lines []string
	for _, o := range sample {
		lines = append(lines, fmt.Sprintf("- URL:%s title:%s original:%s manual:%s",
			o.URL, o.Title, o.OriginalAction, o.ManualAction))
	}
	human := "Recent overrides (each line: url/title/original->manual action):\n" +
		strings.Join(lines, "\n") +
		"\n\nSummarize motivations so the model can improve future moderation."

	raw, err := l.llm.Complete(ctx, summarizerSystemPrompt, human)
	if err != nil {
		return Feedback{}, fmt.Errorf("guardian summarizer call: %w", err)
	}

	var fb Feedback
	if err := json.Unmarshal([]byte(raw), &fb); err != nil || fb.Guidance == "" {
		slog.Warn("Guardian feedback JSON parse failed, using raw reply")
		return Feedback{Guidance: strings.TrimSpace(raw)}, nil
	}
	return fb, nil
}

// mergeWithStored folds the new summary into the persisted one: sentences
// deduplicated case-insensitively, patterns set-unioned. Unreadable stored
// feedback is discarded.
func (l *Loop) mergeWithStored(ctx context.Context, fresh Feedback) Feedback {
	raw, found, err := l.store.GetSetting(ctx, store.SettingGuardianFeedback)
	if err != nil {
		slog.Warn("Failed to read stored guardian feedback", "error", err)
		return fresh
	}
	if !found || raw == "" {
		return fresh
	}
	var stored Feedback
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return fresh
	}
	return Feedback{
		Guidance: mergeGuidance(stored.Guidance, fresh.Guidance),
		Patterns: mergePatterns(stored.Patterns, fresh.Patterns),
	}
}

// mergeGuidance joins the sentences of both texts, keeping the first
// occurrence of each (case-insensitive).
func mergeGuidance(old, fresh string) string {
	seen := make(map[string]bool)
	var out []string
	for _, sentence := range append(splitSentences(old), splitSentences(fresh)...) {
		key := strings.ToLower(sentence)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sentence)
	}
	return strings.Join(out, " ")
}

// splitSentences breaks text on terminal punctuation, keeping the
// punctuation with its sentence.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range strings.TrimSpace(text) {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func mergePatterns(old, fresh []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range append(append([]string{}, old...), fresh...) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}
