// Package pipeline orchestrates one event end to end: persist, run the
// planner loop, apply policy, persist the artifacts, and publish the
// decision message.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/watchit-dev/watchit/pkg/bus"
	"github.com/watchit-dev/watchit/pkg/models"
	"github.com/watchit-dev/watchit/pkg/planner"
	"github.com/watchit-dev/watchit/pkg/policy"
	"github.com/watchit-dev/watchit/pkg/screenshots"
	"github.com/watchit-dev/watchit/pkg/store"
)

// analysisVersion tags the analysis artifacts written per event.
const analysisVersion = "1.0"

// Pipeline processes events. Safe for concurrent use: per-event state is
// local, shared state lives in the store.
type Pipeline struct {
	store     *store.Store
	runner    *planner.Runner
	engine    *policy.Engine
	bus       *bus.Bus
	archiver  *screenshots.Archiver
	enableOCR bool
}

// New wires the pipeline.
func New(st *store.Store, runner *planner.Runner, engine *policy.Engine, b *bus.Bus, archiver *screenshots.Archiver, enableOCR bool) *Pipeline {
	return &Pipeline{
		store:     st,
		runner:    runner,
		engine:    engine,
		bus:       b,
		archiver:  archiver,
		enableOCR: enableOCR,
	}
}

// ProcessEvent ingests one event (or an upgrade of an existing one) and
// returns the decision message it published.
func (p *Pipeline) ProcessEvent(ctx context.Context, event *models.Event, upgrade bool) (*models.DecisionMessage, error) {
	if !upgrade || event.ID == "" {
		upgrade = false
		if _, err := p.store.AddEvent(ctx, event); err != nil {
			return nil, err
		}
	} else {
		if event.ChildID == "" {
			event.ChildID = "child_default"
		}
		if err := p.store.UpdateEventData(ctx, event.ID, event.DataJSON); err != nil {
			return nil, fmt.Errorf("upgrade event %s: %w", event.ID, err)
		}
		if err := p.store.EnsureChild(ctx, event.ChildID); err != nil {
			return nil, err
		}
	}

	profile, err := p.store.GetChild(ctx, event.ChildID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		profile = &models.ChildProfile{ID: event.ChildID, Strictness: models.StrictnessStandard, Age: 12}
	}

	slog.Info("Event received", "event_id", event.ID, "child_id", event.ChildID,
		"kind", event.Kind, "url", event.URL, "upgrade", upgrade)

	state := planner.NewState(event, profile, upgrade)
	p.runner.Run(ctx, state)

	if err := p.persistAnalyses(ctx, state); err != nil {
		return nil, err
	}

	decision := p.engine.Decide(ctx, event, state.FastScores, state.JudgeJSON, profile, state.Headline)
	stored, err := p.store.AddDecision(ctx, event.ID, p.engine.Version(), decision)
	if err != nil {
		return nil, err
	}

	if shots := event.Payload().ScreenshotsB64; len(shots) > 0 {
		p.archiver.SaveAsync(event.ID, shots, map[string]any{
			"url":      event.URL,
			"title":    event.Title,
			"child_id": event.ChildID,
			"ts":       event.TS,
		})
	}

	confidence := 1.0
	if state.JudgeJSON != nil {
		confidence = state.JudgeJSON.Confidence
	}
	msg := models.DecisionMessage{
		DecisionID:     stored.ID,
		EventID:        event.ID,
		Action:         decision.Action,
		Reason:         decision.Reason,
		Categories:     decision.Categories,
		Upgrade:        upgrade,
		NeedsOCR:       p.enableOCR && !upgrade && state.NeedsScreenshot,
		Confidence:     confidence,
		URL:            event.URL,
		Title:          event.Title,
		TS:             event.TS,
		ChildID:        event.ChildID,
		HeadlineAgent:  state.Headline,
		OriginalAction: stored.OriginalAction,
	}

	slog.Info("Decision finalized", "event_id", event.ID, "decision_id", stored.ID,
		"action", decision.Action, "reason", decision.Reason, "confidence", confidence)
	p.bus.Publish(msg)
	return &msg, nil
}

// persistAnalyses appends the per-stage artifacts the loop produced.
func (p *Pipeline) persistAnalyses(ctx context.Context, st *planner.MonitorState) error {
	eventID := st.Event.ID
	if _, err := p.store.AddAnalysis(ctx, eventID, "fast+ocr", analysisVersion, st.FastScores, "", 0); err != nil {
		return err
	}
	if st.JudgeJSON != nil {
		if _, err := p.store.AddAnalysis(ctx, eventID, "llm_judge", analysisVersion, st.JudgeJSON, string(st.JudgeJSON.Action), 0); err != nil {
			return err
		}
	}
	if st.Headline != nil {
		if _, err := p.store.AddAnalysis(ctx, eventID, "headline_agent", analysisVersion, st.Headline, string(st.Headline.Risk), 0); err != nil {
			return err
		}
	}
	return nil
}
