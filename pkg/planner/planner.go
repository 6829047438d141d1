package planner

import (
	"context"
	"log/slog"
)

// Planner is the step function: one invocation advances the loop counter,
// consults the advisor, and enforces the deterministic guards.
type Planner struct {
	advisor *Advisor
}

// New creates a Planner over advisor.
func New(advisor *Advisor) *Planner {
	return &Planner{advisor: advisor}
}

// Step decides the next tool for st and records it in st.NextTool.
//
// Guards, applied in order and regardless of the advisor:
//  1. loop bound reached -> policy
//  2. upgrade before OCR -> ocr (upgrades exist to run OCR)
//  3. post-OCR ocr/headline -> url_llm (no redundant re-scans)
//  4. upgrade asking for headline -> ocr pre-OCR, url_llm post-OCR
func (p *Planner) Step(ctx context.Context, st *MonitorState) {
	st.LoopCount++
	if st.LoopCount >= MaxLoops {
		st.NextTool = ToolPolicy
		st.PlannerReason = "max_loops_reached"
		slog.Info("Planner loop bound reached, routing to policy",
			"event_id", st.Event.ID, "loop_count", st.LoopCount)
		return
	}

	next := ToolPolicy
	reason := "planner_fallback"
	if st.IsUpgrade && !st.HasOCRRun {
		next = ToolOCR
		reason = "upgrade_prefers_ocr_first"
	} else {
		var err error
		next, reason, err = p.advisor.Plan(ctx, st)
		if err != nil {
			slog.Warn("Planner advisor failed, defaulting to policy",
				"event_id", st.Event.ID, "error", err)
		}
	}

	if st.HasOCRRun && (next == ToolOCR || next == ToolHeadline) {
		slog.Debug("Planner rewrote post-OCR choice to url_llm",
			"event_id", st.Event.ID, "requested", next)
		next = ToolURL
	}
	if st.IsUpgrade && next == ToolHeadline {
		if st.HasOCRRun {
			next = ToolURL
		} else {
			next = ToolOCR
		}
		reason = "upgrade_no_headline"
	}

	st.NextTool = next
	st.PlannerReason = reason
	slog.Debug("Planner selected next tool",
		"event_id", st.Event.ID, "next_tool", next, "reason", reason, "loop_count", st.LoopCount)
}
