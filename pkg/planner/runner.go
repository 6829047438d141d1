package planner

import (
	"context"
	"log/slog"

	"github.com/watchit-dev/watchit/pkg/analysis"
	"github.com/watchit-dev/watchit/pkg/models"
)

// Runner drives the analyzer graph for one event: planner -> chosen layer ->
// planner, until the planner routes to policy or stop. The policy layer
// itself belongs to the caller; Run returns with the state ready for it.
type Runner struct {
	planner   *Planner
	headlines *analysis.Headlines
	url       *analysis.URLAnalyzer
	ocr       *analysis.OCRAnalyzer
}

// NewRunner wires the graph nodes.
func NewRunner(planner *Planner, headlines *analysis.Headlines, url *analysis.URLAnalyzer, ocr *analysis.OCRAnalyzer) *Runner {
	return &Runner{planner: planner, headlines: headlines, url: url, ocr: ocr}
}

// Run executes the loop. Termination is guaranteed by the MaxLoops bound.
func (r *Runner) Run(ctx context.Context, st *MonitorState) {
	for {
		r.planner.Step(ctx, st)
		switch st.NextTool {
		case ToolHeadline:
			r.headlineLayer(st)
		case ToolURL:
			r.urlLayer(ctx, st)
		case ToolOCR:
			r.ocrLayer(ctx, st)
		default: // policy or stop terminates the loop
			return
		}
	}
}

// headlineLayer runs the cheap triage. A confident allow or block
// short-circuits the judge: a judge-shaped verdict is synthesized and
// subsequent URL visits become no-ops.
func (r *Runner) headlineLayer(st *MonitorState) {
	outcome := r.headlines.Run(st.Event, st.Profile)
	st.LastToolRun = ToolHeadline
	st.FastScores = outcome.FastScores
	st.HasFastScores = true
	st.Headline = &outcome.Result
	st.NeedLLM = true

	result := outcome.Result
	if (result.Action == models.ActionAllow || result.Action == models.ActionBlock) &&
		result.Confidence >= HeadlineDecisionThreshold {
		st.NeedLLM = false
		severity := models.SeverityLow
		if result.Action == models.ActionBlock {
			severity = models.SeverityMedium
		}
		st.JudgeJSON = &models.JudgeOutput{
			IsHarmful:  result.Action != models.ActionAllow,
			Categories: result.Flags,
			Severity:   severity,
			Rationale:  "headline_agent_decision",
			Action:     result.Action,
			Confidence: result.Confidence,
		}
		st.Confidence = result.Confidence
	}
	slog.Debug("Headline layer evaluated event",
		"event_id", st.Event.ID, "risk", result.Risk, "action", result.Action,
		"confidence", result.Confidence, "need_llm", st.NeedLLM)
	st.NextTool = ToolPlanner
}

// urlLayer invokes the judge unless the headline short-circuit already
// settled the verdict.
func (r *Runner) urlLayer(ctx context.Context, st *MonitorState) {
	if !st.NeedLLM {
		st.NextTool = ToolPlanner
		return
	}
	st.applyURLResult(r.runURL(ctx, st, st.OCRText))
	st.LastToolRun = ToolURL
	st.NextTool = ToolPlanner
}

// ocrLayer runs OCR at most once per event. With no screenshots present it
// requests an upgrade instead; with text it re-judges through the URL
// analyzer and clears the OCR flag.
func (r *Runner) ocrLayer(ctx context.Context, st *MonitorState) {
	st.LastToolRun = ToolOCR
	st.NeedsScreenshot = false
	if st.HasOCRRun {
		st.NextTool = ToolPlanner
		return
	}
	st.HasOCRRun = true

	screenshots := r.ocr.Screenshots(st.Event)
	if len(screenshots) == 0 {
		st.NeedsScreenshot = true
		slog.Info("No screenshots present, requesting upgrade", "event_id", st.Event.ID)
		st.NextTool = ToolPlanner
		return
	}

	text := r.ocr.ExtractText(ctx, st.Event.ID, screenshots)
	if text == "" {
		slog.Info("OCR returned empty text", "event_id", st.Event.ID,
			"screenshot_count", len(screenshots))
		st.NextTool = ToolPlanner
		return
	}

	st.OCRText = text
	st.applyURLResult(r.runURL(ctx, st, text))
	st.NeedOCR = false
	slog.Debug("OCR executed for event, further OCR disabled",
		"event_id", st.Event.ID, "screenshot_count", len(screenshots))
	st.NextTool = ToolPlanner
}

func (r *Runner) runURL(ctx context.Context, st *MonitorState, extraText string) analysis.URLResult {
	var scores *models.FastScores
	if st.HasFastScores {
		scores = &st.FastScores
	}
	return r.url.Run(ctx, st.Event, st.Profile, extraText, scores)
}

func (st *MonitorState) applyURLResult(res analysis.URLResult) {
	st.FastScores = res.FastScores
	st.HasFastScores = true
	st.JudgeJSON = res.Judge
	st.Confidence = res.Confidence
	st.NeedOCR = res.Uncertain
}
