package analysis

import (
	"context"
	"strings"

	"github.com/watchit-dev/watchit/pkg/judge"
	"github.com/watchit-dev/watchit/pkg/models"
)

// Classifier is the judge capability the URL analyzer depends on. The real
// implementation is judge.Judge; tests substitute fakes.
type Classifier interface {
	Evaluate(ctx context.Context, in judge.Input) *models.JudgeOutput
}

// URLResult carries the judge verdict plus the signals derived from it.
type URLResult struct {
	FastScores models.FastScores
	Judge      *models.JudgeOutput
	Confidence float64
	// Uncertain means the verdict is weak enough that the planner should
	// consider the OCR path.
	Uncertain bool
}

// URLAnalyzer aggregates the event's text, invokes the judge, and flags
// uncertain verdicts for OCR follow-up.
type URLAnalyzer struct {
	scorer              *Scorer
	classifier          Classifier
	confidenceThreshold float64
}

// NewURLAnalyzer creates the analyzer. confidenceThreshold is the floor
// under which a verdict counts as uncertain.
func NewURLAnalyzer(scorer *Scorer, classifier Classifier, confidenceThreshold float64) *URLAnalyzer {
	return &URLAnalyzer{
		scorer:              scorer,
		classifier:          classifier,
		confidenceThreshold: confidenceThreshold,
	}
}

// Run classifies one event. fastScores, when non-nil, skips rescoring;
// extraText (OCR output) feeds both the scorer and the text sample.
func (a *URLAnalyzer) Run(ctx context.Context, event *models.Event, profile *models.ChildProfile, extraText string, fastScores *models.FastScores) URLResult {
	var scores models.FastScores
	if fastScores != nil {
		scores = *fastScores
	} else {
		scores = a.scorer.AnalyzeEventFast(event, extraText)
	}

	out := a.classifier.Evaluate(ctx, judge.Input{
		PageTitle:  event.Title,
		Domain:     event.Domain(),
		FastScores: scores,
		TextSample: aggregateText(event, extraText),
		ChildAge:   profile.Age,
		Strictness: profile.Strictness,
	})

	confidence := clamp01(out.Confidence)
	uncertain := confidence < a.confidenceThreshold ||
		out.Action == models.ActionWarn || out.Action == models.ActionBlur || out.Action == models.ActionNotify ||
		out.Severity == models.SeverityMedium || out.Severity == models.SeverityHigh

	return URLResult{
		FastScores: scores,
		Judge:      out,
		Confidence: confidence,
		Uncertain:  uncertain,
	}
}

// aggregateText joins DOM sample, payload text, and extra text with
// newlines, skipping empty parts.
func aggregateText(event *models.Event, extraText string) string {
	payload := event.Payload()
	var parts []string
	for _, p := range []string{payload.DOMSample, payload.Text, extraText} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
