package analysis

import (
	"strings"

	"github.com/watchit-dev/watchit/pkg/models"
)

var (
	highRiskTokens = []string{"porn", "xxx", "casino", "bet", "nsfw", "escort"}
	lowRiskDomains = []string{"wikipedia.org", "khanacademy.org", ".edu"}
)

// HeadlineOutcome bundles the triage verdict with the fast scores computed
// along the way, so callers don't rescore.
type HeadlineOutcome struct {
	Result     models.HeadlineResult
	FastScores models.FastScores
}

// Headlines is the cheap triage layer: token checks over domain/title plus
// the fast scorer. Pure, no I/O.
type Headlines struct {
	scorer *Scorer
}

// NewHeadlines creates the triage layer on top of scorer.
func NewHeadlines(scorer *Scorer) *Headlines {
	return &Headlines{scorer: scorer}
}

// Run evaluates one event against the triage decision table, first match
// wins. Strict strictness nudges block confidence up and allow confidence
// down by 0.05, clamped to [0,1].
func (h *Headlines) Run(event *models.Event, profile *models.ChildProfile) HeadlineOutcome {
	title := strings.ToLower(event.Title)
	domain := event.Domain()
	scores := h.scorer.AnalyzeEventFast(event, "")

	result := models.HeadlineResult{
		Risk:       models.RiskLow,
		Action:     models.ActionAllow,
		Confidence: 0.5,
	}
	switch {
	case containsAny(domain, highRiskTokens) || containsAny(title, highRiskTokens) ||
		scores.Sexual >= 0.9 || scores.Violence >= 0.95:
		result.Risk = models.RiskHigh
		result.Action = models.ActionBlock
		result.Flags = append(result.Flags, "headline_high_risk")
		result.Confidence = 0.9
	case scores.Sexual < 0.15 && scores.Violence < 0.2 && scores.Profanity < 0.2 &&
		containsAny(domain, lowRiskDomains):
		result.Risk = models.RiskLow
		result.Action = models.ActionAllow
		result.Flags = append(result.Flags, "headline_low_risk")
		result.Confidence = 0.88
	default:
		result.Risk = models.RiskLow
		if scores.Sexual > 0.4 || scores.Violence > 0.4 {
			result.Risk = models.RiskMedium
		}
		result.Action = models.ActionAllow
		result.Flags = append(result.Flags, "headline_uncertain")
		result.Confidence = 0.55
	}

	strictness := models.NormalizeStrictness(string(profile.Strictness))
	if strictness == models.StrictnessStrict {
		switch result.Action {
		case models.ActionBlock:
			result.Confidence = clamp01(result.Confidence + 0.05)
		case models.ActionAllow:
			result.Confidence = clamp01(result.Confidence - 0.05)
		}
	}
	return HeadlineOutcome{Result: result, FastScores: scores}
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
