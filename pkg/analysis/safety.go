// Package analysis holds the per-event analyzers: the deterministic fast
// text scorer, the cheap headlines triage, the judge-backed URL analyzer,
// and the screenshot OCR analyzer.
package analysis

import (
	"math"
	"regexp"
	"strings"

	"github.com/watchit-dev/watchit/pkg/models"
)

var (
	violenceKeywords  = []string{"kill", "shoot", "gun", "fight", "blood", "weapon"}
	sexualKeywords    = []string{"sex", "porn", "nude", "xxx", "18+", "adult only"}
	profanityKeywords = []string{"damn", "shit", "fuck", "bitch"}
)

// Scorer computes keyword-density scores per category. Deterministic and
// side-effect free.
type Scorer struct {
	reViolence  *regexp.Regexp
	reSexual    *regexp.Regexp
	reProfanity *regexp.Regexp
}

// NewScorer compiles the category keyword lists into word-boundary,
// case-insensitive matchers.
func NewScorer() *Scorer {
	return &Scorer{
		reViolence:  compileKeywords(violenceKeywords),
		reSexual:    compileKeywords(sexualKeywords),
		reProfanity: compileKeywords(profanityKeywords),
	}
}

func compileKeywords(keywords []string) *regexp.Regexp {
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = regexp.QuoteMeta(k)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

// AnalyzeText scores one text blob. Each category's score is
// min(1, 5*matches/words) rounded to three decimals.
func (s *Scorer) AnalyzeText(text string) models.FastScores {
	if text == "" {
		return models.FastScores{}
	}
	words := len(strings.Fields(text))
	if words < 1 {
		words = 1
	}
	return models.FastScores{
		Violence:  keywordScore(s.reViolence, text, words),
		Sexual:    keywordScore(s.reSexual, text, words),
		Profanity: keywordScore(s.reProfanity, text, words),
	}
}

func keywordScore(re *regexp.Regexp, text string, words int) float64 {
	matches := len(re.FindAllStringIndex(text, -1))
	score := float64(matches) / float64(words) * 5.0
	if score > 1.0 {
		score = 1.0
	}
	return math.Round(score*1000) / 1000
}

// AnalyzeEventFast scores the event's combined text: DOM sample, payload
// text, the title for search events, and any extra text (OCR output).
func (s *Scorer) AnalyzeEventFast(event *models.Event, extraText string) models.FastScores {
	var b strings.Builder
	payload := event.Payload()
	if payload.DOMSample != "" {
		b.WriteString(" ")
		b.WriteString(payload.DOMSample)
	}
	if payload.Text != "" {
		b.WriteString(" ")
		b.WriteString(payload.Text)
	}
	if event.Kind == "search" && event.Title != "" {
		b.WriteString(" ")
		b.WriteString(event.Title)
	}
	if extraText != "" {
		b.WriteString(" ")
		b.WriteString(extraText)
	}
	return s.AnalyzeText(b.String())
}
