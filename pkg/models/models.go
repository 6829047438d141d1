// Package models defines the domain types shared across the monitor:
// events, child profiles, analyses, decisions, and the message shape
// published to streaming consumers.
package models

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Action is a moderation outcome.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionWarn   Action = "warn"
	ActionBlur   Action = "blur"
	ActionBlock  Action = "block"
	ActionNotify Action = "notify"
)

// ValidAction reports whether a is one of the five moderation actions.
func ValidAction(a Action) bool {
	switch a {
	case ActionAllow, ActionWarn, ActionBlur, ActionBlock, ActionNotify:
		return true
	}
	return false
}

// Strictness is the operator-selected posture for a child profile.
type Strictness string

const (
	StrictnessLenient  Strictness = "lenient"
	StrictnessStandard Strictness = "standard"
	StrictnessStrict   Strictness = "strict"
)

// NormalizeStrictness lowercases s and falls back to "standard" for anything
// outside the three known postures.
func NormalizeStrictness(s string) Strictness {
	switch Strictness(strings.ToLower(strings.TrimSpace(s))) {
	case StrictnessLenient:
		return StrictnessLenient
	case StrictnessStrict:
		return StrictnessStrict
	default:
		return StrictnessStandard
	}
}

// Severity is the judge's harm severity estimate.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Risk is the headlines analyzer's triage level.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// ClampAge coerces age into the supported [3,18] range, defaulting to 12
// when the input is non-positive.
func ClampAge(age int) int {
	if age <= 0 {
		age = 12
	}
	if age < 3 {
		return 3
	}
	if age > 18 {
		return 18
	}
	return age
}

// Event is an observed browsing action. Immutable after creation except for
// DataJSON, which an upgrade submission may replace exactly once.
type Event struct {
	ID       string `json:"id"`
	ChildID  string `json:"child_id"`
	TS       int64  `json:"ts"` // epoch milliseconds
	Kind     string `json:"kind"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	TabID    string `json:"tab_id"`
	Referrer string `json:"referrer"`
	DataJSON string `json:"data_json"`
}

// EventPayload is the decoded shape of Event.DataJSON. All fields optional.
type EventPayload struct {
	DOMSample      string   `json:"dom_sample"`
	Text           string   `json:"text"`
	ScreenshotsB64 []string `json:"screenshots_b64"`
}

// Payload decodes DataJSON, tolerating malformed or empty input.
func (e *Event) Payload() EventPayload {
	var p EventPayload
	if e.DataJSON == "" {
		return p
	}
	if err := json.Unmarshal([]byte(e.DataJSON), &p); err != nil {
		return EventPayload{}
	}
	return p
}

// Domain returns the lowercased host of the event URL, or "" when the URL
// is absent or unparsable.
func (e *Event) Domain() string {
	if e.URL == "" {
		return ""
	}
	u, err := url.Parse(e.URL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host)
}

// ChildProfile is created lazily on the first event referencing the child.
type ChildProfile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Timezone   string     `json:"timezone"`
	Strictness Strictness `json:"strictness"`
	Age        int        `json:"age"`
	CreatedAt  int64      `json:"created_at"`
}

// FastScores maps the three heuristic categories to scores in [0,1].
type FastScores struct {
	Violence  float64 `json:"violence"`
	Sexual    float64 `json:"sexual"`
	Profanity float64 `json:"profanity"`
}

// Exceeding returns the category names whose score is >= threshold, in the
// fixed order sexual, violence, profanity.
func (f FastScores) Exceeding(threshold float64) []string {
	var cats []string
	if f.Sexual >= threshold {
		cats = append(cats, "sexual")
	}
	if f.Violence >= threshold {
		cats = append(cats, "violence")
	}
	if f.Profanity >= threshold {
		cats = append(cats, "profanity")
	}
	return cats
}

// Max returns the highest of the three scores.
func (f FastScores) Max() float64 {
	m := f.Violence
	if f.Sexual > m {
		m = f.Sexual
	}
	if f.Profanity > m {
		m = f.Profanity
	}
	return m
}

// JudgeOutput is the structured generative classifier result.
type JudgeOutput struct {
	IsHarmful  bool     `json:"is_harmful"`
	Categories []string `json:"categories"`
	Severity   Severity `json:"severity"`
	Rationale  string   `json:"rationale"`
	Action     Action   `json:"action"`
	Confidence float64  `json:"confidence"`
}

// HeadlineResult is the cheap triage verdict from the headlines analyzer.
type HeadlineResult struct {
	Risk       Risk     `json:"risk"`
	Flags      []string `json:"flags"`
	Confidence float64  `json:"confidence"`
	Action     Action   `json:"action"`
}

// Analysis is an append-only artifact keyed to an event. One event may have
// several (fast, judge, headline).
type Analysis struct {
	ID         string `json:"id"`
	EventID    string `json:"event_id"`
	Model      string `json:"model"`
	Version    string `json:"version"`
	ScoresJSON string `json:"scores_json"`
	Label      string `json:"label"`
	LatencyMS  int64  `json:"latency_ms"`
}

// Decision is produced exactly once per event by the policy engine. Action
// may later diverge from OriginalAction via a manual override only.
type Decision struct {
	ID              string   `json:"id"`
	EventID         string   `json:"event_id"`
	PolicyVersion   string   `json:"policy_version"`
	Action          Action   `json:"action"`
	Reason          string   `json:"reason"`
	Categories      []string `json:"categories"`
	OriginalAction  Action   `json:"original_action"`
	ManualAction    string   `json:"manual_action,omitempty"`
	ManualFlagged   bool     `json:"manual_flagged"`
	ManualProcessed bool     `json:"manual_processed"`
	ManualUpdatedAt int64    `json:"manual_updated_at,omitempty"`
}

// PolicyDecision is the policy engine's verdict before persistence.
type PolicyDecision struct {
	Action     Action   `json:"action"`
	Reason     string   `json:"reason"`
	Categories []string `json:"categories"`
}

// DecisionMessage is returned to the submitting client and published on the
// decision bus, one per processed event.
type DecisionMessage struct {
	DecisionID     string          `json:"decision_id"`
	EventID        string          `json:"event_id"`
	Action         Action          `json:"action"`
	Reason         string          `json:"reason"`
	Categories     []string        `json:"categories"`
	Upgrade        bool            `json:"upgrade"`
	NeedsOCR       bool            `json:"needs_ocr"`
	Confidence     float64         `json:"confidence"`
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	TS             int64           `json:"ts"`
	ChildID        string          `json:"child_id"`
	HeadlineAgent  *HeadlineResult `json:"headline_agent"`
	ManualFlagged  bool            `json:"manual_flagged"`
	ManualAction   string          `json:"manual_action,omitempty"`
	OriginalAction Action          `json:"original_action"`
}
