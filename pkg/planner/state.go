// Package planner implements the bounded state machine that routes one
// event through the analyzer layers: a per-event MonitorState, an
// LLM-advised (but deterministically guarded) step function, and the runner
// that drives the analyzer graph until policy takes over.
package planner

import "github.com/watchit-dev/watchit/pkg/models"

// Tool names the planner graph nodes plus the advisor's stop verdict.
type Tool string

const (
	ToolPlanner  Tool = "planner"
	ToolHeadline Tool = "headline"
	ToolURL      Tool = "url_llm"
	ToolOCR      Tool = "ocr"
	ToolPolicy   Tool = "policy"
	ToolStop     Tool = "stop"
)

// validNextTool reports whether t is a tool the advisor may select.
func validNextTool(t Tool) bool {
	switch t {
	case ToolHeadline, ToolURL, ToolOCR, ToolPolicy, ToolStop:
		return true
	}
	return false
}

// MaxLoops bounds planner visits per event; on reaching it the planner
// routes unconditionally to policy.
const MaxLoops = 5

// HeadlineDecisionThreshold is the confidence at which a headline allow or
// block short-circuits the judge.
const HeadlineDecisionThreshold = 0.85

// MonitorState is the planner's per-event working memory. Transient, never
// persisted.
type MonitorState struct {
	Event   *models.Event
	Profile *models.ChildProfile

	FastScores    models.FastScores
	HasFastScores bool
	JudgeJSON     *models.JudgeOutput
	Headline      *models.HeadlineResult
	Confidence    float64
	OCRText       string

	NeedLLM         bool
	NeedOCR         bool
	NeedsScreenshot bool
	HasOCRRun       bool
	IsUpgrade       bool

	LastToolRun   Tool
	NextTool      Tool
	PlannerReason string
	LoopCount     int
}

// NewState initializes the working memory for one event.
func NewState(event *models.Event, profile *models.ChildProfile, upgrade bool) *MonitorState {
	return &MonitorState{
		Event:      event,
		Profile:    profile,
		Confidence: 1.0,
		NeedLLM:    true,
		NextTool:   ToolPlanner,
		IsUpgrade:  upgrade,
	}
}
