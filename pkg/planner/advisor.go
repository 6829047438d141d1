package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/watchit-dev/watchit/pkg/judge"
)

const advisorSystemPrompt = "You are a planner for a safety monitoring agent. " +
	"Pick the next tool: headline, url_llm, ocr, policy, or stop. " +
	"Stop when decision is ready; choose policy to finalize. " +
	"Respond JSON: {\"next_tool\": \"headline|url_llm|ocr|policy|stop\", \"reason\": \"...\"}."

// Advisor asks the model which tool to run next. It is an untrusted oracle:
// the step function applies deterministic guards to whatever it returns.
type Advisor struct {
	llm judge.Completer
}

// NewAdvisor creates an advisor over llm.
func NewAdvisor(llm judge.Completer) *Advisor {
	return &Advisor{llm: llm}
}

// stateSummary is the compact view of MonitorState sent to the advisor.
type stateSummary struct {
	LastToolRun      Tool               `json:"last_tool_run"`
	NeedLLM          bool               `json:"need_llm"`
	NeedOCR          bool               `json:"need_ocr"`
	NeedsScreenshot  bool               `json:"needs_screenshot"`
	Confidence       float64            `json:"confidence"`
	FastScores       map[string]float64 `json:"fast_scores"`
	OCRTextPresent   bool               `json:"ocr_text_present"`
	JudgeJSONPresent bool               `json:"judge_json_present"`
	LoopCount        int                `json:"loop_count"`
	HasOCRRun        bool               `json:"has_ocr_run"`
	IsUpgrade        bool               `json:"is_upgrade"`
}

type advisorReply struct {
	NextTool Tool   `json:"next_tool"`
	Reason   string `json:"reason"`
}

// Plan consults the advisor and returns its choice. Any failure — transport,
// malformed JSON, unknown tool — returns (policy, planner_fallback, err).
func (a *Advisor) Plan(ctx context.Context, st *MonitorState) (Tool, string, error) {
	summary := stateSummary{
		LastToolRun: st.LastToolRun,
		NeedLLM:     st.NeedLLM,
		NeedOCR:     st.NeedOCR,
		NeedsScreenshot: st.NeedsScreenshot,
		Confidence:      st.Confidence,
		FastScores: map[string]float64{
			"violence":  st.FastScores.Violence,
			"sexual":    st.FastScores.Sexual,
			"profanity": st.FastScores.Profanity,
		},
		OCRTextPresent:   st.OCRText != "",
		JudgeJSONPresent: st.JudgeJSON != nil,
		LoopCount:        st.LoopCount,
		HasOCRRun:        st.HasOCRRun,
		IsUpgrade:        st.IsUpgrade,
	}
	stateJSON, _ := json.Marshal(summary)
	profileJSON, _ := json.Marshal(st.Profile)
	human := fmt.Sprintf("State: %s\nChild profile: %s", stateJSON, profileJSON)

	raw, err := a.llm.Complete(ctx, advisorSystemPrompt, human)
	if err != nil {
		return ToolPolicy, "planner_fallback", fmt.Errorf("advisor call: %w", err)
	}
	var reply advisorReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return ToolPolicy, "planner_fallback", fmt.Errorf("advisor reply: %w", err)
	}
	if !validNextTool(reply.NextTool) {
		return ToolPolicy, "planner_fallback", fmt.Errorf("advisor picked unknown tool %q", reply.NextTool)
	}
	reason := reply.Reason
	if reason == "" {
		reason = "planner_decision"
	}
	return reply.NextTool, reason, nil
}
