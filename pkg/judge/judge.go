package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/watchit-dev/watchit/pkg/models"
)

// SettingsReader is the slice of the store the judge needs: reading the
// stored guardian feedback before each call.
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// GuardianFeedbackKey is the settings key holding distilled override
// guidance.
const GuardianFeedbackKey = "guardian_feedback"

const systemPromptTemplate = "You are a children's online safety classifier running on-device. " +
	"Evaluate if the given webpage content is suitable for a child age %d. " +
	"Guardian strictness level is '%s'. Lenient means only block severe harm, " +
	"standard balances caution, strict should warn or block whenever uncertain. " +
	"Use every signal provided: URL/domain (e.g., nsfw subdomains), page title/meta tags, " +
	"visible text, hyperlinks, scripts/trackers, and OCR summaries of screenshots (if present). " +
	"Flag issues such as adult content, gambling, hate, violence, drugs, self-harm, bullying, " +
	"or risky redirects hinted by the metadata. " +
	"Be conservative relative to the requested strictness. If unsure, choose 'warn'. " +
	"Output STRICT JSON with keys: is_harmful (bool), categories (array), " +
	"severity (low|medium|high), rationale (<=30 words), action (allow|warn|blur|block|notify), " +
	"confidence (0.0-1.0 expressing how certain you are in the requested action)."

// maxTextSample caps the text snippet sent to the model.
const maxTextSample = 2000

// Input carries the per-call signals for one classification.
type Input struct {
	PageTitle  string
	Domain     string
	FastScores models.FastScores
	TextSample string
	ChildAge   int
	Strictness models.Strictness
}

// Judge is the structured generative classifier. It never returns an
// error: transport failures yield a permissive fallback, malformed output a
// conservative one, so callers always get a usable verdict.
type Judge struct {
	llm      Completer
	settings SettingsReader

	// Guidance cache, keyed by the raw settings value so a rewrite of the
	// feedback invalidates it.
	mu          sync.Mutex
	cachedRaw   string
	cachedValue string
}

// New creates a Judge. settings may be nil, disabling guardian guidance.
func New(llm Completer, settings SettingsReader) *Judge {
	return &Judge{llm: llm, settings: settings}
}

// callFailureFallback is returned when the model call itself failed.
func callFailureFallback(err error) *models.JudgeOutput {
	return &models.JudgeOutput{
		IsHarmful:  false,
		Categories: []string{},
		Severity:   models.SeverityLow,
		Rationale:  fmt.Sprintf("LLM call failed: %v", err),
		Action:     models.ActionAllow,
		Confidence: 0.0,
	}
}

// parseFailureFallback is returned when the model replied but the reply
// could not be parsed. Treated as unsafe.
func parseFailureFallback() *models.JudgeOutput {
	return &models.JudgeOutput{
		IsHarmful:  true,
		Categories: []string{"model_refusal"},
		Severity:   models.SeverityMedium,
		Rationale:  "Model refused or returned invalid output; treat as unsafe.",
		Action:     models.ActionBlock,
		Confidence: 0.2,
	}
}

// Evaluate classifies one page for one child.
func (j *Judge) Evaluate(ctx context.Context, in Input) *models.JudgeOutput {
	in.ChildAge = models.ClampAge(in.ChildAge)
	in.Strictness = models.NormalizeStrictness(string(in.Strictness))

	system := fmt.Sprintf(systemPromptTemplate, in.ChildAge, in.Strictness)
	if guidance := j.guardianGuidance(ctx); guidance != "" {
		system += "\nGuardian feedback to prioritize:\n" + guidance
	}

	raw, err := j.llm.Complete(ctx, system, buildHumanPrompt(in))
	if err != nil {
		slog.Warn("Judge call failed, falling back to allow", "domain", in.Domain, "error", err)
		return callFailureFallback(err)
	}

	out, err := parseJudgeOutput(raw)
	if err != nil {
		slog.Warn("Judge returned unparsable output, falling back to block",
			"domain", in.Domain, "error", err, "raw", truncate(raw, 200))
		return parseFailureFallback()
	}
	return out
}

func buildHumanPrompt(in Input) string {
	snippet := in.TextSample
	if len(snippet) > maxTextSample {
		snippet = snippet[:maxTextSample]
	}
	scores, _ := json.Marshal(in.FastScores)
	var b strings.Builder
	fmt.Fprintf(&b, "PAGE_TITLE: %s\n", in.PageTitle)
	fmt.Fprintf(&b, "DOMAIN: %s\n", in.Domain)
	fmt.Fprintf(&b, "CHILD_PROFILE: age=%d, strictness=%s\n", in.ChildAge, in.Strictness)
	fmt.Fprintf(&b, "FAST_SCORES: %s\n", scores)
	b.WriteString("RISK_HINTS: use URL keywords (nsfw, porn, casino), metadata text, hyperlinks, " +
		"scripts/trackers, sentiment, OCR text for images/videos, and tone for slurs/bullying.\n")
	fmt.Fprintf(&b, "TEXT_SNIPPET:\n%s\n\n", snippet)
	b.WriteString("Return STRICT JSON only.")
	return b.String()
}

// guardianFeedback is the stored shape produced by the learning loop.
type guardianFeedback struct {
	Guidance string   `json:"guidance"`
	Patterns []string `json:"patterns"`
}

// guardianGuidance reads the stored feedback and renders it for the system
// prompt, caching by raw value.
func (j *Judge) guardianGuidance(ctx context.Context) string {
	if j.settings == nil {
		return ""
	}
	raw, found, err := j.settings.GetSetting(ctx, GuardianFeedbackKey)
	if err != nil {
		slog.Warn("Failed to read guardian feedback", "error", err)
		return ""
	}
	if !found || raw == "" {
		return ""
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if raw == j.cachedRaw {
		return j.cachedValue
	}

	var fb guardianFeedback
	rendered := raw // unparsable feedback is used as-is
	if err := json.Unmarshal([]byte(raw), &fb); err == nil {
		rendered = fb.Guidance
		if len(fb.Patterns) > 0 {
			patterns := fb.Patterns
			if len(patterns) > 5 {
				patterns = patterns[:5]
			}
			rendered += "\nPatterns: " + strings.Join(patterns, "; ")
		}
	}
	j.cachedRaw = raw
	j.cachedValue = rendered
	return rendered
}
