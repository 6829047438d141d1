package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchit-dev/watchit/pkg/analysis"
	"github.com/watchit-dev/watchit/pkg/judge"
	"github.com/watchit-dev/watchit/pkg/models"
)

type fakeClassifier struct {
	out    *models.JudgeOutput
	inputs []judge.Input
}

func (f *fakeClassifier) Evaluate(_ context.Context, in judge.Input) *models.JudgeOutput {
	f.inputs = append(f.inputs, in)
	out := *f.out
	return &out
}

type fakeEngine struct {
	text  string
	err   error
	calls int
}

func (f *fakeEngine) ExtractText(context.Context, string) (string, error) {
	f.calls++
	return f.text, f.err
}

func newTestRunner(llm judge.Completer, classifier analysis.Classifier, engine *fakeEngine) *Runner {
	scorer := analysis.NewScorer()
	return NewRunner(
		New(NewAdvisor(llm)),
		analysis.NewHeadlines(scorer),
		analysis.NewURLAnalyzer(scorer, classifier, 0.75),
		analysis.NewOCRAnalyzer(engine),
	)
}

func TestRunnerHeadlineEarlyExit(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"next_tool":"headline","reason":"triage"}`,
		`{"next_tool":"url_llm","reason":"confirm"}`,
		`{"next_tool":"policy","reason":"done"}`,
	}}
	classifier := &fakeClassifier{out: &models.JudgeOutput{Action: models.ActionBlock}}
	r := newTestRunner(llm, classifier, &fakeEngine{})

	st := NewState(
		&models.Event{ID: "evt_1", URL: "https://en.wikipedia.org/wiki/Cat", Title: "Cat"},
		&models.ChildProfile{Strictness: models.StrictnessStandard, Age: 10},
		false,
	)
	r.Run(context.Background(), st)

	// Headline allow at 0.88 crossed the threshold: judge output is
	// synthesized, the URL node became a no-op, the model judge never ran.
	assert.False(t, st.NeedLLM)
	require.NotNil(t, st.JudgeJSON)
	assert.Equal(t, models.ActionAllow, st.JudgeJSON.Action)
	assert.Equal(t, models.SeverityLow, st.JudgeJSON.Severity)
	assert.Equal(t, "headline_agent_decision", st.JudgeJSON.Rationale)
	assert.False(t, st.JudgeJSON.IsHarmful)
	assert.Empty(t, classifier.inputs)
	assert.Equal(t, 0.88, st.Confidence)
}

func TestRunnerHeadlineBlockSynthesizesMediumSeverity(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"next_tool":"headline","reason":"triage"}`,
		`{"next_tool":"policy","reason":"done"}`,
	}}
	r := newTestRunner(llm, &fakeClassifier{out: &models.JudgeOutput{}}, &fakeEngine{})

	st := NewState(
		&models.Event{ID: "evt_1", URL: "https://xxx.example.com/"},
		&models.ChildProfile{Strictness: models.StrictnessStandard, Age: 10},
		false,
	)
	r.Run(context.Background(), st)

	require.NotNil(t, st.JudgeJSON)
	assert.Equal(t, models.ActionBlock, st.JudgeJSON.Action)
	assert.Equal(t, models.SeverityMedium, st.JudgeJSON.Severity)
	assert.True(t, st.JudgeJSON.IsHarmful)
}

func TestRunnerTerminatesAtLoopBound(t *testing.T) {
	// Advisor keeps asking for headline; the loop bound must still stop it.
	llm := &scriptedLLM{replies: []string{`{"next_tool":"headline","reason":"loop"}`}}
	r := newTestRunner(llm, &fakeClassifier{out: &models.JudgeOutput{Action: models.ActionAllow}}, &fakeEngine{})

	st := NewState(
		&models.Event{ID: "evt_1", URL: "https://example.com/"},
		&models.ChildProfile{Strictness: models.StrictnessStandard, Age: 10},
		false,
	)
	r.Run(context.Background(), st)

	assert.Equal(t, MaxLoops, st.LoopCount)
	assert.Equal(t, ToolPolicy, st.NextTool)
	assert.Equal(t, "max_loops_reached", st.PlannerReason)
}

func TestRunnerOCRWithoutScreenshots(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"next_tool":"ocr","reason":"look closer"}`,
		`{"next_tool":"policy","reason":"done"}`,
	}}
	engine := &fakeEngine{text: "irrelevant"}
	r := newTestRunner(llm, &fakeClassifier{out: &models.JudgeOutput{Action: models.ActionAllow}}, engine)

	st := NewState(
		&models.Event{ID: "evt_1", URL: "https://example.com/"},
		&models.ChildProfile{Strictness: models.StrictnessStandard, Age: 10},
		false,
	)
	r.Run(context.Background(), st)

	assert.True(t, st.NeedsScreenshot)
	assert.True(t, st.HasOCRRun)
	assert.Equal(t, 0, engine.calls)
}

func TestRunnerUpgradeRunsOCRExactlyOnce(t *testing.T) {
	// The upgrade guard forces OCR first; later requests for ocr/headline
	// are rewritten to url_llm.
	llm := &scriptedLLM{replies: []string{
		`{"next_tool":"ocr","reason":"again"}`,
		`{"next_tool":"policy","reason":"done"}`,
	}}
	classifier := &fakeClassifier{out: &models.JudgeOutput{
		Action: models.ActionAllow, Severity: models.SeverityLow, Confidence: 0.9,
	}}
	engine := &fakeEngine{text: "text from screenshot"}
	r := newTestRunner(llm, classifier, engine)

	st := NewState(
		&models.Event{
			ID:       "evt_1",
			URL:      "https://example.com/",
			DataJSON: `{"screenshots_b64":["aGk=","aG8="]}`,
		},
		&models.ChildProfile{Strictness: models.StrictnessStandard, Age: 10},
		true,
	)
	r.Run(context.Background(), st)

	assert.True(t, st.HasOCRRun)
	assert.False(t, st.NeedOCR)
	assert.Equal(t, "text from screenshot text from screenshot", st.OCRText)
	// One engine call per screenshot, and only from the single OCR pass.
	assert.Equal(t, 2, engine.calls)
	// Re-judge inside the OCR layer, then once more through the rewritten
	// url_llm visit.
	require.Len(t, classifier.inputs, 2)
	assert.Contains(t, classifier.inputs[0].TextSample, "text from screenshot")
}

func TestRunnerOCRFailureTolerated(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"next_tool":"policy","reason":"done"}`}}
	classifier := &fakeClassifier{out: &models.JudgeOutput{Action: models.ActionAllow}}
	engine := &fakeEngine{err: errors.New("ocr sidecar down")}
	r := newTestRunner(llm, classifier, engine)

	st := NewState(
		&models.Event{ID: "evt_1", DataJSON: `{"screenshots_b64":["aGk="]}`},
		&models.ChildProfile{Strictness: models.StrictnessStandard, Age: 10},
		true,
	)
	r.Run(context.Background(), st)

	assert.True(t, st.HasOCRRun)
	assert.Empty(t, st.OCRText)
	// Empty OCR text means no re-judge happened in the OCR layer.
	assert.Empty(t, classifier.inputs)
}
