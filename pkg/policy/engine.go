// Package policy implements the deterministic final-action engine. It is
// the last stage of every event: whatever the analyzers produced, the
// ordered rules here decide.
package policy

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/watchit-dev/watchit/pkg/config"
	"github.com/watchit-dev/watchit/pkg/models"
	"github.com/watchit-dev/watchit/pkg/store"
)

// strictnessBlockThresholds index the fast-score block threshold by
// strictness posture.
var strictnessBlockThresholds = map[models.Strictness]float64{
	models.StrictnessLenient:  0.95,
	models.StrictnessStandard: 0.9,
	models.StrictnessStrict:   0.8,
}

// SettingsReader is the slice of the store the engine needs: the pause
// horizon, read on every evaluation.
type SettingsReader interface {
	GetSettingInt64(ctx context.Context, key string) (int64, bool, error)
}

// Engine evaluates the ordered policy rules. Deterministic given the same
// inputs, clock, and pause setting.
type Engine struct {
	settings      SettingsReader
	policyVersion string
	allowDomains  []string
	blockDomains  []string
	schedDays     map[string]bool
	quiet         QuietWindow
	now           func() time.Time
}

// NewEngine builds the engine from configuration. The quiet window spec was
// validated at config load.
func NewEngine(cfg *config.Config, settings SettingsReader) *Engine {
	start, end, _ := config.ParseQuietWindow(cfg.SchedQuiet)
	return &Engine{
		settings:      settings,
		policyVersion: cfg.PolicyVersion,
		allowDomains:  cfg.AllowDomains,
		blockDomains:  cfg.BlockDomains,
		schedDays:     cfg.ScheduleDays(),
		quiet:         QuietWindow{Start: start, End: end},
		now:           time.Now,
	}
}

// Version returns the policy version stamped on decisions.
func (e *Engine) Version() string { return e.policyVersion }

// Decide produces the final action for one event. Rules are evaluated in
// order, first match wins:
// pause, quiet hours, allowlist, blocklist, fast-score threshold, headline
// high risk, judge verdict, default allow.
func (e *Engine) Decide(ctx context.Context, event *models.Event, fastScores models.FastScores,
	judgeOut *models.JudgeOutput, profile *models.ChildProfile, headline *models.HeadlineResult) models.PolicyDecision {

	now := e.now()
	domain := event.Domain()

	if until, found := e.pausedUntil(ctx); found && now.UnixMilli() < until {
		return models.PolicyDecision{Action: models.ActionAllow, Reason: "paused", Categories: []string{}}
	}

	if inQuietHours(now, e.schedDays, e.quiet) && !matchAny(domain, e.allowDomains) {
		return models.PolicyDecision{
			Action:     models.ActionBlock,
			Reason:     "schedule quiet hours",
			Categories: []string{"schedule"},
		}
	}

	if frag, ok := firstMatch(domain, e.allowDomains); ok {
		return models.PolicyDecision{Action: models.ActionAllow, Reason: "allowlist " + frag, Categories: []string{}}
	}

	if frag, ok := firstMatch(domain, e.blockDomains); ok {
		return models.PolicyDecision{
			Action:     models.ActionBlock,
			Reason:     "blocklist " + frag,
			Categories: []string{"adult"},
		}
	}

	strictness := models.StrictnessStandard
	if profile != nil {
		strictness = models.NormalizeStrictness(string(profile.Strictness))
	}
	threshold := strictnessBlockThresholds[strictness]
	if cats := fastScores.Exceeding(threshold); len(cats) > 0 {
		return models.PolicyDecision{Action: models.ActionBlock, Reason: "prefilter high", Categories: cats}
	}

	if headline != nil && headline.Risk == models.RiskHigh {
		return models.PolicyDecision{
			Action:     models.ActionBlock,
			Reason:     "headline high risk",
			Categories: []string{"headline"},
		}
	}

	if judgeOut != nil {
		// Non-binary judge actions are coerced to block here, at the
		// policy boundary only. The stored judge analysis keeps the
		// original action.
		action := judgeOut.Action
		if action != models.ActionAllow && action != models.ActionBlock {
			action = models.ActionBlock
		}
		severity := judgeOut.Severity
		if severity == "" {
			severity = models.SeverityLow
		}
		cats := judgeOut.Categories
		if cats == nil {
			cats = []string{}
		}
		return models.PolicyDecision{Action: action, Reason: "llm:" + string(severity), Categories: cats}
	}

	return models.PolicyDecision{Action: models.ActionAllow, Reason: "default allow", Categories: []string{}}
}

// pausedUntil reads the pause horizon. Read errors log and count as not
// paused rather than failing the decision.
func (e *Engine) pausedUntil(ctx context.Context) (int64, bool) {
	until, found, err := e.settings.GetSettingInt64(ctx, store.SettingPausedUntil)
	if err != nil {
		slog.Warn("Failed to read pause setting", "error", err)
		return 0, false
	}
	return until, found
}

func matchAny(domain string, fragments []string) bool {
	_, ok := firstMatch(domain, fragments)
	return ok
}

func firstMatch(domain string, fragments []string) (string, bool) {
	if domain == "" {
		return "", false
	}
	for _, f := range fragments {
		if f != "" && strings.Contains(domain, f) {
			return f, true
		}
	}
	return "", false
}
