package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/watchit-dev/watchit/pkg/models"
)

// extractJSONObject returns the first balanced top-level JSON object in
// text, honoring string literals and escapes. Models often wrap their JSON
// in prose or code fences; this recovers it.
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// parseJudgeOutput decodes and validates the classifier's reply. It accepts
// either bare JSON or JSON embedded in surrounding text.
func parseJudgeOutput(raw string) (*models.JudgeOutput, error) {
	var out models.JudgeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		obj, ok := extractJSONObject(raw)
		if !ok {
			return nil, fmt.Errorf("no JSON object in response")
		}
		if err := json.Unmarshal([]byte(obj), &out); err != nil {
			return nil, fmt.Errorf("decode extracted object: %w", err)
		}
	}
	if err := validateJudgeOutput(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func validateJudgeOutput(out *models.JudgeOutput) error {
	if !models.ValidAction(out.Action) {
		return fmt.Errorf("invalid action %q", out.Action)
	}
	switch out.Severity {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
	default:
		return fmt.Errorf("invalid severity %q", out.Severity)
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return nil
}
