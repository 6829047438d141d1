package analysis

import (
	"context"
	"log/slog"
	"strings"

	"github.com/watchit-dev/watchit/pkg/models"
	"github.com/watchit-dev/watchit/pkg/ocr"
)

// maxScreenshotsPerEvent bounds how many screenshots one OCR pass decodes.
const maxScreenshotsPerEvent = 3

// OCRAnalyzer turns an event's screenshots into text via the OCR capability.
// Per-screenshot failures are tolerated and produce no text.
type OCRAnalyzer struct {
	engine ocr.Engine
}

// NewOCRAnalyzer creates the analyzer on top of engine.
func NewOCRAnalyzer(engine ocr.Engine) *OCRAnalyzer {
	return &OCRAnalyzer{engine: engine}
}

// Screenshots returns the event's base64 screenshots, capped at the per-event
// limit. Empty when the payload carries none.
func (a *OCRAnalyzer) Screenshots(event *models.Event) []string {
	shots := event.Payload().ScreenshotsB64
	if len(shots) > maxScreenshotsPerEvent {
		shots = shots[:maxScreenshotsPerEvent]
	}
	return shots
}

// ExtractText runs OCR over each screenshot and joins the non-empty results
// with spaces. A failed or empty extraction contributes nothing.
func (a *OCRAnalyzer) ExtractText(ctx context.Context, eventID string, screenshots []string) string {
	var chunks []string
	for i, shot := range screenshots {
		text, err := a.engine.ExtractText(ctx, shot)
		if err != nil {
			slog.Warn("OCR extraction failed", "event_id", eventID, "index", i, "error", err)
			continue
		}
		if text != "" {
			chunks = append(chunks, text)
		}
	}
	return strings.TrimSpace(strings.Join(chunks, " "))
}
