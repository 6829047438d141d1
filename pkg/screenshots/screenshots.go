// Package screenshots archives event screenshots to disk for later review.
// Archival is best-effort and asynchronous: failures are logged and never
// block event processing.
package screenshots

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Archiver writes screenshot batches under a base directory, one
// subdirectory per event.
type Archiver struct {
	dir     string
	enabled bool
	wg      sync.WaitGroup
}

// New creates an archiver rooted at dir. When enabled is false every save
// is a no-op.
func New(dir string, enabled bool) *Archiver {
	return &Archiver{dir: dir, enabled: enabled}
}

// SaveAsync archives the batch in the background.
func (a *Archiver) SaveAsync(eventID string, shots []string, metadata map[string]any) {
	if !a.enabled || len(shots) == 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.save(eventID, shots, metadata); err != nil {
			slog.Warn("Screenshot archival failed", "event_id", eventID, "error", err)
		}
	}()
}

// Wait blocks until all in-flight saves finish. Used on shutdown.
func (a *Archiver) Wait() { a.wg.Wait() }

func (a *Archiver) save(eventID string, shots []string, metadata map[string]any) error {
	base := filepath.Join(a.dir, eventID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	for i, b64 := range shots {
		blob, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			slog.Warn("Skipping invalid screenshot payload",
				"event_id", eventID, "index", i+1, "error", err)
			continue
		}
		name := filepath.Join(base, fmt.Sprintf("%02d.png", i+1))
		if err := os.WriteFile(name, blob, 0o644); err != nil {
			return fmt.Errorf("write screenshot %s: %w", name, err)
		}
	}
	if len(metadata) > 0 {
		raw, err := json.MarshalIndent(metadata, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal screenshot metadata: %w", err)
		}
		if err := os.WriteFile(filepath.Join(base, "metadata.json"), raw, 0o644); err != nil {
			return fmt.Errorf("write screenshot metadata: %w", err)
		}
	}
	return nil
}
