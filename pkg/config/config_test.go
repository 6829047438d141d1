package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "child_monitor.db", cfg.DBPath)
	assert.Equal(t, "123456", cfg.ParentPIN)
	assert.Equal(t, "127.0.0.1", cfg.BindHost)
	assert.Equal(t, 4849, cfg.BindPort)
	assert.Equal(t, "qwen2.5:7b-instruct-q4_K_M", cfg.JudgeModel)
	assert.Equal(t, "http://localhost:11434", cfg.JudgeBaseURL)
	assert.Equal(t, 60*time.Second, cfg.JudgeTimeout)
	assert.Empty(t, cfg.PGDSN)
	assert.True(t, cfg.EnableOCR)
	assert.Equal(t, 0.75, cfg.OCRConfidenceThreshold)
	assert.Equal(t, "21:00-07:00", cfg.SchedQuiet)
	assert.Contains(t, cfg.AllowDomains, "wikipedia.org")
	assert.Contains(t, cfg.BlockDomains, "pornhub.com")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WATCHIT_DB_PATH", "/tmp/other.db")
	t.Setenv("WATCHIT_BIND_PORT", "9090")
	t.Setenv("WATCHIT_PG_DSN", "postgres://localhost/watchit")
	t.Setenv("WATCHIT_PG_INTERVAL", "2.5")
	t.Setenv("WATCHIT_ENABLE_OCR", "false")
	t.Setenv("WATCHIT_OCR_CONFIDENCE_THRESHOLD", "0.9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, 9090, cfg.BindPort)
	assert.Equal(t, "postgres://localhost/watchit", cfg.PGDSN)
	assert.Equal(t, 2500*time.Millisecond, cfg.PGInterval)
	assert.False(t, cfg.EnableOCR)
	assert.Equal(t, 0.9, cfg.OCRConfidenceThreshold)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric port", "WATCHIT_BIND_PORT", "http"},
		{"port out of range", "WATCHIT_BIND_PORT", "70000"},
		{"zero batch", "WATCHIT_PG_BATCH", "0"},
		{"bad quiet window", "WATCHIT_SCHEDULE_QUIET", "bedtime"},
		{"quiet window bad hour", "WATCHIT_SCHEDULE_QUIET", "25:00-07:00"},
		{"threshold above one", "WATCHIT_OCR_CONFIDENCE_THRESHOLD", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestBoolEnvSpellings(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "On"} {
		t.Setenv("WATCHIT_SAVE_SCREENSHOTS", v)
		cfg, err := Load("")
		require.NoError(t, err)
		assert.True(t, cfg.SaveScreenshots, "value %q", v)
	}
	t.Setenv("WATCHIT_SAVE_SCREENSHOTS", "off")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.SaveScreenshots)

	// Unrecognized spellings keep the default.
	t.Setenv("WATCHIT_ENABLE_OCR", "maybe")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.True(t, cfg.EnableOCR)
}

func TestYamlOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schedule:
  name: weekend
  days: Sat,Sun
  quiet: "22:30-08:00"
allow_domains:
  - example.edu
block_domains:
  - bad.example
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "weekend", cfg.SchedName)
	assert.Equal(t, "Sat,Sun", cfg.SchedDays)
	assert.Equal(t, "22:30-08:00", cfg.SchedQuiet)
	assert.Equal(t, []string{"example.edu"}, cfg.AllowDomains)
	assert.Equal(t, []string{"bad.example"}, cfg.BlockDomains)
}

func TestYamlOverlayPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schedule:\n  days: Fri\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Fri", cfg.SchedDays)
	// Untouched fields keep their defaults.
	assert.Equal(t, "schoolnights", cfg.SchedName)
	assert.Equal(t, "21:00-07:00", cfg.SchedQuiet)
}

func TestYamlOverlayMissingFileIgnored(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "schoolnights", cfg.SchedName)
}

func TestYamlOverlayMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schedule: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestScheduleDays(t *testing.T) {
	cfg := &Config{SchedDays: "Mon, Tue ,Wed,,Thu"}
	days := cfg.ScheduleDays()
	assert.Equal(t, map[string]bool{"Mon": true, "Tue": true, "Wed": true, "Thu": true}, days)

	empty := &Config{SchedDays: ""}
	assert.Empty(t, empty.ScheduleDays())
}

func TestParseQuietWindow(t *testing.T) {
	tests := []struct {
		spec       string
		start, end int
		ok         bool
	}{
		{"21:00-07:00", 21 * 60, 7 * 60, true},
		{"00:00-23:59", 0, 23*60 + 59, true},
		{"9:05-10:30", 9*60 + 5, 10*60 + 30, true},
		{"21:00", 0, 0, false},
		{"24:00-07:00", 0, 0, false},
		{"21:60-07:00", 0, 0, false},
		{"aa:bb-cc:dd", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			start, end, err := ParseQuietWindow(tt.spec)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}
