// Package config loads monitor configuration from WATCHIT_* environment
// variables, with an optional watchit.yaml overlay for the schedule and
// domain lists.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration.
type Config struct {
	// Local store
	DBPath string
	DBKey  string

	PolicyVersion string

	// Schedule (single quiet-hours block)
	SchedName  string
	SchedDays  string // CSV of Mon..Sun
	SchedQuiet string // "21:00-07:00"

	ParentPIN string

	// Judge (Ollama-compatible runtime)
	JudgeModel   string
	JudgeBaseURL string
	JudgeTimeout time.Duration

	// Server
	BindHost string
	BindPort int

	// Postgres mirror (empty DSN disables the replicator)
	PGDSN      string
	PGInterval time.Duration
	PGBatch    int

	// OCR
	EnableOCR              bool
	OCRBaseURL             string
	OCRConfidenceThreshold float64

	// Screenshot archival
	SaveScreenshots bool
	ScreenshotsDir  string

	GuardianInterval time.Duration

	// Domain lists consumed by the policy engine.
	AllowDomains []string
	BlockDomains []string
}

// FileOverrides is the shape of the optional watchit.yaml overlay.
type FileOverrides struct {
	Schedule struct {
		Name  string `yaml:"name"`
		Days  string `yaml:"days"`
		Quiet string `yaml:"quiet"`
	} `yaml:"schedule"`
	AllowDomains []string `yaml:"allow_domains"`
	BlockDomains []string `yaml:"block_domains"`
}

// defaults match the original deployment: local-only bind, Ollama on its
// standard port, educational allowlist, adult-site blocklist.
func defaults() *Config {
	return &Config{
		DBPath:                 "child_monitor.db",
		DBKey:                  "change_this_strong_key",
		PolicyVersion:          "1.0.0",
		SchedName:              "schoolnights",
		SchedDays:              "Mon,Tue,Wed,Thu",
		SchedQuiet:             "21:00-07:00",
		ParentPIN:              "123456",
		JudgeModel:             "qwen2.5:7b-instruct-q4_K_M",
		JudgeBaseURL:           "http://localhost:11434",
		JudgeTimeout:           60 * time.Second,
		BindHost:               "127.0.0.1",
		BindPort:               4849,
		PGInterval:             5 * time.Second,
		PGBatch:                100,
		EnableOCR:              true,
		OCRConfidenceThreshold: 0.75,
		ScreenshotsDir:         "screenshots",
		GuardianInterval:       time.Hour,
		AllowDomains:           []string{"wikipedia.org", "khanacademy.org", ".edu"},
		BlockDomains:           []string{"pornhub.com", "xvideos.com", "redtube.com"},
	}
}

// Load builds the configuration from the environment. If yamlPath is
// non-empty and the file exists, its overrides are applied on top.
func Load(yamlPath string) (*Config, error) {
	cfg := defaults()

	cfg.DBPath = getEnvOrDefault("WATCHIT_DB_PATH", cfg.DBPath)
	cfg.DBKey = getEnvOrDefault("WATCHIT_DB_KEY", cfg.DBKey)
	cfg.PolicyVersion = getEnvOrDefault("WATCHIT_POLICY_VERSION", cfg.PolicyVersion)
	cfg.SchedName = getEnvOrDefault("WATCHIT_SCHEDULE_NAME", cfg.SchedName)
	cfg.SchedDays = getEnvOrDefault("WATCHIT_SCHEDULE_DAYS", cfg.SchedDays)
	cfg.SchedQuiet = getEnvOrDefault("WATCHIT_SCHEDULE_QUIET", cfg.SchedQuiet)
	cfg.ParentPIN = getEnvOrDefault("WATCHIT_PARENT_PIN", cfg.ParentPIN)
	cfg.JudgeModel = getEnvOrDefault("WATCHIT_JUDGE_MODEL", cfg.JudgeModel)
	cfg.JudgeBaseURL = getEnvOrDefault("WATCHIT_JUDGE_BASE_URL", cfg.JudgeBaseURL)
	cfg.BindHost = getEnvOrDefault("WATCHIT_BIND_HOST", cfg.BindHost)
	cfg.PGDSN = os.Getenv("WATCHIT_PG_DSN")
	cfg.OCRBaseURL = getEnvOrDefault("WATCHIT_OCR_BASE_URL", cfg.OCRBaseURL)
	cfg.ScreenshotsDir = getEnvOrDefault("WATCHIT_SCREENSHOTS_DIR", cfg.ScreenshotsDir)

	var err error
	if cfg.BindPort, err = intEnv("WATCHIT_BIND_PORT", cfg.BindPort); err != nil {
		return nil, err
	}
	if cfg.PGBatch, err = intEnv("WATCHIT_PG_BATCH", cfg.PGBatch); err != nil {
		return nil, err
	}
	if cfg.PGInterval, err = secondsEnv("WATCHIT_PG_INTERVAL", cfg.PGInterval); err != nil {
		return nil, err
	}
	if cfg.GuardianInterval, err = secondsEnv("WATCHIT_GUARDIAN_INTERVAL", cfg.GuardianInterval); err != nil {
		return nil, err
	}
	if cfg.JudgeTimeout, err = secondsEnv("WATCHIT_JUDGE_TIMEOUT", cfg.JudgeTimeout); err != nil {
		return nil, err
	}
	if cfg.OCRConfidenceThreshold, err = floatEnv("WATCHIT_OCR_CONFIDENCE_THRESHOLD", cfg.OCRConfidenceThreshold); err != nil {
		return nil, err
	}
	cfg.EnableOCR = boolEnv("WATCHIT_ENABLE_OCR", cfg.EnableOCR)
	cfg.SaveScreenshots = boolEnv("WATCHIT_SAVE_SCREENSHOTS", cfg.SaveScreenshots)

	if yamlPath != "" {
		if err := cfg.applyFile(yamlPath); err != nil {
			return nil, err
		}
	}

	return cfg, cfg.validate()
}

// applyFile merges watchit.yaml overrides. A missing file is not an error:
// the overlay is optional.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var ov FileOverrides
	if err := yaml.Unmarshal(raw, &ov); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if ov.Schedule.Name != "" {
		c.SchedName = ov.Schedule.Name
	}
	if ov.Schedule.Days != "" {
		c.SchedDays = ov.Schedule.Days
	}
	if ov.Schedule.Quiet != "" {
		c.SchedQuiet = ov.Schedule.Quiet
	}
	if len(ov.AllowDomains) > 0 {
		c.AllowDomains = ov.AllowDomains
	}
	if len(ov.BlockDomains) > 0 {
		c.BlockDomains = ov.BlockDomains
	}
	return nil
}

func (c *Config) validate() error {
	if c.BindPort <= 0 || c.BindPort > 65535 {
		return fmt.Errorf("invalid bind port %d", c.BindPort)
	}
	if c.PGBatch <= 0 {
		return fmt.Errorf("invalid replication batch size %d", c.PGBatch)
	}
	if _, _, err := ParseQuietWindow(c.SchedQuiet); err != nil {
		return fmt.Errorf("invalid quiet window %q: %w", c.SchedQuiet, err)
	}
	if c.OCRConfidenceThreshold < 0 || c.OCRConfidenceThreshold > 1 {
		return fmt.Errorf("ocr confidence threshold %v outside [0,1]", c.OCRConfidenceThreshold)
	}
	return nil
}

// ScheduleDays returns the configured quiet-hour weekdays as a set of
// three-letter day names.
func (c *Config) ScheduleDays() map[string]bool {
	days := make(map[string]bool)
	for _, d := range strings.Split(c.SchedDays, ",") {
		d = strings.TrimSpace(d)
		if d != "" {
			days[d] = true
		}
	}
	return days
}

// ParseQuietWindow parses "HH:MM-HH:MM" into start/end minutes since
// midnight. Start > end means the window wraps midnight.
func ParseQuietWindow(spec string) (start, end int, err error) {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM-HH:MM")
	}
	if start, err = parseHHMM(parts[0]); err != nil {
		return 0, 0, err
	}
	if end, err = parseHHMM(parts[1]); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func secondsEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	secs, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func boolEnv(key string, defaultVal bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}
