// WatchIt local monitor server — ingests browsing events, runs the agentic
// decision pipeline, and serves the parent control and streaming API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/watchit-dev/watchit/pkg/analysis"
	"github.com/watchit-dev/watchit/pkg/api"
	"github.com/watchit-dev/watchit/pkg/bus"
	"github.com/watchit-dev/watchit/pkg/config"
	"github.com/watchit-dev/watchit/pkg/guardian"
	"github.com/watchit-dev/watchit/pkg/judge"
	"github.com/watchit-dev/watchit/pkg/ocr"
	"github.com/watchit-dev/watchit/pkg/pipeline"
	"github.com/watchit-dev/watchit/pkg/planner"
	"github.com/watchit-dev/watchit/pkg/policy"
	"github.com/watchit-dev/watchit/pkg/replicator"
	"github.com/watchit-dev/watchit/pkg/screenshots"
	"github.com/watchit-dev/watchit/pkg/store"
	"github.com/watchit-dev/watchit/pkg/version"
)

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	yamlPath := flag.String("config", "watchit.yaml", "Path to optional YAML config overlay")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	cfg, err := config.Load(*yamlPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting WatchIt",
		"version", version.Full(),
		"bind", fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort),
		"db_path", cfg.DBPath,
		"judge_model", cfg.JudgeModel,
		"mirror_enabled", cfg.PGDSN != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath, cfg.DBKey)
	if err != nil {
		slog.Error("Failed to open local store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing local store", "error", err)
		}
	}()
	slog.Info("Local store ready", "path", cfg.DBPath)

	llm := judge.NewOllamaClient(cfg.JudgeBaseURL, cfg.JudgeModel, cfg.JudgeTimeout)
	classifier := judge.New(llm, st)

	var engine ocr.Engine = ocr.Disabled{}
	if cfg.EnableOCR && cfg.OCRBaseURL != "" {
		engine = ocr.NewHTTPEngine(cfg.OCRBaseURL, cfg.JudgeTimeout)
	}

	scorer := analysis.NewScorer()
	runner := planner.NewRunner(
		planner.New(planner.NewAdvisor(llm)),
		analysis.NewHeadlines(scorer),
		analysis.NewURLAnalyzer(scorer, classifier, cfg.OCRConfidenceThreshold),
		analysis.NewOCRAnalyzer(engine),
	)

	decisionBus := bus.New()
	archiver := screenshots.New(cfg.ScreenshotsDir, cfg.SaveScreenshots)
	defer archiver.Wait()
	policyEngine := policy.NewEngine(cfg, st)
	pl := pipeline.New(st, runner, policyEngine, decisionBus, archiver, cfg.EnableOCR)

	var wg sync.WaitGroup

	learning := guardian.New(st, llm, cfg.GuardianInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		learning.RunForever(ctx)
	}()

	var mirror *replicator.Replicator
	if cfg.PGDSN != "" {
		mirror = replicator.New(st, cfg.PGDSN, cfg.PGInterval, cfg.PGBatch)
		wg.Add(1)
		go func() {
			defer wg.Done()
			mirror.RunForever(ctx)
		}()
	}

	server := api.NewServer(st, pl, decisionBus, learning, mirror, cfg.ParentPIN)
	if err := server.Run(ctx, fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort)); err != nil {
		slog.Error("HTTP server failed", "error", err)
		stop()
		wg.Wait()
		os.Exit(1)
	}

	wg.Wait()
	slog.Info("WatchIt stopped")
}
