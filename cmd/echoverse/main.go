// Command echoverse is the entry point for the EchoVerse narration server.
//
// Without -in or -text it serves the HTTP API. With either flag it narrates
// one document and writes the MP3 to -out:
//
//	echoverse -in story.pdf -tone Inspiring -language "English (US)" -out narration.mp3
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/echoverse/internal/app"
	"github.com/MrWong99/echoverse/internal/config"
	"github.com/MrWong99/echoverse/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file (optional)")
	inPath := flag.String("in", "", "one-shot mode: narrate this .txt, .pdf or .docx file")
	text := flag.String("text", "", "one-shot mode: narrate this text")
	outPath := flag.String("out", "echoverse_narration.mp3", "one-shot mode: where to write the MP3")
	tone := flag.String("tone", "", "one-shot mode: Neutral, Suspenseful or Inspiring (default from config)")
	language := flag.String("language", "", "one-shot mode: output language (default from config)")
	voiceID := flag.String("voice", "", "one-shot mode: voice ID (default: first voice of the language)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echoverse: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, levelVar := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	oneShot := *inPath != "" || *text != ""

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg, observe.DefaultMetrics())
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Instruments created above are delegated once the global provider is set.
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: cfg.Observe.ServiceName,
		LLMBackends: providers.LLMNames,
		TTSBackends: providers.TTSNames,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	appOpts := []app.Option{
		app.WithLogLevel(levelVar),
		app.WithMetricsHandler(promhttp.Handler()),
	}
	if !oneShot {
		if _, err := os.Stat(*configPath); err == nil {
			appOpts = append(appOpts, app.WithConfigWatch(*configPath, 5*time.Second))
		}
	}

	application, err := app.New(cfg, providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if oneShot {
		return narrateOnce(ctx, application.Orchestrator(), oneShotOptions{
			InPath:   *inPath,
			Text:     *text,
			OutPath:  *outPath,
			Tone:     *tone,
			Language: *language,
			Voice:    *voiceID,
		}, os.Stdout)
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers)
	slog.Info("echoverse starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        EchoVerse — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", chain(ps.LLMNames))
	printRow("TTS", chain(ps.TTSNames))
	printRow("Default tone", cfg.Pipeline.DefaultTone)
	printRow("Default lang", cfg.Pipeline.DefaultLanguage)
	printRow("Session TTL", cfg.Server.SessionTTL.String())
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func chain(names []string) string {
	if len(names) == 0 {
		return "(not configured)"
	}
	return strings.Join(names, " → ")
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger on stderr whose level can be changed later
// through the returned LevelVar.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level.SlogLevel())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}
