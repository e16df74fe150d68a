// Command iccoctl is the thin, non-core wrapper around the cache engine: it
// loads configuration, constructs an icco.Engine, and either drives it
// interactively (config wizard), replays a JSONL event file against it for
// local testing, or serves a live metrics stream for a dashboard to tail.
// No cache logic lives here.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/icco/context-optimizer/internal/advisor"
	"github.com/icco/context-optimizer/internal/config"
	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/entrytype"
	"github.com/icco/context-optimizer/internal/icco"
	"github.com/icco/context-optimizer/internal/metrics"
	"github.com/icco/context-optimizer/internal/tui"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "configure":
			runConfigure(os.Args[2:])
			return
		case "replay":
			runReplay(os.Args[2:])
			return
		case "serve":
			runServe(os.Args[2:])
			return
		case "version", "-v", "--version":
			fmt.Println("iccoctl " + Version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}
	printHelp()
}

func printHelp() {
	tui.PrintBanner()
	fmt.Println("context-optimizer CLI - operate an Intelligent Context Cache Optimizer engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  iccoctl configure [--config FILE]      Interactively edit and save a config")
	fmt.Println("  iccoctl replay [--config FILE] FILE     Replay a JSONL event file against the engine")
	fmt.Println("  iccoctl serve [--config FILE] [--port N]  Run the engine and stream get_metrics() over a websocket")
	fmt.Println("  iccoctl version                         Print version information")
	fmt.Println("  iccoctl help                            Show this help message")
}

// loadEnvFiles loads .env from standard locations, matching the teacher's
// layered lookup: a per-tool config directory first, then a local override.
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}
	configEnv := filepath.Join(homeDir, ".config", "context-optimizer", ".env")
	if _, statErr := os.Stat(configEnv); statErr == nil {
		_ = godotenv.Load(configEnv)
	}
	_ = godotenv.Load()
}

func setupLogging(debug bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// resolveConfig loads path if given, else falls back to documented defaults.
func resolveConfig(path string) config.Config {
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("iccoctl: failed to load config")
	}
	return cfg
}

func runConfigure(args []string) {
	loadEnvFiles()
	fs := flag.NewFlagSet("configure", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (loaded if present, written back on save)")
	out := fs.String("out", "", "output path (defaults to --config, or ./context-optimizer.yaml)")
	_ = fs.Parse(args)

	tui.PrintBanner()
	cfg := resolveConfig(*configPath)

	edited, err := tui.RunConfigWizard(cfg)
	if err != nil {
		tui.PrintError(fmt.Sprintf("cancelled: %v", err))
		os.Exit(1)
	}
	if err := edited.Validate(); err != nil {
		tui.PrintError(fmt.Sprintf("invalid config: %v", err))
		os.Exit(1)
	}

	outPath := *out
	if outPath == "" {
		outPath = *configPath
	}
	if outPath == "" {
		outPath = "context-optimizer.yaml"
	}
	data, err := yaml.Marshal(edited)
	if err != nil {
		tui.PrintError(fmt.Sprintf("encoding config: %v", err))
		os.Exit(1)
	}
	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		tui.PrintError(fmt.Sprintf("writing %s: %v", outPath, err))
		os.Exit(1)
	}
	tui.PrintSuccess(fmt.Sprintf("wrote %s", outPath))
}

// replayEvent is one line of a JSONL replay file. Unlike a real hook
// integration's argument parsing (explicitly out of scope of the core),
// this is a flat, self-describing test/demo format: iccoctl's own
// convenience, not a protocol the engine knows about.
type replayEvent struct {
	Op        string         `json:"op"`
	Content   string         `json:"content"`
	Type      entrytype.Type `json:"type"`
	ID        string         `json:"id"`
	Query     string         `json:"query"`
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	FilePath  string         `json:"file_path"`
}

func runReplay(args []string) {
	loadEnvFiles()
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)
	setupLogging(*debug)

	if fs.NArg() < 1 {
		log.Fatal().Msg("iccoctl: replay requires a JSONL file argument")
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("iccoctl: opening replay file")
	}
	defer f.Close()

	cfg := resolveConfig(*configPath)
	engine, err := buildEngine(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("iccoctl: constructing engine")
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt replayEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			log.Warn().Int("line", lineNo).Err(err).Msg("iccoctl: skipping malformed replay line")
			continue
		}
		applyReplayEvent(engine, evt)
	}
	if err := scanner.Err(); err != nil {
		log.Fatal().Err(err).Msg("iccoctl: reading replay file")
	}

	stats := engine.GetMetrics()
	data, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(data))
}

func applyReplayEvent(engine *icco.Engine, evt replayEvent) {
	meta := entrystore.Metadata{SessionID: evt.SessionID, ToolName: evt.ToolName, FilePath: evt.FilePath}
	switch evt.Op {
	case "add":
		engine.Add(evt.Content, evt.Type, meta)
	case "access":
		engine.Access(evt.ID)
	case "on_user_prompt_submit":
		engine.OnUserPromptSubmit(evt.Query, evt.SessionID)
	case "on_post_tool_use":
		engine.OnPostToolUse(evt.ToolName, evt.Content, evt.SessionID)
	case "on_pre_compact":
		engine.OnPreCompact(evt.SessionID)
	case "transition_tiers":
		engine.TransitionTiers()
	default:
		log.Warn().Str("op", evt.Op).Msg("iccoctl: unknown replay op")
	}
}

// runServe constructs an engine and serves get_metrics() over a local
// websocket, pushed on an interval, for a dashboard to tail — the
// observability-only surface §6 describes; no cache decision is made here.
func runServe(args []string) {
	loadEnvFiles()
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	port := fs.Int("port", 18090, "metrics websocket port")
	debug := fs.Bool("debug", false, "enable debug logging")
	noBanner := fs.Bool("no-banner", false, "suppress startup banner")
	_ = fs.Parse(args)

	if !*noBanner {
		tui.PrintBanner()
	}
	setupLogging(*debug)

	cfg := resolveConfig(*configPath)
	engine, err := buildEngine(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("iccoctl: constructing engine")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics/stream", metricsStreamHandler(engine))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: mux}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info().Msg("iccoctl: shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Info().Int("port", *port).Msg("iccoctl: serving metrics stream at /metrics/stream")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("iccoctl: metrics server error")
	}
	log.Info().Msg("iccoctl: stopped")
}

func metricsStreamHandler(engine *icco.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("iccoctl: websocket accept failed")
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := engine.GetMetrics()
				data, err := json.Marshal(stats)
				if err != nil {
					continue
				}
				writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err = conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}
}

func buildEngine(cfg config.Config) (*icco.Engine, error) {
	opts := []icco.Option{}

	if path := os.Getenv("ICCO_EVENT_LOG"); path != "" {
		eventLog, err := icco.NewEventLog(path)
		if err != nil {
			return nil, fmt.Errorf("opening event log: %w", err)
		}
		opts = append(opts, icco.WithEventLog(eventLog))
	}

	if cfg.SnapshotDBPath != "" {
		store, err := metrics.NewSQLiteStore(cfg.SnapshotDBPath)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot db: %w", err)
		}
		opts = append(opts, icco.WithSnapshotStore(store))
	}

	if model := os.Getenv("ICCO_BEDROCK_MODEL"); model != "" {
		opts = append(opts, icco.WithAdvisor(advisor.NewBedrockAdvisor(model)))
	}

	return icco.New(cfg, opts...)
}
