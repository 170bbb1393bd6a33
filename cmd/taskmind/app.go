package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/antigravity-dev/taskmind/internal/config"
	"github.com/antigravity-dev/taskmind/internal/dispatcher"
	"github.com/antigravity-dev/taskmind/internal/mcp"
	"github.com/antigravity-dev/taskmind/internal/memory"
	"github.com/antigravity-dev/taskmind/internal/notify"
	"github.com/antigravity-dev/taskmind/internal/session"
	"github.com/antigravity-dev/taskmind/internal/vectorstore"
	"github.com/antigravity-dev/taskmind/internal/workitem"
)

// configureLogger mirrors cmd/cortex/main.go's configureLogger: JSON in
// production, text when -dev is passed, level taken from cfg.General.LogLevel.
func configureLogger(logLevel string, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// app bundles every long-lived service the CLI's subcommands wire together,
// built once from cfg.
type app struct {
	cfg      *config.Config
	store    *vectorstore.Store
	notifier *notify.Notifier
	router   *mcp.Router
	log      *slog.Logger
}

// buildApp opens the vector store at cfg.Store.Path and wires the full
// dispatcher/router stack, following cmd/cortex/main.go's "open store, build
// components, wire scheduler/api" sequencing.
func buildApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	store, err := vectorstore.Open(cfg.Store.Path, cfg.Embedding.Dimension)
	if err != nil {
		return nil, err
	}

	workItems := workitem.New(store, log)
	arch := memory.NewArchitectureStore(store, log)
	trouble := memory.NewTroubleshootStore(store, log)
	ctxSvc := memory.NewContextService(arch, log)
	weights := memory.MatchWeights{
		Alpha: cfg.Retrieval.MatchAlpha,
		Beta:  cfg.Retrieval.MatchBeta,
		Gamma: cfg.Retrieval.MatchGamma,
	}
	matchSvc := memory.NewMatchService(store, trouble, weights, log)
	notifier := notify.New()

	d := dispatcher.New(workItems, arch, trouble, ctxSvc, matchSvc, store, notifier, log)
	binder := session.NewBinder()
	router := mcp.NewRouter(d, binder, version, log)

	return &app{cfg: cfg, store: store, notifier: notifier, router: router, log: log}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
