// Command taskmind is the single unified entry point for the work-management
// service: it starts the stdio/HTTP/WebSocket transports and exposes the
// `tools` maintenance subcommands (spec.md §6's CLI surface).
//
// Grounded on cmd/cortex/main.go's flag parsing, signal handling, and
// graceful-shutdown sequencing.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/antigravity-dev/taskmind/internal/config"
	"github.com/antigravity-dev/taskmind/internal/health"
	"github.com/antigravity-dev/taskmind/internal/mcp"
)

// version is the server identity reported in initialize results and /health.
// Overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

// Exit codes per spec.md §6: 0 success, 1 generic failure, 2 configuration
// error, 3 transport bind failure.
const (
	exitOK            = 0
	exitFailure       = 1
	exitConfig        = 2
	exitTransportBind = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitFailure
	}

	switch args[0] {
	case "server":
		return runServer(args[1:])
	case "tools":
		return runTools(args[1:])
	case "-h", "--help", "help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "taskmind: unknown command %q\n", args[0])
		usage()
		return exitFailure
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  taskmind server start [--mode stdio|http|websocket|combined] [--host H] [--port P] [--namespace NS] [--config PATH] [--dev]
  taskmind tools health-check [--config PATH]
  taskmind tools validate-config [--config PATH]
  taskmind tools backup create|restore|list [--config PATH] [flags]`)
}

func runServer(args []string) int {
	if len(args) == 0 || args[0] != "start" {
		usage()
		return exitFailure
	}
	fs := flag.NewFlagSet("server start", flag.ContinueOnError)
	configPath := fs.String("config", "taskmind.toml", "path to config file")
	mode := fs.String("mode", "", "transport mode: stdio, http, websocket, combined (overrides config)")
	host := fs.String("host", "", "HTTP/WebSocket bind host (overrides config)")
	port := fs.Int("port", 0, "HTTP/WebSocket bind port (overrides config)")
	namespace := fs.String("namespace", "", "default namespace for stdio mode (overrides config)")
	dev := fs.Bool("dev", false, "use text log format")
	if err := fs.Parse(args[1:]); err != nil {
		return exitFailure
	}

	cfg, err := loadConfigOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmind: %v\n", err)
		return exitConfig
	}
	if *mode != "" {
		cfg.Server.Mode = *mode
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *namespace != "" {
		cfg.General.NamespaceDefault = *namespace
	}

	log := configureLogger(cfg.General.LogLevel, *dev)
	log.Info("taskmind starting", "mode", cfg.Server.Mode, "config", *configPath)

	lockPath := cfg.General.LockFile
	if lockPath == "" {
		lockPath = "/tmp/taskmind.lock"
	}
	lockFile, err := health.AcquireFlock(lockPath)
	if err != nil {
		log.Error("failed to acquire lock", "error", err)
		return exitFailure
	}
	defer health.ReleaseFlock(lockFile)

	a, err := buildApp(cfg, log)
	if err != nil {
		log.Error("failed to build app", "error", err)
		return exitFailure
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	switch cfg.Server.Mode {
	case "stdio":
		stdio := mcp.NewStdioServer(a.router, cfg.General.NamespaceDefault, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stdio.Run(ctx); err != nil {
				errCh <- err
			}
			cancel()
		}()
	case "http", "websocket", "combined":
		bind := net.JoinHostPort(cfg.Server.Host, cfg.Server.PortString())
		httpMode := mcp.ModeHTTP
		switch cfg.Server.Mode {
		case "websocket":
			httpMode = mcp.ModeWebSocket
		case "combined":
			httpMode = mcp.ModeCombined
		}
		httpSrv := mcp.NewHTTPServer(a.router, a.notifier, bind, httpMode, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpSrv.Start(ctx); err != nil {
				errCh <- err
			}
		}()
	default:
		log.Error("unknown server.mode", "mode", cfg.Server.Mode)
		return exitConfig
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	case err := <-errCh:
		log.Error("transport failed", "error", err)
		cancel()
		wg.Wait()
		return exitTransportBind
	case <-ctx.Done():
	}

	shutdownStart := time.Now()
	wg.Wait()
	log.Info("taskmind stopped", "shutdown_duration", time.Since(shutdownStart).String())
	return exitOK
}

func loadConfigOrDefault(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return config.Default(), nil
	}
	return config.Load(path)
}
