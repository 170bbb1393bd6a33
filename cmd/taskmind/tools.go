package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/antigravity-dev/taskmind/internal/config"
)

func runTools(args []string) int {
	if len(args) == 0 {
		usage()
		return exitFailure
	}
	switch args[0] {
	case "health-check":
		return runHealthCheck(args[1:])
	case "validate-config":
		return runValidateConfig(args[1:])
	case "backup":
		return runBackup(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "taskmind: unknown tools subcommand %q\n", args[0])
		usage()
		return exitFailure
	}
}

// runValidateConfig decodes and semantically checks the TOML file without
// starting a server (spec.md §6, SPEC_FULL.md's supplemented CLI mechanics).
func runValidateConfig(args []string) int {
	fs := flag.NewFlagSet("tools validate-config", flag.ContinueOnError)
	configPath := fs.String("config", "taskmind.toml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return exitConfig
	}
	fmt.Printf("config OK: mode=%s bind=%s:%d namespace_default=%s store=%s\n",
		cfg.Server.Mode, cfg.Server.Host, cfg.Server.Port, cfg.General.NamespaceDefault, cfg.Store.Path)
	return exitOK
}

// runHealthCheck opens the vector store through buildApp (the same
// read-write open the server uses), runs PRAGMA integrity_check, and reports
// the store path, the check result and the number of registered operations,
// mirroring performBackup/verifyBackup's integrity-check idiom
// (tools/db-backup.go). Per-namespace table counts are not reported.
func runHealthCheck(args []string) int {
	fs := flag.NewFlagSet("tools health-check", flag.ContinueOnError)
	configPath := fs.String("config", "taskmind.toml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	cfg, err := loadConfigOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return exitConfig
	}

	log := configureLogger(cfg.General.LogLevel, false)
	a, err := buildApp(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store unhealthy: %v\n", err)
		return exitFailure
	}
	defer a.Close()

	var result string
	if err := a.store.DB().QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		fmt.Fprintf(os.Stderr, "integrity check failed: %v\n", err)
		return exitFailure
	}
	if result != "ok" {
		fmt.Fprintf(os.Stderr, "integrity check returned %q\n", result)
		return exitFailure
	}

	fmt.Printf("store healthy: %s (integrity_check=%s, operations=%d)\n", cfg.Store.Path, result, len(a.router.Dispatcher.List()))
	return exitOK
}
