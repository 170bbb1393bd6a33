package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, storeDir string) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "taskmind.toml")
	body := "[store]\npath = \"" + storeDir + "\"\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func TestRunValidateConfig_Valid(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir())
	if code := runValidateConfig([]string{"--config", configPath}); code != exitOK {
		t.Fatalf("exit = %d, want %d", code, exitOK)
	}
}

func TestRunValidateConfig_MissingFile(t *testing.T) {
	if code := runValidateConfig([]string{"--config", "/nonexistent/taskmind.toml"}); code != exitConfig {
		t.Fatalf("exit = %d, want %d", code, exitConfig)
	}
}

func TestRunValidateConfig_InvalidMode(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "taskmind.toml")
	body := "[server]\nmode = \"carrier-pigeon\"\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if code := runValidateConfig([]string{"--config", configPath}); code != exitConfig {
		t.Fatalf("exit = %d, want %d", code, exitConfig)
	}
}

func TestRunHealthCheck_OpensStoreAndChecksIntegrity(t *testing.T) {
	configPath := writeTestConfig(t, filepath.Join(t.TempDir(), "data"))
	if code := runHealthCheck([]string{"--config", configPath}); code != exitOK {
		t.Fatalf("exit = %d, want %d", code, exitOK)
	}
}

func TestRun_NoArgsFails(t *testing.T) {
	if code := run(nil); code != exitFailure {
		t.Fatalf("exit = %d, want %d", code, exitFailure)
	}
}

func TestRun_UnknownCommandFails(t *testing.T) {
	if code := run([]string{"frobnicate"}); code != exitFailure {
		t.Fatalf("exit = %d, want %d", code, exitFailure)
	}
}

func TestRun_HelpSucceeds(t *testing.T) {
	if code := run([]string{"help"}); code != exitOK {
		t.Fatalf("exit = %d, want %d", code, exitOK)
	}
}
