package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"breakthebill/internal/log"
)

func TestSetupLogger(t *testing.T) {
	logger := SetupLogger("debug", "json")
	if logger.Component() != log.ComponentApp {
		t.Fatalf("component = %q, want %q", logger.Component(), log.ComponentApp)
	}
	if !logger.Enabled(context.Background(), -4) {
		t.Fatal("debug level should be enabled")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BTB_CLI_TEST_KEY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("BTB_CLI_TEST_KEY") })

	if err := LoadEnvFile(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("BTB_CLI_TEST_KEY"); got != "from-file" {
		t.Fatalf("BTB_CLI_TEST_KEY = %q", got)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("DATA_BACKEND", "postgres")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected validation error")
	}

	t.Setenv("DATA_BACKEND", "memory")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DataBackend != "memory" {
		t.Fatalf("backend = %q", cfg.DataBackend)
	}
}

func TestGracefulShutdownOnParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	var cleaned atomic.Bool

	ctx, done := GracefulShutdown(parent, log.ForComponent(log.ComponentApp, "error"), time.Second, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("cleanup context has no deadline")
		}
		cleaned.Store(true)
		return errors.New("close failed")
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	WaitForShutdown(ctx, done)

	if !cleaned.Load() {
		t.Fatal("cleanup was not called")
	}
}
