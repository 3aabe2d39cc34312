package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/medinterp/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
service:
  url: ws://localhost:8000/ws
`

const watcherUpdatedYAML = `
server:
  log_level: debug
service:
  url: ws://localhost:8000/ws
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime pushes the file's mtime forward so coarse filesystem clocks
// still register a change.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	future := time.Now().Add(by)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func runWatcher(t *testing.T, w *config.Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML)

	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for invalid initial config, got nil")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var (
		mu      sync.Mutex
		changes []config.ConfigDiff
	)
	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, config.Diff(old, new))
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runWatcher(t, w)

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath, time.Second)

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for change callback")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	d := changes[0]
	mu.Unlock()
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current().log_level = %q, want debug", w.Current().Server.LogLevel)
	}
}

func TestWatcher_KeepsPreviousOnInvalidEdit(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) {
		called <- struct{}{}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runWatcher(t, w)

	writeFile(t, cfgPath, watcherInvalidYAML)
	bumpMtime(t, cfgPath, time.Second)

	select {
	case <-called:
		t.Fatal("onChange called for an invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want previous value info", w.Current().Server.LogLevel)
	}
}

func TestWatcher_IgnoresTouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) {
		called <- struct{}{}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runWatcher(t, w)

	bumpMtime(t, cfgPath, time.Second)

	select {
	case <-called:
		t.Fatal("onChange called although content is identical")
	case <-time.After(200 * time.Millisecond):
	}
}
