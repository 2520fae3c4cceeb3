package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, hostname string) {
	t.Helper()
	content := "external_hostname: " + hostname + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherLoadsInitialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.yaml")
	writeConfig(t, path, "juju.local")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	if w.Current().ExternalHostname != "juju.local" {
		t.Errorf("unexpected initial hostname %q", w.Current().ExternalHostname)
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.yaml")
	writeConfig(t, path, "juju.local")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.debounce = 20 * time.Millisecond

	changed := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writeConfig(t, path, "new.local")

	select {
	case cfg := <-changed:
		if cfg.ExternalHostname != "new.local" {
			t.Errorf("unexpected hostname after reload: %q", cfg.ExternalHostname)
		}
		if w.Current().ExternalHostname != "new.local" {
			t.Error("Current should reflect the reloaded config")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change callback")
	}
}

func TestWatcherKeepsPreviousOnInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.yaml")
	writeConfig(t, path, "juju.local")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.debounce = 20 * time.Millisecond

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("routing_mode: bogus\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Give the watcher time to attempt (and reject) the reload.
	time.Sleep(300 * time.Millisecond)
	if w.Current().ExternalHostname != "juju.local" {
		t.Error("invalid config must not replace the previous one")
	}
}

func TestWatcherRejectsInvalidInitialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.yaml")
	if err := os.WriteFile(path, []byte("routing_mode: bogus\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWatcher(path); err == nil {
		t.Error("expected error for invalid initial config")
	}
}
