package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, backends ...Backend) *Provider {
	t.Helper()
	p := NewProvider(backends...)
	p.lookup = func(string) (string, bool) { return "", false }
	return p
}

func TestProviderMissingKey(t *testing.T) {
	p := newTestProvider(t, NewFileBackend(filepath.Join(t.TempDir(), "credential")))
	if key, ok := p.APIKey(); ok || key != "" {
		t.Fatalf("expected no key, got %q", key)
	}
}

func TestProviderSetPersistsWithOwnerOnlyMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential")
	p := newTestProvider(t, NewFileBackend(path))

	if err := p.Set("  sk-test  "); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	key, ok := p.APIKey()
	if !ok || key != "sk-test" {
		t.Fatalf("APIKey = %q, %v", key, ok)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat credential: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("credential mode = %v", info.Mode().Perm())
	}

	fresh := newTestProvider(t, NewFileBackend(path))
	if key, _ := fresh.APIKey(); key != "sk-test" {
		t.Errorf("reloaded key = %q", key)
	}
	if fresh.Source() != "file" {
		t.Errorf("source = %q", fresh.Source())
	}
}

func TestProviderEnvOverride(t *testing.T) {
	p := newTestProvider(t, NewFileBackend(filepath.Join(t.TempDir(), "credential")))
	p.lookup = func(name string) (string, bool) {
		if name == APIKeyName {
			return "sk-env", true
		}
		return "", false
	}
	if err := p.Set("sk-file"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if key, _ := p.APIKey(); key != "sk-env" {
		t.Errorf("env override should win, got %q", key)
	}
	if p.Source() != SourceEnv {
		t.Errorf("source = %q", p.Source())
	}
}

type failingBackend struct{}

func (failingBackend) Name() string         { return "broken" }
func (failingBackend) Get() (string, error) { return "", errors.New("locked") }
func (failingBackend) Set(string) error     { return errors.New("locked") }
func (failingBackend) Delete() error        { return errors.New("locked") }

func TestProviderFallsBackPastBrokenBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential")
	p := newTestProvider(t, failingBackend{}, NewFileBackend(path))

	if err := p.Set("sk-fallback"); err != nil {
		t.Fatalf("Set should fall back to the file backend: %v", err)
	}
	if err := p.Reload(); err != nil {
		t.Fatalf("Reload should succeed when a later backend has the key: %v", err)
	}
	if key, _ := p.APIKey(); key != "sk-fallback" {
		t.Errorf("APIKey = %q", key)
	}
}

func TestProviderDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential")
	p := newTestProvider(t, NewFileBackend(path))

	if err := p.Delete(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete on empty store = %v, want ErrNotFound", err)
	}
	if err := p.Set("sk-test"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := p.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := p.APIKey(); ok {
		t.Error("key should be gone after Delete")
	}
}

func TestProviderWatchPicksUpExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential")
	p := newTestProvider(t, NewFileBackend(path))
	if _, ok := p.APIKey(); ok {
		t.Fatal("expected no key initially")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- p.Watch(ctx, path, func() { changed <- struct{}{} })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("sk-external\n"), 0600); err != nil {
		t.Fatalf("write credential: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-changed:
			if key, ok := p.APIKey(); ok && key == "sk-external" {
				cancel()
				if err := <-done; err != nil {
					t.Fatalf("Watch returned %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for credential reload")
		}
	}
}
