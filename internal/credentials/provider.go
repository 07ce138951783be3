package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source describes where the current API key came from.
type Source string

const (
	SourceNone Source = ""
	SourceEnv  Source = "env"
)

// Provider resolves the API key from the environment override and then the
// configured backends in order. The resolved value is cached; Reload and
// Watch refresh it.
type Provider struct {
	backends []Backend
	lookup   func(string) (string, bool)

	mu     sync.RWMutex
	key    string
	source Source
	loaded bool
}

// NewProvider builds a provider over backends. The first backend that
// accepts a Set becomes the store for new keys.
func NewProvider(backends ...Backend) *Provider {
	return &Provider{
		backends: backends,
		lookup:   os.LookupEnv,
	}
}

// Default returns a provider backed by the system keyring with the given
// credential file as fallback.
func Default(credentialFile string) *Provider {
	return NewProvider(NewKeyringBackend(), NewFileBackend(credentialFile))
}

// APIKey returns the cached API key and whether one is available.
func (p *Provider) APIKey() (string, bool) {
	p.mu.RLock()
	if p.loaded {
		key := p.key
		p.mu.RUnlock()
		return key, key != ""
	}
	p.mu.RUnlock()

	if err := p.Reload(); err != nil {
		slog.Warn("credential lookup failed", "error", err)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key, p.key != ""
}

// Source reports which backend supplied the current key.
func (p *Provider) Source() Source {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.source
}

// Reload re-reads the key. Backend errors other than ErrNotFound are joined
// and returned, but a later backend can still supply the key.
func (p *Provider) Reload() error {
	key, source, err := p.resolve()

	p.mu.Lock()
	p.key = key
	p.source = source
	p.loaded = true
	p.mu.Unlock()

	if key != "" {
		return nil
	}
	return err
}

func (p *Provider) resolve() (string, Source, error) {
	if v, ok := p.lookup(APIKeyName); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), SourceEnv, nil
	}

	var errs []error
	for _, b := range p.backends {
		key, err := b.Get()
		if err == nil && key != "" {
			return key, Source(b.Name()), nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return "", SourceNone, errors.Join(errs...)
}

// Set stores key in the first backend that accepts it and updates the cache.
func (p *Provider) Set(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	var errs []error
	for _, b := range p.backends {
		if err := b.Set(key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		p.mu.Lock()
		// An environment override still wins over stored keys.
		if p.source != SourceEnv {
			p.key = key
			p.source = Source(b.Name())
		}
		p.loaded = true
		p.mu.Unlock()
		return nil
	}
	if len(errs) == 0 {
		return fmt.Errorf("no credential backend configured")
	}
	return errors.Join(errs...)
}

// Delete removes the key from every backend. It returns ErrNotFound when no
// backend held one.
func (p *Provider) Delete() error {
	var errs []error
	removed := false
	for _, b := range p.backends {
		err := b.Delete()
		switch {
		case err == nil:
			removed = true
		case errors.Is(err, ErrNotFound):
		default:
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}

	if err := p.Reload(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}

// Watch reloads the key whenever the credential file changes. It blocks until
// ctx is done. onChange, if set, is called after every reload.
func (p *Provider) Watch(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create credential watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch credential dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			// Let the writer finish before reading.
			time.Sleep(50 * time.Millisecond)

			if err := p.Reload(); err != nil {
				slog.Warn("credential reload failed", "error", err)
			} else {
				slog.Info("credential reloaded", "source", p.Source())
			}
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("credential watcher error", "error", err)
		}
	}
}
