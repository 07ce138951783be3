package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"agentdesk/config"
	"agentdesk/internal/agentstatus"
	"agentdesk/internal/completion"
	"agentdesk/internal/conversation"
	"agentdesk/internal/credentials"
	"agentdesk/internal/trace"
	"agentdesk/internal/tracechannel"
)

// SessionConfig collects the collaborators of a Session. Store, Completer
// and Credentials are required; the rest are optional.
type SessionConfig struct {
	Settings    config.Settings
	Store       conversation.Store
	Completer   Completer
	Credentials *credentials.Provider
	// CredentialFile is watched for external edits when set.
	CredentialFile string
	// TraceSource feeds the trace pump. Nil disables the trace channel.
	TraceSource tracechannel.Source
	Logger      *slog.Logger
}

// Session is the lifetime of one running client: it is created at startup,
// owns every piece of shared state and is torn down by Close.
type Session struct {
	Settings    config.Settings
	Store       conversation.Store
	Credentials *credentials.Provider
	Coordinator *Coordinator
	Feed        *trace.Feed
	Registry    *agentstatus.Registry
	Pump        *tracechannel.Pump

	traceSource    tracechannel.Source
	credentialFile string
	logger         *slog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Store == nil {
		return nil, errors.New("session requires a store")
	}
	if cfg.Completer == nil {
		return nil, errors.New("session requires a completer")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("session requires a credential provider")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	feed := trace.NewFeed(cfg.Settings.Trace.Retention)
	registry := agentstatus.NewRegistry()

	s := &Session{
		Settings:    cfg.Settings,
		Store:       cfg.Store,
		Credentials: cfg.Credentials,
		Coordinator: NewCoordinator(cfg.Store, cfg.Completer, cfg.Credentials, Options{
			Model:        config.ResolveModel(cfg.Settings.Completion.Model),
			MaxTokens:    cfg.Settings.Completion.MaxTokens,
			HistoryLimit: cfg.Settings.Store.HistoryLimit,
			Logger:       cfg.Logger.With("component", "chat"),
		}),
		Feed:           feed,
		Registry:       registry,
		Pump:           tracechannel.NewPump(feed, registry),
		traceSource:    cfg.TraceSource,
		credentialFile: cfg.CredentialFile,
		logger:         cfg.Logger,
	}
	return s, nil
}

// Start loads the conversation list and launches the background workers:
// the trace pump and the credential watcher. They stop on Close or when ctx
// is done.
func (s *Session) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if _, err := s.Coordinator.RefreshConversations(ctx); err != nil {
		// The list is refreshed again after the next exchange.
		s.logger.Warn("failed to load conversations", "error", err)
	}

	if s.traceSource != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Pump.Run(ctx, s.traceSource); err != nil && ctx.Err() == nil {
				s.logger.Error("trace channel stopped", "error", err)
			}
		}()
	}

	if s.credentialFile != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Credentials.Watch(ctx, s.credentialFile, nil); err != nil {
				s.logger.Warn("credential watcher stopped", "error", err)
			}
		}()
	}
	return nil
}

// Close stops the workers, cancels running turns and closes the store.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.Coordinator.Close()
		s.wg.Wait()
		s.Feed.Close()
		s.Registry.Close()
		err = s.Store.Close()
	})
	return err
}

// OpenStore opens the store selected by settings. The SQLite database
// defaults to defaultPath.
func OpenStore(ctx context.Context, settings config.StoreSettings, defaultPath string) (conversation.Store, error) {
	switch settings.Driver {
	case config.StoreMemory:
		return conversation.NewMemoryStore(), nil
	case config.StorePostgres:
		return conversation.OpenPostgres(ctx, conversation.PostgresConfig{
			DSN:    settings.DSN,
			NodeID: settings.NodeID,
		})
	case config.StoreSQLite, "":
		path := settings.Path
		if path == "" {
			path = defaultPath
		}
		return conversation.OpenSQLite(ctx, path, settings.NodeID)
	default:
		return nil, fmt.Errorf("unknown store driver %q", settings.Driver)
	}
}

// NewCompleter builds the HTTP completion client from settings.
func NewCompleter(settings config.CompletionSettings) *completion.Client {
	var opts []completion.Option
	if settings.Timeout > 0 {
		opts = append(opts, completion.WithTimeout(settings.Timeout))
	}
	if settings.BaseURL != "" {
		opts = append(opts, completion.WithBaseURL(settings.BaseURL))
	}
	if settings.APIVersion != "" {
		opts = append(opts, completion.WithAPIVersion(settings.APIVersion))
	}
	return completion.New(opts...)
}

// NewTraceSource returns the SSE source configured in settings, or nil when
// no trace URL is set.
func NewTraceSource(settings config.TraceSettings) tracechannel.Source {
	if settings.URL == "" {
		return nil
	}
	return tracechannel.NewSSESource(tracechannel.SSEConfig{
		URL:     settings.URL,
		Stream:  settings.Stream,
		Headers: settings.Headers,
	})
}
