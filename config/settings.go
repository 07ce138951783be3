package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type StoreDriver string

const (
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
	StoreMemory   StoreDriver = "memory"
)

// CompletionSettings configures the completion backend client.
type CompletionSettings struct {
	BaseURL    string        `yaml:"base_url,omitempty"`
	APIVersion string        `yaml:"api_version,omitempty"`
	Model      string        `yaml:"model"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
}

type StoreSettings struct {
	Driver StoreDriver `yaml:"driver"`
	// Path is the SQLite file; empty means the default under the config dir.
	Path   string `yaml:"path,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
	NodeID int64  `yaml:"node_id"`
	// HistoryLimit caps how many conversations are listed.
	HistoryLimit int `yaml:"history_limit"`
}

type TraceSettings struct {
	URL       string            `yaml:"url,omitempty"`
	Stream    string            `yaml:"stream,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Retention int               `yaml:"retention"`
}

type LogSettings struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Settings is the content of config.yaml.
type Settings struct {
	Completion CompletionSettings `yaml:"completion"`
	Store      StoreSettings      `yaml:"store"`
	Trace      TraceSettings      `yaml:"trace"`
	Log        LogSettings        `yaml:"log"`
}

// Defaults returns the settings used when config.yaml is missing or leaves a
// field empty.
func Defaults() Settings {
	return Settings{
		Completion: CompletionSettings{
			Model:     DefaultModelAlias,
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		},
		Store: StoreSettings{
			Driver:       StoreSQLite,
			NodeID:       1,
			HistoryLimit: 50,
		},
		Trace: TraceSettings{
			Retention: 500,
		},
		Log: LogSettings{
			Level: "info",
		},
	}
}

// Load reads config.yaml from the config directory.
func Load() (Settings, error) {
	path, err := GetConfigFile()
	if err != nil {
		return Settings{}, err
	}
	return LoadFile(path)
}

// LoadFile reads settings from path, falling back to defaults when the file
// does not exist. ${VAR} references in string values are expanded.
func LoadFile(path string) (Settings, error) {
	settings := Defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return settings, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	settings.expand()
	settings.fillDefaults()

	if err := settings.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return settings, nil
}

// Save writes settings to path.
func Save(path string, settings Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (s *Settings) expand() {
	s.Completion.BaseURL = expandEnvVars(s.Completion.BaseURL)
	s.Store.DSN = expandEnvVars(s.Store.DSN)
	s.Store.Path = expandEnvVars(s.Store.Path)
	s.Trace.URL = expandEnvVars(s.Trace.URL)
	for k, v := range s.Trace.Headers {
		s.Trace.Headers[k] = expandEnvVars(v)
	}
}

func (s *Settings) fillDefaults() {
	def := Defaults()
	if s.Completion.Model == "" {
		s.Completion.Model = def.Completion.Model
	}
	if s.Completion.MaxTokens <= 0 {
		s.Completion.MaxTokens = def.Completion.MaxTokens
	}
	if s.Completion.Timeout <= 0 {
		s.Completion.Timeout = def.Completion.Timeout
	}
	if s.Store.Driver == "" {
		s.Store.Driver = def.Store.Driver
	}
	if s.Store.HistoryLimit <= 0 {
		s.Store.HistoryLimit = def.Store.HistoryLimit
	}
	if s.Log.Level == "" {
		s.Log.Level = def.Log.Level
	}
}

// Validate reports settings that cannot work.
func (s Settings) Validate() error {
	switch s.Store.Driver {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(s.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", s.Store.Driver)
	}
	if s.Store.NodeID < 0 || s.Store.NodeID > 1023 {
		return fmt.Errorf("store.node_id must be between 0 and 1023")
	}
	if s.Trace.URL != "" && !strings.HasPrefix(s.Trace.URL, "http://") && !strings.HasPrefix(s.Trace.URL, "https://") {
		return fmt.Errorf("trace.url must be an http(s) URL, got %s", s.Trace.URL)
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR_NAME}
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
