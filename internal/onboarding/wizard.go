package onboarding

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"agentdesk/config"
)

// ErrCancelled is returned when the user aborts the wizard.
var ErrCancelled = errors.New("setup cancelled")

// KeyStore is the part of the credential provider the wizard needs.
type KeyStore interface {
	APIKey() (string, bool)
	Set(key string) error
}

// Answers holds what the wizard collected.
type Answers struct {
	APIKey   string
	Model    string
	Driver   string
	DSN      string
	TraceURL string
}

// RunWizard asks for the API key, model, storage backend and trace channel,
// then writes config.yaml and stores the key.
func RunWizard(configFile string, keys KeyStore, out io.Writer) error {
	current, err := LoadPreferences(configFile)
	if err != nil {
		return err
	}
	_, hasKey := keys.APIKey()

	answers := Answers{
		Model:    current.Completion.Model,
		Driver:   string(current.Store.Driver),
		DSN:      current.Store.DSN,
		TraceURL: current.Trace.URL,
	}

	theme := createHuhTheme()
	theme.FieldSeparator = lipgloss.NewStyle().SetString("\n")

	keyDesc := "Used for every completion request"
	if hasKey {
		keyDesc = "Leave empty to keep the stored key"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Welcome to agentdesk").
				Description("This setup will:\n\n 1. Store your API key\n 2. Choose a model and where conversations are kept\n 3. Point the activity feed at your agent backend\n\nPress Enter to continue."),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("API key").
				Description(keyDesc).
				Value(&answers.APIKey).
				Password(true).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" && !hasKey {
						return errors.New("API key is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Model").
				Options(
					huh.NewOption("Sonnet (balanced)", "sonnet"),
					huh.NewOption("Haiku (fast)", "haiku"),
					huh.NewOption("Opus (most capable)", "opus"),
				).
				Value(&answers.Model),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Conversation storage").
				Options(
					huh.NewOption("SQLite file in the config directory", string(config.StoreSQLite)),
					huh.NewOption("PostgreSQL", string(config.StorePostgres)),
					huh.NewOption("In memory (nothing is saved)", string(config.StoreMemory)),
				).
				Value(&answers.Driver),
			huh.NewInput().
				Title("PostgreSQL DSN").
				Description("Only used with PostgreSQL, e.g. postgres://user@localhost/agentdesk").
				Value(&answers.DSN),
			huh.NewInput().
				Title("Trace channel URL").
				Description("Server-sent events endpoint of the agent backend (optional)").
				Value(&answers.TraceURL),
		),
	).
		WithTheme(theme).
		WithWidth(80).
		WithShowHelp(false)

	if err := form.Run(); err != nil {
		return ErrCancelled
	}

	return Apply(configFile, keys, current, answers, out)
}

// Apply validates answers against current, then saves config.yaml and the
// API key. Nothing is written when validation fails.
func Apply(configFile string, keys KeyStore, current config.Settings, answers Answers, out io.Writer) error {
	updated := merge(current, answers)
	if err := updated.Validate(); err != nil {
		return err
	}

	if err := config.Save(configFile, updated); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(out, "Saved %s\n", configFile)

	if key := strings.TrimSpace(answers.APIKey); key != "" {
		if err := keys.Set(key); err != nil {
			return fmt.Errorf("store API key: %w", err)
		}
		fmt.Fprintln(out, "Stored API key")
	}
	return nil
}

func merge(current config.Settings, a Answers) config.Settings {
	s := current
	if m := strings.TrimSpace(a.Model); m != "" {
		s.Completion.Model = m
	}
	if d := strings.TrimSpace(a.Driver); d != "" {
		s.Store.Driver = config.StoreDriver(d)
	}
	s.Store.DSN = strings.TrimSpace(a.DSN)
	s.Trace.URL = strings.TrimSpace(a.TraceURL)
	return s
}

func createHuhTheme() *huh.Theme {
	primary := lipgloss.Color("#7aa2f7")
	fg := lipgloss.Color("#c0caf5")
	fgMuted := lipgloss.Color("#565f89")
	errColor := lipgloss.Color("#f7768e")
	success := lipgloss.Color("#9ece6a")

	theme := huh.ThemeBase16()
	base := lipgloss.NewStyle().Foreground(fg)

	theme.Focused.Base = base.MarginLeft(1)
	theme.Focused.Title = base.Foreground(primary).Bold(true)
	theme.Focused.Description = base.Foreground(fgMuted)
	theme.Focused.ErrorIndicator = base.Foreground(errColor)
	theme.Focused.ErrorMessage = base.Foreground(errColor)
	theme.Focused.SelectSelector = base.Foreground(primary).Bold(true)
	theme.Focused.SelectedOption = base.Foreground(success)
	theme.Focused.TextInput.Cursor = base.Foreground(primary)
	theme.Focused.TextInput.Prompt = base.Foreground(primary)

	theme.Blurred = theme.Focused
	theme.Blurred.Base = base.MarginLeft(1)
	theme.Blurred.Title = base.Foreground(fgMuted)
	return theme
}
