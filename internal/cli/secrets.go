package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"agentdesk/internal/credentials"
)

// SetAPIKey stores the completion backend key. An empty value is read from
// the terminal without echo.
func SetAPIKey(provider *credentials.Provider, value string, out io.Writer) error {
	secret, err := ensureSecretInput(value, fmt.Sprintf("Enter value for %s: ", credentials.APIKeyName), out)
	if err != nil {
		return err
	}
	if err := provider.Set(secret); err != nil {
		return err
	}
	fmt.Fprintf(out, "Stored %s (%s)\n", credentials.APIKeyName, provider.Source())
	if provider.Source() == credentials.SourceEnv {
		fmt.Fprintf(out, "Note: the %s environment variable still takes precedence\n", credentials.APIKeyName)
	}
	return nil
}

func DeleteAPIKey(provider *credentials.Provider, out io.Writer) error {
	if err := provider.Delete(); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return fmt.Errorf("no %s is stored", credentials.APIKeyName)
		}
		return err
	}
	fmt.Fprintf(out, "Removed %s\n", credentials.APIKeyName)
	return nil
}

// APIKeyStatus reports whether a key is available and where it comes from.
func APIKeyStatus(provider *credentials.Provider, out io.Writer) error {
	if err := provider.Reload(); err != nil {
		fmt.Fprintf(out, "Warning: %v\n", err)
	}
	if _, ok := provider.APIKey(); ok {
		fmt.Fprintf(out, "%s is configured (%s)\n", credentials.APIKeyName, provider.Source())
	} else {
		fmt.Fprintf(out, "%s is not configured\n", credentials.APIKeyName)
	}
	return nil
}

func ensureSecretInput(raw, prompt string, out io.Writer) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		return trimmed, nil
	}

	fmt.Fprint(out, prompt)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}

	trimmed = strings.TrimSpace(string(bytes))
	if trimmed == "" {
		return "", fmt.Errorf("secret value cannot be empty")
	}

	return trimmed, nil
}
