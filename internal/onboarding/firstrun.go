// Package onboarding runs the first-run setup wizard.
package onboarding

import (
	"os"

	"agentdesk/config"
)

// IsFirstRun reports whether setup has never completed, i.e. there is no
// config.yaml and no API key available from any source.
func IsFirstRun(configFile string, keys KeyStore) bool {
	if _, err := os.Stat(configFile); err == nil {
		return false
	}
	if keys != nil {
		if _, ok := keys.APIKey(); ok {
			return false
		}
	}
	return true
}

// LoadPreferences returns the saved settings, or the defaults when setup has
// not been run yet.
func LoadPreferences(configFile string) (config.Settings, error) {
	return config.LoadFile(configFile)
}
