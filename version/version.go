package version

import "fmt"

// Version and Commit are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = ""
)

// Get returns the current version.
func Get() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// String is the one-line form printed by `agentdesk version`.
func String() string {
	if Commit == "" {
		return fmt.Sprintf("agentdesk %s", Get())
	}
	short := Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("agentdesk %s (%s)", Get(), short)
}
