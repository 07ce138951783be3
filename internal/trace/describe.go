package trace

import (
	"fmt"
	"sort"
	"strings"
)

// Label is the short tag shown in front of a feed entry.
func (t Type) Label() string {
	switch t {
	case TypeDelegation:
		return "DELEGATE"
	case TypeToolUse:
		return "TOOL"
	case TypeArtifact:
		return "ARTIFACT"
	case TypeError:
		return "ERROR"
	case TypeComplete:
		return "DONE"
	case TypeStatus:
		return "STATUS"
	case TypeResponse:
		return "RESPONSE"
	default:
		return "EVENT"
	}
}

// Describe renders an event as a single line of text. Unknown types fall back
// to a generic rendering that still shows the agents, action and details.
func Describe(e Event) string {
	var b strings.Builder

	switch e.Type {
	case TypeDelegation:
		fmt.Fprintf(&b, "%s → %s", orUnknown(e.FromAgent), orUnknown(e.ToAgent))
		if e.Action != "" {
			fmt.Fprintf(&b, ": %s", e.Action)
		}
	case TypeToolUse:
		fmt.Fprintf(&b, "%s used %s", orUnknown(e.Agent()), orDefault(e.Action, "a tool"))
	case TypeArtifact:
		fmt.Fprintf(&b, "%s produced %s", orUnknown(e.Agent()), artifactName(e))
	case TypeError:
		fmt.Fprintf(&b, "%s failed", orUnknown(e.Agent()))
		if msg := errorMessage(e); msg != "" {
			fmt.Fprintf(&b, ": %s", msg)
		}
	case TypeComplete:
		fmt.Fprintf(&b, "%s completed", orUnknown(e.Agent()))
		if e.Action != "" {
			fmt.Fprintf(&b, " %s", e.Action)
		}
	case TypeStatus:
		status, _ := e.DetailString("status")
		fmt.Fprintf(&b, "%s is %s", orUnknown(e.Agent()), orDefault(status, "active"))
		if p, ok := e.DetailInt("progress"); ok {
			fmt.Fprintf(&b, " (%d%%)", p)
		}
		if e.Action != "" {
			fmt.Fprintf(&b, ": %s", e.Action)
		}
	case TypeResponse:
		fmt.Fprintf(&b, "%s responded", orUnknown(e.Agent()))
		if e.Action != "" {
			fmt.Fprintf(&b, ": %s", e.Action)
		}
	default:
		return describeGeneric(e)
	}

	return b.String()
}

func describeGeneric(e Event) string {
	var parts []string
	if e.RawType != "" {
		parts = append(parts, "["+e.RawType+"]")
	}
	switch {
	case e.FromAgent != "" && e.ToAgent != "":
		parts = append(parts, e.FromAgent+" → "+e.ToAgent)
	case e.Agent() != "":
		parts = append(parts, e.Agent())
	}
	if e.Action != "" {
		parts = append(parts, e.Action)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s=%v", k, e.Details[k]))
		}
		parts = append(parts, "{"+strings.Join(kv, " ")+"}")
	}
	if len(parts) == 0 {
		return "(empty event)"
	}
	return strings.Join(parts, " ")
}

func artifactName(e Event) string {
	if e.Artifact != nil {
		if e.Artifact.Name != "" {
			return e.Artifact.Name
		}
		if e.Artifact.URL != "" {
			return e.Artifact.URL
		}
	}
	return orDefault(e.Action, "an artifact")
}

func errorMessage(e Event) string {
	for _, key := range []string{"error", "message"} {
		if msg, ok := e.DetailString(key); ok && msg != "" {
			return msg
		}
	}
	return e.Action
}

func orUnknown(s string) string { return orDefault(s, "unknown agent") }

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
