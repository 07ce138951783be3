// Package trace models the live activity feed of the multi-agent backend.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type discriminates trace events. Decode maps any value outside the known
// set to TypeUnknown and keeps the original string in Event.RawType.
type Type string

const (
	TypeDelegation Type = "delegation"
	TypeToolUse    Type = "tool_use"
	TypeArtifact   Type = "artifact"
	TypeError      Type = "error"
	TypeComplete   Type = "complete"
	TypeStatus     Type = "status"
	TypeResponse   Type = "response"
	TypeUnknown    Type = "unknown"
)

func (t Type) Known() bool {
	switch t {
	case TypeDelegation, TypeToolUse, TypeArtifact, TypeError, TypeComplete, TypeStatus, TypeResponse:
		return true
	default:
		return false
	}
}

// ErrMalformedEvent is returned for payloads that are not a JSON object.
var ErrMalformedEvent = errors.New("malformed trace event")

// Artifact is something an agent produced, such as a file or a document.
type Artifact struct {
	Name    string `json:"name,omitempty"`
	Kind    string `json:"type,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
}

// Event is one immutable entry of the trace feed.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      Type
	RawType   string
	FromAgent string
	ToAgent   string
	Action    string
	Details   map[string]any
	Artifact  *Artifact
}

// Agent returns the agent the event is about: the target when present,
// otherwise the sender.
func (e Event) Agent() string {
	if e.ToAgent != "" {
		return e.ToAgent
	}
	return e.FromAgent
}

// DetailString returns Details[key] rendered as a string.
func (e Event) DetailString(key string) (string, bool) {
	v, ok := e.Details[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// DetailInt returns Details[key] as an int, accepting numbers and numeric strings.
func (e Event) DetailInt(key string) (int, bool) {
	v, ok := e.Details[key]
	if !ok || v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	case float64:
		return int(val), true
	case int:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(val), "%"), 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

type wireEvent struct {
	ID         json.RawMessage `json:"id"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Type       json.RawMessage `json:"type"`
	FromAgent  string          `json:"fromAgent"`
	ToAgent    string          `json:"toAgent"`
	FromAgent2 string          `json:"from_agent"`
	ToAgent2   string          `json:"to_agent"`
	Action     string          `json:"action"`
	Details    json.RawMessage `json:"details"`
	Artifact   json.RawMessage `json:"artifact"`
}

// Decode parses one payload from the trace channel. It only fails when the
// payload is not a JSON object; every other irregularity degrades: unknown
// types become TypeUnknown, a missing id is generated and a missing or
// unparseable timestamp becomes the arrival time.
func Decode(data []byte, arrived time.Time) (Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, fmt.Errorf("%w: not a JSON object", ErrMalformedEvent)
	}

	var w wireEvent
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	rawType := decodeID(w.Type)
	if rawType == "" && len(w.Type) > 0 && string(w.Type) != "null" {
		rawType = string(w.Type)
	}

	e := Event{
		ID:        decodeID(w.ID),
		Timestamp: decodeTimestamp(w.Timestamp, arrived),
		RawType:   rawType,
		FromAgent: firstNonEmpty(w.FromAgent, w.FromAgent2),
		ToAgent:   firstNonEmpty(w.ToAgent, w.ToAgent2),
		Action:    w.Action,
		Details:   decodeDetails(w.Details),
		Artifact:  decodeArtifact(w.Artifact),
	}

	e.Type = Type(strings.ToLower(strings.TrimSpace(rawType)))
	if !e.Type.Known() {
		e.Type = TypeUnknown
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	return e, nil
}

// Unrecognized wraps a payload that could not be decoded at all so it can
// still be shown in the feed.
func Unrecognized(data []byte, arrived time.Time, cause error) Event {
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200] + "…"
	}
	return Event{
		ID:        uuid.NewString(),
		Timestamp: arrived,
		Type:      TypeUnknown,
		Action:    text,
		Details:   map[string]any{"error": cause.Error()},
	}
}

// decodeID reads a string or numeric JSON value as a string.
func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func decodeTimestamp(raw json.RawMessage, fallback time.Time) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n)
		}
		return fallback
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return fromEpoch(int64(f))
	}
	return fallback
}

// fromEpoch accepts seconds or milliseconds since the epoch.
func fromEpoch(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

func decodeDetails(raw json.RawMessage) map[string]any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err == nil {
		return obj
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return map[string]any{"message": s}
	}
	return map[string]any{"raw": string(raw)}
}

func decodeArtifact(raw json.RawMessage) *Artifact {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err == nil {
		return &a
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return &Artifact{Name: s}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
