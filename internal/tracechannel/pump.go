package tracechannel

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"agentdesk/internal/agentstatus"
	"agentdesk/internal/trace"
)

// Pump applies every payload to the feed and the registry. It never stops on
// a bad payload: anything it cannot decode shows up as a generic feed entry.
type Pump struct {
	feed      *trace.Feed
	registry  *agentstatus.Registry
	now       func() time.Time
	received  atomic.Uint64
	malformed atomic.Uint64
}

func NewPump(feed *trace.Feed, registry *agentstatus.Registry) *Pump {
	return &Pump{feed: feed, registry: registry, now: time.Now}
}

// Run drains src until it is exhausted or ctx is done.
func (p *Pump) Run(ctx context.Context, src Source) error {
	return src.Run(ctx, p.Handle)
}

// Handle processes one payload. Callers must not invoke it concurrently if
// they rely on arrival order.
func (p *Pump) Handle(payload []byte) {
	p.received.Add(1)
	arrived := p.now()

	if st, ok := decodeStatusSnapshot(payload); ok {
		p.registry.Set(st)
		return
	}

	e, err := trace.Decode(payload, arrived)
	if err != nil {
		p.malformed.Add(1)
		slog.Warn("trace channel: malformed payload", "error", err, "bytes", len(payload))
		p.feed.Append(trace.Unrecognized(payload, arrived, err))
		return
	}
	if !e.Type.Known() {
		slog.Debug("trace channel: unknown event type", "type", e.RawType, "id", e.ID)
	}

	if !p.feed.Append(e) {
		slog.Debug("trace channel: duplicate event dropped", "id", e.ID)
		return
	}
	p.registry.Apply(e)
}

// Stats reports how many payloads were received and how many were malformed.
func (p *Pump) Stats() (received, malformed uint64) {
	return p.received.Load(), p.malformed.Load()
}

type statusSnapshot struct {
	Type         *json.RawMessage `json:"type"`
	Name         string           `json:"name"`
	Role         string           `json:"role"`
	Status       string           `json:"status"`
	CurrentTask  string           `json:"currentTask"`
	CurrentTask2 string           `json:"current_task"`
	Progress     *float64         `json:"progress"`
}

// decodeStatusSnapshot recognizes a bare AgentStatus object: it has a name
// and a status but no event type.
func decodeStatusSnapshot(payload []byte) (agentstatus.Status, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return agentstatus.Status{}, false
	}

	var snap statusSnapshot
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return agentstatus.Status{}, false
	}
	if snap.Type != nil || strings.TrimSpace(snap.Name) == "" || snap.Status == "" {
		return agentstatus.Status{}, false
	}

	state, ok := agentstatus.ParseState(snap.Status)
	if !ok {
		return agentstatus.Status{}, false
	}

	st := agentstatus.Status{
		Name:        snap.Name,
		Role:        snap.Role,
		State:       state,
		CurrentTask: snap.CurrentTask,
	}
	if st.CurrentTask == "" {
		st.CurrentTask = snap.CurrentTask2
	}
	if snap.Progress != nil {
		v := int(*snap.Progress)
		st.Progress = &v
	}
	return st, true
}
