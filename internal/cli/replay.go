package cli

import (
	"context"
	"io"
	"time"

	"agentdesk/internal/agentstatus"
	"agentdesk/internal/trace"
	"agentdesk/internal/tracechannel"
)

// ReplayTrace feeds a JSON-lines trace capture through the same pump the UI
// uses, printing every new feed entry as it is appended and the category
// activity at the end.
func ReplayTrace(ctx context.Context, r io.Reader, emitter EventEmitter, retention int, delay time.Duration) error {
	feed := trace.NewFeed(retention)
	defer feed.Close()
	registry := agentstatus.NewRegistry()
	defer registry.Close()

	src := tracechannel.NewReaderSource(r)
	src.Delay = delay
	pump := tracechannel.NewPump(feed, registry)

	appended := 0
	err := src.Run(ctx, func(payload []byte) {
		pump.Handle(payload)
		total := feed.Len() + feed.Evicted()
		if n := total - appended; n > 0 {
			for _, e := range feed.Tail(n) {
				emitTrace(emitter, e)
			}
		}
		appended = total
	})

	for _, c := range registry.ActiveCounts() {
		emitter.EmitAgentStatus(AgentStatusEvent{Category: c.Category, Active: c.Active, Total: c.Total})
	}
	return err
}

func emitTrace(emitter EventEmitter, e trace.Event) {
	kind := e.RawType
	if kind == "" {
		kind = string(e.Type)
	}
	emitter.EmitTraceEvent(TraceLineEvent{
		ID:        e.ID,
		EventType: kind,
		Text:      trace.Describe(e),
		Timestamp: e.Timestamp,
	})
}
