package tracechannel

import (
	"context"
	"strings"
	"testing"
	"time"

	"agentdesk/internal/agentstatus"
	"agentdesk/internal/trace"
)

const replay = `{"id":"1","type":"delegation","fromAgent":"Orchestrator","toAgent":"QA Tester","action":"verify checkout"}
{"id":"2","type":"status","toAgent":"QA Tester","details":{"status":"working","progress":40}}
this is not json

{"id":"3","type":"handoff","fromAgent":"QA Tester","toAgent":"Technical Writer","action":"notes"}
{"id":"2","type":"status","toAgent":"QA Tester","details":{"status":"error"}}
{"name":"UI Designer","role":"Designer","status":"working","currentTask":"mockups","progress":55}
{"id":"4","type":"complete","toAgent":"QA Tester"}
`

func TestPumpAppliesReplayInArrivalOrder(t *testing.T) {
	feed := trace.NewFeed(0)
	defer feed.Close()
	registry := agentstatus.NewRegistry()
	defer registry.Close()

	pump := NewPump(feed, registry)
	if err := pump.Run(context.Background(), NewReaderSource(strings.NewReader(replay))); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := feed.Events()
	var kinds []trace.Type
	for _, e := range events {
		kinds = append(kinds, e.Type)
	}
	want := []trace.Type{trace.TypeDelegation, trace.TypeStatus, trace.TypeUnknown, trace.TypeUnknown, trace.TypeComplete}
	if len(kinds) != len(want) {
		t.Fatalf("feed types = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("feed types = %v, want %v", kinds, want)
		}
	}
	if !strings.Contains(events[2].Action, "this is not json") {
		t.Errorf("malformed payload should render generically, got %+v", events[2])
	}
	if events[3].RawType != "handoff" {
		t.Errorf("unknown type should keep raw type, got %q", events[3].RawType)
	}

	qa := registry.Get("QA Tester")
	if qa.State != agentstatus.Complete || qa.Progress != nil {
		t.Errorf("duplicate event must be ignored and complete must win, got %+v", qa)
	}

	designer := registry.Get("UI Designer")
	if designer.State != agentstatus.Working || designer.CurrentTask != "mockups" || designer.Progress == nil || *designer.Progress != 55 {
		t.Errorf("status snapshot not applied: %+v", designer)
	}

	received, malformed := pump.Stats()
	if received != 7 || malformed != 1 {
		t.Errorf("stats = (%d, %d), want (7, 1)", received, malformed)
	}
}

func TestReaderSourceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := NewReaderSource(strings.NewReader("{\"id\":\"a\"}\n{\"id\":\"b\"}\n{\"id\":\"c\"}\n"))
	src.Delay = time.Hour

	var got []string
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(b []byte) { got = append(got, string(b)) })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("reader source ignored cancellation")
	}
	if len(got) != 1 {
		t.Errorf("expected exactly one payload before cancel, got %v", got)
	}
}

func TestDecodeStatusSnapshotIgnoresEvents(t *testing.T) {
	if _, ok := decodeStatusSnapshot([]byte(`{"type":"status","name":"QA Tester","status":"working"}`)); ok {
		t.Errorf("typed events are not snapshots")
	}
	if _, ok := decodeStatusSnapshot([]byte(`{"name":"QA Tester","status":"sleeping"}`)); ok {
		t.Errorf("unknown states are not snapshots")
	}
	st, ok := decodeStatusSnapshot([]byte(`{"name":"QA Tester","status":"complete"}`))
	if !ok || st.State != agentstatus.Complete {
		t.Errorf("expected snapshot, got %+v, %v", st, ok)
	}
}

func TestReconnectPolicyStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &reconnectPolicy{ctx: ctx, initial: time.Second, max: 3 * time.Second}

	for _, want := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second} {
		if got := p.NextBackOff(); got != want {
			t.Fatalf("NextBackOff = %v, want %v", got, want)
		}
	}
	p.Reset()
	if got := p.NextBackOff(); got != time.Second {
		t.Errorf("expected reset to restart at initial, got %v", got)
	}

	cancel()
	if got := p.NextBackOff(); got != -1 {
		t.Errorf("expected stop after cancel, got %v", got)
	}
}
