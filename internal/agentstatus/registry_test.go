package agentstatus

import (
	"context"
	"testing"
	"time"

	"agentdesk/internal/trace"
)

func TestStatusThenCompleteClearsProgress(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	r.Apply(trace.Event{
		ID:      "1",
		Type:    trace.TypeStatus,
		ToAgent: "QA Tester",
		Details: map[string]any{"status": "working", "progress": 40},
	})

	st := r.Get("QA Tester")
	if st.State != Working || st.Progress == nil || *st.Progress != 40 {
		t.Fatalf("after status event got %+v", st)
	}

	r.Apply(trace.Event{ID: "2", Type: trace.TypeComplete, ToAgent: "QA Tester"})

	st = r.Get("QA Tester")
	if st.State != Complete {
		t.Errorf("expected complete, got %s", st.State)
	}
	if st.Progress != nil {
		t.Errorf("expected progress to be cleared, got %d", *st.Progress)
	}
}

func TestCategoryActiveCount(t *testing.T) {
	r := NewRegistry(Category{
		Name: "Development & Engineering",
		Specialists: []Specialist{
			{Name: "Frontend Developer"},
			{Name: "Backend Architect"},
			{Name: "DevOps Engineer"},
		},
	})
	defer r.Close()

	r.Apply(trace.Event{Type: trace.TypeDelegation, FromAgent: "Orchestrator", ToAgent: "Frontend Developer", Action: "build form"})
	r.Apply(trace.Event{Type: trace.TypeStatus, ToAgent: "Backend Architect", Details: map[string]any{"status": "working"}})

	if got := r.ActiveCount("Development & Engineering"); got != 2 {
		t.Fatalf("expected 2 active agents, got %d", got)
	}
	counts := r.ActiveCounts()
	if len(counts) != 1 || counts[0].Total != 3 || counts[0].Active != 2 {
		t.Errorf("unexpected counts %+v", counts)
	}

	r.Apply(trace.Event{Type: trace.TypeComplete, ToAgent: "Frontend Developer"})
	if got := r.ActiveCount("Development & Engineering"); got != 1 {
		t.Errorf("count must follow agent state, got %d", got)
	}
}

func TestUnmentionedAgentsAreIdle(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	st := r.Get("UI Designer")
	if st.State != Idle || st.Category != "Design & Experience" || st.Role == "" {
		t.Errorf("unexpected default status %+v", st)
	}

	for _, cc := range r.ActiveCounts() {
		if cc.Active != 0 {
			t.Errorf("category %s should start with 0 active, got %d", cc.Category, cc.Active)
		}
	}
}

func TestDelegationDoesNotReviveTerminalAgents(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	r.Apply(trace.Event{Type: trace.TypeError, ToAgent: "Security Auditor"})
	if _, changed := r.Apply(trace.Event{Type: trace.TypeDelegation, ToAgent: "Security Auditor", Action: "rescan"}); changed {
		t.Errorf("delegation to a terminal agent must not change it")
	}
	if st := r.Get("Security Auditor"); st.State != Error {
		t.Errorf("expected error state to stick, got %s", st.State)
	}

	r.Apply(trace.Event{Type: trace.TypeDelegation, ToAgent: "qa tester", Action: "smoke test"})
	st := r.Get("QA Tester")
	if st.State != Working || st.CurrentTask != "smoke test" || st.Name != "QA Tester" {
		t.Errorf("expected case-insensitive match to canonical name, got %+v", st)
	}
}

func TestToolUseUpdatesTaskOfWorkingAgent(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	if _, changed := r.Apply(trace.Event{Type: trace.TypeToolUse, FromAgent: "Technical Writer", Action: "search_docs"}); changed {
		t.Errorf("tool use by an idle agent must not change state")
	}

	r.Apply(trace.Event{Type: trace.TypeDelegation, ToAgent: "Technical Writer", Action: "write guide"})
	r.Apply(trace.Event{Type: trace.TypeToolUse, FromAgent: "Technical Writer", Action: "search_docs"})

	st := r.Get("Technical Writer")
	if st.State != Working || st.CurrentTask != "search_docs" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestUnknownAgentsAreTrackedOutsideTaxonomy(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	r.Apply(trace.Event{Type: trace.TypeStatus, FromAgent: "Data Scientist", Details: map[string]any{"status": "running", "progress": 250}})

	st := r.Get("Data Scientist")
	if st.Name != "Data Scientist" || st.State != Working || st.Category != "" {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Progress == nil || *st.Progress != 100 {
		t.Errorf("expected progress clamped to 100")
	}

	snap := r.Snapshot()
	if last := snap[len(snap)-1]; last.Name != "Data Scientist" {
		t.Errorf("expected extra agent at the end of the snapshot, got %s", last.Name)
	}

	if _, changed := r.Apply(trace.Event{Type: trace.TypeUnknown, RawType: "handoff", ToAgent: "QA Tester"}); changed {
		t.Errorf("unknown events must not touch agent state")
	}
}

func TestSetIsLatestWriteWins(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	progress := 10
	r.Set(Status{Name: "DevOps Engineer", State: Working, CurrentTask: "deploy", Progress: &progress})
	r.Set(Status{Name: "DevOps Engineer", State: Idle})

	st := r.Get("DevOps Engineer")
	if st.State != Idle || st.CurrentTask != "" || st.Progress != nil {
		t.Errorf("expected wholesale replacement, got %+v", st)
	}
	if st.Role == "" {
		t.Errorf("expected role to be filled from the taxonomy")
	}
}

func TestRegistryPublishesChanges(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := r.Subscribe(ctx)

	r.Apply(trace.Event{Type: trace.TypeDelegation, ToAgent: "UX Researcher", Action: "interview plan"})

	select {
	case evt := <-ch:
		if evt.Payload.Name != "UX Researcher" || evt.Payload.State != Working {
			t.Errorf("unexpected payload %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("no change published")
	}
}
