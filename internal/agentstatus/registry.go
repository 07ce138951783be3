// Package agentstatus tracks the state of every backend agent and derives
// per-category activity counts from it.
package agentstatus

import (
	"context"
	"sort"
	"strings"
	"sync"

	"agentdesk/internal/pubsub"
	"agentdesk/internal/trace"
)

type State string

const (
	Idle     State = "idle"
	Working  State = "working"
	Complete State = "complete"
	Error    State = "error"
)

// ParseState maps a status string to a State.
func ParseState(s string) (State, bool) {
	switch State(strings.ToLower(strings.TrimSpace(s))) {
	case Idle:
		return Idle, true
	case Working, "active", "running", "in_progress":
		return Working, true
	case Complete, "completed", "done":
		return Complete, true
	case Error, "failed":
		return Error, true
	default:
		return "", false
	}
}

func (s State) Terminal() bool { return s == Complete || s == Error }

// Status is the latest known state of one agent. Progress is nil when unknown.
type Status struct {
	Name        string
	Role        string
	Category    string
	State       State
	CurrentTask string
	Progress    *int
}

// CategoryCount is the derived activity of one category.
type CategoryCount struct {
	Category string
	Active   int
	Total    int
}

type entry struct {
	category string
	order    int
}

// Registry holds one Status per agent name, latest write wins.
type Registry struct {
	mu         sync.RWMutex
	categories []Category
	known      map[string]entry  // lower-cased name -> taxonomy position
	canonical  map[string]string // lower-cased name -> display name
	roles      map[string]string
	statuses   map[string]Status
	broker     *pubsub.Broker[Status]
}

// NewRegistry builds a registry over the given taxonomy, or DefaultCategories
// when none is given.
func NewRegistry(categories ...Category) *Registry {
	if len(categories) == 0 {
		categories = DefaultCategories
	}

	r := &Registry{
		categories: categories,
		known:      make(map[string]entry),
		canonical:  make(map[string]string),
		roles:      make(map[string]string),
		statuses:   make(map[string]Status),
		broker:     pubsub.NewBroker[Status]("agent-status"),
	}

	order := 0
	for _, c := range categories {
		for _, s := range c.Specialists {
			key := normalize(s.Name)
			r.known[key] = entry{category: c.Name, order: order}
			r.canonical[key] = s.Name
			r.roles[key] = s.Role
			order++
		}
	}
	return r
}

// Get returns the status of name. Agents never mentioned read as idle.
func (r *Registry) Get(name string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(normalize(name), name)
}

func (r *Registry) getLocked(key, display string) Status {
	if st, ok := r.statuses[key]; ok {
		return st
	}
	name := r.canonical[key]
	if name == "" {
		name = strings.TrimSpace(display)
	}
	return Status{
		Name:     name,
		Role:     r.roles[key],
		Category: r.known[key].category,
		State:    Idle,
	}
}

// Apply folds a trace event into the registry and returns the resulting
// status of the affected agent. The boolean is false when the event does not
// touch any agent state.
func (r *Registry) Apply(e trace.Event) (Status, bool) {
	r.mu.Lock()
	st, changed := r.applyLocked(e)
	r.mu.Unlock()

	if changed {
		r.broker.Publish(pubsub.UpdatedEvent, st)
	}
	return st, changed
}

func (r *Registry) applyLocked(e trace.Event) (Status, bool) {
	switch e.Type {
	case trace.TypeStatus:
		name := e.Agent()
		key := r.key(name)
		if key == "" {
			return Status{}, false
		}
		st := r.getLocked(key, name)
		if raw, ok := e.DetailString("status"); ok {
			if state, ok := ParseState(raw); ok {
				st.State = state
			}
		}
		if task := currentTask(e); task != "" {
			st.CurrentTask = task
		}
		if p, ok := e.DetailInt("progress"); ok {
			p = clamp(p)
			st.Progress = &p
		}
		return r.storeLocked(key, st), true

	case trace.TypeDelegation:
		name := e.ToAgent
		key := r.key(name)
		if key == "" {
			return Status{}, false
		}
		st := r.getLocked(key, name)
		if st.State.Terminal() {
			return st, false
		}
		st.State = Working
		if e.Action != "" {
			st.CurrentTask = e.Action
		}
		return r.storeLocked(key, st), true

	case trace.TypeComplete:
		name := e.Agent()
		key := r.key(name)
		if key == "" {
			return Status{}, false
		}
		st := r.getLocked(key, name)
		st.State = Complete
		st.Progress = nil
		return r.storeLocked(key, st), true

	case trace.TypeError:
		name := e.Agent()
		key := r.key(name)
		if key == "" {
			return Status{}, false
		}
		st := r.getLocked(key, name)
		st.State = Error
		return r.storeLocked(key, st), true

	case trace.TypeToolUse, trace.TypeArtifact, trace.TypeResponse:
		name := e.FromAgent
		if name == "" {
			name = e.ToAgent
		}
		key := r.key(name)
		if key == "" || e.Action == "" {
			return Status{}, false
		}
		st := r.getLocked(key, name)
		if st.State != Working {
			return st, false
		}
		st.CurrentTask = e.Action
		return r.storeLocked(key, st), true

	default:
		return Status{}, false
	}
}

// Set replaces the status of st.Name wholesale, as delivered by a status
// snapshot on the trace channel.
func (r *Registry) Set(st Status) Status {
	key := r.key(st.Name)
	if key == "" {
		return Status{}
	}

	r.mu.Lock()
	base := r.getLocked(key, st.Name)
	if st.Role == "" {
		st.Role = base.Role
	}
	if st.State == "" {
		st.State = Idle
	}
	if st.Progress != nil {
		p := clamp(*st.Progress)
		st.Progress = &p
	}
	st = r.storeLocked(key, st)
	r.mu.Unlock()

	r.broker.Publish(pubsub.UpdatedEvent, st)
	return st
}

func (r *Registry) storeLocked(key string, st Status) Status {
	if name := r.canonical[key]; name != "" {
		st.Name = name
	}
	st.Category = r.known[key].category
	r.statuses[key] = st
	return st
}

// Snapshot returns every known specialist plus any other agent seen so far,
// in taxonomy order followed by the rest sorted by name.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.known)+len(r.statuses))
	for _, c := range r.categories {
		for _, s := range c.Specialists {
			out = append(out, r.getLocked(normalize(s.Name), s.Name))
		}
	}

	var extra []Status
	for key, st := range r.statuses {
		if _, ok := r.known[key]; !ok {
			extra = append(extra, st)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	return append(out, extra...)
}

// ActiveCounts recomputes, per category, how many agents are working.
func (r *Registry) ActiveCounts() []CategoryCount {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make([]CategoryCount, 0, len(r.categories))
	for _, c := range r.categories {
		cc := CategoryCount{Category: c.Name, Total: len(c.Specialists)}
		for _, s := range c.Specialists {
			if r.getLocked(normalize(s.Name), s.Name).State == Working {
				cc.Active++
			}
		}
		counts = append(counts, cc)
	}
	return counts
}

// ActiveCount returns the number of working agents in the named category.
func (r *Registry) ActiveCount(category string) int {
	for _, cc := range r.ActiveCounts() {
		if cc.Category == category {
			return cc.Active
		}
	}
	return 0
}

func (r *Registry) Categories() []Category { return r.categories }

// Subscribe streams every status change.
func (r *Registry) Subscribe(ctx context.Context) <-chan pubsub.Event[Status] {
	return r.broker.Subscribe(ctx)
}

func (r *Registry) Close() { r.broker.Shutdown() }

func (r *Registry) key(name string) string {
	return normalize(name)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func currentTask(e trace.Event) string {
	for _, key := range []string{"currentTask", "current_task", "task"} {
		if v, ok := e.DetailString(key); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return e.Action
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
