package server

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"oats/pkg/types"
)

// terminalCacheSize bounds how many finished investigations stay queryable.
const terminalCacheSize = 512

// Investigation is the control plane's record of one investigation.
type Investigation struct {
	ID        string                     `json:"id"`
	Goal      string                     `json:"goal"`
	MaxTurns  int                        `json:"max_turns"`
	Status    types.InvestigationStatus  `json:"status"`
	JobName   string                     `json:"job_name,omitempty"`
	Verdict   types.Verdict              `json:"verdict,omitempty"`
	Summary   string                     `json:"summary,omitempty"`
	Error     string                     `json:"error,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

func (i *Investigation) clone() *Investigation {
	copied := *i
	return &copied
}

// Tracker keeps active investigations in a map and evicts finished ones into
// a bounded LRU so a long-lived control plane cannot grow without limit.
type Tracker struct {
	mu       sync.RWMutex
	active   map[string]*Investigation
	terminal *lru.Cache[string, *Investigation]
}

// NewTracker creates an empty tracker.
func NewTracker() (*Tracker, error) {
	cache, err := lru.New[string, *Investigation](terminalCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create terminal cache: %w", err)
	}
	return &Tracker{
		active:   make(map[string]*Investigation),
		terminal: cache,
	}, nil
}

// Add registers a new investigation in the pending state.
func (t *Tracker) Add(inv *Investigation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	if inv.Status == "" {
		inv.Status = types.StatusPending
	}
	t.active[inv.ID] = inv
}

// Get returns a copy of the investigation, checking active then terminal.
func (t *Tracker) Get(id string) (*Investigation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if inv, ok := t.active[id]; ok {
		return inv.clone(), true
	}
	if inv, ok := t.terminal.Get(id); ok {
		return inv.clone(), true
	}
	return nil, false
}

// List returns copies of every known investigation, active first.
func (t *Tracker) List() []*Investigation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Investigation, 0, len(t.active)+t.terminal.Len())
	for _, inv := range t.active {
		out = append(out, inv.clone())
	}
	for _, key := range t.terminal.Keys() {
		if inv, ok := t.terminal.Get(key); ok {
			out = append(out, inv.clone())
		}
	}
	return out
}

// Transition moves an investigation to a new status, enforcing lifecycle
// legality. Terminal statuses evict the record into the LRU.
func (t *Tracker) Transition(id string, status types.InvestigationStatus, update func(*Investigation)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	inv, ok := t.active[id]
	if !ok {
		if _, finished := t.terminal.Get(id); finished {
			return fmt.Errorf("investigation %s already finished", id)
		}
		return fmt.Errorf("investigation %s not found", id)
	}

	next, err := inv.Status.Transition(status)
	if err != nil {
		return err
	}
	inv.Status = next
	inv.UpdatedAt = time.Now().UTC()
	if update != nil {
		update(inv)
	}

	if next.Terminal() {
		delete(t.active, id)
		t.terminal.Add(id, inv)
	}
	return nil
}

// setJobName records the launched job's name on an active investigation.
func (t *Tracker) setJobName(id, jobName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if inv, ok := t.active[id]; ok {
		inv.JobName = jobName
		inv.UpdatedAt = time.Now().UTC()
	}
}

// ActiveCount reports how many investigations are not yet terminal.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}
