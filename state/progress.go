package state

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Progress tracks the milestones one task run passes through, with
// completion timestamps. It exists for auditing and the status endpoint,
// never for control flow.
type Progress struct {
	mu      sync.Mutex
	taskID  string
	reached map[string]time.Time
	order   []string
}

// NewProgress creates an empty tracker for taskID.
func NewProgress(taskID string) *Progress {
	return &Progress{taskID: taskID, reached: make(map[string]time.Time)}
}

// Mark records a milestone as completed. Re-marking is logged and ignored;
// the first timestamp stands.
func (p *Progress) Mark(milestone string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.reached[milestone]; ok {
		log.Warnf("milestone %q already marked for task %s", milestone, p.taskID)
		return
	}
	p.reached[milestone] = time.Now()
	p.order = append(p.order, milestone)
	log.Infof("task %s reached milestone %q", p.taskID, milestone)
}

// HasReached reports whether the milestone was marked.
func (p *Progress) HasReached(milestone string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.reached[milestone]
	return ok
}

// Timestamp returns when the milestone was marked, or the zero time.
func (p *Progress) Timestamp(milestone string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reached[milestone]
}

// Milestone pairs a name with its completion time, in completion order.
type Milestone struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// Summary returns all milestones in the order they completed.
func (p *Progress) Summary() []Milestone {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Milestone, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, Milestone{Name: name, At: p.reached[name]})
	}
	return out
}
