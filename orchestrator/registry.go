package orchestrator

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"SecureAgg/pkg/protoerr"
)

// Registry tracks live task runs and refuses a second concurrent run for
// the same task identifier. Two pipelines over one task would double-count
// submissions and corrupt milestone tracking.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*run)}
}

// Start launches fn for taskID in the background. It fails when a run for
// the task is already live; a finished run is evicted and replaced.
func (r *Registry) Start(ctx context.Context, taskID string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.runs[taskID]; ok {
		select {
		case <-existing.done:
			delete(r.runs, taskID)
		default:
			return protoerr.New(protoerr.ProtocolBound,
				"aggregation already running for task %s", taskID)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	active := &run{cancel: cancel, done: make(chan struct{})}
	r.runs[taskID] = active

	go func() {
		defer cancel()
		defer close(active.done)
		if err := fn(ctx); err != nil {
			log.Errorf("task %s failed: %v", taskID, err)
			active.err = err
			return
		}
		log.Infof("task %s finished", taskID)
	}()
	return nil
}

// IsRunning reports whether a run for taskID is live.
func (r *Registry) IsRunning(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.runs[taskID]
	if !ok {
		return false
	}
	select {
	case <-active.done:
		return false
	default:
		return true
	}
}

// Cancel aborts a live run for taskID, if any.
func (r *Registry) Cancel(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active, ok := r.runs[taskID]; ok {
		active.cancel()
	}
}

// Wait blocks until the run for taskID finishes and returns its error.
// Unknown tasks return nil immediately.
func (r *Registry) Wait(taskID string) error {
	r.mu.Lock()
	active, ok := r.runs[taskID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	<-active.done
	return active.err
}
