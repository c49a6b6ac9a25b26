// Package state holds the task-scoped, in-memory protocol state: the linear
// lifecycle state machine, the round counter, aggregation weights and the
// current model reference. Nothing here survives a process restart; state is
// rebuilt per task from relay metadata.
package state

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"SecureAgg/internal/params"
	"SecureAgg/model"
	"SecureAgg/pkg/protoerr"
)

// lifecycle is the linear state order. Transition validity is adjacency in
// this list; ABORTED is terminal and reachable from everywhere.
var lifecycle = []string{
	params.StateInitialized,
	params.StateMetadataLoaded,
	params.StateCollecting,
	params.StateAggregating,
	params.StateEvaluated,
	params.StateCandidateBuilt,
	params.StateVerifying,
	params.StatePublished,
}

var lifecycleIndex = func() map[string]int {
	idx := make(map[string]int, len(lifecycle))
	for i, s := range lifecycle {
		idx[s] = i
	}
	return idx
}()

// Metadata is the task description fetched from the relay before a round
// starts. Weights are aligned 1:1 with Participants.
type Metadata struct {
	PublisherPK      string
	RequiredAccuracy float64
	MaxRounds        int
	CurrentRound     int
	Participants     []string
	Weights          []int64
	InitialModel     model.Model
}

// Task is the in-memory state container for a single aggregation task. Only
// the orchestrator mutates it; components receive copies of what they need.
type Task struct {
	mu sync.Mutex

	taskID string
	status string

	publisherPK      string
	requiredAccuracy float64
	maxRounds        int

	round        int
	weights      []int64
	participants []string
	model        model.Model
}

// NewTask creates a task in the INITIALIZED state.
func NewTask(taskID string) *Task {
	return &Task{taskID: taskID, status: params.StateInitialized}
}

func (t *Task) TaskID() string { return t.taskID }

// Status returns the current lifecycle state.
func (t *Task) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// LoadMetadata validates and installs the task description, moving the task
// to METADATA_LOADED.
func (t *Task) LoadMetadata(md *Metadata) error {
	if md == nil {
		return protoerr.New(protoerr.Structural, "no task metadata provided")
	}
	if len(md.Participants) == 0 {
		return protoerr.New(protoerr.Structural, "participants list missing")
	}
	if len(md.Weights) == 0 {
		return protoerr.New(protoerr.Structural, "aggregation weights missing")
	}
	if len(md.Weights) != len(md.Participants) {
		return protoerr.New(protoerr.Structural,
			"weights and participants length mismatch: %d != %d", len(md.Weights), len(md.Participants))
	}
	if md.RequiredAccuracy < params.MinAccuracy || md.RequiredAccuracy > params.MaxAccuracy {
		return protoerr.New(protoerr.Structural,
			"required accuracy %v outside [0, 1]", md.RequiredAccuracy)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(params.StateMetadataLoaded); err != nil {
		return err
	}

	t.publisherPK = md.PublisherPK
	t.requiredAccuracy = md.RequiredAccuracy
	t.maxRounds = md.MaxRounds
	if t.maxRounds <= 0 {
		t.maxRounds = 1
	}
	t.round = md.CurrentRound
	if t.round <= 0 {
		t.round = 1
	}
	t.participants = append([]string(nil), md.Participants...)
	t.weights = append([]int64(nil), md.Weights...)
	t.model = md.InitialModel

	log.Infof("metadata loaded for task %s: %d participants, round %d/%d",
		t.taskID, len(t.participants), t.round, t.maxRounds)
	return nil
}

// Transition advances the lifecycle to next. Only the immediately following
// state is legal; anything else is a protocol violation.
func (t *Task) Transition(next string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(next)
}

func (t *Task) transitionLocked(next string) error {
	if t.status == params.StateAborted {
		return protoerr.New(protoerr.ProtocolBound,
			"task %s is aborted, no further transitions", t.taskID)
	}
	cur, ok := lifecycleIndex[t.status]
	if !ok {
		return protoerr.New(protoerr.ProtocolBound, "unknown state %q", t.status)
	}
	want, ok := lifecycleIndex[next]
	if !ok {
		return protoerr.New(protoerr.ProtocolBound, "unknown target state %q", next)
	}
	if want != cur+1 {
		return protoerr.New(protoerr.ProtocolBound,
			"illegal transition %s -> %s", t.status, next)
	}
	log.Infof("task %s: %s -> %s", t.taskID, t.status, next)
	t.status = next
	return nil
}

// Abort moves the task to the terminal ABORTED state. Aborting twice is a
// no-op.
func (t *Task) Abort(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == params.StateAborted {
		return
	}
	log.Warnf("task %s aborted in state %s: %s", t.taskID, t.status, reason)
	t.status = params.StateAborted
}

// UpdateModel installs the next global model and advances the round
// counter.
func (t *Task) UpdateModel(m model.Model) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.model = m
	t.round++
	log.Infof("task %s model updated, round now %d", t.taskID, t.round)
}

// Model returns the current global model reference.
func (t *Task) Model() model.Model {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.model
}

// Round returns the current round number.
func (t *Task) Round() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.round
}

// Weights returns a copy of the aggregation weight vector.
func (t *Task) Weights() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.weights...)
}

// Participants returns a copy of the expected miner key list.
func (t *Task) Participants() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.participants...)
}

// RequiredAccuracy returns the publisher's acceptance threshold.
func (t *Task) RequiredAccuracy() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requiredAccuracy
}

// IsComplete reports whether the task has run all of its configured rounds.
func (t *Task) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.round > t.maxRounds
}
