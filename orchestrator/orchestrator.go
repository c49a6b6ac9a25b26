// Package orchestrator drives one aggregation task end to end: key loading,
// submission collection, secure aggregation, model update, candidate
// consensus and publication. It is the only layer that mutates task state
// and the only layer that turns component failures into a task outcome.
package orchestrator

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"SecureAgg/aggregation"
	"SecureAgg/backend"
	"SecureAgg/consensus"
	"SecureAgg/internal/params"
	"SecureAgg/model"
	"SecureAgg/pkg/bsgs"
	"SecureAgg/pkg/keys"
	"SecureAgg/pkg/protoerr"
	"SecureAgg/state"
)

// Relay is the orchestrator's view of the untrusted backend for one task.
// *backend.Client implements it.
type Relay interface {
	consensus.FeedbackSource
	FetchSubmissions(ctx context.Context) []aggregation.RawSubmission
	FetchKeyDerivationMetadata(ctx context.Context) *keys.DerivationMetadata
	BroadcastCandidate(ctx context.Context, block *consensus.Candidate) bool
	PublishPayload(ctx context.Context, payload *backend.PublishedPayload) bool
	ResetRound(ctx context.Context) bool
}

// RelayFactory builds the relay client for a task; endpoints are
// task-scoped.
type RelayFactory func(taskID string) (Relay, error)

// Config is the deployment policy for task runs; protocol constants stay in
// internal/params.
type Config struct {
	Keys               keys.Config
	ArtifactDir        string
	EncryptedZero      string
	MinParticipants    int
	MaxParticipants    int
	AggregationTimeout time.Duration
	FeedbackTimeout    time.Duration
	PollInterval       time.Duration
	TolerableFaultRate float64
	LearningRate       float64
}

func (c *Config) applyDefaults() {
	if c.MinParticipants <= 0 {
		c.MinParticipants = params.MinParticipants
	}
	if c.AggregationTimeout <= 0 {
		c.AggregationTimeout = params.AggregationTimeout
	}
	if c.FeedbackTimeout <= 0 {
		c.FeedbackTimeout = params.FeedbackTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = params.BackendPollInterval
	}
	if c.TolerableFaultRate == 0 {
		c.TolerableFaultRate = params.DefaultTolerableFaultRate
	}
	if c.LearningRate == 0 {
		c.LearningRate = params.DefaultLearningRate
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = "./artifacts"
	}
}

// Orchestrator runs aggregation tasks. The discrete-log recoverer is shared
// across tasks; its table is immutable after construction.
type Orchestrator struct {
	cfg       Config
	relays    RelayFactory
	recoverer *bsgs.Recoverer
	// modelSource provides the initial global model for a task; the relay
	// does not carry model weights.
	modelSource func(taskID string) (model.Model, error)
	evaluator   model.Evaluator
}

// New builds an orchestrator over the given relay factory and
// collaborators.
func New(cfg Config, relays RelayFactory, recoverer *bsgs.Recoverer, modelSource func(taskID string) (model.Model, error), evaluator model.Evaluator) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:         cfg,
		relays:      relays,
		recoverer:   recoverer,
		modelSource: modelSource,
		evaluator:   evaluator,
	}
}

// Run executes one complete aggregation round for taskID. Any unrecoverable
// failure aborts the task; the returned error describes the first one.
func (o *Orchestrator) Run(ctx context.Context, taskID string) error {
	task := state.NewTask(taskID)
	progress := state.NewProgress(taskID)

	relay, err := o.relays(taskID)
	if err == nil {
		err = o.run(ctx, relay, task, progress)
	}
	if err != nil {
		task.Abort(err.Error())
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, relay Relay, task *state.Task, progress *state.Progress) error {
	taskID := task.TaskID()
	log.Infof("starting aggregation task %s", taskID)

	// Key material and task metadata.
	derivation := relay.FetchKeyDerivationMetadata(ctx)
	material, err := keys.Load(taskID, o.cfg.Keys, derivation)
	if err != nil {
		return err
	}

	md, err := o.taskMetadata(taskID, derivation)
	if err != nil {
		return err
	}
	if err := task.LoadMetadata(md); err != nil {
		return err
	}
	progress.Mark("metadata_loaded")

	// Submission collection.
	if err := task.Transition(params.StateCollecting); err != nil {
		return err
	}
	submissions, err := o.collectSubmissions(ctx, relay, task)
	if err != nil {
		return err
	}
	progress.Mark("submissions_collected")

	// Secure aggregation and the independent consistency check.
	if err := task.Transition(params.StateAggregating); err != nil {
		return err
	}
	weights, err := alignWeights(task, submissions)
	if err != nil {
		return err
	}
	pipeline := aggregation.NewPipeline(aggregation.PipelineConfig{
		MaxMiners: o.cfg.MaxParticipants,
	}, o.recoverer)
	result, err := pipeline.SecureAggregate(submissions, weights, material)
	if err != nil {
		return err
	}
	if err := aggregation.VerifyAggregate(result.Decrypted, submissions, weights, material); err != nil {
		return err
	}
	progress.Mark("aggregation_complete")

	// Model update and evaluation.
	m := task.Model()
	if m == nil {
		// First round with no prior artifact: the update dimension defines
		// the model.
		m = model.NewVectorModel(make([]float64, len(result.Update)))
	}
	if err := model.ApplyUpdate(m, result.Update, o.cfg.LearningRate); err != nil {
		return err
	}
	accuracy, err := model.Evaluate(m, o.evaluator)
	if err != nil {
		return err
	}
	task.UpdateModel(m)
	if err := task.Transition(params.StateEvaluated); err != nil {
		return err
	}
	progress.Mark("model_evaluated")

	// Candidate block.
	link, hash, err := model.PublishArtifact(m, o.cfg.ArtifactDir, taskID, task.Round())
	if err != nil {
		return err
	}
	candidate, err := consensus.BuildCandidate(taskID, task.Round(), hash, link,
		accuracy, submissions, material.PublicKeyString())
	if err != nil {
		return err
	}
	if err := task.Transition(params.StateCandidateBuilt); err != nil {
		return err
	}
	if !relay.BroadcastCandidate(ctx, candidate) {
		return protoerr.New(protoerr.External, "candidate broadcast failed")
	}
	progress.Mark("candidate_built")

	// Miner verification.
	if err := task.Transition(params.StateVerifying); err != nil {
		return err
	}
	feedback, err := consensus.CollectFeedback(ctx, relay, consensus.FeedbackConfig{
		TaskID:        taskID,
		CandidateHash: candidate.Hash,
		Expected:      len(candidate.Participants),
		Timeout:       o.cfg.FeedbackTimeout,
		PollInterval:  o.cfg.PollInterval,
	})
	if err != nil {
		return err
	}
	accepted, err := consensus.HasMajority(feedback, len(candidate.Participants), o.cfg.TolerableFaultRate)
	if err != nil {
		return err
	}
	progress.Mark("verification_complete")
	if !accepted {
		return protoerr.New(protoerr.Insufficiency,
			"candidate rejected: %d verdicts from %d participants", len(feedback), len(candidate.Participants))
	}

	// Publication.
	if err := task.Transition(params.StatePublished); err != nil {
		return err
	}
	if !relay.PublishPayload(ctx, &backend.PublishedPayload{
		TaskID:       taskID,
		ModelHash:    candidate.ModelHash,
		Accuracy:     backend.ScaleAccuracy(candidate.Accuracy),
		Miners:       candidate.Participants,
		Verification: "MAJORITY_VALID",
	}) {
		return protoerr.New(protoerr.External, "payload publication failed")
	}
	relay.ResetRound(ctx)
	progress.Mark("published")

	log.Infof("task %s completed, round %d published", taskID, task.Round())
	return nil
}

// taskMetadata assembles the state metadata from relay derivation metadata
// and the locally provided model. Weights default to 1 per participant; the
// relay carries no per-miner weighting yet.
func (o *Orchestrator) taskMetadata(taskID string, derivation *keys.DerivationMetadata) (*state.Metadata, error) {
	if derivation == nil {
		return nil, protoerr.New(protoerr.External, "no task metadata available from relay")
	}
	if o.modelSource == nil {
		return nil, protoerr.New(protoerr.Structural, "no model source configured")
	}
	m, err := o.modelSource(taskID)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.External, err, "load initial model")
	}

	weights := make([]int64, len(derivation.MinerPublicKeys))
	for i := range weights {
		weights[i] = 1
	}
	return &state.Metadata{
		PublisherPK:      derivation.Publisher,
		RequiredAccuracy: params.MaxAccuracy,
		MaxRounds:        1,
		Participants:     derivation.MinerPublicKeys,
		Weights:          weights,
		InitialModel:     m,
	}, nil
}

// collectSubmissions polls the relay until enough raw submissions arrive or
// the window closes, then validates the batch.
func (o *Orchestrator) collectSubmissions(ctx context.Context, relay Relay, task *state.Task) ([]aggregation.Submission, error) {
	taskID := task.TaskID()
	log.Infof("waiting for miner submissions on task %s", taskID)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.AggregationTimeout)
	defer cancel()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	var raw []aggregation.RawSubmission
	for {
		batch := relay.FetchSubmissions(ctx)
		if len(batch) > 0 {
			raw = batch
			log.Infof("received %d submissions", len(batch))
		}
		if len(raw) >= o.cfg.MinParticipants {
			break
		}
		select {
		case <-ctx.Done():
			log.Warnf("submission window closed with %d raw submissions", len(raw))
		case <-ticker.C:
			continue
		}
		break
	}

	collector := aggregation.NewCollector(aggregation.CollectorConfig{
		TaskID:          taskID,
		MinParticipants: o.cfg.MinParticipants,
		MaxParticipants: o.cfg.MaxParticipants,
		EncryptedZero:   o.cfg.EncryptedZero,
	})
	return collector.Collect(raw)
}

// alignWeights maps each accepted submission to its participant weight.
// Submissions from keys outside the participant set are a structural
// failure: the weight vector is aligned 1:1 with registered participants.
func alignWeights(task *state.Task, submissions []aggregation.Submission) ([]int64, error) {
	participants := task.Participants()
	taskWeights := task.Weights()
	byKey := make(map[string]int64, len(participants))
	for i, pk := range participants {
		byKey[pk] = taskWeights[i]
	}

	weights := make([]int64, len(submissions))
	for i := range submissions {
		w, ok := byKey[submissions[i].MinerPK]
		if !ok {
			return nil, protoerr.New(protoerr.Structural,
				"submission from unregistered miner %.10s", submissions[i].MinerPK)
		}
		weights[i] = w
	}
	return weights, nil
}
