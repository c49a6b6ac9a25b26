package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SecureAgg/aggregation"
	"SecureAgg/backend"
	"SecureAgg/consensus"
	"SecureAgg/internal/params"
	"SecureAgg/internal/test"
	"SecureAgg/model"
	"SecureAgg/pkg/bsgs"
	"SecureAgg/pkg/curve"
	"SecureAgg/pkg/keys"
	"SecureAgg/pkg/protoerr"
)

const e2eTask = "task-e2e"

type fakeRelay struct {
	mu          sync.Mutex
	derivation  *keys.DerivationMetadata
	submissions []aggregation.RawSubmission
	feedback    []consensus.Feedback

	candidate *consensus.Candidate
	published *backend.PublishedPayload
	reset     bool
}

func (f *fakeRelay) FetchSubmissions(context.Context) []aggregation.RawSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions
}

func (f *fakeRelay) FetchFeedback(context.Context, string) ([]consensus.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candidate == nil {
		return nil, nil
	}
	return f.feedback, nil
}

func (f *fakeRelay) FetchKeyDerivationMetadata(context.Context) *keys.DerivationMetadata {
	return f.derivation
}

func (f *fakeRelay) BroadcastCandidate(_ context.Context, block *consensus.Candidate) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidate = block
	return true
}

func (f *fakeRelay) PublishPayload(_ context.Context, payload *backend.PublishedPayload) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = payload
	return true
}

func (f *fakeRelay) ResetRound(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset = true
	return true
}

// fixture wires three miners whose blinding scalars sum to the
// relay-derived functional scalar, so the orchestrator can decrypt what
// they encrypt.
type fixture struct {
	relay  *fakeRelay
	cfg    Config
	miners []*test.Miner
}

func newFixture(t *testing.T, vectors [][]int64) *fixture {
	t.Helper()

	miners := make([]*test.Miner, len(vectors))
	minerPKs := make([]string, len(vectors))
	for i := range vectors {
		m, err := test.NewMiner()
		require.NoError(t, err)
		miners[i] = m
		minerPKs[i] = m.PublicKey
	}

	derivation := &keys.DerivationMetadata{
		TaskID:          e2eTask,
		Publisher:       "0xPublisher",
		MinerPublicKeys: minerPKs,
		NonceTP:         "nonce-1",
		MinerCount:      len(miners),
	}

	// Pin the last miner's blinding so the derived skFE matches the
	// aggregate mask under unit weights.
	derived, err := keys.DeriveFunctionalScalar(e2eTask, derivation.Publisher, minerPKs, derivation.NonceTP)
	require.NoError(t, err)
	rest := new(big.Int)
	for _, m := range miners[:len(miners)-1] {
		rest.Add(rest, m.Blinding)
	}
	last := new(big.Int).Sub(derived, rest)
	last.Mod(last, curve.Order())
	require.NotZero(t, last.Sign())
	miners[len(miners)-1].Blinding = last

	skA, err := rand.Int(rand.Reader, curve.Order())
	require.NoError(t, err)
	skA.Add(skA, big.NewInt(1))
	tp, err := rand.Int(rand.Reader, curve.Order())
	require.NoError(t, err)
	tp.Add(tp, big.NewInt(1))
	pkTP, err := curve.MulBase(tp)
	require.NoError(t, err)
	pkTPStr, err := curve.Serialize(pkTP)
	require.NoError(t, err)

	relay := &fakeRelay{derivation: derivation}
	for i, m := range miners {
		quantized := make([]int64, len(vectors[i]))
		for j, v := range vectors[i] {
			quantized[j] = v * params.QuantizationScale
		}
		ct, err := m.EncryptVector(quantized, skA, pkTP)
		require.NoError(t, err)
		sig, err := m.Sign(test.SubmissionMessage(e2eTask, ct, "commit", m.PublicKey))
		require.NoError(t, err)
		ctJSON, err := json.Marshal(ct)
		require.NoError(t, err)
		relay.submissions = append(relay.submissions, aggregation.RawSubmission{
			TaskID:      e2eTask,
			MinerPK:     m.PublicKey,
			ScoreCommit: "commit",
			Signature:   sig,
			Ciphertext:  ctJSON,
		})
	}

	return &fixture{
		relay: relay,
		cfg: Config{
			Keys: keys.Config{
				AggregatorSK: skA.String(),
				TPPublicKey:  pkTPStr,
			},
			ArtifactDir:        t.TempDir(),
			MinParticipants:    len(miners),
			AggregationTimeout: 5 * time.Second,
			FeedbackTimeout:    2 * time.Second,
			PollInterval:       10 * time.Millisecond,
		},
		miners: miners,
	}
}

func (f *fixture) vote(t *testing.T, verdicts ...string) {
	t.Helper()
	for i, verdict := range verdicts {
		m := f.miners[i]
		sig, err := m.Sign(consensus.CanonicalFeedbackMessage(e2eTask, verdict, m.PublicKey))
		require.NoError(t, err)
		f.relay.feedback = append(f.relay.feedback, consensus.Feedback{
			TaskID:    e2eTask,
			MinerPK:   m.PublicKey,
			Verdict:   verdict,
			Signature: sig,
		})
	}
}

func newOrchestrator(t *testing.T, f *fixture, dim int) *Orchestrator {
	t.Helper()
	recoverer, err := bsgs.NewRecoverer(
		-10*params.QuantizationScale, 10*params.QuantizationScale, params.QuantizationScale)
	require.NoError(t, err)

	modelSource := func(string) (model.Model, error) {
		return model.NewVectorModel(make([]float64, dim)), nil
	}
	evaluator := model.EvaluatorFunc(func(model.Model) (float64, error) { return 0.9, nil })
	relays := func(string) (Relay, error) { return f.relay, nil }
	return New(f.cfg, relays, recoverer, modelSource, evaluator)
}

func TestRunPublishesAcceptedRound(t *testing.T) {
	f := newFixture(t, [][]int64{
		{5, -3, 7},
		{-2, 4, 1},
		{6, -1, -5},
	})
	f.vote(t, params.VerdictValid, params.VerdictValid, params.VerdictValid)

	o := newOrchestrator(t, f, 3)
	require.NoError(t, o.Run(context.Background(), e2eTask))

	require.NotNil(t, f.relay.candidate)
	assert.Len(t, f.relay.candidate.Participants, 3)
	assert.Equal(t, 0.9, f.relay.candidate.Accuracy)

	require.NotNil(t, f.relay.published)
	assert.Equal(t, e2eTask, f.relay.published.TaskID)
	assert.Equal(t, "MAJORITY_VALID", f.relay.published.Verification)
	assert.Equal(t, f.relay.candidate.ModelHash, f.relay.published.ModelHash)
	assert.True(t, f.relay.reset, "round reset follows publication")
}

func TestRunRejectedByMiners(t *testing.T) {
	f := newFixture(t, [][]int64{{1}, {2}, {3}})
	// Two of three is below the threshold for f=0.33.
	f.vote(t, params.VerdictValid, params.VerdictValid, params.VerdictInvalid)
	f.cfg.FeedbackTimeout = 500 * time.Millisecond

	o := newOrchestrator(t, f, 1)
	err := o.Run(context.Background(), e2eTask)
	require.Error(t, err)
	assert.Equal(t, protoerr.Insufficiency, protoerr.KindOf(err))
	assert.Nil(t, f.relay.published, "rejected rounds are never published")
}

func TestRunFailsWithoutMetadata(t *testing.T) {
	f := newFixture(t, [][]int64{{1}, {2}, {3}})
	f.relay.derivation = nil

	err := newOrchestrator(t, f, 1).Run(context.Background(), e2eTask)
	require.Error(t, err)
}

func TestRunRejectsUnregisteredMiner(t *testing.T) {
	f := newFixture(t, [][]int64{{1}, {2}, {3}})
	// Shrink the registered participant set after submissions were built.
	f.relay.derivation.MinerPublicKeys = f.relay.derivation.MinerPublicKeys[:2]
	f.cfg.MinParticipants = 2

	err := newOrchestrator(t, f, 1).Run(context.Background(), e2eTask)
	require.Error(t, err)
}

func TestRegistryRejectsDuplicateRun(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})

	require.NoError(t, r.Start(context.Background(), "task-1", func(ctx context.Context) error {
		<-release
		return nil
	}))
	assert.True(t, r.IsRunning("task-1"))

	err := r.Start(context.Background(), "task-1", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, protoerr.ProtocolBound, protoerr.KindOf(err))

	close(release)
	require.NoError(t, r.Wait("task-1"))
	assert.False(t, r.IsRunning("task-1"))

	// A finished run can be replaced.
	require.NoError(t, r.Start(context.Background(), "task-1", func(ctx context.Context) error { return nil }))
	require.NoError(t, r.Wait("task-1"))
}

func TestRegistryCancelStopsRun(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Start(context.Background(), "task-1", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	r.Cancel("task-1")
	err := r.Wait("task-1")
	require.ErrorIs(t, err, context.Canceled)
}
