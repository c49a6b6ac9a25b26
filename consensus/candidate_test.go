package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SecureAgg/aggregation"
	"SecureAgg/pkg/protoerr"
)

func sampleSubmissions() []aggregation.Submission {
	return []aggregation.Submission{
		{TaskID: "task-1", MinerPK: "pk-charlie", ScoreCommit: "c3"},
		{TaskID: "task-1", MinerPK: "pk-alice", ScoreCommit: "c1"},
		{TaskID: "task-1", MinerPK: "pk-bob", ScoreCommit: "c2"},
	}
}

func TestBuildCandidateSortsParticipants(t *testing.T) {
	block, err := BuildCandidate("task-1", 2, "mhash", "mlink", 0.921, sampleSubmissions(), "agg-pk")
	require.NoError(t, err)

	assert.Equal(t, []string{"pk-alice", "pk-bob", "pk-charlie"}, block.Participants)
	// Commitments must travel with their participants through the sort.
	assert.Equal(t, []string{"c1", "c2", "c3"}, block.ScoreCommits)
	assert.Len(t, block.Hash, 64)
}

func TestCandidateHashMatchesCanonicalForm(t *testing.T) {
	block, err := BuildCandidate("task-1", 0, "mhash", "mlink", 0.5, sampleSubmissions(), "agg-pk")
	require.NoError(t, err)

	digest := sha256.Sum256(block.canonicalBytes())
	assert.Equal(t, hex.EncodeToString(digest[:]), block.Hash,
		"re-serializing identical fields reproduces the hash")
}

func TestCandidateHashIndependentOfSubmissionOrder(t *testing.T) {
	subs := sampleSubmissions()
	reversed := []aggregation.Submission{subs[2], subs[1], subs[0]}

	a, err := BuildCandidate("task-1", 1, "mhash", "mlink", 0.75, subs, "agg-pk")
	require.NoError(t, err)
	b, err := BuildCandidate("task-1", 1, "mhash", "mlink", 0.75, reversed, "agg-pk")
	require.NoError(t, err)

	// Pin the timestamp so only the ordering can differ.
	b.Timestamp = a.Timestamp
	assert.Equal(t, a.canonicalBytes(), b.canonicalBytes())
}

func TestCandidateHashSensitiveToPreSortOrderOfFields(t *testing.T) {
	a := &Candidate{TaskID: "t", ModelHash: "m", Participants: []string{"p1", "p2"}, ScoreCommits: []string{"c1", "c2"}}
	b := &Candidate{TaskID: "t", ModelHash: "m", Participants: []string{"p2", "p1"}, ScoreCommits: []string{"c1", "c2"}}
	assert.NotEqual(t, a.canonicalBytes(), b.canonicalBytes())
}

func TestCandidateAccuracyRendering(t *testing.T) {
	c := &Candidate{Accuracy: 0.921}
	assert.Contains(t, string(c.canonicalBytes()), "0.92100000")
}

func TestCandidateAccuracyRoundsBinaryExpansion(t *testing.T) {
	// 0.123456785 stores as 0.12345678499..., so eight places round down.
	// Rounding the shortest decimal form instead would give 0.12345679 and
	// a hash other parties cannot re-derive.
	c := &Candidate{Accuracy: 0.123456785}
	assert.Contains(t, string(c.canonicalBytes()), "|0.12345678|")
}

func TestBuildCandidateRejectsIncompleteSubmission(t *testing.T) {
	subs := []aggregation.Submission{{TaskID: "task-1", MinerPK: "pk", ScoreCommit: ""}}
	_, err := BuildCandidate("task-1", 0, "m", "l", 0.5, subs, "agg-pk")
	require.Error(t, err)
	assert.Equal(t, protoerr.Structural, protoerr.KindOf(err))
}
