package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SecureAgg/internal/params"
	"SecureAgg/pkg/protoerr"
)

func verdicts(vs ...string) []Feedback {
	fb := make([]Feedback, len(vs))
	for i, v := range vs {
		fb[i] = Feedback{Verdict: v}
	}
	return fb
}

func TestRequiredVotes(t *testing.T) {
	cases := []struct {
		total    int
		fault    float64
		required int
	}{
		{3, 0.33, 3},
		{3, 0.0, 3},
		{10, 0.33, 7},
		{100, 0.33, 67},
		{1, 0.33, 1},
		{4, 0.5, 2},
	}
	for _, tc := range cases {
		got, err := RequiredVotes(tc.total, tc.fault)
		require.NoError(t, err)
		assert.Equal(t, tc.required, got, "N=%d f=%v", tc.total, tc.fault)
	}
}

func TestRequiredVotesRejectsInvalidInput(t *testing.T) {
	_, err := RequiredVotes(0, 0.33)
	require.Error(t, err)
	assert.Equal(t, protoerr.Structural, protoerr.KindOf(err))

	_, err = RequiredVotes(3, 1.0)
	require.Error(t, err)

	_, err = RequiredVotes(3, -0.1)
	require.Error(t, err)
}

func TestHasMajorityThreeOfThree(t *testing.T) {
	v := params.VerdictValid

	ok, err := HasMajority(verdicts(v, v, v), 3, 0.33)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = HasMajority(verdicts(v, v), 3, 0.33)
	require.NoError(t, err)
	assert.False(t, ok, "two of three is below the Byzantine threshold")
}

func TestHasMajorityIgnoresUnknownVerdicts(t *testing.T) {
	fb := verdicts(params.VerdictValid, "MAYBE", params.VerdictValid, params.VerdictInvalid)
	ok, err := HasMajority(fb, 3, 0.33)
	require.NoError(t, err)
	assert.False(t, ok, "unknown verdicts never count as VALID")
}

func TestHasMajorityAbsentVotersCountAgainst(t *testing.T) {
	ok, err := HasMajority(nil, 3, 0.33)
	require.NoError(t, err)
	assert.False(t, ok)
}
