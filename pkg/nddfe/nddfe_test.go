package nddfe_test

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SecureAgg/internal/test"
	"SecureAgg/pkg/curve"
	"SecureAgg/pkg/nddfe"
	"SecureAgg/pkg/protoerr"
)

func randomScalar(t *testing.T) *big.Int {
	t.Helper()
	s, err := rand.Int(rand.Reader, curve.Order())
	require.NoError(t, err)
	if s.Sign() == 0 {
		s.SetInt64(1)
	}
	return s
}

type fixture struct {
	skA    *big.Int
	pkTP   *curve.Point
	miners []*test.Miner
}

func newFixture(t *testing.T, minerCount int) *fixture {
	t.Helper()
	f := &fixture{skA: randomScalar(t)}
	skTP := randomScalar(t)
	var err error
	f.pkTP, err = curve.MulBase(skTP)
	require.NoError(t, err)

	for i := 0; i < minerCount; i++ {
		m, err := test.NewMiner()
		require.NoError(t, err)
		f.miners = append(f.miners, m)
	}
	return f
}

func (f *fixture) decrypt(t *testing.T, vectors [][]int64, weights []int64) []*curve.Point {
	t.Helper()
	ciphertexts := make([][]string, len(vectors))
	for i, vec := range vectors {
		ct, err := f.miners[i].EncryptVector(vec, f.skA, f.pkTP)
		require.NoError(t, err)
		ciphertexts[i] = ct
	}
	recovered, err := nddfe.Decrypt(ciphertexts, weights, nddfe.DecryptKeys{
		PKTaskPublisher: f.pkTP,
		SKFunctional:    test.FunctionalScalar(f.miners, weights),
		SKAggregator:    f.skA,
	})
	require.NoError(t, err)
	return recovered
}

func assertCoordinate(t *testing.T, pt *curve.Point, expected int64) {
	t.Helper()
	if expected == 0 {
		assert.True(t, pt.IsIdentity(), "expected identity for zero sum")
		return
	}
	want, err := curve.MulBaseInt64(expected)
	require.NoError(t, err)
	assert.True(t, pt.Equal(want), "expected g^%d", expected)
}

func TestDecryptSingleMinerUnitWeight(t *testing.T) {
	f := newFixture(t, 1)
	vec := []int64{5, -3, 7, 0}

	recovered := f.decrypt(t, [][]int64{vec}, []int64{1})
	require.Len(t, recovered, len(vec))
	for j, v := range vec {
		assertCoordinate(t, recovered[j], v)
	}
}

func TestDecryptWeightedSum(t *testing.T) {
	f := newFixture(t, 3)
	vectors := [][]int64{
		{5, -3, 7},
		{-2, 4, 1},
		{6, -1, -5},
	}
	weights := []int64{2, 3, 1}

	recovered := f.decrypt(t, vectors, weights)
	for j := 0; j < 3; j++ {
		var sum int64
		for i := range vectors {
			sum += weights[i] * vectors[i][j]
		}
		assertCoordinate(t, recovered[j], sum)
	}
}

func TestDecryptRejectsLengthMismatch(t *testing.T) {
	f := newFixture(t, 2)
	ctA, err := f.miners[0].EncryptVector([]int64{1, 2}, f.skA, f.pkTP)
	require.NoError(t, err)
	ctB, err := f.miners[1].EncryptVector([]int64{1, 2, 3}, f.skA, f.pkTP)
	require.NoError(t, err)

	keys := nddfe.DecryptKeys{
		PKTaskPublisher: f.pkTP,
		SKFunctional:    big.NewInt(1),
		SKAggregator:    f.skA,
	}

	_, err = nddfe.Decrypt([][]string{ctA, ctB}, []int64{1, 1}, keys)
	require.Error(t, err)
	assert.Equal(t, protoerr.Structural, protoerr.KindOf(err))

	_, err = nddfe.Decrypt([][]string{ctA}, []int64{1, 1}, keys)
	require.Error(t, err)
	assert.Equal(t, protoerr.Structural, protoerr.KindOf(err))
}

func TestDecryptRejectsBadKeys(t *testing.T) {
	f := newFixture(t, 1)
	ct, err := f.miners[0].EncryptVector([]int64{1}, f.skA, f.pkTP)
	require.NoError(t, err)

	cases := []nddfe.DecryptKeys{
		{PKTaskPublisher: nil, SKFunctional: big.NewInt(1), SKAggregator: f.skA},
		{PKTaskPublisher: f.pkTP, SKFunctional: big.NewInt(0), SKAggregator: f.skA},
		{PKTaskPublisher: f.pkTP, SKFunctional: curve.Order(), SKAggregator: f.skA},
		{PKTaskPublisher: f.pkTP, SKFunctional: big.NewInt(1), SKAggregator: new(big.Int)},
	}
	for i, keys := range cases {
		_, err := nddfe.Decrypt([][]string{ct}, []int64{1}, keys)
		require.Error(t, err, "case %d", i)
		assert.Equal(t, protoerr.Cryptographic, protoerr.KindOf(err), "case %d", i)
	}
}

func TestDecryptRejectsMalformedCiphertext(t *testing.T) {
	f := newFixture(t, 1)
	keys := nddfe.DecryptKeys{
		PKTaskPublisher: f.pkTP,
		SKFunctional:    big.NewInt(1),
		SKAggregator:    f.skA,
	}
	_, err := nddfe.Decrypt([][]string{{"not-a-point"}}, []int64{1}, keys)
	require.Error(t, err)

	_, err = nddfe.Decrypt(nil, nil, keys)
	require.Error(t, err)
	assert.Equal(t, protoerr.Structural, protoerr.KindOf(err))
}
