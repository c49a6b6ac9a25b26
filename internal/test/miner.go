// Package test provides miner-side helpers for exercising the aggregation
// pipeline: deterministic key fixtures, the miner encryption routine, and
// canonical-message signing. Production code never imports this package; the
// aggregator only decrypts and verifies.
package test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"SecureAgg/pkg/curve"
)

// Miner bundles the key material a submitting participant holds in tests.
type Miner struct {
	Priv *ecdsa.PrivateKey
	// PublicKey is the "x_hex,y_hex" form miners use on the wire.
	PublicKey string
	// Blinding is the per-miner encryption randomness r_i.
	Blinding *big.Int
}

// NewMiner generates a fresh miner with random keys and blinding scalar.
func NewMiner() (*Miner, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	r, err := rand.Int(rand.Reader, curve.Order())
	if err != nil {
		return nil, err
	}
	if r.Sign() == 0 {
		r.SetInt64(1)
	}
	return &Miner{
		Priv:      priv,
		PublicKey: fmt.Sprintf("%064x,%064x", priv.PublicKey.X, priv.PublicKey.Y),
		Blinding:  r,
	}, nil
}

// Sign produces the hex-encoded DER ECDSA signature miners attach to
// submissions and feedback.
func (m *Miner) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	der, err := ecdsa.SignASN1(rand.Reader, m.Priv, digest[:])
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(der), nil
}

// EncryptVector runs the miner-side NDD-FE encryption of a quantized gradient
// vector:
//
//	U[j] = (skA * v_j) * g + r * pkTP
//
// The matching functional scalar for a batch is sum_i r_i * y_i mod n.
func (m *Miner) EncryptVector(values []int64, skA *big.Int, pkTP *curve.Point) ([]string, error) {
	mask, err := curve.Mul(pkTP, m.Blinding)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(values))
	for j, v := range values {
		var payload *curve.Point
		if v != 0 {
			k := new(big.Int).Mul(skA, big.NewInt(v))
			payload, err = curve.MulBase(k)
			if err != nil {
				return nil, err
			}
		}
		u := curve.Add(payload, mask)
		out[j], err = curve.SerializeHex(u)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FunctionalScalar derives the skFE matching a batch of miners and weights:
// sum_i r_i * y_i mod n.
func FunctionalScalar(miners []*Miner, weights []int64) *big.Int {
	sum := new(big.Int)
	for i, m := range miners {
		term := new(big.Int).Mul(m.Blinding, big.NewInt(weights[i]))
		sum.Add(sum, term)
	}
	return sum.Mod(sum, curve.Order())
}

// SubmissionMessage builds the canonical signing message for a submission:
// task_id | comma-joined ciphertext | score_commitment | miner_public_key.
func SubmissionMessage(taskID string, ciphertext []string, scoreCommit, minerPK string) []byte {
	return []byte(strings.Join([]string{taskID, strings.Join(ciphertext, ","), scoreCommit, minerPK}, "|"))
}

// FeedbackMessage builds the canonical feedback message a miner signs.
func FeedbackMessage(protocolTag, taskID, verdict, minerPK string) []byte {
	return []byte(fmt.Sprintf("%s\nTask: %s\nVerdict: %s\nMiner: %s", protocolTag, taskID, verdict, minerPK))
}
