// Package nddfe implements the aggregator side of the NDD-FE scheme: the
// multi-party functional decryption that recovers the weighted-sum point
// vector from miner ciphertexts without exposing any individual plaintext.
//
// Per coordinate j the routine computes
//
//	sum_i y_i * U_i[j]  -  skFE * pkTP,  then multiplies by skA^-1 mod n,
//
// turning pkA^{<delta,y>} back into g^{<delta,y>}, ready for discrete-log
// recovery. Encryption is the miners' job; this package only decrypts.
package nddfe

import (
	"math/big"

	log "github.com/sirupsen/logrus"

	"SecureAgg/pkg/curve"
	"SecureAgg/pkg/protoerr"
)

// DecryptKeys carries the key material needed for one decryption call.
type DecryptKeys struct {
	// PKTaskPublisher is g^{s_TP}; its scalar multiple by SKFunctional is
	// the removable FE mask.
	PKTaskPublisher *curve.Point
	// SKFunctional is the per-task functional-encryption scalar.
	SKFunctional *big.Int
	// SKAggregator is the designated decryptor's private scalar.
	SKAggregator *big.Int
}

// Validate checks that every key is syntactically and range valid: scalars
// strictly inside (0, n), publisher point present.
func (k DecryptKeys) Validate() error {
	if k.PKTaskPublisher.IsIdentity() {
		return protoerr.New(protoerr.Cryptographic, "task publisher public key missing")
	}
	n := curve.Order()
	for name, s := range map[string]*big.Int{
		"functional-encryption scalar": k.SKFunctional,
		"aggregator private scalar":    k.SKAggregator,
	} {
		if s == nil || s.Sign() <= 0 || s.Cmp(n) >= 0 {
			return protoerr.New(protoerr.Cryptographic, "%s out of range", name)
		}
	}
	return nil
}

// Decrypt removes the per-miner and functional-encryption masks from h miner
// ciphertext vectors and returns one point per coordinate representing
// g^{<weighted sum>}.
//
// ciphertexts[i] is miner i's vector of hex-encoded points; weights[i] is the
// matching aggregation weight y_i. All vectors must have equal length and
// every precondition violation is a rejection, never a panic.
func Decrypt(ciphertexts [][]string, weights []int64, keys DecryptKeys) ([]*curve.Point, error) {
	if len(ciphertexts) == 0 {
		return nil, protoerr.New(protoerr.Structural, "no ciphertexts to decrypt")
	}
	if len(ciphertexts) != len(weights) {
		return nil, protoerr.New(protoerr.Structural,
			"ciphertext / weight length mismatch: %d != %d", len(ciphertexts), len(weights))
	}
	if err := keys.Validate(); err != nil {
		return nil, err
	}
	for i, w := range weights {
		if w == 0 {
			return nil, protoerr.New(protoerr.Cryptographic, "zero aggregation weight for miner %d", i)
		}
	}

	dim := len(ciphertexts[0])
	if dim == 0 {
		return nil, protoerr.New(protoerr.Structural, "empty ciphertext vector")
	}

	log.Infof("nddfe decrypt: %d miners, %d coordinates", len(ciphertexts), dim)

	// Step 1: raw weighted sum of ciphertext points, per coordinate.
	aggregated := make([]*curve.Point, dim)
	for i, minerCT := range ciphertexts {
		if len(minerCT) != dim {
			return nil, protoerr.New(protoerr.Structural,
				"inconsistent ciphertext vector length for miner %d: %d != %d", i, len(minerCT), dim)
		}
		w := big.NewInt(weights[i])
		for j, serialized := range minerCT {
			pt, err := curve.ParseHexPoint(serialized)
			if err != nil {
				return nil, protoerr.Wrap(protoerr.KindOf(err), err, "miner ciphertext point")
			}
			term, err := curve.Mul(pt, w)
			if err != nil {
				return nil, err
			}
			aggregated[j] = curve.Add(aggregated[j], term)
		}
	}

	// Step 2: remove the FE mask pkTP^{skFE} from every coordinate.
	feMask, err := curve.Mul(keys.PKTaskPublisher, keys.SKFunctional)
	if err != nil {
		return nil, err
	}
	for j := range aggregated {
		aggregated[j], err = curve.Sub(aggregated[j], feMask)
		if err != nil {
			return nil, err
		}
	}

	// Step 3: designated decryptor step. Multiplying by skA^-1 converts
	// pkA^{<delta,y>} to g^{<delta,y>}. An identity coordinate stays the
	// identity, meaning a zero weighted sum.
	invSKA := new(big.Int).ModInverse(keys.SKAggregator, curve.Order())
	if invSKA == nil {
		return nil, protoerr.New(protoerr.Cryptographic, "aggregator scalar not invertible")
	}
	recovered := make([]*curve.Point, dim)
	for j := range aggregated {
		recovered[j], err = curve.Mul(aggregated[j], invSKA)
		if err != nil {
			return nil, err
		}
	}

	log.Infoln("nddfe decrypt complete")
	return recovered, nil
}
