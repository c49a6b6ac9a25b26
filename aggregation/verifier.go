package aggregation

import (
	"math/big"

	log "github.com/sirupsen/logrus"

	"SecureAgg/pkg/curve"
	"SecureAgg/pkg/keys"
	"SecureAgg/pkg/protoerr"
)

// VerifyAggregate is the encode-verify integrity check: it re-derives the
// weighted-sum aggregate directly from the original submission ciphertexts,
// removes the FE mask and applies the decryptor inverse exactly as the
// decryption step does, then compares point by point against what the
// pipeline actually produced.
//
// The inputs are fetched independently of the decryption call, so any state
// corruption or relay tampering between decryption and use shows up as a
// mismatch. A failure is a cryptographic error carrying the first bad index.
func VerifyAggregate(decrypted []*curve.Point, submissions []Submission, weights []int64, material *keys.Material) error {
	log.Infoln("verifying recovered aggregate consistency")

	if len(submissions) != len(weights) {
		return protoerr.New(protoerr.Structural,
			"submission / weight length mismatch: %d != %d", len(submissions), len(weights))
	}

	dim := len(decrypted)
	recomputed := make([]*curve.Point, dim)

	// Re-aggregate the encrypted updates from the raw ciphertexts.
	for i := range submissions {
		ct := submissions[i].Ciphertext
		if len(ct) != dim {
			return protoerr.New(protoerr.Cryptographic,
				"ciphertext length mismatch during verification: miner %d has %d coordinates, expected %d",
				i, len(ct), dim)
		}
		w := big.NewInt(weights[i])
		for j, serialized := range ct {
			pt, err := curve.ParseHexPoint(serialized)
			if err != nil {
				return protoerr.Wrap(protoerr.Cryptographic, err, "ciphertext reparse")
			}
			term, err := curve.Mul(pt, w)
			if err != nil {
				return err
			}
			recomputed[j] = curve.Add(recomputed[j], term)
		}
	}

	// Remove the FE mask again.
	feMask, err := curve.Mul(material.PKTaskPublisher, material.SKFunctional)
	if err != nil {
		return err
	}
	for j := range recomputed {
		recomputed[j], err = curve.Sub(recomputed[j], feMask)
		if err != nil {
			return err
		}
	}

	// Apply the designated-decryptor inverse.
	invSKA := new(big.Int).ModInverse(material.SKAggregator, curve.Order())
	if invSKA == nil {
		return protoerr.New(protoerr.Cryptographic, "aggregator scalar not invertible")
	}
	for j := range recomputed {
		recomputed[j], err = curve.Mul(recomputed[j], invSKA)
		if err != nil {
			return err
		}
	}

	// Coordinate-wise comparison against the pipeline output.
	for j := range recomputed {
		if !decrypted[j].Equal(recomputed[j]) {
			return protoerr.New(protoerr.Cryptographic, "aggregate verification failed at index %d", j)
		}
	}

	log.Infoln("aggregate verification successful")
	return nil
}
