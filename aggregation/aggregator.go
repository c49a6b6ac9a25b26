package aggregation

import (
	log "github.com/sirupsen/logrus"

	"SecureAgg/internal/params"
	"SecureAgg/pkg/bsgs"
	"SecureAgg/pkg/curve"
	"SecureAgg/pkg/keys"
	"SecureAgg/pkg/nddfe"
	"SecureAgg/pkg/protoerr"
)

// PipelineConfig bounds one aggregation run. Zero values select the
// protocol-wide limits.
type PipelineConfig struct {
	MaxMiners    int
	MaxDimension int
}

// Result carries the outcome of one secure aggregation: the dequantized
// update vector, plus the decrypted point vector the verifier re-checks.
type Result struct {
	Update    []float64
	Quantized []int64
	// Decrypted is the NDD-FE output g^{<weighted sum>} per coordinate,
	// kept for the encode-verify step.
	Decrypted []*curve.Point
}

// Pipeline composes decryption, discrete-log recovery and dequantization.
type Pipeline struct {
	cfg       PipelineConfig
	recoverer *bsgs.Recoverer
}

// NewPipeline builds the aggregation pipeline around a shared discrete-log
// recoverer.
func NewPipeline(cfg PipelineConfig, recoverer *bsgs.Recoverer) *Pipeline {
	if cfg.MaxMiners <= 0 {
		cfg.MaxMiners = params.MaxMiners
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = params.MaxModelDimension
	}
	return &Pipeline{cfg: cfg, recoverer: recoverer}
}

// SecureAggregate runs the full pipeline over validated submissions:
// extract ciphertext vectors, NDD-FE decrypt, BSGS recovery, dequantize.
// The three steps run sequentially with no partial commit; any failure
// aborts the whole call.
func (p *Pipeline) SecureAggregate(submissions []Submission, weights []int64, material *keys.Material) (*Result, error) {
	if len(submissions) == 0 {
		return nil, protoerr.New(protoerr.Structural, "no submissions provided for aggregation")
	}
	if len(submissions) > p.cfg.MaxMiners {
		return nil, protoerr.New(protoerr.ProtocolBound,
			"too many submissions: %d > %d", len(submissions), p.cfg.MaxMiners)
	}

	log.Infof("starting secure aggregation for %d miners", len(submissions))

	// Step 1: ciphertext vectors in submission order.
	ciphertexts := make([][]string, len(submissions))
	for i := range submissions {
		ciphertexts[i] = submissions[i].Ciphertext
	}

	// Step 2: NDD-FE decryption to g^{<weighted sum>} per coordinate.
	decrypted, err := nddfe.Decrypt(ciphertexts, weights, nddfe.DecryptKeys{
		PKTaskPublisher: material.PKTaskPublisher,
		SKFunctional:    material.SKFunctional,
		SKAggregator:    material.SKAggregator,
	})
	if err != nil {
		return nil, err
	}
	if len(decrypted) > p.cfg.MaxDimension {
		return nil, protoerr.New(protoerr.ProtocolBound,
			"aggregate vector too large: %d > %d", len(decrypted), p.cfg.MaxDimension)
	}

	// Step 3: bounded signed discrete-log recovery, coordinate-wise.
	log.Infoln("recovering integer gradients via discrete-log search")
	quantized, err := p.recoverer.RecoverVector(decrypted)
	if err != nil {
		return nil, err
	}

	// Step 4: fixed-point to float.
	update := p.recoverer.Dequantize(quantized)

	log.Infof("secure aggregation complete: %d coordinates", len(update))
	return &Result{Update: update, Quantized: quantized, Decrypted: decrypted}, nil
}
