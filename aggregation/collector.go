// Package aggregation implements the secure-aggregation pipeline: submission
// collection and validation, the NDD-FE to discrete-log recovery chain, and
// the independent encode-verify integrity check.
package aggregation

import (
	log "github.com/sirupsen/logrus"

	"SecureAgg/internal/params"
	"SecureAgg/pkg/protoerr"
	"SecureAgg/pkg/signature"
)

// CollectorConfig fixes the validation policy for one collection round.
type CollectorConfig struct {
	TaskID          string
	MinParticipants int
	// MaxParticipants truncates an oversized accepted set; zero means no
	// cap.
	MaxParticipants int
	// EncryptedZero is the placeholder written at absent sparse
	// coordinates. Empty selects the protocol fallback.
	EncryptedZero string
}

// Collector turns heterogeneous raw submissions into a uniform,
// signature-verified set.
type Collector struct {
	cfg CollectorConfig
}

// NewCollector builds a collector for one task round.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.EncryptedZero == "" {
		cfg.EncryptedZero = params.EncryptedZeroFallback
	}
	if cfg.MinParticipants <= 0 {
		cfg.MinParticipants = params.MinParticipants
	}
	return &Collector{cfg: cfg}
}

// Collect validates every raw submission independently and returns the
// accepted set. A single bad submission is logged and skipped, never fatal;
// falling below the minimum participant count after filtering fails the
// whole collection.
func (c *Collector) Collect(raw []RawSubmission) ([]Submission, error) {
	log.Infof("validating %d miner submissions for task %s", len(raw), c.cfg.TaskID)

	valid := make([]Submission, 0, len(raw))
	for idx := range raw {
		sub, err := c.validateOne(&raw[idx])
		if err != nil {
			log.Warnf("rejected submission %d: %v", idx, err)
			continue
		}
		valid = append(valid, *sub)
	}

	if len(valid) < c.cfg.MinParticipants {
		return nil, protoerr.New(protoerr.Insufficiency,
			"insufficient valid submissions (%d < %d)", len(valid), c.cfg.MinParticipants)
	}

	// Deterministic truncation: keep the stable prefix of the accepted
	// order, never re-rank by content.
	if c.cfg.MaxParticipants > 0 && len(valid) > c.cfg.MaxParticipants {
		log.Warnf("capping submissions from %d to %d", len(valid), c.cfg.MaxParticipants)
		valid = valid[:c.cfg.MaxParticipants]
	}

	log.Infof("%d submissions accepted", len(valid))
	return valid, nil
}

func (c *Collector) validateOne(raw *RawSubmission) (*Submission, error) {
	sub, err := raw.Normalize(c.cfg.EncryptedZero)
	if err != nil {
		return nil, err
	}
	if err := sub.validateStructure(c.cfg.TaskID); err != nil {
		return nil, err
	}
	if !signature.Verify(sub.MinerPK, sub.CanonicalMessage(), sub.Signature) {
		return nil, protoerr.New(protoerr.Cryptographic, "invalid miner signature")
	}
	return sub, nil
}
