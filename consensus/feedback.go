package consensus

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"SecureAgg/internal/params"
	"SecureAgg/pkg/protoerr"
	"SecureAgg/pkg/signature"
)

// Feedback is one miner's signed verdict on a candidate block. The relay
// does not store the candidate hash; the collector injects the hash of the
// candidate it is polling for before validation.
type Feedback struct {
	TaskID        string `json:"task_id"`
	CandidateHash string `json:"candidate_hash"`
	MinerPK       string `json:"miner_pk"`
	Verdict       string `json:"verdict"`
	Reason        string `json:"reason"`
	Signature     string `json:"signature"`
}

// FeedbackSource fetches pending feedback entries from the relay. A fetch
// error or malformed payload yields an empty batch; the polling loop is the
// retry mechanism.
type FeedbackSource interface {
	FetchFeedback(ctx context.Context, taskID string) ([]Feedback, error)
}

// FeedbackConfig bounds one feedback collection window.
type FeedbackConfig struct {
	TaskID        string
	CandidateHash string
	// Expected is the number of voters; once every expected miner has
	// answered the window closes early. Zero waits out the full timeout.
	Expected     int
	Timeout      time.Duration
	PollInterval time.Duration
}

// CollectFeedback polls the source until the window closes, accepting at
// most one structurally valid, correctly signed verdict per miner key.
// Duplicates and invalid entries are logged and dropped, never fatal.
func CollectFeedback(ctx context.Context, source FeedbackSource, cfg FeedbackConfig) ([]Feedback, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = params.FeedbackTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = params.BackendPollInterval
	}

	log.Infof("collecting feedback for candidate %.12s (window %s)", cfg.CandidateHash, cfg.Timeout)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	var accepted []Feedback
	seen := make(map[string]bool)

	for {
		batch, err := source.FetchFeedback(ctx, cfg.TaskID)
		if err != nil {
			log.Warnf("feedback fetch failed: %v", err)
		}
		for i := range batch {
			fb := batch[i]
			// Today's relay does not carry the hash, so an absent one is
			// stamped with ours; a relay-supplied hash must match the
			// candidate under review.
			if fb.CandidateHash == "" {
				fb.CandidateHash = cfg.CandidateHash
			}
			if err := validateFeedback(&fb, cfg); err != nil {
				log.Warnf("rejected feedback: %v", err)
				continue
			}
			if seen[fb.MinerPK] {
				log.Warnf("duplicate feedback from miner %.10s", fb.MinerPK)
				continue
			}
			seen[fb.MinerPK] = true
			accepted = append(accepted, fb)
			log.Infof("feedback accepted from miner %.10s: %s", fb.MinerPK, fb.Verdict)
		}

		if cfg.Expected > 0 && len(accepted) >= cfg.Expected {
			log.Infof("all %d expected verdicts received", cfg.Expected)
			return accepted, nil
		}

		select {
		case <-ctx.Done():
			log.Infof("feedback collection complete: %d valid responses", len(accepted))
			return accepted, nil
		case <-ticker.C:
		}
	}
}

func validateFeedback(fb *Feedback, cfg FeedbackConfig) error {
	switch {
	case fb.TaskID == "":
		return protoerr.New(protoerr.Structural, "missing task id")
	case fb.MinerPK == "":
		return protoerr.New(protoerr.Structural, "missing miner key")
	case fb.Signature == "":
		return protoerr.New(protoerr.Structural, "missing signature")
	case fb.TaskID != cfg.TaskID:
		return protoerr.New(protoerr.Structural,
			"task binding mismatch: %q != %q", fb.TaskID, cfg.TaskID)
	case fb.CandidateHash != cfg.CandidateHash:
		return protoerr.New(protoerr.Structural, "candidate hash mismatch")
	case fb.Verdict != params.VerdictValid && fb.Verdict != params.VerdictInvalid:
		return protoerr.New(protoerr.Structural, "invalid verdict %q", fb.Verdict)
	}
	if !signature.Verify(fb.MinerPK, CanonicalFeedbackMessage(fb.TaskID, fb.Verdict, fb.MinerPK), fb.Signature) {
		return protoerr.New(protoerr.Cryptographic, "invalid feedback signature")
	}
	return nil
}

// CanonicalFeedbackMessage is the exact byte sequence miners sign when
// voting on a candidate. Any change here breaks signature verification
// against every deployed miner.
func CanonicalFeedbackMessage(taskID, verdict, minerPK string) []byte {
	return []byte(params.FeedbackProtocolTag +
		"\nTask: " + taskID +
		"\nVerdict: " + verdict +
		"\nMiner: " + minerPK)
}
