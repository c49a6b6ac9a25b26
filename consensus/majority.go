package consensus

import (
	log "github.com/sirupsen/logrus"

	"SecureAgg/internal/params"
	"SecureAgg/pkg/protoerr"
)

// RequiredVotes computes how many VALID verdicts the majority rule demands:
// ceil(N * (1 - faultRate)). The small epsilon before truncation keeps exact
// products such as 3 * 0.67 = 2.01 from rounding down a vote.
func RequiredVotes(totalParticipants int, faultRate float64) (int, error) {
	if totalParticipants <= 0 {
		return 0, protoerr.New(protoerr.Structural,
			"total participants must be positive, got %d", totalParticipants)
	}
	if faultRate < 0 || faultRate >= 1 {
		return 0, protoerr.New(protoerr.Structural,
			"tolerable fault rate must be in [0, 1), got %v", faultRate)
	}
	return int(float64(totalParticipants)*(1.0-faultRate) + 0.999999), nil
}

// HasMajority applies the fault-tolerant acceptance rule over verified
// feedback. Only VALID verdicts count toward the threshold; INVALID and
// absent voters both count against it.
func HasMajority(feedback []Feedback, totalParticipants int, faultRate float64) (bool, error) {
	required, err := RequiredVotes(totalParticipants, faultRate)
	if err != nil {
		return false, err
	}

	var valid, invalid int
	for i := range feedback {
		switch feedback[i].Verdict {
		case params.VerdictValid:
			valid++
		case params.VerdictInvalid:
			invalid++
		}
	}

	log.Infof("consensus tally: VALID=%d INVALID=%d required=%d", valid, invalid, required)

	if valid >= required {
		log.Infoln("majority VALID reached")
		return true, nil
	}
	log.Warnln("majority VALID not reached")
	return false, nil
}
