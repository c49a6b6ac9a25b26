// Package consensus implements the miner-review phase of an aggregation
// round: deterministic candidate block assembly, signed feedback collection
// and the fault-tolerant majority rule.
package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"SecureAgg/aggregation"
	"SecureAgg/pkg/protoerr"
)

// Candidate is the block miners review before the round result is
// published. Participants and ScoreCommits are index-aligned and sorted by
// participant key; the sort order is part of the canonical form.
type Candidate struct {
	TaskID       string   `json:"task_id"`
	Round        int      `json:"round"`
	ModelHash    string   `json:"model_hash"`
	ModelLink    string   `json:"model_link"`
	Accuracy     float64  `json:"accuracy"`
	Participants []string `json:"participants"`
	ScoreCommits []string `json:"score_commits"`
	AggregatorPK string   `json:"aggregator_pk"`
	Timestamp    int64    `json:"timestamp"`
	Hash         string   `json:"hash"`
}

// BuildCandidate assembles and hashes the candidate block for one round.
// The block identity is the SHA-256 of the canonical encoding, so every
// field ordering decision here is protocol, not presentation.
func BuildCandidate(taskID string, round int, modelHash, modelLink string, accuracy float64, submissions []aggregation.Submission, aggregatorPK string) (*Candidate, error) {
	log.Infof("building candidate block for task %s round %d", taskID, round)

	participants := make([]string, 0, len(submissions))
	commits := make([]string, 0, len(submissions))
	for i := range submissions {
		if submissions[i].MinerPK == "" || submissions[i].ScoreCommit == "" {
			return nil, protoerr.New(protoerr.Structural,
				"submission %d missing miner key or score commitment", i)
		}
		participants = append(participants, submissions[i].MinerPK)
		commits = append(commits, submissions[i].ScoreCommit)
	}

	sortByParticipant(participants, commits)

	block := &Candidate{
		TaskID:       taskID,
		Round:        round,
		ModelHash:    modelHash,
		ModelLink:    modelLink,
		Accuracy:     accuracy,
		Participants: participants,
		ScoreCommits: commits,
		AggregatorPK: aggregatorPK,
		Timestamp:    time.Now().Unix(),
	}

	digest := sha256.Sum256(block.canonicalBytes())
	block.Hash = hex.EncodeToString(digest[:])

	log.Infof("candidate block built, hash %s", block.Hash[:12])
	return block, nil
}

// sortByParticipant sorts the two aligned slices jointly by participant key.
func sortByParticipant(participants, commits []string) {
	idx := make([]int, len(participants))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return participants[idx[a]] < participants[idx[b]]
	})
	sortedP := make([]string, len(participants))
	sortedC := make([]string, len(commits))
	for i, j := range idx {
		sortedP[i] = participants[j]
		sortedC[i] = commits[j]
	}
	copy(participants, sortedP)
	copy(commits, sortedC)
}

// canonicalBytes is the fixed-order pipe-joined encoding the block hash is
// computed over. Accuracy is rendered at exactly eight decimal places from
// the full binary expansion, so every party derives the same hash bytes.
func (c *Candidate) canonicalBytes() []byte {
	fields := []string{
		c.TaskID,
		strconv.Itoa(c.Round),
		c.ModelHash,
		c.ModelLink,
		strconv.FormatFloat(c.Accuracy, 'f', 8, 64),
		strings.Join(c.Participants, ","),
		strings.Join(c.ScoreCommits, ","),
		c.AggregatorPK,
		strconv.FormatInt(c.Timestamp, 10),
	}
	return []byte(strings.Join(fields, "|"))
}
