package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"SecureAgg/consensus"
	"SecureAgg/internal/params"
)

// candidatePayload is the relay-side candidate shape: camelCase fields and
// the accuracy scaled to a big-integer-friendly fixed-point value.
type candidatePayload struct {
	TaskID       string   `json:"taskID"`
	ModelHash    string   `json:"modelHash"`
	Accuracy     int64    `json:"accuracy"`
	Miners       []string `json:"miners"`
	ScoreCommits []string `json:"scoreCommits"`
	AggregatorPK string   `json:"aggregatorPK"`
	Hash         string   `json:"hash"`
}

// ScaleAccuracy converts a [0,1] accuracy into the relay's fixed-point
// integer form. Decimal arithmetic keeps values like 0.921 at exactly
// 921000, where a float multiply can truncate one below.
func ScaleAccuracy(accuracy float64) int64 {
	return decimal.NewFromFloat(accuracy).Mul(decimal.NewFromInt(params.QuantizationScale)).IntPart()
}

// BroadcastCandidate sends the candidate block to the relay for miner
// review. Returns false on any failure; the orchestrator decides whether to
// abort.
func (c *Client) BroadcastCandidate(ctx context.Context, block *consensus.Candidate) bool {
	payload := candidatePayload{
		TaskID:       block.TaskID,
		ModelHash:    block.ModelHash,
		Accuracy:     ScaleAccuracy(block.Accuracy),
		Miners:       block.Participants,
		ScoreCommits: block.ScoreCommits,
		AggregatorPK: block.AggregatorPK,
		Hash:         block.Hash,
	}
	if err := c.postJSON(ctx, c.endpoint("/aggregator/submit-candidate"), payload); err != nil {
		log.Warnf("candidate broadcast: %v", err)
		return false
	}
	log.Infoln("candidate broadcast successful")
	return true
}

// PublishedPayload is the final round result sent once consensus accepted
// the candidate.
type PublishedPayload struct {
	TaskID       string   `json:"taskID"`
	ModelHash    string   `json:"modelHash"`
	Accuracy     int64    `json:"accuracy"`
	Miners       []string `json:"miners"`
	Verification string   `json:"verification"`
}

// PublishPayload posts the verified round result to the relay.
func (c *Client) PublishPayload(ctx context.Context, payload *PublishedPayload) bool {
	if err := c.postJSON(ctx, c.endpoint("/aggregator/publish"), payload); err != nil {
		log.Warnf("payload publish: %v", err)
		return false
	}
	log.Infoln("round payload published")
	return true
}

// ResetRound asks the relay to advance its round counter and clear the
// collected gradients.
func (c *Client) ResetRound(ctx context.Context) bool {
	if err := c.postJSON(ctx, c.endpoint("/aggregator/"+c.taskID+"/reset-round"), nil); err != nil {
		log.Warnf("round reset: %v", err)
		return false
	}
	log.Infof("round reset triggered for task %s", c.taskID)
	return true
}

func (c *Client) postJSON(ctx context.Context, url string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encode payload")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "relay request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("relay returned status %d for %s", resp.StatusCode, url)
	}
	return nil
}
