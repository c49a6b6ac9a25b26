package backend

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"SecureAgg/aggregation"
	"SecureAgg/consensus"
	"SecureAgg/pkg/keys"
)

// FetchSubmissions retrieves the pending miner submissions for the task.
// Any transport or payload problem yields an empty batch; the collection
// loop retries on its own schedule.
func (c *Client) FetchSubmissions(ctx context.Context) []aggregation.RawSubmission {
	var batch []aggregation.RawSubmission
	if err := c.getJSON(ctx, c.endpoint("/aggregator/"+c.taskID+"/submissions"), &batch); err != nil {
		log.Warnf("submissions fetch: %v", err)
		return nil
	}
	return batch
}

// relayFeedback is the relay-side feedback shape. The relay names the miner
// key minerAddress and stores neither the candidate hash nor a reason.
type relayFeedback struct {
	TaskID       string `json:"taskID"`
	MinerAddress string `json:"minerAddress"`
	Verdict      string `json:"verdict"`
	Signature    string `json:"signature"`
	Reason       string `json:"reason"`
}

// FetchFeedback retrieves pending miner verdicts, normalized to the
// consensus feedback shape. Implements consensus.FeedbackSource.
func (c *Client) FetchFeedback(ctx context.Context, taskID string) ([]consensus.Feedback, error) {
	var batch []relayFeedback
	if err := c.getJSON(ctx, c.endpoint("/verification/"+taskID), &batch); err != nil {
		log.Warnf("feedback fetch: %v", err)
		return nil, nil
	}

	out := make([]consensus.Feedback, 0, len(batch))
	for _, fb := range batch {
		out = append(out, consensus.Feedback{
			TaskID:    fb.TaskID,
			MinerPK:   fb.MinerAddress,
			Verdict:   fb.Verdict,
			Reason:    fb.Reason,
			Signature: fb.Signature,
		})
	}
	return out, nil
}

// FetchKeyDerivationMetadata retrieves the skFE derivation inputs. Returns
// nil when the relay has no metadata for the task; the key loader falls
// back to its configured material.
func (c *Client) FetchKeyDerivationMetadata(ctx context.Context) *keys.DerivationMetadata {
	var md keys.DerivationMetadata
	if err := c.getJSON(ctx, c.endpoint("/aggregator/key-derivation/"+c.taskID), &md); err != nil {
		log.Warnf("key derivation metadata fetch: %v", err)
		return nil
	}
	if md.TaskID == "" || md.Publisher == "" || len(md.MinerPublicKeys) == 0 || md.NonceTP == "" {
		log.Warnln("key derivation metadata payload incomplete")
		return nil
	}
	log.Infof("key derivation metadata fetched: %d miners", md.MinerCount)
	return &md
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "relay request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("relay returned status %d for %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode relay payload")
	}
	return nil
}
