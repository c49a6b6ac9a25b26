package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	log "github.com/sirupsen/logrus"

	"SecureAgg/pkg/protoerr"
)

// artifactEnc is the deterministic CBOR mode used for artifact bytes; the
// artifact hash enters the candidate block, so the encoding must be stable
// across processes.
var artifactEnc cbor.EncMode

func init() {
	var err error
	artifactEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Artifact is the serialized form of a published model round.
type Artifact struct {
	Weights       []float64 `cbor:"weights"`
	NumParameters int       `cbor:"num_parameters"`
}

// LoadLatestArtifact restores the model from the highest-round artifact
// published for taskID under dir. Used to resume a multi-round task in the
// same deployment.
func LoadLatestArtifact(dir, taskID string) (*VectorModel, error) {
	matches, err := filepath.Glob(filepath.Join(dir, taskID+"_round*.cbor"))
	if err != nil || len(matches) == 0 {
		return nil, protoerr.New(protoerr.External, "no artifact found for task %s", taskID)
	}
	latest := matches[0]
	for _, m := range matches[1:] {
		if artifactRound(m) > artifactRound(latest) {
			latest = m
		}
	}

	data, err := os.ReadFile(latest)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.External, err, "artifact read")
	}
	var artifact Artifact
	if err := cbor.Unmarshal(data, &artifact); err != nil {
		return nil, protoerr.Wrap(protoerr.Structural, err, "artifact decode")
	}
	if len(artifact.Weights) != artifact.NumParameters {
		return nil, protoerr.New(protoerr.Structural,
			"artifact parameter count mismatch: %d != %d", len(artifact.Weights), artifact.NumParameters)
	}
	log.Infof("restored model from %s (%d parameters)", latest, artifact.NumParameters)
	return NewVectorModel(artifact.Weights), nil
}

// artifactRound extracts the round number from an artifact filename;
// malformed names sort first.
func artifactRound(path string) int {
	name := strings.TrimSuffix(filepath.Base(path), ".cbor")
	idx := strings.LastIndex(name, "_round")
	if idx < 0 {
		return -1
	}
	round, err := strconv.Atoi(name[idx+len("_round"):])
	if err != nil {
		return -1
	}
	return round
}

// PublishArtifact serializes the model, stores it under dir and returns the
// artifact link (a filesystem path, replaceable with an object-store URI
// later) and the SHA-256 hash of the artifact bytes.
func PublishArtifact(m Model, dir, taskID string, round int) (link, hash string, err error) {
	if m == nil {
		return "", "", protoerr.New(protoerr.Structural, "no model to publish")
	}

	weights := m.GetWeights()
	data, err := artifactEnc.Marshal(Artifact{
		Weights:       weights,
		NumParameters: len(weights),
	})
	if err != nil {
		return "", "", protoerr.Wrap(protoerr.Structural, err, "artifact encode")
	}

	digest := sha256.Sum256(data)
	hash = hex.EncodeToString(digest[:])

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", protoerr.Wrap(protoerr.External, err, "artifact dir")
	}
	link = filepath.Join(dir, fmt.Sprintf("%s_round%d.cbor", taskID, round))
	if err := os.WriteFile(link, data, 0o644); err != nil {
		return "", "", protoerr.Wrap(protoerr.External, err, "artifact write")
	}

	log.Infof("model artifact published: %s (hash %.12s)", link, hash)
	return link, hash, nil
}
