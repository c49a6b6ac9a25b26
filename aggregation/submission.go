package aggregation

import (
	"encoding/json"
	"strings"

	"SecureAgg/pkg/protoerr"
)

// Submission is a normalized, structurally complete miner submission, ready
// for signature verification and aggregation. It lives for one round and is
// discarded afterwards.
type Submission struct {
	TaskID      string
	MinerPK     string
	Ciphertext  []string
	ScoreCommit string
	Signature   string
}

// RawSubmission is the heterogeneous transport shape the relay hands over.
// Miners disagree on field naming (camelCase vs snake_case) and may send a
// single ciphertext entry as a bare string or the whole vector in a sparse
// descriptor; normalization flattens all of that.
type RawSubmission struct {
	TaskID      string
	MinerPK     string
	ScoreCommit string
	Signature   string

	// Ciphertext is kept raw until normalization: it may be a JSON string
	// or a JSON array of strings.
	Ciphertext json.RawMessage

	// Sparse descriptor. A submission is sparse when SparseCiphertext is
	// present; TotalSize is the dense vector length.
	TotalSize        int
	NonzeroIndices   []int
	SparseCiphertext []string
}

// UnmarshalJSON accepts both miner-side field spellings, preferring the
// camelCase ones the FL clients emit.
func (r *RawSubmission) UnmarshalJSON(data []byte) error {
	var aux struct {
		TaskID           string          `json:"taskID"`
		TaskIDSnake      string          `json:"task_id"`
		MinerPK          string          `json:"miner_pk"`
		MinerPKCamel     string          `json:"minerPK"`
		ScoreCommit      string          `json:"scoreCommit"`
		ScoreCommitSnake string          `json:"score_commit"`
		Signature        string          `json:"signature"`
		Ciphertext       json.RawMessage `json:"ciphertext"`
		TotalSize        int             `json:"total_size"`
		NonzeroIndices   []int           `json:"nonzero_indices"`
		SparseCiphertext []string        `json:"sparse_ciphertext"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.TaskID = firstNonEmpty(aux.TaskID, aux.TaskIDSnake)
	r.MinerPK = firstNonEmpty(aux.MinerPK, aux.MinerPKCamel)
	r.ScoreCommit = firstNonEmpty(aux.ScoreCommit, aux.ScoreCommitSnake)
	r.Signature = aux.Signature
	r.Ciphertext = aux.Ciphertext
	r.TotalSize = aux.TotalSize
	r.NonzeroIndices = aux.NonzeroIndices
	r.SparseCiphertext = aux.SparseCiphertext
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsSparse reports whether the submission carries a sparse descriptor.
func (r *RawSubmission) IsSparse() bool {
	return r.SparseCiphertext != nil
}

// Normalize turns a raw submission into the dense Submission form.
// encryptedZero is the agreed placeholder written at coordinates a sparse
// submission leaves out.
func (r *RawSubmission) Normalize(encryptedZero string) (*Submission, error) {
	sub := &Submission{
		TaskID:      r.TaskID,
		MinerPK:     r.MinerPK,
		ScoreCommit: r.ScoreCommit,
		Signature:   r.Signature,
	}

	if r.IsSparse() {
		dense, err := r.expandSparse(encryptedZero)
		if err != nil {
			return nil, err
		}
		sub.Ciphertext = dense
		return sub, nil
	}

	ct, err := decodeCiphertext(r.Ciphertext)
	if err != nil {
		return nil, err
	}
	sub.Ciphertext = ct
	return sub, nil
}

// decodeCiphertext accepts either a single string or a list of strings,
// coercing the single string into a one-element vector.
func decodeCiphertext(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, protoerr.New(protoerr.Structural, "missing ciphertext")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, protoerr.New(protoerr.Structural, "invalid ciphertext format")
	}
	return list, nil
}

// expandSparse reconstructs the dense ciphertext vector from the sparse
// descriptor, filling absent coordinates with the encrypted-zero placeholder.
func (r *RawSubmission) expandSparse(encryptedZero string) ([]string, error) {
	if r.TotalSize <= 0 {
		return nil, protoerr.New(protoerr.Structural, "sparse submission with non-positive total_size %d", r.TotalSize)
	}
	if len(r.NonzeroIndices) != len(r.SparseCiphertext) {
		return nil, protoerr.New(protoerr.Structural,
			"sparse index/value length mismatch: %d != %d", len(r.NonzeroIndices), len(r.SparseCiphertext))
	}

	dense := make([]string, r.TotalSize)
	for i := range dense {
		dense[i] = encryptedZero
	}
	for i, idx := range r.NonzeroIndices {
		if idx < 0 || idx >= r.TotalSize {
			return nil, protoerr.New(protoerr.Structural, "sparse index %d out of range [0, %d)", idx, r.TotalSize)
		}
		dense[idx] = r.SparseCiphertext[i]
	}
	return dense, nil
}

// validateStructure performs the structural and binding checks on a
// normalized submission.
func (s *Submission) validateStructure(taskID string) error {
	switch {
	case s.TaskID == "":
		return protoerr.New(protoerr.Structural, "missing task id")
	case s.MinerPK == "":
		return protoerr.New(protoerr.Structural, "missing miner public key")
	case s.ScoreCommit == "":
		return protoerr.New(protoerr.Structural, "missing score commitment")
	case s.Signature == "":
		return protoerr.New(protoerr.Structural, "missing signature")
	case len(s.Ciphertext) == 0:
		return protoerr.New(protoerr.Structural, "empty ciphertext vector")
	case s.TaskID != taskID:
		return protoerr.New(protoerr.Structural, "task id mismatch: %q != %q", s.TaskID, taskID)
	}
	for i, entry := range s.Ciphertext {
		if !strings.Contains(entry, ",") {
			return protoerr.New(protoerr.Structural, "ciphertext entry %d is not an x,y point encoding", i)
		}
	}
	return nil
}

// CanonicalMessage is the deterministic byte encoding miners sign:
// task_id | comma-joined ciphertext | score_commitment | miner_public_key.
func (s *Submission) CanonicalMessage() []byte {
	parts := []string{
		s.TaskID,
		strings.Join(s.Ciphertext, ","),
		s.ScoreCommit,
		s.MinerPK,
	}
	return []byte(strings.Join(parts, "|"))
}
