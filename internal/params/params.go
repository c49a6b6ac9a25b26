// Package params defines the protocol-wide constants shared by every
// cooperating party: quantization bounds, participation limits, timeouts and
// consensus parameters. These values are part of the protocol itself, not
// local tuning knobs; a mismatch between parties is a cross-system protocol
// break.
package params

import "time"

// Task lifecycle states. The lifecycle is linear; ABORTED is terminal and
// reachable from any state.
const (
	StateInitialized    = "INITIALIZED"
	StateMetadataLoaded = "METADATA_LOADED"
	StateCollecting     = "COLLECTING_SUBMISSIONS"
	StateAggregating    = "AGGREGATING"
	StateEvaluated      = "MODEL_EVALUATED"
	StateCandidateBuilt = "CANDIDATE_BUILT"
	StateVerifying      = "VERIFYING"
	StatePublished      = "PUBLISHED"
	StateAborted        = "ABORTED"
)

// Gradient quantization. Miners clip float gradients to ±MaxGradMagnitude and
// scale them by QuantizationScale before encryption, so every quantized value
// is a signed int64 in [BSGSMinBound, BSGSMaxBound].
const (
	MaxGradMagnitude  = 10_000
	GradientPrecision = 6
	QuantizationScale = 1_000_000 // 10^GradientPrecision

	BSGSMinBound int64 = -10_000_000_000 // -MaxGradMagnitude * QuantizationScale
	BSGSMaxBound int64 = 10_000_000_000
)

// Participation thresholds.
const (
	MinParticipants = 2
	MaxMiners       = 1_000

	// MaxModelDimension bounds the length of the aggregated vector.
	MaxModelDimension = 10_000_000
)

// Timeouts and polling.
const (
	AggregationTimeout  = 120 * time.Second
	FeedbackTimeout     = 120 * time.Second
	BackendPollInterval = 1 * time.Second
)

// Consensus parameters.
const (
	// DefaultTolerableFaultRate is the fraction of Byzantine or absent voters
	// the majority rule tolerates.
	DefaultTolerableFaultRate = 0.33

	VerdictValid   = "VALID"
	VerdictInvalid = "INVALID"

	// FeedbackProtocolTag prefixes the canonical feedback message signed by
	// miners. Must match the miner-side signer byte for byte.
	FeedbackProtocolTag = "SecureAgg Verification"
)

// Accuracy bounds reported by the evaluation collaborator.
const (
	MinAccuracy = 0.0
	MaxAccuracy = 1.0
)

// DefaultLearningRate scales the aggregated update when applying it to the
// global model.
const DefaultLearningRate = 1.0

// EncryptedZeroFallback is the shared "encrypted zero" placeholder used when
// expanding sparse submissions and no per-task value is configured. It must
// equal the miner-side encryption of zero agreed for the task; the configured
// per-task value always takes precedence. The fallback is the hex-encoded
// curve generator, which parses everywhere but is only correct when the
// cooperating parties agreed on it.
const EncryptedZeroFallback = "6b17d1f2e12c4247f8bce6e563a440f277037d812deb33a0f4a13945d898c296," +
	"4fe342e2fe1a7f9b8ee7eb4a7c0f9e162bce33576b315ececbb6406837bf51f5"
