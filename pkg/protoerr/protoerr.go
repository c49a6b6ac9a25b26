// Package protoerr defines the typed failure taxonomy used across the
// aggregation pipeline. Components return a *protoerr.Error; the orchestrator
// is the only layer that maps a kind to a user-visible outcome.
package protoerr

import "fmt"

// Kind classifies a failure.
type Kind int

const (
	// Structural: a missing or malformed field. Reject the single item,
	// continue the batch.
	Structural Kind = iota + 1
	// Cryptographic: invalid signature, off-curve point, zero or
	// out-of-range scalar. Reject the item or abort the step.
	Cryptographic
	// ProtocolBound: a protocol-wide bound was exceeded (discrete-log search
	// range, dimension cap). Fatal for the round.
	ProtocolBound
	// Insufficiency: too few valid submissions or votes after filtering.
	// Aborts the round.
	Insufficiency
	// External: the relay was unreachable or returned garbage. Treated as an
	// empty result by the polling caller.
	External
)

func (k Kind) String() string {
	switch k {
	case Structural:
		return "structural"
	case Cryptographic:
		return "cryptographic"
	case ProtocolBound:
		return "protocol-bound"
	case Insufficiency:
		return "insufficiency"
	case External:
		return "external"
	}
	return "unknown"
}

// Error wraps an underlying error with its taxonomy kind.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

// Unwrap implements errors.Wrapper.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error from a format string.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. Returns nil when err is nil.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: fmt.Errorf("%s: %w", msg, err)}
}

// KindOf reports the kind of err, or 0 when err carries no classification.
func KindOf(err error) Kind {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			return pe.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}

// IsFatal reports whether err must abort the whole round rather than a single
// item.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case ProtocolBound, Insufficiency:
		return true
	}
	return false
}
