// Package bsgs implements bounded signed discrete-log recovery over the
// protocol curve using baby-step giant-step.
//
// The aggregation pipeline produces points of the form P = x*g where x is a
// quantized gradient sum inside the fixed protocol bound. Recovery shifts the
// signed domain to a non-negative one, builds a baby-step table of size
// ceil(sqrt(range)) once per Recoverer, and walks at most that many giant
// steps, so the search is O(sqrt(range)) point operations.
//
// A value outside the bound is not a recoverable condition: a correct miner
// can never produce one, so the search failure is classified protocol-bound
// and aborts the round.
package bsgs

import (
	"math/big"
	"runtime"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"SecureAgg/pkg/curve"
	"SecureAgg/pkg/protoerr"
)

// Recoverer performs signed bounded discrete-log recovery. It is immutable
// after construction and safe for concurrent use; the baby-step table is
// shared across all recoveries.
type Recoverer struct {
	min   int64
	max   int64
	scale int64

	m       int64
	table   map[[16]byte]int64
	offset  *curve.Point // (-min)*g, shifts the signed domain
	stepNeg *curve.Point // -(m*g), one giant step
}

// tableKey hashes the fixed-width point encoding down to a compact map key.
// The identity never enters the table; it is handled separately.
func tableKey(pt *curve.Point) [16]byte {
	var key [16]byte
	digest := blake3.Sum256(pt.Bytes())
	copy(key[:], digest[:16])
	return key
}

// isqrtCeil returns ceil(sqrt(n)) for non-negative n.
func isqrtCeil(n int64) int64 {
	root := new(big.Int).Sqrt(big.NewInt(n))
	r := root.Int64()
	if r*r < n {
		r++
	}
	return r
}

// NewRecoverer builds a Recoverer for the signed bound [min, max] and the
// fixed-point quantization scale. Building the baby-step table costs
// ceil(sqrt(max-min)) point additions and is done once.
func NewRecoverer(min, max, scale int64) (*Recoverer, error) {
	if min >= max {
		return nil, protoerr.New(protoerr.ProtocolBound, "invalid discrete-log bound [%d, %d]", min, max)
	}
	if scale <= 0 {
		return nil, protoerr.New(protoerr.ProtocolBound, "quantization scale must be positive, got %d", scale)
	}

	m := isqrtCeil(max - min)

	offset, err := curve.MulBaseInt64(-min)
	if err != nil {
		return nil, err
	}
	step, err := curve.MulBaseInt64(m)
	if err != nil {
		return nil, err
	}
	stepNeg, err := curve.Neg(step)
	if err != nil {
		return nil, err
	}

	r := &Recoverer{
		min:     min,
		max:     max,
		scale:   scale,
		m:       m,
		table:   make(map[[16]byte]int64, m),
		offset:  offset,
		stepNeg: stepNeg,
	}

	// Baby steps: j*g for j in [1, m). j = 0 is the identity and is matched
	// without a table entry.
	g := curve.Generator()
	cur := g.Clone()
	for j := int64(1); j < m; j++ {
		r.table[tableKey(cur)] = j
		cur = curve.Add(cur, g)
	}

	log.Infof("bsgs recoverer ready: bound [%d, %d], %d baby steps", min, max, m)
	return r, nil
}

// Recover returns the unique x in [min, max] with pt == x*g. The identity
// recovers to 0 without searching. A point with no in-range logarithm is a
// fatal protocol violation.
func (r *Recoverer) Recover(pt *curve.Point) (int64, error) {
	if pt.IsIdentity() {
		return 0, nil
	}

	// Shift the signed domain: target = pt + (-min)*g = (x - min)*g with
	// x - min in [0, max-min].
	target := curve.Add(pt, r.offset)

	gamma := target
	for i := int64(0); i <= r.m; i++ {
		var (
			j   int64
			hit bool
		)
		if gamma.IsIdentity() {
			j, hit = 0, true
		} else {
			j, hit = r.table[tableKey(gamma)]
		}
		if hit {
			x := i*r.m + j + r.min
			// The last giant step can overshoot the range; only an in-bound
			// candidate is a real solution.
			if x >= r.min && x <= r.max {
				return x, nil
			}
		}
		gamma = curve.Add(gamma, r.stepNeg)
	}

	return 0, protoerr.New(protoerr.ProtocolBound,
		"discrete log not found in range [%d, %d]", r.min, r.max)
}

// RecoverVector recovers every coordinate of a point vector. Coordinates are
// independent, so recovery runs across workers; the result order matches the
// input order. Any failing coordinate fails the whole vector with its index.
func (r *Recoverer) RecoverVector(points []*curve.Point) ([]int64, error) {
	out := make([]int64, len(points))

	workers := runtime.NumCPU()
	if workers > len(points) {
		workers = len(points)
	}
	if workers < 1 {
		workers = 1
	}

	var eg errgroup.Group
	chunk := (len(points) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if lo >= len(points) {
			break
		}
		if hi > len(points) {
			hi = len(points)
		}
		eg.Go(func() error {
			for idx := lo; idx < hi; idx++ {
				val, err := r.Recover(points[idx])
				if err != nil {
					return protoerr.Wrap(protoerr.ProtocolBound, err,
						"discrete-log recovery failed at index "+strconv.Itoa(idx))
				}
				out[idx] = val
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Dequantize converts recovered quantized values back to float space by
// dividing by the fixed-point scale.
func (r *Recoverer) Dequantize(quantized []int64) []float64 {
	out := make([]float64, len(quantized))
	for i, q := range quantized {
		out[i] = float64(q) / float64(r.scale)
	}
	return out
}
