// Package curve wraps the fixed protocol curve (secp256r1 / NIST P-256) with
// the point encodings and arithmetic the aggregation pipeline needs.
//
// Miners serialize points as textual "x,y" coordinate pairs, decimal for key
// material and hex for ciphertexts. Both encodings must round-trip losslessly
// because the serialized form is part of the canonical signing message.
//
// The identity (point at infinity) is represented by the nil *Point. It is a
// valid value for Add and scalar multiplication but can never be parsed,
// serialized or negated.
package curve

import (
	"bytes"
	"crypto/elliptic"
	"math/big"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"SecureAgg/pkg/protoerr"
)

var p256 = elliptic.P256()

// Point is an affine point on secp256r1. The nil *Point is the identity.
type Point struct {
	X, Y *big.Int
}

// Order returns the curve order n.
func Order() *big.Int {
	return new(big.Int).Set(p256.Params().N)
}

// FieldPrime returns the prime field modulus p.
func FieldPrime() *big.Int {
	return new(big.Int).Set(p256.Params().P)
}

// Generator returns the curve base point g.
func Generator() *Point {
	params := p256.Params()
	return &Point{X: new(big.Int).Set(params.Gx), Y: new(big.Int).Set(params.Gy)}
}

// IsIdentity reports whether pt is the point at infinity.
func (pt *Point) IsIdentity() bool {
	return pt == nil
}

// Equal reports whether two points are the same group element.
func (pt *Point) Equal(other *Point) bool {
	if pt == nil || other == nil {
		return pt == nil && other == nil
	}
	return pt.X.Cmp(other.X) == 0 && pt.Y.Cmp(other.Y) == 0
}

// Clone returns an independent copy of pt.
func (pt *Point) Clone() *Point {
	if pt == nil {
		return nil
	}
	return &Point{X: new(big.Int).Set(pt.X), Y: new(big.Int).Set(pt.Y)}
}

// Bytes returns the fixed-width 64-byte big-endian x||y encoding. Used for
// table keys and hashing, never for the textual protocol encodings.
func (pt *Point) Bytes() []byte {
	buf := make([]byte, 64)
	if pt == nil {
		return buf
	}
	pt.X.FillBytes(buf[:32])
	pt.Y.FillBytes(buf[32:])
	return buf
}

// MarshalBinary implements encoding.BinaryMarshaler via CBOR.
func (pt *Point) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(pt.Bytes())
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The all-zero
// encoding is rejected: identity is never transmitted.
func (pt *Point) UnmarshalBinary(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return protoerr.Wrap(protoerr.Structural, err, "point decode")
	}
	if len(raw) != 64 {
		return protoerr.New(protoerr.Structural, "point encoding must be 64 bytes, got %d", len(raw))
	}
	if bytes.Equal(raw, make([]byte, 64)) {
		return protoerr.New(protoerr.Cryptographic, "identity point not allowed on the wire")
	}
	x := new(big.Int).SetBytes(raw[:32])
	y := new(big.Int).SetBytes(raw[32:])
	if !p256.IsOnCurve(x, y) {
		return protoerr.New(protoerr.Cryptographic, "decoded point is not on secp256r1")
	}
	pt.X, pt.Y = x, y
	return nil
}

// fromAffine converts a crypto/elliptic result to a *Point, mapping the (0,0)
// infinity encoding back to nil.
func fromAffine(x, y *big.Int) *Point {
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil
	}
	return &Point{X: x, Y: y}
}

func parseCoordinates(serialized string, base int) (*Point, error) {
	xs, ys, found := strings.Cut(serialized, ",")
	if !found {
		return nil, protoerr.New(protoerr.Structural, "invalid point encoding %q: missing comma", serialized)
	}
	x, ok := new(big.Int).SetString(strings.TrimSpace(xs), base)
	if !ok {
		return nil, protoerr.New(protoerr.Structural, "invalid point encoding %q: bad x coordinate", serialized)
	}
	y, ok := new(big.Int).SetString(strings.TrimSpace(ys), base)
	if !ok {
		return nil, protoerr.New(protoerr.Structural, "invalid point encoding %q: bad y coordinate", serialized)
	}
	if x.Sign() < 0 || y.Sign() < 0 || x.Cmp(p256.Params().P) >= 0 || y.Cmp(p256.Params().P) >= 0 {
		return nil, protoerr.New(protoerr.Cryptographic, "point coordinates out of field range")
	}
	if !p256.IsOnCurve(x, y) {
		return nil, protoerr.New(protoerr.Cryptographic, "point is not on secp256r1")
	}
	return &Point{X: x, Y: y}, nil
}

// ParsePoint parses the decimal "x,y" encoding used for key material.
func ParsePoint(serialized string) (*Point, error) {
	return parseCoordinates(serialized, 10)
}

// ParseHexPoint parses the hex "x,y" encoding used for ciphertext entries.
func ParseHexPoint(serialized string) (*Point, error) {
	return parseCoordinates(serialized, 16)
}

// Serialize returns the decimal "x,y" encoding of pt.
func Serialize(pt *Point) (string, error) {
	if pt == nil {
		return "", protoerr.New(protoerr.Cryptographic, "cannot serialize identity point")
	}
	return pt.X.String() + "," + pt.Y.String(), nil
}

// SerializeHex returns the hex "x,y" encoding of pt, zero-padded to 64
// characters per coordinate to match the miner-side format.
func SerializeHex(pt *Point) (string, error) {
	if pt == nil {
		return "", protoerr.New(protoerr.Cryptographic, "cannot serialize identity point")
	}
	buf := pt.Bytes()
	dst := make([]byte, 129)
	hexEncode(dst[:64], buf[:32])
	dst[64] = ','
	hexEncode(dst[65:], buf[32:])
	return string(dst), nil
}

const hextable = "0123456789abcdef"

func hexEncode(dst, src []byte) {
	for i, b := range src {
		dst[i*2] = hextable[b>>4]
		dst[i*2+1] = hextable[b&0x0f]
	}
}

// Add returns p1 + p2, treating the identity as the neutral element.
func Add(p1, p2 *Point) *Point {
	if p1 == nil {
		return p2.Clone()
	}
	if p2 == nil {
		return p1.Clone()
	}
	return fromAffine(p256.Add(p1.X, p1.Y, p2.X, p2.Y))
}

// Mul returns scalar * pt with the scalar reduced mod the curve order.
// A zero scalar is rejected: it would collapse the point to the identity,
// which is a protocol-breaking value. Multiplying the identity is defined
// and yields the identity.
func Mul(pt *Point, scalar *big.Int) (*Point, error) {
	k := new(big.Int).Mod(scalar, p256.Params().N)
	if k.Sign() == 0 {
		return nil, protoerr.New(protoerr.Cryptographic, "scalar multiplication by zero not allowed")
	}
	if pt == nil {
		return nil, nil
	}
	return fromAffine(p256.ScalarMult(pt.X, pt.Y, k.Bytes())), nil
}

// MulBase returns scalar * g with the scalar reduced mod the curve order.
func MulBase(scalar *big.Int) (*Point, error) {
	k := new(big.Int).Mod(scalar, p256.Params().N)
	if k.Sign() == 0 {
		return nil, protoerr.New(protoerr.Cryptographic, "scalar multiplication by zero not allowed")
	}
	return fromAffine(p256.ScalarBaseMult(k.Bytes())), nil
}

// MulBaseInt64 is MulBase for native signed integers.
func MulBaseInt64(scalar int64) (*Point, error) {
	return MulBase(big.NewInt(scalar))
}

// Neg returns the additive inverse of pt. Negating the identity is rejected.
func Neg(pt *Point) (*Point, error) {
	if pt == nil {
		return nil, protoerr.New(protoerr.Cryptographic, "cannot negate identity point")
	}
	y := new(big.Int).Neg(pt.Y)
	y.Mod(y, p256.Params().P)
	return &Point{X: new(big.Int).Set(pt.X), Y: y}, nil
}

// Sub returns p1 - p2. Subtracting the identity is a no-op.
func Sub(p1, p2 *Point) (*Point, error) {
	if p2 == nil {
		return p1.Clone(), nil
	}
	neg, err := Neg(p2)
	if err != nil {
		return nil, err
	}
	return Add(p1, neg), nil
}

// ParsePointBatch parses a list of hex-encoded points, reporting the index of
// the first failure.
func ParsePointBatch(serialized []string) ([]*Point, error) {
	points := make([]*Point, 0, len(serialized))
	for i, s := range serialized {
		pt, err := ParseHexPoint(s)
		if err != nil {
			return nil, protoerr.Wrap(protoerr.KindOf(err), err, "ciphertext entry "+strconv.Itoa(i))
		}
		points = append(points, pt)
	}
	return points, nil
}
