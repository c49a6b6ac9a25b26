// Package signature verifies miner ECDSA signatures over secp256r1.
//
// Miners identify themselves by an uncompressed "x,y" hex public key and sign
// canonical protocol messages with SHA-256 ECDSA, DER-encoding the signature
// and transmitting it hex-encoded. The aggregator only ever verifies.
package signature

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"

	log "github.com/sirupsen/logrus"

	"SecureAgg/pkg/protoerr"
)

// ParsePublicKey parses a miner public key in "x_hex,y_hex" form and checks
// it is a valid curve point.
func ParsePublicKey(publicKey string) (*ecdsa.PublicKey, error) {
	xs, ys, found := strings.Cut(publicKey, ",")
	if !found {
		return nil, protoerr.New(protoerr.Structural, "invalid public key format")
	}
	x, okX := new(big.Int).SetString(strings.TrimSpace(xs), 16)
	y, okY := new(big.Int).SetString(strings.TrimSpace(ys), 16)
	if !okX || !okY {
		return nil, protoerr.New(protoerr.Structural, "invalid public key coordinates")
	}
	if !elliptic.P256().IsOnCurve(x, y) {
		return nil, protoerr.New(protoerr.Cryptographic, "public key not on secp256r1")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// Verify checks a DER-encoded, hex-transmitted ECDSA signature over the
// SHA-256 digest of message. It never panics on malformed input; any parse
// failure is an invalid signature.
func Verify(publicKey string, message []byte, sigHex string) bool {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		log.Warnf("signature verify: %v", err)
		return false
	}
	der, err := hex.DecodeString(sigHex)
	if err != nil {
		log.Warnln("signature verify: signature is not valid hex")
		return false
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], der)
}
