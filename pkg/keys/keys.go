// Package keys loads and validates the task-scoped cryptographic material:
// the aggregator scalar pair, the task-publisher public point, and the
// per-task functional-encryption scalar.
//
// The aggregator private scalar is authoritative. The public point is always
// re-derived from it; an externally configured public point is only a
// diagnostic cross-check, because it carries no secrecy and an operator typo
// must not poison the pipeline.
package keys

import (
	"math/big"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/sha3"

	"SecureAgg/pkg/curve"
	"SecureAgg/pkg/protoerr"
)

// Config is the raw key configuration as loaded from the process
// configuration surface. Values are textual because they arrive from the
// environment; Load parses and validates them.
type Config struct {
	// AggregatorSK is the private scalar, decimal. Either this or Mnemonic
	// must be set.
	AggregatorSK string `koanf:"aggregator_sk"`
	// Mnemonic optionally derives the aggregator scalar from a BIP-39
	// phrase instead of a raw integer.
	Mnemonic string `koanf:"mnemonic"`
	// AggregatorPK is the optional decimal "x,y" public point, used only as
	// a cross-check against the derived point.
	AggregatorPK string `koanf:"aggregator_pk"`
	// TPPublicKey is the task publisher's decimal "x,y" public point.
	TPPublicKey string `koanf:"tp_public_key"`
	// FEFunctionKey is the decimal fallback functional scalar, used only
	// when no derivation metadata is available.
	FEFunctionKey string `koanf:"fe_function_key"`
	// AggregatorAddress is the expected aggregator identity on the relay,
	// compared against derivation metadata when present.
	AggregatorAddress string `koanf:"aggregator_address"`
}

// DerivationMetadata is the relay-provided input for deterministic skFE
// derivation.
type DerivationMetadata struct {
	TaskID            string   `json:"taskID"`
	Publisher         string   `json:"publisher"`
	MinerPublicKeys   []string `json:"minerPublicKeys"`
	NonceTP           string   `json:"nonceTP"`
	AggregatorAddress string   `json:"aggregatorAddress"`
	MinerCount        int      `json:"minerCount"`
}

// Material is the validated key set for one task. It is immutable once
// loaded and owned exclusively by that task's execution context.
type Material struct {
	TaskID string

	SKAggregator *big.Int
	PKAggregator *curve.Point

	PKTaskPublisher *curve.Point
	SKFunctional    *big.Int
}

// Load parses, derives and sanity-checks all key material for a task.
// metadata may be nil, in which case the configured functional-scalar
// fallback is used.
func Load(taskID string, cfg Config, metadata *DerivationMetadata) (*Material, error) {
	log.Infof("loading key material for task %s", taskID)

	skA, err := loadAggregatorScalar(cfg)
	if err != nil {
		return nil, err
	}

	// The private scalar is authoritative: always re-derive the public
	// point rather than trusting a configured value.
	pkA, err := curve.MulBase(skA)
	if err != nil {
		return nil, err
	}
	if cfg.AggregatorPK != "" {
		configured, err := curve.ParsePoint(cfg.AggregatorPK)
		if err != nil {
			log.Warnf("configured aggregator public key unparseable, using derived point: %v", err)
		} else if !configured.Equal(pkA) {
			derived, _ := curve.Serialize(pkA)
			log.Warnf("configured aggregator public key does not match private scalar, using derived point %s", derived)
		}
	}

	pkTP, err := curve.ParsePoint(cfg.TPPublicKey)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.Cryptographic, err, "task publisher public key")
	}

	skFE, err := loadFunctionalScalar(taskID, cfg, metadata)
	if err != nil {
		return nil, err
	}

	m := &Material{
		TaskID:          taskID,
		SKAggregator:    skA,
		PKAggregator:    pkA,
		PKTaskPublisher: pkTP,
		SKFunctional:    skFE,
	}
	if err := m.sanityCheck(); err != nil {
		return nil, err
	}
	log.Infoln("key material loaded")
	return m, nil
}

// PublicKeyString returns the decimal form of the aggregator public point
// for candidate blocks and the public-keys endpoint.
func (m *Material) PublicKeyString() string {
	s, _ := curve.Serialize(m.PKAggregator)
	return s
}

func loadAggregatorScalar(cfg Config) (*big.Int, error) {
	if cfg.Mnemonic != "" {
		return scalarFromMnemonic(cfg.Mnemonic)
	}
	if cfg.AggregatorSK == "" {
		return nil, protoerr.New(protoerr.Structural, "aggregator private key not configured")
	}
	sk, ok := new(big.Int).SetString(strings.TrimSpace(cfg.AggregatorSK), 10)
	if !ok {
		return nil, protoerr.New(protoerr.Structural, "aggregator private key is not a valid integer")
	}
	return sk, nil
}

// scalarFromMnemonic derives the aggregator scalar from a BIP-39 phrase via
// the BIP-32 master key, reduced mod the curve order.
func scalarFromMnemonic(mnemonic string) (*big.Int, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, protoerr.New(protoerr.Structural, "invalid aggregator mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.Cryptographic, err, "mnemonic master key")
	}
	sk := new(big.Int).SetBytes(masterKey.Key)
	sk.Mod(sk, curve.Order())
	if sk.Sign() == 0 {
		return nil, protoerr.New(protoerr.Cryptographic, "mnemonic derives a zero scalar")
	}
	return sk, nil
}

func loadFunctionalScalar(taskID string, cfg Config, metadata *DerivationMetadata) (*big.Int, error) {
	if metadata != nil {
		if cfg.AggregatorAddress != "" && metadata.AggregatorAddress != "" &&
			!strings.EqualFold(cfg.AggregatorAddress, metadata.AggregatorAddress) {
			return nil, protoerr.New(protoerr.Structural,
				"aggregator address mismatch: expected %s, relay says %s",
				cfg.AggregatorAddress, metadata.AggregatorAddress)
		}
		skFE, err := DeriveFunctionalScalar(taskID, metadata.Publisher, metadata.MinerPublicKeys, metadata.NonceTP)
		if err == nil {
			log.Infof("functional scalar derived from relay metadata (%d miners)", len(metadata.MinerPublicKeys))
			return skFE, nil
		}
		log.Warnf("functional scalar derivation failed, falling back to configured value: %v", err)
	}

	if cfg.FEFunctionKey == "" {
		return nil, protoerr.New(protoerr.Structural, "functional-encryption key not configured and not derivable")
	}
	skFE, ok := new(big.Int).SetString(strings.TrimSpace(cfg.FEFunctionKey), 10)
	if !ok {
		return nil, protoerr.New(protoerr.Structural, "functional-encryption key is not a valid integer")
	}
	return skFE, nil
}

// DeriveFunctionalScalar computes the deterministic per-task functional
// scalar:
//
//	skFE = keccak256(publisher || sorted miner pks || taskID || nonceTP) mod n
//
// with "||" as the literal separator. The same derivation runs on the relay;
// both sides must agree byte for byte.
func DeriveFunctionalScalar(taskID, publisher string, minerPublicKeys []string, nonceTP string) (*big.Int, error) {
	if publisher == "" || nonceTP == "" || len(minerPublicKeys) == 0 {
		return nil, protoerr.New(protoerr.Structural, "incomplete key derivation metadata")
	}

	sorted := make([]string, len(minerPublicKeys))
	copy(sorted, minerPublicKeys)
	sort.Strings(sorted)

	parts := make([]string, 0, len(sorted)+3)
	parts = append(parts, strings.ToLower(publisher))
	parts = append(parts, sorted...)
	parts = append(parts, taskID, nonceTP)

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(strings.Join(parts, "||")))

	skFE := new(big.Int).SetBytes(h.Sum(nil))
	skFE.Mod(skFE, curve.Order())
	if skFE.Sign() == 0 {
		return nil, protoerr.New(protoerr.Cryptographic, "derived functional scalar is zero")
	}
	return skFE, nil
}

func (m *Material) sanityCheck() error {
	n := curve.Order()
	if m.SKAggregator.Sign() <= 0 || m.SKAggregator.Cmp(n) >= 0 {
		return protoerr.New(protoerr.Cryptographic, "aggregator private scalar out of range")
	}
	if m.SKFunctional.Sign() <= 0 || m.SKFunctional.Cmp(n) >= 0 {
		return protoerr.New(protoerr.Cryptographic, "functional scalar out of range")
	}
	if m.PKTaskPublisher.IsIdentity() {
		return protoerr.New(protoerr.Cryptographic, "task publisher public key is the identity")
	}
	return nil
}
