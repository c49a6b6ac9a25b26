// Package config loads the process configuration: an optional YAML file
// overlaid with SECUREAGG_-prefixed environment variables. Protocol
// constants live in internal/params and are not configurable; everything
// here is deployment-local (addresses, paths, key material).
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"SecureAgg/internal/params"
	"SecureAgg/pkg/keys"
)

const envPrefix = "SECUREAGG_"

// Config is the full process configuration.
type Config struct {
	// ListenAddr is the HTTP trigger API bind address.
	ListenAddr string `koanf:"listen_addr"`
	// BackendURL is the untrusted relay base URL.
	BackendURL string `koanf:"backend_url"`
	// ArtifactDir receives published model artifacts.
	ArtifactDir string `koanf:"artifact_dir"`
	// LogLevel is a logrus level name.
	LogLevel string `koanf:"log_level"`

	Keys keys.Config `koanf:"keys"`

	// EncryptedZero overrides the sparse-expansion placeholder per
	// deployment.
	EncryptedZero string `koanf:"encrypted_zero"`

	MinParticipants    int           `koanf:"min_participants"`
	MaxParticipants    int           `koanf:"max_participants"`
	AggregationTimeout time.Duration `koanf:"aggregation_timeout"`
	FeedbackTimeout    time.Duration `koanf:"feedback_timeout"`
	PollInterval       time.Duration `koanf:"poll_interval"`
	TolerableFaultRate float64       `koanf:"tolerable_fault_rate"`
	LearningRate       float64       `koanf:"learning_rate"`
}

func defaults() Config {
	return Config{
		ListenAddr:         ":8090",
		ArtifactDir:        "./artifacts",
		LogLevel:           "info",
		MinParticipants:    params.MinParticipants,
		MaxParticipants:    params.MaxMiners,
		AggregationTimeout: params.AggregationTimeout,
		FeedbackTimeout:    params.FeedbackTimeout,
		PollInterval:       params.BackendPollInterval,
		TolerableFaultRate: params.DefaultTolerableFaultRate,
		LearningRate:       params.DefaultLearningRate,
	}
}

// Load builds the configuration from the optional YAML file at path and the
// process environment. Environment variables win over the file; both win
// over defaults. A double underscore separates nesting levels, so
// SECUREAGG_KEYS__AGGREGATOR_SK maps to keys.aggregator_sk.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, errors.Wrapf(err, "load config file %s", path)
			}
			log.Infof("configuration loaded from %s", path)
		} else {
			log.Warnf("config file %s not found, using environment only", path)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal configuration")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BackendURL == "" {
		return errors.New("backend_url is required")
	}
	if c.TolerableFaultRate < 0 || c.TolerableFaultRate >= 1 {
		return errors.Errorf("tolerable_fault_rate must be in [0, 1), got %v", c.TolerableFaultRate)
	}
	if c.MinParticipants <= 0 {
		return errors.Errorf("min_participants must be positive, got %d", c.MinParticipants)
	}
	return nil
}
