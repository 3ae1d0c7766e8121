package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultGracePeriod is how long a content pack must have been released
// before its fixes may be applied without human review.
const DefaultGracePeriod = 72 * time.Hour

// GateConfig holds the automation gate parameters.
type GateConfig struct {
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period"`
	// ReviewNewRules widens the review queue with recently introduced rules
	// whenever automatic application is not permitted.
	ReviewNewRules bool `yaml:"review_new_rules" json:"review_new_rules"`
}

// DefaultGateConfig returns the built-in gate configuration.
func DefaultGateConfig() *GateConfig {
	return &GateConfig{
		GracePeriod:    DefaultGracePeriod,
		ReviewNewRules: true,
	}
}

// LoadGateConfig loads gate configuration from a YAML file and returns it
// with the SHA-256 of the raw bytes. A missing file yields defaults and the
// hash of empty input. Invalid YAML is an error.
func LoadGateConfig(path string) (*GateConfig, string, error) {
	cfg := DefaultGateConfig()
	if path == "" {
		return cfg, HashBytes(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, HashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read gate config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse gate config: %w", err)
	}
	if cfg.GracePeriod < 0 {
		return nil, "", fmt.Errorf("gate config: grace_period must not be negative")
	}
	return cfg, HashBytes(data), nil
}

// Hash returns a stable digest of the effective configuration.
func (c GateConfig) Hash() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return HashBytes(nil)
	}
	return HashBytes(data)
}

// AgeGate builds the gate described by this configuration.
func (c GateConfig) AgeGate() AgeGate {
	return AgeGate{GracePeriod: c.GracePeriod, ReviewNewRules: c.ReviewNewRules}
}

// HashBytes returns "sha256:<hex>" of data.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
