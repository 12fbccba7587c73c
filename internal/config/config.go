// Package config holds the selector cache's configuration: the on-disk
// knobs plus the tunable constants the algorithm packages read as
// parameters instead of hardcoding as magic numbers.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"selectorcache/internal/cacheerr"
	"selectorcache/internal/logging"
)

// Config holds all selector-cache configuration.
type Config struct {
	// MaxSizeMB is an advisory ceiling for the SQLite file size.
	MaxSizeMB int `yaml:"max_size_mb" json:"max_size_mb"`

	// SelectorTTLMs is the idle TTL for input mappings (§5 sweep).
	SelectorTTLMs int64 `yaml:"selector_ttl_ms" json:"selector_ttl_ms"`

	// SnapshotTTLMs is the absolute TTL for page snapshots.
	SnapshotTTLMs int64 `yaml:"snapshot_ttl_ms" json:"snapshot_ttl_ms"`

	// CleanupIntervalMs is the periodic sweep cadence.
	CleanupIntervalMs int64 `yaml:"cleanup_interval_ms" json:"cleanup_interval_ms"`

	// MaxVariationsPerSelector is the per-(selector,url) variation cap K.
	MaxVariationsPerSelector int `yaml:"max_variations_per_selector" json:"max_variations_per_selector"`

	// MemorySize is the tiered-cache LRU capacity.
	MemorySize int `yaml:"memory_size" json:"memory_size"`

	// MemoryTTLMs is the LRU idle TTL.
	MemoryTTLMs int64 `yaml:"memory_ttl_ms" json:"memory_ttl_ms"`

	// PreloadCommonSelectors is loaded, saved and overridable, but Open does
	// not read it: the LRU always starts empty.
	PreloadCommonSelectors bool `yaml:"preload_common_selectors" json:"preload_common_selectors"`

	// Tunables holds constants that stay configurable rather than being
	// re-derived from first principles.
	Tunables TunableConfig `yaml:"tunables" json:"tunables"`

	// Logging controls the categorized file logger.
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TunableConfig exposes constants the algorithm packages treat as given
// rather than deriving at runtime.
type TunableConfig struct {
	// SelectorConfidenceGain multiplies selector confidence on every
	// successful re-use, capped at 1.0. Default 1.02.
	SelectorConfidenceGain float64 `yaml:"selector_confidence_gain" json:"selector_confidence_gain"`

	// MappingConfidenceGain multiplies mapping confidence on every repeated
	// success, capped at 1.0. Default 1.05.
	MappingConfidenceGain float64 `yaml:"mapping_confidence_gain" json:"mapping_confidence_gain"`

	// ReverseMatchPenalty scales confidence for a level-3 (reverse) hit.
	// Default 0.9.
	ReverseMatchPenalty float64 `yaml:"reverse_match_penalty" json:"reverse_match_penalty"`

	// VariationConfidenceDiscount scales confidence for tiered-cache
	// pre-inserted input variations. Default 0.95.
	VariationConfidenceDiscount float64 `yaml:"variation_confidence_discount" json:"variation_confidence_discount"`

	// DOMSignatureWeight and InputSimilarityWeight sum to 1.0 and blend a
	// DOM-signature-augmented lookup's score. Defaults 0.7 / 0.3.
	DOMSignatureWeight    float64 `yaml:"dom_signature_weight" json:"dom_signature_weight"`
	InputSimilarityWeight float64 `yaml:"input_similarity_weight" json:"input_similarity_weight"`

	// CrossEnvSignatureThreshold is the minimum DOM-signature similarity for
	// cross-environment reuse acceptance. Default 0.8.
	CrossEnvSignatureThreshold float64 `yaml:"cross_env_signature_threshold" json:"cross_env_signature_threshold"`

	// EnvironmentPenalty records the factor applied to similarity when
	// domains differ under the cross_env operation. Default 0.85.
	// internal/similarity does not read this field; it applies its own
	// fixed 0.85.
	EnvironmentPenalty float64 `yaml:"environment_penalty" json:"environment_penalty"`

	// ActionMatchBonus records the bonus added when two inputs share an
	// exact action group, capped at 1.0. Default 0.10. internal/similarity
	// does not read this field; it applies its own fixed 0.10.
	ActionMatchBonus float64 `yaml:"action_match_bonus" json:"action_match_bonus"`

	// EnhancedKeyMatchThreshold is the minimum key-to-key similarity for the
	// enhanced-key near-match path to accept a candidate. Default 0.60.
	EnhancedKeyMatchThreshold float64 `yaml:"enhanced_key_match_threshold" json:"enhanced_key_match_threshold"`
}

// DefaultTunables returns the constants' default values.
func DefaultTunables() TunableConfig {
	return TunableConfig{
		SelectorConfidenceGain:      1.02,
		MappingConfidenceGain:       1.05,
		ReverseMatchPenalty:         0.9,
		VariationConfidenceDiscount: 0.95,
		DOMSignatureWeight:          0.7,
		InputSimilarityWeight:       0.3,
		CrossEnvSignatureThreshold:  0.8,
		EnvironmentPenalty:          0.85,
		ActionMatchBonus:            0.10,
		EnhancedKeyMatchThreshold:   0.60,
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxSizeMB:                50,
		SelectorTTLMs:            300_000,
		SnapshotTTLMs:            1_800_000,
		CleanupIntervalMs:        60_000,
		MaxVariationsPerSelector: 20,
		MemorySize:               100,
		MemoryTTLMs:              300_000,
		PreloadCommonSelectors:   true,
		Tunables:                 DefaultTunables(),
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults (plus
// environment overrides) if the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading cache config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets deployment environments tune the cache without
// touching the YAML file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SELECTOR_CACHE_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
	if v := os.Getenv("SELECTOR_CACHE_MEMORY_SIZE"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.MemorySize = n
		}
	}
	if v := os.Getenv("SELECTOR_CACHE_MAX_SIZE_MB"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.MaxSizeMB = n
		}
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive: %s", s)
	}
	return n, nil
}

// Validate rejects nonsensical configuration at construction time;
// configuration errors are typed and surfaced, never silently clamped.
func (c *Config) Validate() error {
	if c.MaxSizeMB <= 0 {
		return fmt.Errorf("%w: max_size_mb must be positive", cacheerr.ErrConfig)
	}
	if c.SelectorTTLMs <= 0 {
		return fmt.Errorf("%w: selector_ttl_ms must be positive", cacheerr.ErrConfig)
	}
	if c.SnapshotTTLMs <= 0 {
		return fmt.Errorf("%w: snapshot_ttl_ms must be positive", cacheerr.ErrConfig)
	}
	if c.CleanupIntervalMs <= 0 {
		return fmt.Errorf("%w: cleanup_interval_ms must be positive", cacheerr.ErrConfig)
	}
	if c.MaxVariationsPerSelector <= 0 {
		return fmt.Errorf("%w: max_variations_per_selector must be positive", cacheerr.ErrConfig)
	}
	if c.MemorySize <= 0 {
		return fmt.Errorf("%w: memory_size must be positive", cacheerr.ErrConfig)
	}
	if c.MemoryTTLMs <= 0 {
		return fmt.Errorf("%w: memory_ttl_ms must be positive", cacheerr.ErrConfig)
	}
	return nil
}
