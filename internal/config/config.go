// Package config loads the engine's configuration: entity definitions with
// their aggregation keys and field policies, the persistence driver, and the
// serving surface. Configuration is a YAML file with environment overrides;
// it is validated eagerly at load time so a bad policy never reaches a
// request.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/viper"

	"github.com/meridian-data/meridian/pkg/audit"
	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/pipeline"
	"github.com/meridian-data/meridian/pkg/policy"
	"github.com/meridian-data/meridian/pkg/records"
)

// EnvPrefix namespaces the engine's environment variables, e.g.
// MERIDIAN_LISTEN, MERIDIAN_STORE_DSN.
const EnvPrefix = "MERIDIAN"

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `yaml:"driver"`

	// DSN is the connection string for the postgres driver.
	DSN string `yaml:"dsn,omitempty"`
}

// Entity declares one canonizable entity type.
type Entity struct {
	Type     string                       `yaml:"type"`
	Keys     []string                     `yaml:"keys"`
	Policies map[string]policy.Descriptor `yaml:"policies,omitempty"`
}

// Config is the engine's full configuration.
type Config struct {
	// Listen is the HTTP serve address.
	Listen string `yaml:"listen,omitempty"`

	// ReplayCapacity bounds the per-entity-type replay history.
	ReplayCapacity int `yaml:"replay_capacity,omitempty"`

	// MergePosture is the default split-identity posture: AutoUnion or
	// RequireManualReview.
	MergePosture string `yaml:"merge_posture,omitempty"`

	Store    StoreConfig `yaml:"store"`
	Entities []Entity    `yaml:"entities"`
}

// Default returns a configuration with the engine's defaults applied.
func Default() *Config {
	return &Config{
		Listen:         ":8080",
		ReplayCapacity: audit.DefaultReplayCapacity,
		MergePosture:   string(records.AutoUnion),
		Store:          StoreConfig{Driver: "memory"},
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays MERIDIAN_* environment variables onto the configuration.
func (c *Config) applyEnv() {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if listen := v.GetString("listen"); listen != "" {
		c.Listen = listen
	}
	if capacity := v.GetInt("replay_capacity"); capacity > 0 {
		c.ReplayCapacity = capacity
	}
	if posture := v.GetString("merge_posture"); posture != "" {
		c.MergePosture = posture
	}
	if driver := v.GetString("store.driver"); driver != "" {
		c.Store.Driver = driver
	}
	if dsn := v.GetString("store.dsn"); dsn != "" {
		c.Store.DSN = dsn
	}
}

// Validate checks the configuration eagerly, including every entity's policy
// set.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.NewConfigurationError("store", "dsn", "postgres driver requires a DSN")
		}
	default:
		return errors.NewConfigurationError("store", "driver", "unknown driver "+c.Store.Driver)
	}

	switch records.MergePosture(c.MergePosture) {
	case records.AutoUnion, records.RequireManualReview:
	default:
		return errors.NewConfigurationError("engine", "merge_posture", "unknown merge posture "+c.MergePosture)
	}

	if len(c.Entities) == 0 {
		return errors.NewConfigurationError("entities", "", "at least one entity type is required")
	}

	seen := make(map[string]bool, len(c.Entities))
	for _, entity := range c.Entities {
		if entity.Type == "" {
			return errors.NewConfigurationError("entities", "type", "entity type must not be empty")
		}
		if seen[entity.Type] {
			return errors.NewConfigurationError("entities", entity.Type, "duplicate entity type")
		}
		seen[entity.Type] = true
		if len(entity.Keys) == 0 {
			return errors.NewConfigurationError("entities", entity.Type, "at least one aggregation key is required")
		}
		if err := policy.Set(entity.Policies).Validate(); err != nil {
			return fmt.Errorf("entity %s: %w", entity.Type, err)
		}
	}
	return nil
}

// Posture returns the configured default merge posture.
func (c *Config) Posture() records.MergePosture {
	return records.MergePosture(c.MergePosture)
}

// EntityDefinitions converts the configured entities into pipeline
// definitions.
func (c *Config) EntityDefinitions() map[string]pipeline.EntityDefinition {
	definitions := make(map[string]pipeline.EntityDefinition, len(c.Entities))
	for _, entity := range c.Entities {
		definitions[entity.Type] = pipeline.EntityDefinition{
			Keys:     entity.Keys,
			Policies: policy.Set(entity.Policies),
		}
	}
	return definitions
}
