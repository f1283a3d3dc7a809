// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/raftaar/ambudispatch/core/dispatch"
	"github.com/raftaar/ambudispatch/core/metrics"
	"github.com/raftaar/ambudispatch/infra/mq"
	"github.com/raftaar/ambudispatch/infra/voice"
	"github.com/raftaar/ambudispatch/infra/whatsapp"
)

// StoreConfig selects the queue persistence backend.
type StoreConfig struct {
	Backend string `json:"backend"` // memory | sqlite | postgres
	Path    string `json:"path"`    // sqlite database file
	DSN     string `json:"dsn"`     // postgres connection string
}

// SetDefaults assigns default values for unset fields.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "sqlite" && c.Path == "" {
		c.Path = "ambudispatch.db"
	}
}

// Validate checks the backend selection.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory", "sqlite":
		return nil
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("store: dsn is required for the postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("store: unknown backend %q", c.Backend)
	}
}

// APIConfig defines the HTTP surface.
type APIConfig struct {
	Addr  string `json:"addr"`
	Token string `json:"token"` // optional bearer token for webhook and audit endpoints
}

// SetDefaults assigns default values for unset fields.
func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// Config is the root of the service configuration file.
type Config struct {
	Store     StoreConfig     `json:"store"`
	Voice     voice.Config    `json:"voice"`
	Messaging whatsapp.Config `json:"messaging"`
	Dispatch  dispatch.Config `json:"dispatch"`
	Metrics   metrics.Config  `json:"metrics"`
	Events    mq.Config       `json:"events"`
	API       APIConfig       `json:"api"`
}

// Load reads the config file at path (json or yaml), applies AMBU_-prefixed
// environment overrides (AMBU_VOICE__API_KEY -> voice.api_key), fills
// defaults and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("AMBU_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "ambu_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Store.SetDefaults()
	cfg.Voice.SetDefaults()
	cfg.Messaging.SetDefaults()
	cfg.Dispatch.SetDefaults()
	cfg.Events.SetDefaults()
	cfg.API.SetDefaults()
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Voice.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Dispatch.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Events.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
