package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"agrichain/native/params"
)

// Config is the node configuration file.
type Config struct {
	Environment string    `toml:"Environment" yaml:"environment"`
	Node        Node      `toml:"Node" yaml:"node"`
	RPC         RPC       `toml:"RPC" yaml:"rpc"`
	Params      Params    `toml:"Params" yaml:"params"`
	Genesis     Genesis   `toml:"Genesis" yaml:"genesis"`
	Logging     Logging   `toml:"Logging" yaml:"logging"`
	Telemetry   Telemetry `toml:"Telemetry" yaml:"telemetry"`
	Keeper      Keeper    `toml:"Keeper" yaml:"keeper"`
}

// Load reads the configuration at path, creating it with defaults when the
// file does not exist. Files ending in .yaml or .yml are parsed as YAML,
// everything else as TOML.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}

	if env := strings.TrimSpace(cfg.RPC.JWTSecretEnv); env != "" {
		if secret := strings.TrimSpace(os.Getenv(env)); secret != "" {
			cfg.RPC.JWTSecret = secret
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used for a fresh local node.
func Default() *Config {
	defaults := params.DefaultConstants()
	return &Config{
		Environment: "local",
		Node: Node{
			DataDir: "./agrichain-data",
			Backend: "leveldb",
		},
		RPC: RPC{
			ListenAddress:      "127.0.0.1:8645",
			JWTSecretEnv:       "AGRICHAIN_JWT_SECRET",
			JWTIssuer:          "agrichain",
			RequestsPerSecond:  20,
			Burst:              40,
			AnonymousReads:     true,
			ReadTimeoutSeconds: 10,
			StreamHistory:      4096,
		},
		Params: Params{
			StockUnit:       defaults.StockUnit,
			MinProductPrice: defaults.MinProductPrice.String(),
			MaxProductPrice: defaults.MaxProductPrice.String(),
			BatchLimit:      defaults.BatchLimit,
			DefaultTimeout:  defaults.DefaultTimeout,
			EscrowTimeout:   defaults.EscrowTimeout,
			ArbitrationFee:  defaults.ArbitrationFee.String(),
		},
		Genesis: Genesis{
			Allocations:  []Allocation{},
			Arbitrators:  []string{},
			Participants: []Participant{},
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
		Keeper: Keeper{
			Schedule: "@every 1m",
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	return persist(path, cfg)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
