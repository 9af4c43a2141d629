package node

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/adamgarcia4/goLearning/meshguard/gossip"
)

// EnvPrefix prefixes environment overrides, e.g. MESHGUARD_NODE_ID.
const EnvPrefix = "MESHGUARD"

// LoadConfig loads configuration from multiple sources in priority order:
// 1. Default values
// 2. Configuration file (TOML, YAML or JSON, picked by extension)
// 3. Environment variables (MESHGUARD_ prefix)
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := loadConfigFile(v, path); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "")
	v.SetDefault("network_id", DefaultNetworkID)
	v.SetDefault("epoch_interval", DefaultEpochInterval)
	v.SetDefault("convergence_threshold", DefaultConvergenceThreshold)
	v.SetDefault("stable_epochs", DefaultStableEpochs)
	v.SetDefault("clone_log_capacity", gossip.DefaultCloneLogCapacity)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("listen_address", DefaultListenAddress)
}

func loadConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return fmt.Errorf("config path cannot be empty")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", path)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}
