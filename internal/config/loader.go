package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper binds every AGENTDOOR_-prefixed environment variable and,
// when AGENTDOOR_CONFIG_FILE is set, layers a YAML file underneath them.
// Environment variables always win over the file, mirroring the
// predecessor's viper.AutomaticEnv layering.
func InitViper() {
	viper.SetEnvPrefix("AGENTDOOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	bindEnvKeys()

	if configFile := viper.GetString("config_file"); configFile != "" {
		viper.SetConfigFile(configFile)
	}
}

// bindEnvKeys explicitly binds every known key so viper.Unmarshal sees
// them even when the corresponding environment variable is absent and no
// config file sets it (AutomaticEnv alone only resolves keys that are
// looked up by name at least once).
func bindEnvKeys() {
	for _, key := range []string{
		"port",
		"admin_api_key",
		"admin_api_key_hash",
		"dev_mode",
		"base_url",
		"trusted_proxy",
		"cors_origins",
		"max_registrations",
		"fetch_timeout_ms",
		"max_spec_bytes",
		"max_body_bytes",
		"data_dir",
		"database_url",
	} {
		_ = viper.BindEnv(key)
	}
}

// Load reads the optional config file (if AGENTDOOR_CONFIG_FILE is set),
// applies AGENTDOOR_-prefixed environment overrides, defaults, and
// validates the result.
func Load() (*AppConfig, error) {
	if viper.ConfigFileUsed() != "" {
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}
