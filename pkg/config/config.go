// Package config loads node configuration from defaults, an optional YAML
// file, a local .env (development convenience), and environment variables,
// in that increasing order of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full set of settings a fabric node needs to run any subset
// of its control-plane components.
type Config struct {
	NodeID            string `mapstructure:"node_id"`
	Region            string `mapstructure:"region"`
	DataDir           string `mapstructure:"data_dir"`
	APIHost           string `mapstructure:"api_host"`
	APIPort           int    `mapstructure:"api_port"`
	TrustedPublicKey  string `mapstructure:"trusted_public_key"`
	APIKeyServiceURL  string `mapstructure:"api_key_service_url"`
	BrokerAddrs       []string `mapstructure:"broker_addrs"`
	UpstreamDNS       []string `mapstructure:"upstream_dns"`
	DNSListenAddr     string `mapstructure:"dns_listen_addr"`
	IngressACMEEmail  string `mapstructure:"ingress_acme_email"`
	LogLevel          string `mapstructure:"log_level"`
	LogJSON           bool   `mapstructure:"log_json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("region", "default")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("api_host", "0.0.0.0")
	v.SetDefault("api_port", 3004)
	v.SetDefault("broker_addrs", []string{"127.0.0.1:9092"})
	v.SetDefault("upstream_dns", []string{"8.8.8.8:53"})
	v.SetDefault("dns_listen_addr", "0.0.0.0:5354")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
}

// Load reads configuration from, in order of increasing precedence:
// built-in defaults, configPath (if non-empty, a YAML file), a ".env" file
// in the working directory if present, and environment variables.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load() // development convenience; absence is not an error

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix("FABRIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Spec-documented bare environment variable names, bound without the
	// FABRIC_ prefix so deployments following spec.md §6 work unmodified.
	bindLegacy := map[string]string{
		"node_id":             "NODE_ID",
		"api_host":            "API_HOST",
		"api_port":            "API_PORT",
		"trusted_public_key":  "TRUSTED_PUBLIC_KEY",
		"api_key_service_url": "API_KEY_SERVICE_URL",
	}
	for key, env := range bindLegacy {
		_ = v.BindEnv(key, env)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("config: node_id is required")
	}
	return &cfg, nil
}
