package core

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// BITFLYER_CREDENTIALS_ACCESS_KEY.
const EnvPrefix = "BITFLYER"

// LoadConfig reads DefaultConfig, then the optional YAML/JSON/TOML file at
// path, then BITFLYER_* environment variables, and validates the result.
// Credentials without a key and secret are dropped so the client runs
// unauthenticated.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Credentials != nil && cfg.Credentials.AccessKey == "" && cfg.Credentials.AccessSecret == "" {
		cfg.Credentials = nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("api_version", d.APIVersion)
	v.SetDefault("stream_url", d.StreamURL)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("ping_interval", d.PingInterval)
	v.SetDefault("pong_timeout", d.PongTimeout)
	v.SetDefault("reconnect_delay", d.ReconnectDelay)
	v.SetDefault("products", toStrings(d.Products))
	v.SetDefault("candlesticks", toStrings(d.Candlesticks))
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("credentials.access_key", "")
	v.SetDefault("credentials.access_secret", "")
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
