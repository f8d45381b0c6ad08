package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration surface. Every key can come from
// a YAML config file or from the environment; env names follow the original
// deployment (PTT_LOCKOUT_ENABLED etc).
type Config struct {
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`

	PTTLockoutEnabled    bool `mapstructure:"ptt_lockout_enabled"`
	AnonymousModeEnabled bool `mapstructure:"anonymous_mode_enabled"`

	MessageHistoryMaxCount int    `mapstructure:"message_history_max_count"`
	MessageHistoryMaxAgeMs int64  `mapstructure:"message_history_max_age"`
	HistoryDBPath          string `mapstructure:"history_db_path"`

	ScreenNameMinLen int `mapstructure:"screen_name_min_len"`
	ScreenNameMaxLen int `mapstructure:"screen_name_max_len"`

	PluginsEnabled bool `mapstructure:"plugins_enabled"`
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

// HistoryMaxAge converts the configured millisecond ceiling to a Duration.
func (c *Config) HistoryMaxAge() time.Duration {
	return time.Duration(c.MessageHistoryMaxAgeMs) * time.Millisecond
}

// Load reads config.yaml (path overridable via PTT_CONFIG_FILE) and applies
// environment overrides. Missing files are not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := os.Getenv("PTT_CONFIG_FILE")
	if fileName == "" {
		fileName = "config.yaml"
	}
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")

	v.SetDefault("listen_host", "0.0.0.0")
	v.SetDefault("listen_port", 8080)
	v.SetDefault("ptt_lockout_enabled", true)
	v.SetDefault("anonymous_mode_enabled", true)
	v.SetDefault("message_history_max_count", 10)
	v.SetDefault("message_history_max_age", 300000)
	v.SetDefault("history_db_path", "message_history.db")
	v.SetDefault("screen_name_min_len", 2)
	v.SetDefault("screen_name_max_len", 20)
	v.SetDefault("plugins_enabled", true)

	bindEnv(v, "listen_host", "LISTEN_HOST")
	bindEnv(v, "listen_port", "LISTEN_PORT")
	bindEnv(v, "ptt_lockout_enabled", "PTT_LOCKOUT_ENABLED")
	bindEnv(v, "anonymous_mode_enabled", "ANONYMOUS_MODE_ENABLED")
	bindEnv(v, "message_history_max_count", "MESSAGE_HISTORY_MAX_COUNT")
	bindEnv(v, "message_history_max_age", "MESSAGE_HISTORY_MAX_AGE")
	bindEnv(v, "history_db_path", "HISTORY_DB_PATH")
	bindEnv(v, "screen_name_min_len", "SCREEN_NAME_MIN_LEN")
	bindEnv(v, "screen_name_max_len", "SCREEN_NAME_MAX_LEN")
	bindEnv(v, "plugins_enabled", "PLUGINS_ENABLED")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", fileName, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func bindEnv(v *viper.Viper, key, env string) {
	// BindEnv only errors on an empty key, which cannot happen here.
	_ = v.BindEnv(key, env)
}
