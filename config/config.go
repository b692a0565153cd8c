// Package config loads runtime configuration from the environment,
// with an optional zipcase.yaml for local development.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Config is everything the serve and worker commands need to come up.
type Config struct {
	PortalURL     string `mapstructure:"portal_url"`
	PortalCaseURL string `mapstructure:"portal_case_url"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`

	SearchQueue   string `mapstructure:"search_queue"`
	CaseDataQueue string `mapstructure:"case_data_queue"`

	NATSURL      string `mapstructure:"nats_url"`
	AlertSubject string `mapstructure:"alert_subject"`

	EncryptionKey string `mapstructure:"encryption_key"`
	JWTSecret     string `mapstructure:"jwt_secret"`

	ListenAddr        string `mapstructure:"listen_addr"`
	WorkerParallelism int    `mapstructure:"worker_parallelism"`
	UserAgentFile     string `mapstructure:"user_agent_file"`
}

// Load reads zipcase.yaml when present and lets environment variables
// (PORTAL_URL, REDIS_ADDR, ...) override it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("zipcase")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/zipcase")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("search_queue", "search")
	v.SetDefault("case_data_queue", "casedata")
	v.SetDefault("alert_subject", "zipcase.alerts")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("worker_parallelism", 4)

	for _, key := range []string{
		"portal_url", "portal_case_url",
		"redis_addr", "redis_password",
		"search_queue", "case_data_queue",
		"nats_url", "alert_subject",
		"encryption_key", "jwt_secret",
		"listen_addr", "worker_parallelism", "user_agent_file",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.PortalURL == "" {
		missing = append(missing, "PORTAL_URL")
	}
	if c.PortalCaseURL == "" {
		missing = append(missing, "PORTAL_CASE_URL")
	}
	if c.EncryptionKey == "" {
		missing = append(missing, "ENCRYPTION_KEY")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	return nil
}
