// Package config contains the definition of the application config
// structure and the logic required to load it from a file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the configuration of the application.
type Config struct {
	// Debug enables debug-level logging.
	Debug bool `mapstructure:"debug"`

	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	AWS         AWSConfig         `mapstructure:"aws"`
	OAuth       OAuthConfig       `mapstructure:"oauth"`
	Certificate CertificateConfig `mapstructure:"certificate"`
	DataSource  DataSourceConfig  `mapstructure:"datasource"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig configures the transient flow state store. An empty Addr
// selects the in-memory store, which is only suitable for development.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AWSConfig configures the AWS SDK clients.
type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// OAuthConfig configures the interactive flows.
type OAuthConfig struct {
	// RedirectBaseURL is the public base URL providers redirect back to,
	// with a trailing slash.
	RedirectBaseURL string `mapstructure:"redirect_base_url"`

	// StateTTL bounds how long a pending flow may wait for its callback.
	StateTTL time.Duration `mapstructure:"state_ttl"`
}

// CertificateConfig configures certificate trust material storage.
type CertificateConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// DataSourceConfig configures the platform handoff.
type DataSourceConfig struct {
	// RoleARN is assumed by the platform to read connector secrets. It is
	// the default for create requests that do not carry their own role.
	RoleARN string `mapstructure:"role_arn"`
}

// Load reads the configuration from provisioner.yaml (searched in the
// working directory and /etc/provisioner) and PROVISIONER_* environment
// variables. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("provisioner")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/provisioner")

	v.SetEnvPrefix("PROVISIONER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; the environment can carry everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.OAuth.RedirectBaseURL != "" && !strings.HasSuffix(cfg.OAuth.RedirectBaseURL, "/") {
		cfg.OAuth.RedirectBaseURL += "/"
	}

	return &cfg, nil
}

// Validate checks the fields the server cannot run without.
func (c *Config) Validate() error {
	if c.OAuth.RedirectBaseURL == "" {
		return errors.New("oauth.redirect_base_url is required")
	}
	if c.Certificate.Bucket == "" {
		return errors.New("certificate.bucket is required")
	}
	if c.DataSource.RoleARN == "" {
		return errors.New("datasource.role_arn is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("redis.key_prefix", "provisioner:flow:")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("oauth.state_ttl", 10*time.Minute)

	// Keys without a meaningful default still need to be registered, or
	// AutomaticEnv values never reach Unmarshal.
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("oauth.redirect_base_url", "")
	v.SetDefault("certificate.bucket", "")
	v.SetDefault("datasource.role_arn", "")
}
