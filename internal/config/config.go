// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

// Package config loads and validates service configuration from
// defaults, an optional YAML file, command-line flags, and a small
// set of environment variables for secrets.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config holds the full service configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Auth          AuthConfig          `koanf:"auth"`
	SMTP          SMTPConfig          `koanf:"smtp"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig configures the public HTTP API listener.
type ServerConfig struct {
	Addr string `koanf:"addr"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	// URL is a pgx connection string. The DATABASE_URL environment
	// variable takes precedence over file and flag values.
	URL string `koanf:"url"`
}

// AuthConfig configures token issuance and login policy.
type AuthConfig struct {
	// JWTSecret signs login tokens. The OTPGATE_JWT_SECRET environment
	// variable takes precedence over file and flag values.
	JWTSecret string `koanf:"jwt_secret"`

	TokenTTL time.Duration `koanf:"token_ttl"`

	// RequireVerifiedEmail rejects logins from accounts that have not
	// completed email verification.
	RequireVerifiedEmail bool `koanf:"require_verified_email"`
}

// SMTPConfig configures outbound OTP mail delivery. When Host is
// empty, delivery falls back to a log-only notifier.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	AppName  string `koanf:"app_name"`
}

// ObservabilityConfig configures the metrics and health endpoint listener.
type ObservabilityConfig struct {
	Addr string `koanf:"addr"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "text".
	Format string `koanf:"format"`
}

// Default returns the configuration defaults. Values load on top of
// these, so anything absent from file, flags, and env keeps its default.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:             24 * time.Hour,
			RequireVerifiedEmail: false,
		},
		SMTP: SMTPConfig{
			Port:    587,
			AppName: "OTPGate",
		},
		Observability: ObservabilityConfig{
			Addr: "127.0.0.1:9100",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped
// when path is empty), the given flag set (skipped when nil), and the
// secret environment variables. Later sources win.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.
				Code("CONFIG_FILE_LOAD_FAILED").
				With("path", path).
				Wrapf(err, "loading config file")
		}
	}

	if flags != nil {
		// Only flags the caller actually set override file values;
		// unchanged flag defaults must not clobber them.
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return f.Name, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.
				Code("CONFIG_FLAG_LOAD_FAILED").
				Wrapf(err, "loading config flags")
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.
			Code("CONFIG_DECODE_FAILED").
			Wrapf(err, "decoding config")
	}

	// Secrets come from the environment when set.
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if secret := os.Getenv("OTPGATE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("OTPGATE_SMTP_PASSWORD"); password != "" {
		cfg.SMTP.Password = password
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete enough to serve.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return oops.
			Code("CONFIG_INVALID").
			Errorf("database.url is required (or set DATABASE_URL)")
	}
	if c.Auth.JWTSecret == "" {
		return oops.
			Code("CONFIG_INVALID").
			Errorf("auth.jwt_secret is required (or set OTPGATE_JWT_SECRET)")
	}
	if c.Auth.TokenTTL <= 0 {
		return oops.
			Code("CONFIG_INVALID").
			With("token_ttl", c.Auth.TokenTTL).
			Errorf("auth.token_ttl must be positive")
	}
	if c.Server.Addr == "" {
		return oops.
			Code("CONFIG_INVALID").
			Errorf("server.addr is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return oops.
			Code("CONFIG_INVALID").
			With("level", c.Logging.Level).
			Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return oops.
			Code("CONFIG_INVALID").
			With("format", c.Logging.Format).
			Errorf("logging.format must be json or text")
	}
	return nil
}

// RegisterFlags declares the command-line overrides for the fields
// that are useful to flip per invocation.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("server.addr", "", "HTTP API listen address")
	flags.String("database.url", "", "PostgreSQL connection string")
	flags.String("observability.addr", "", "metrics and health listen address")
	flags.String("logging.level", "", "log level (debug, info, warn, error)")
	flags.String("logging.format", "", "log format (json, text)")
	flags.Bool("auth.require_verified_email", false, "reject logins from unverified accounts")
}
