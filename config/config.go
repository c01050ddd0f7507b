// Copyright 2025 The BRRTRouter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the single BRRTRouter configuration record, loaded
// with precedence explicit-args > env vars > compiled defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// BackpressurePolicy mirrors handler.QueuePolicy as a config-surface value.
type BackpressurePolicy string

const (
	BackpressureBlock      BackpressurePolicy = "block"
	BackpressureReject     BackpressurePolicy = "reject"
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
)

// TrailingSlashPolicy mirrors middleware.TrailingSlashPolicy as a
// config-surface value.
type TrailingSlashPolicy string

const (
	TrailingSlashStrict    TrailingSlashPolicy = "strict"
	TrailingSlashNormalize TrailingSlashPolicy = "normalize"
)

// MethodPolicy controls whether HEAD is synthesized from GET; the default
// is no synthesis.
type MethodPolicy string

const (
	MethodPolicyNoSynthesis    MethodPolicy = "no_synthesis"
	MethodPolicySynthesizeHead MethodPolicy = "synthesize_head"
)

// ProviderConfig is per-scheme security provider configuration.
type ProviderConfig struct {
	Scheme          string            `yaml:"scheme"`
	Key             string            `yaml:"key,omitempty"`
	JWKSURL         string            `yaml:"jwks_url,omitempty"`
	Audience        string            `yaml:"audience,omitempty"`
	Issuer          string            `yaml:"issuer,omitempty"`
	LeewaySeconds   int               `yaml:"leeway_seconds,omitempty"`
	CacheTTLSeconds int               `yaml:"cache_ttl_seconds,omitempty"`
	Extra           map[string]string `yaml:"extra,omitempty"`
}

// Config is the single configuration record for the router.
type Config struct {
	DebugValidation          bool                `yaml:"debug_validation"`
	StrictResponseValidation bool                `yaml:"strict_response_validation"`
	DispatchTimeoutMS        int                 `yaml:"dispatch_timeout_ms"`
	ChannelCapacity          int                 `yaml:"channel_capacity"`
	BackpressurePolicy       BackpressurePolicy  `yaml:"backpressure_policy"`
	CoroutineStackSize       int                 `yaml:"coroutine_stack_size"`
	MaxBodyBytes             int64               `yaml:"max_body_bytes"`
	CORSOrigins              []string            `yaml:"cors_origins"`
	LogLevel                 string              `yaml:"log_level"`
	LogFormat                string              `yaml:"log_format"`
	SecurityProviders        []ProviderConfig    `yaml:"security_providers"`
	TrailingSlash            TrailingSlashPolicy `yaml:"trailing_slash"`
	DrainTimeoutMS           int                 `yaml:"drain_timeout_ms"`
	MethodPolicy             MethodPolicy        `yaml:"method_policy"`
	CancelStatus             int                 `yaml:"cancel_status"` // 499, 500, or 504
}

// DefaultConfig returns the compiled-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DebugValidation:          false,
		StrictResponseValidation: false,
		DispatchTimeoutMS:        30_000,
		ChannelCapacity:          128,
		BackpressurePolicy:       BackpressureBlock,
		CoroutineStackSize:       16 * 1024,
		MaxBodyBytes:             10 << 20,
		LogLevel:                 "info",
		LogFormat:                "text",
		TrailingSlash:            TrailingSlashStrict,
		DrainTimeoutMS:           30_000,
		MethodPolicy:             MethodPolicyNoSynthesis,
		CancelStatus:             504,
	}
}

// Option mutates a Config. Applied last in Load, so explicit options always
// win over both environment variables and file/defaults.
type Option func(*Config)

func WithDispatchTimeoutMS(ms int) Option   { return func(c *Config) { c.DispatchTimeoutMS = ms } }
func WithChannelCapacity(n int) Option      { return func(c *Config) { c.ChannelCapacity = n } }
func WithBackpressurePolicy(p BackpressurePolicy) Option {
	return func(c *Config) { c.BackpressurePolicy = p }
}
func WithCORSOrigins(origins []string) Option { return func(c *Config) { c.CORSOrigins = origins } }
func WithDebugValidation(on bool) Option      { return func(c *Config) { c.DebugValidation = on } }
func WithStrictResponseValidation(on bool) Option {
	return func(c *Config) { c.StrictResponseValidation = on }
}
func WithCancelStatus(status int) Option { return func(c *Config) { c.CancelStatus = status } }

// Load builds a Config: defaults, optionally overlaid by a YAML file at
// yamlPath, then environment variables (BRRT_*), then opts, in that
// precedence order.
func Load(yamlPath string, opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", yamlPath, err)
		}
	}

	if err := overlayEnv(cfg); err != nil {
		return nil, err
	}

	for _, o := range opts {
		o(cfg)
	}

	return cfg, cfg.validate()
}

// ResolvePath locates the config file: env var first, then a conventional
// file name in the working directory.
func ResolvePath() string {
	if p := os.Getenv("BRRT_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("brrtrouter.yaml"); err == nil {
		return "brrtrouter.yaml"
	}
	return ""
}

func overlayEnv(c *Config) error {
	var errs []error

	if v, ok := os.LookupEnv("BRRT_DEBUG_VALIDATION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRRT_DEBUG_VALIDATION: %w", err))
		} else {
			c.DebugValidation = b
		}
	}
	if v, ok := os.LookupEnv("BRRT_STRICT_RESPONSE_VALIDATION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRRT_STRICT_RESPONSE_VALIDATION: %w", err))
		} else {
			c.StrictResponseValidation = b
		}
	}
	if v, ok := os.LookupEnv("BRRT_DISPATCH_TIMEOUT_MS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRRT_DISPATCH_TIMEOUT_MS: %w", err))
		} else {
			c.DispatchTimeoutMS = n
		}
	}
	if v, ok := os.LookupEnv("BRRT_CHANNEL_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRRT_CHANNEL_CAPACITY: %w", err))
		} else {
			c.ChannelCapacity = n
		}
	}
	if v, ok := os.LookupEnv("BRRT_BACKPRESSURE_POLICY"); ok {
		c.BackpressurePolicy = BackpressurePolicy(v)
	}
	if v, ok := os.LookupEnv("BRRT_COROUTINE_STACK_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRRT_COROUTINE_STACK_SIZE: %w", err))
		} else {
			c.CoroutineStackSize = n
		}
	}
	if v, ok := os.LookupEnv("BRRT_MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRRT_MAX_BODY_BYTES: %w", err))
		} else {
			c.MaxBodyBytes = n
		}
	}
	if v, ok := os.LookupEnv("BRRT_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("BRRT_LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := os.LookupEnv("BRRT_TRAILING_SLASH"); ok {
		c.TrailingSlash = TrailingSlashPolicy(v)
	}
	if v, ok := os.LookupEnv("BRRT_DRAIN_TIMEOUT_MS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRRT_DRAIN_TIMEOUT_MS: %w", err))
		} else {
			c.DrainTimeoutMS = n
		}
	}
	if v, ok := os.LookupEnv("BRRT_CANCEL_STATUS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRRT_CANCEL_STATUS: %w", err))
		} else {
			c.CancelStatus = n
		}
	}
	if v, ok := os.LookupEnv("BRRT_METHOD_POLICY"); ok {
		c.MethodPolicy = MethodPolicy(v)
	}

	return errors.Join(errs...)
}

// NewLogger builds a *slog.Logger per the configured log_level/log_format.
// Unknown level strings fall back to info.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *Config) validate() error {
	switch c.BackpressurePolicy {
	case BackpressureBlock, BackpressureReject, BackpressureDropOldest:
	default:
		return fmt.Errorf("invalid backpressure_policy %q", c.BackpressurePolicy)
	}
	switch c.TrailingSlash {
	case TrailingSlashStrict, TrailingSlashNormalize:
	default:
		return fmt.Errorf("invalid trailing_slash %q", c.TrailingSlash)
	}
	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("channel_capacity must be positive, got %d", c.ChannelCapacity)
	}
	return nil
}
