// Package config provides configuration constants and runtime configuration management.
// This file holds the runtime configuration resolved from flags and environment.
package config

import (
	"os"
	"strconv"
)

// Default model targets for the haiku/sonnet/opus aliases
const (
	DefaultHaikuModel  = "antigravity-gemini-3-flash"
	DefaultSonnetModel = "antigravity-claude-sonnet-4-5-thinking"
	DefaultOpusModel   = "antigravity-claude-opus-4-5-thinking"
)

// Config holds the runtime server configuration
type Config struct {
	Host     string
	Port     int
	LogLevel string

	// RequestTimeout is the per-read idle timeout in seconds
	RequestTimeout int
	// MaxStreamingRetries bounds consecutive stream parse failures
	MaxStreamingRetries int
	// ForceDisableStreaming forces stream:false regardless of the client
	ForceDisableStreaming bool

	// AllowRemote disables the loopback Host-header guard
	AllowRemote bool

	// EnableArgRepair turns on the tool-argument recovery heuristics
	EnableArgRepair bool

	HaikuModel        string
	SonnetModel       string
	OpusModel         string
	TokenCounterModel string

	AccountStorePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// DefaultConfig returns a Config with built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Host:                DefaultHost,
		Port:                DefaultPort,
		LogLevel:            "INFO",
		RequestTimeout:      DefaultRequestTimeoutSeconds,
		MaxStreamingRetries: DefaultMaxStreamingRetries,
		EnableArgRepair:     true,
		HaikuModel:          DefaultHaikuModel,
		SonnetModel:         DefaultSonnetModel,
		OpusModel:           DefaultOpusModel,
		AccountStorePath:    AccountStorePath,
	}
}

// LoadEnv applies environment variable overrides
func (c *Config) LoadEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.RequestTimeout = secs
		}
	}
	if v := os.Getenv("MAX_STREAMING_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxStreamingRetries = n
		}
	}
	if envBool("FORCE_DISABLE_STREAMING") || envBool("EMERGENCY_DISABLE_STREAMING") {
		c.ForceDisableStreaming = true
	}
	if envBool("ALLOW_REMOTE") {
		c.AllowRemote = true
	}
	if envBool("DISABLE_ARG_REPAIR") {
		c.EnableArgRepair = false
	}
	if v := os.Getenv("HAIKU_MODEL"); v != "" {
		c.HaikuModel = v
	}
	if v := os.Getenv("SONNET_MODEL"); v != "" {
		c.SonnetModel = v
	}
	if v := os.Getenv("OPUS_MODEL"); v != "" {
		c.OpusModel = v
	}
	if v := os.Getenv("TOKEN_COUNTER_MODEL"); v != "" {
		c.TokenCounterModel = v
	}
	if v := os.Getenv("ACCOUNT_STORE_PATH"); v != "" {
		c.AccountStorePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		}
	}
}

func envBool(name string) bool {
	v := os.Getenv(name)
	return v == "true" || v == "1"
}
