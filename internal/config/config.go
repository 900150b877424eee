// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads the gateway's environment-driven configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rapidaai/streamgateway/pkg/utils"
)

// AppConfig holds every tunable named in the external-interfaces section
// of the specification. All fields are env-driven; there is no required
// config file.
type AppConfig struct {
	// HTTP / WebSocket
	ListenAddr  string `mapstructure:"LISTEN_ADDR"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`

	// Batch window / audio buffering
	BatchWindowSec    float64 `mapstructure:"BATCH_WINDOW_SEC"`
	MaxBatchWindowSec float64 `mapstructure:"MAX_BATCH_WINDOW_SEC"`
	MaxBufferSec      float64 `mapstructure:"MAX_BUFFER_SEC"`

	// Insight manager
	InsightMinTokens        int     `mapstructure:"INSIGHT_MIN_TOKENS"`
	InsightMinIntervalSec   float64 `mapstructure:"INSIGHT_MIN_INTERVAL_SEC"`
	InsightRetainTokens     int     `mapstructure:"INSIGHT_RETAIN_TOKENS"`
	InsightWorkerConcurrency int    `mapstructure:"INSIGHT_WORKER_CONCURRENCY"`
	InsightQueueMaxSize     int     `mapstructure:"INSIGHT_QUEUE_MAXSIZE"`
	InsightFlushTimeoutSec  float64 `mapstructure:"INSIGHT_FLUSH_TIMEOUT"`
	InsightPerTenantMax     int     `mapstructure:"INSIGHT_PER_TENANT_MAX"`

	// LLM routing thresholds, in prompt tokens: fast / balanced / reject.
	LLMRouteFastMaxTokens     int `mapstructure:"LLM_ROUTE_FAST_MAX_TOKENS"`
	LLMRouteBalancedMaxTokens int `mapstructure:"LLM_ROUTE_BALANCED_MAX_TOKENS"`
	LLMRouteRejectTokens      int `mapstructure:"LLM_ROUTE_REJECT_TOKENS"`

	// Transcription worker client
	WorkerBaseURL      string `mapstructure:"WORKER_BASE_URL"`
	WorkerRetries      int    `mapstructure:"WORKER_RETRIES"`
	WorkerBackoffBaseMs int   `mapstructure:"WORKER_BACKOFF_BASE_MS"`

	// Chat completion client
	ChatFastBaseURL      string `mapstructure:"CHAT_FAST_BASE_URL"`
	ChatFastModel        string `mapstructure:"CHAT_FAST_MODEL"`
	ChatFastAPIKey       string `mapstructure:"CHAT_FAST_API_KEY"`
	ChatBalancedBaseURL  string `mapstructure:"CHAT_BALANCED_BASE_URL"`
	ChatBalancedModel    string `mapstructure:"CHAT_BALANCED_MODEL"`
	ChatBalancedAPIKey   string `mapstructure:"CHAT_BALANCED_API_KEY"`
	ChatHighContextModel string `mapstructure:"CHAT_HIGHCONTEXT_MODEL"`
	ChatHighContextAPIKey string `mapstructure:"CHAT_HIGHCONTEXT_API_KEY"`

	// Redis (worker affinity binding store)
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Logging
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogDevelopment bool   `mapstructure:"LOG_DEVELOPMENT"`
	LogFilePath    string `mapstructure:"LOG_FILE_PATH"`
}

// defaults mirrors spec.md §6 exactly.
func defaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("JWT_ISSUER", "rapidaai-streamgateway")

	v.SetDefault("BATCH_WINDOW_SEC", 5.0)
	v.SetDefault("MAX_BATCH_WINDOW_SEC", 10.0)
	v.SetDefault("MAX_BUFFER_SEC", 10.0)

	v.SetDefault("INSIGHT_MIN_TOKENS", 10)
	v.SetDefault("INSIGHT_MIN_INTERVAL_SEC", 10.0)
	v.SetDefault("INSIGHT_RETAIN_TOKENS", 60)
	v.SetDefault("INSIGHT_WORKER_CONCURRENCY", 32)
	v.SetDefault("INSIGHT_QUEUE_MAXSIZE", 256)
	v.SetDefault("INSIGHT_FLUSH_TIMEOUT", 60.0)
	v.SetDefault("INSIGHT_PER_TENANT_MAX", 5)

	v.SetDefault("LLM_ROUTE_FAST_MAX_TOKENS", 2000)
	v.SetDefault("LLM_ROUTE_BALANCED_MAX_TOKENS", 8000)
	v.SetDefault("LLM_ROUTE_REJECT_TOKENS", 32000)

	v.SetDefault("WORKER_BASE_URL", "http://localhost:9000")
	v.SetDefault("WORKER_RETRIES", 2)
	v.SetDefault("WORKER_BACKOFF_BASE_MS", 250)

	v.SetDefault("CHAT_FAST_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("CHAT_FAST_MODEL", "gpt-4o-mini")
	v.SetDefault("CHAT_BALANCED_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("CHAT_BALANCED_MODEL", "gpt-4o")
	v.SetDefault("CHAT_HIGHCONTEXT_MODEL", "claude-sonnet-4-5")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
}

// Load reads configuration from the process environment. Every key in
// spec.md §6 is bound explicitly so `STREAMGW_`-prefixed env vars are
// never required — operators set the bare names (BATCH_WINDOW_SEC, …).
func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	for _, key := range []string{
		"LISTEN_ADDR", "JWT_SECRET", "JWT_ISSUER",
		"BATCH_WINDOW_SEC", "MAX_BATCH_WINDOW_SEC", "MAX_BUFFER_SEC",
		"INSIGHT_MIN_TOKENS", "INSIGHT_MIN_INTERVAL_SEC", "INSIGHT_RETAIN_TOKENS",
		"INSIGHT_WORKER_CONCURRENCY", "INSIGHT_QUEUE_MAXSIZE", "INSIGHT_FLUSH_TIMEOUT",
		"INSIGHT_PER_TENANT_MAX",
		"LLM_ROUTE_FAST_MAX_TOKENS", "LLM_ROUTE_BALANCED_MAX_TOKENS", "LLM_ROUTE_REJECT_TOKENS",
		"WORKER_BASE_URL", "WORKER_RETRIES", "WORKER_BACKOFF_BASE_MS",
		"CHAT_FAST_BASE_URL", "CHAT_FAST_MODEL", "CHAT_FAST_API_KEY",
		"CHAT_BALANCED_BASE_URL", "CHAT_BALANCED_MODEL", "CHAT_BALANCED_API_KEY",
		"CHAT_HIGHCONTEXT_MODEL", "CHAT_HIGHCONTEXT_API_KEY",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"LOG_LEVEL", "LOG_DEVELOPMENT", "LOG_FILE_PATH",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	clamp(cfg)
	return cfg, nil
}

// clamp enforces the numeric clamps from spec.md §3.
func clamp(c *AppConfig) {
	c.BatchWindowSec = utils.Clamp(c.BatchWindowSec, 0.5, 15)
	if c.MaxBatchWindowSec < c.BatchWindowSec {
		c.MaxBatchWindowSec = c.BatchWindowSec
	}
	c.MaxBatchWindowSec = utils.Clamp(c.MaxBatchWindowSec, c.BatchWindowSec, 20)
	if c.MaxBufferSec < c.MaxBatchWindowSec {
		c.MaxBufferSec = c.MaxBatchWindowSec
	}
}

// WorkerAddrs splits WORKER_BASE_URL on commas into the pool of worker
// addresses the Transcription Worker Client load-balances and pins
// per-session affinity across (spec.md §4.5). A single-address deployment
// (the common case) yields a one-element slice.
func (c *AppConfig) WorkerAddrs() []string {
	parts := strings.Split(c.WorkerBaseURL, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}

// InsightFlushTimeout returns the configured drain deadline as a duration.
func (c *AppConfig) InsightFlushTimeout() time.Duration {
	return time.Duration(c.InsightFlushTimeoutSec * float64(time.Second))
}

// InsightMinInterval returns the throttle interval as a duration.
func (c *AppConfig) InsightMinInterval() time.Duration {
	return time.Duration(c.InsightMinIntervalSec * float64(time.Second))
}
