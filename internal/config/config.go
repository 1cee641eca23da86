/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// RunLockBackend selects how the single-runner guarantee is enforced.
type RunLockBackend string

const (
	RunLockLocal    RunLockBackend = "local"
	RunLockDatabase RunLockBackend = "database"
	RunLockRedis    RunLockBackend = "redis"
)

// EventBusBackend selects where scheduler events are forwarded.
type EventBusBackend string

const (
	EventBusNone  EventBusBackend = "none"
	EventBusRedis EventBusBackend = "redis"
	EventBusNATS  EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	LogLevel      string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	DBMaxConns    int
	JWTSigningKey string

	// Scheduling
	Timezone       string
	Location       *time.Location
	TriggerEnabled bool
	TriggerSpec    string // robfig/cron five-field expression

	// Single-runner guarantee
	RunLockBackend RunLockBackend
	RunLockTTL     time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	InstanceID     string

	// Event forwarding
	EventBus EventBusBackend
	NATSURL  string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"INKWELL_ENV"}, "development"),
		LogLevel:      getEnvAny([]string{"INKWELL_LOG_LEVEL"}, ""),
		HTTPBind:      getEnvAny([]string{"INKWELL_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"INKWELL_HTTP_PORT"}, 8080),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"INKWELL_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:         getEnvAny([]string{"INKWELL_DB_DSN", "DATABASE_URL"}, ""),
		DBMaxConns:    getEnvIntAny([]string{"INKWELL_DB_MAX_CONNS"}, 25),
		JWTSigningKey: getEnvAny([]string{"INKWELL_JWT_SIGNING_KEY"}, ""),

		Timezone:       getEnvAny([]string{"INKWELL_TIMEZONE"}, "UTC"),
		TriggerEnabled: getEnvBoolAny([]string{"INKWELL_TRIGGER_ENABLED"}, true),
		TriggerSpec:    getEnvAny([]string{"INKWELL_TRIGGER_SPEC"}, "*/5 * * * *"),

		RunLockBackend: RunLockBackend(getEnvAny([]string{"INKWELL_RUN_LOCK_BACKEND"}, string(RunLockDatabase))),
		RunLockTTL:     time.Duration(getEnvIntAny([]string{"INKWELL_RUN_LOCK_TTL_SECONDS"}, 600)) * time.Second,
		RedisAddr:      getEnvAny([]string{"INKWELL_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:  getEnvAny([]string{"INKWELL_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:        getEnvIntAny([]string{"INKWELL_REDIS_DB"}, 0),
		InstanceID:     getEnvAny([]string{"INKWELL_INSTANCE_ID", "HOSTNAME"}, ""),

		EventBus: EventBusBackend(getEnvAny([]string{"INKWELL_EVENT_BUS"}, string(EventBusNone))),
		NATSURL:  getEnvAny([]string{"INKWELL_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),

		TracingEnabled:    getEnvBoolAny([]string{"INKWELL_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"INKWELL_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"INKWELL_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("INKWELL_DB_DSN must be provided")
	}

	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("INKWELL_DB_MAX_CONNS must be at least 1")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("INKWELL_JWT_SIGNING_KEY must be provided")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid INKWELL_TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.TriggerEnabled {
		if _, err := cron.ParseStandard(cfg.TriggerSpec); err != nil {
			return nil, fmt.Errorf("invalid INKWELL_TRIGGER_SPEC %q: %w", cfg.TriggerSpec, err)
		}
	}

	switch cfg.RunLockBackend {
	case RunLockLocal, RunLockDatabase, RunLockRedis:
	default:
		return nil, fmt.Errorf("unsupported run lock backend %q", cfg.RunLockBackend)
	}

	if cfg.RunLockTTL <= 0 {
		return nil, fmt.Errorf("INKWELL_RUN_LOCK_TTL_SECONDS must be positive")
	}

	switch cfg.EventBus {
	case EventBusNone, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}

	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("INKWELL_TRACING_SAMPLE_RATE must be between 0 and 1")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.RunLockBackend == RunLockLocal {
		return nil, fmt.Errorf("INKWELL_RUN_LOCK_BACKEND=local is not allowed in production")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use INKWELL_ENV",
		"JWT_SIGNING_KEY": "use INKWELL_JWT_SIGNING_KEY",
		"TRACING_ENABLED": "use INKWELL_TRACING_ENABLED",
		"OTLP_ENDPOINT":   "use INKWELL_OTLP_ENDPOINT",
		"CRON_SCHEDULE":   "use INKWELL_TRIGGER_SPEC",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the listen address for the admin server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
