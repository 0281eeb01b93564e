// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// SchedulerConfig provides settings for the asynq job queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// CRMConfig provides settings for the external CRM collaborator.
// Credentials are always injected here, never embedded in source.
type CRMConfig interface {
	GetCRMBaseURL() string
	GetCRMAccessToken() string
	GetCRMRequestsPerSecond() float64
	GetCRMRequestBurst() int
}

// SyncConfig provides the retry/backoff policy for CRM synchronization.
type SyncConfig interface {
	GetSyncMaxAttempts() int
	GetSyncBaseDelay() time.Duration
	GetSyncMaxDelay() time.Duration
	GetSyncJitterFraction() float64
	GetSyncLeaseTTL() time.Duration
}

// GeoConfig provides settings for geospatial enrichment.
type GeoConfig interface {
	GetGeoCatalogPath() string
	GetIPInfoBaseURL() string
	GetIPInfoToken() string
}

// ScoringConfig provides the scoring weights document location.
type ScoringConfig interface {
	GetScoringWeightsPath() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                  string
	HTTPAddr             string
	DatabaseURL          string
	RedisURL             string
	RedisTLSInsecure     bool
	AsynqQueueName       string
	AsynqConcurrency     int
	CORSAllowAll         bool
	CORSOrigins          []string
	CRMBaseURL           string
	CRMAccessToken       string
	CRMRequestsPerSecond float64
	CRMRequestBurst      int
	SyncMaxAttempts      int
	SyncBaseDelay        time.Duration
	SyncMaxDelay         time.Duration
	SyncJitterFraction   float64
	SyncLeaseTTL         time.Duration
	GeoCatalogPath       string
	IPInfoBaseURL        string
	IPInfoToken          string
	ScoringWeightsPath   string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// CRMConfig implementation
func (c *Config) GetCRMBaseURL() string             { return c.CRMBaseURL }
func (c *Config) GetCRMAccessToken() string         { return c.CRMAccessToken }
func (c *Config) GetCRMRequestsPerSecond() float64  { return c.CRMRequestsPerSecond }
func (c *Config) GetCRMRequestBurst() int           { return c.CRMRequestBurst }

// SyncConfig implementation
func (c *Config) GetSyncMaxAttempts() int           { return c.SyncMaxAttempts }
func (c *Config) GetSyncBaseDelay() time.Duration   { return c.SyncBaseDelay }
func (c *Config) GetSyncMaxDelay() time.Duration    { return c.SyncMaxDelay }
func (c *Config) GetSyncJitterFraction() float64    { return c.SyncJitterFraction }
func (c *Config) GetSyncLeaseTTL() time.Duration    { return c.SyncLeaseTTL }

// GeoConfig implementation
func (c *Config) GetGeoCatalogPath() string { return c.GeoCatalogPath }
func (c *Config) GetIPInfoBaseURL() string  { return c.IPInfoBaseURL }
func (c *Config) GetIPInfoToken() string    { return c.IPInfoToken }

// ScoringConfig implementation
func (c *Config) GetScoringWeightsPath() string { return c.ScoringWeightsPath }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		RedisTLSInsecure:     strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:       getEnv("ASYNQ_QUEUE", "leads"),
		AsynqConcurrency:     mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		CORSAllowAll:         corsAllowAll,
		CORSOrigins:          corsOrigins,
		CRMBaseURL:           getEnv("CRM_BASE_URL", "https://api.hubapi.com"),
		CRMAccessToken:       getEnv("CRM_ACCESS_TOKEN", ""),
		CRMRequestsPerSecond: mustFloat(getEnv("CRM_REQUESTS_PER_SECOND", "8")),
		CRMRequestBurst:      mustInt(getEnv("CRM_REQUEST_BURST", "4")),
		SyncMaxAttempts:      mustInt(getEnv("SYNC_MAX_ATTEMPTS", "5")),
		SyncBaseDelay:        mustDuration(getEnv("SYNC_BASE_DELAY", "500ms")),
		SyncMaxDelay:         mustDuration(getEnv("SYNC_MAX_DELAY", "30s")),
		SyncJitterFraction:   mustFloat(getEnv("SYNC_JITTER_FRACTION", "0.2")),
		SyncLeaseTTL:         mustDuration(getEnv("SYNC_LEASE_TTL", "2m")),
		GeoCatalogPath:       getEnv("GEO_CATALOG_PATH", "config/areas.yaml"),
		IPInfoBaseURL:        getEnv("IPINFO_BASE_URL", "https://ipinfo.io"),
		IPInfoToken:          getEnv("IPINFO_TOKEN", ""),
		ScoringWeightsPath:   getEnv("SCORING_WEIGHTS_PATH", "config/weights.yaml"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CRMAccessToken == "" {
		return nil, fmt.Errorf("CRM_ACCESS_TOKEN is required")
	}
	if cfg.SyncMaxAttempts < 1 {
		return nil, fmt.Errorf("SYNC_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.SyncBaseDelay <= 0 || cfg.SyncMaxDelay < cfg.SyncBaseDelay {
		return nil, fmt.Errorf("SYNC_BASE_DELAY and SYNC_MAX_DELAY must satisfy 0 < base <= max")
	}
	if cfg.SyncJitterFraction < 0 || cfg.SyncJitterFraction > 1 {
		return nil, fmt.Errorf("SYNC_JITTER_FRACTION must be within [0,1]")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
