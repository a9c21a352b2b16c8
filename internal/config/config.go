package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	UserCredentials string
	SessionTTL      time.Duration

	KVBackend     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OAuthClientID         string
	OAuthAuthBaseURL      string
	OAuthRedirectURI      string
	OAuthDefaultTenantURL string
	OAuthStateTTL         time.Duration
	OAuthStateMaxAge      time.Duration

	ValidatorTimeout     time.Duration
	ValidatorConcurrency int
	ValidatorDebug       bool

	PortalBaseURL string

	RateLimitLoginRPM int
	RateLimitAPIRPM   int

	TelemetryEndpoint string
	TelemetryInsecure bool
	MetricsEnabled    bool

	// TelemetrySampleRatio is the share of root spans kept, 0..1.
	TelemetrySampleRatio float64

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

const (
	KVBackendRedis  = "redis"
	KVBackendMemory = "memory"
)

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	credentials := strings.TrimSpace(os.Getenv("USER_CREDENTIALS"))
	if credentials == "" {
		return Config{}, fmt.Errorf("USER_CREDENTIALS is required")
	}

	cfg := Config{
		Environment:           getEnv("APP_ENV", "development"),
		HTTPPort:              getEnv("HTTP_PORT", "8080"),
		ServiceName:           getEnv("SERVICE_NAME", "augment-token-manager"),
		UserCredentials:       credentials,
		SessionTTL:            getDuration("SESSION_TTL", 24*time.Hour),
		KVBackend:             strings.ToLower(getEnv("KV_BACKEND", KVBackendRedis)),
		RedisAddr:             getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getInt("REDIS_DB", 0),
		OAuthClientID:         getEnv("OAUTH_CLIENT_ID", "v"),
		OAuthAuthBaseURL:      strings.TrimRight(getEnv("OAUTH_AUTH_BASE_URL", "https://auth.augmentcode.com"), "/"),
		OAuthRedirectURI:      os.Getenv("OAUTH_REDIRECT_URI"),
		OAuthDefaultTenantURL: getEnv("OAUTH_DEFAULT_TENANT_URL", "https://api.augmentcode.com/"),
		OAuthStateTTL:         getDuration("OAUTH_STATE_TTL", 10*time.Minute),
		OAuthStateMaxAge:      getDuration("OAUTH_STATE_MAX_AGE", 30*time.Minute),
		ValidatorTimeout:      getDuration("VALIDATOR_TIMEOUT", 30*time.Second),
		ValidatorConcurrency:  getInt("VALIDATOR_CONCURRENCY", 5),
		ValidatorDebug:        getBool("VALIDATOR_DEBUG", false),
		PortalBaseURL:         strings.TrimRight(getEnv("PORTAL_BASE_URL", "https://portal.withorb.com"), "/"),
		RateLimitLoginRPM:     getInt("RATE_LIMIT_LOGIN_RPM", 10),
		RateLimitAPIRPM:       getInt("RATE_LIMIT_API_RPM", 100),
		TelemetryEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:     getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		TelemetrySampleRatio:  getFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		MetricsEnabled:        getBool("METRICS_ENABLED", true),
		CORSAllowedOrigins:    getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:    getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:    getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials:  getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	switch cfg.KVBackend {
	case KVBackendRedis, KVBackendMemory:
	default:
		return Config{}, fmt.Errorf("KV_BACKEND must be %q or %q", KVBackendRedis, KVBackendMemory)
	}

	if cfg.ValidatorConcurrency < 1 {
		cfg.ValidatorConcurrency = 5
	}
	if cfg.ValidatorTimeout <= 0 {
		cfg.ValidatorTimeout = 30 * time.Second
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
