package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Payment processor names accepted by PAYMENT_PROCESSOR.
const (
	ProcessorStripe  = "stripe"
	ProcessorSandbox = "sandbox"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	PaymentProcessor string
	StripeSecretKey  string
	StripeTimeout    time.Duration

	FunnelSessionSecret string
	FunnelSessionTTL    time.Duration
	FunnelBasePath      string
	DefaultLocale       string

	CORSAllowedOrigins []string
	IdempotencyTTL     time.Duration
	ProductCacheTTL    time.Duration
	QuoteCacheTTL      time.Duration

	CouponRateLimit  int
	CouponRateWindow time.Duration
	ChargeRateLimit  int
	ChargeRateWindow time.Duration
	ChargeLockTTL    time.Duration
	ChargeLockWait   time.Duration

	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	AdminAPIKeyHash        string
	BodyLimitBytes         int64
	SecurityHeadersEnabled bool
	HSTSEnabled            bool

	MigrateOnStart    bool
	EventsEnabled     bool
	EventsQueue       string
	EventsMaxRetry    int
	WorkerConcurrency int

	ObsLogFormat         string
	ObsLogLevel          string
	ObsMetricsNamespace  string
	ObsPrometheusEnabled bool
	ObsMetricsBuckets    string
	ObsTracingEnabled    bool
	ObsTracingExporter   string
	ObsOTLPEndpoint      string
	ObsSamplingRatio     float64
	ObsPprofEnabled      bool
	PprofBasicAuthUser   string
	PprofBasicAuthPass   string

	HealthDBTimeout    time.Duration
	HealthRedisTimeout time.Duration
	ShutdownTimeout    time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	appEnv := valueOrDefault(k.String("APP_ENV"), "development")
	defaultProcessor := ProcessorSandbox
	if isProduction(appEnv) {
		defaultProcessor = ProcessorStripe
	}

	cfg := &Config{
		AppEnv:      appEnv,
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		PaymentProcessor: strings.ToLower(valueOrDefault(k.String("PAYMENT_PROCESSOR"), defaultProcessor)),
		StripeSecretKey:  strings.TrimSpace(k.String("STRIPE_SECRET_KEY")),
		StripeTimeout:    parseDuration(k.String("STRIPE_TIMEOUT"), "15s"),

		FunnelSessionSecret: k.String("FUNNEL_SESSION_SECRET"),
		FunnelSessionTTL:    parseDuration(k.String("FUNNEL_SESSION_TTL"), "2h"),
		FunnelBasePath:      "/" + strings.Trim(valueOrDefault(k.String("FUNNEL_BASE_PATH"), "/funnel"), "/"),
		DefaultLocale:       valueOrDefault(k.String("DEFAULT_LOCALE"), "en-US"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		ProductCacheTTL:    parseDuration(k.String("PRODUCT_CACHE_TTL"), "5m"),
		QuoteCacheTTL:      parseDuration(k.String("QUOTE_CACHE_TTL"), "2m"),

		CouponRateLimit:  parseInt(k.String("COUPON_RATE_LIMIT"), 20),
		CouponRateWindow: parseDuration(k.String("COUPON_RATE_WINDOW"), "1m"),
		ChargeRateLimit:  parseInt(k.String("CHARGE_RATE_LIMIT"), 10),
		ChargeRateWindow: parseDuration(k.String("CHARGE_RATE_WINDOW"), "1m"),
		ChargeLockTTL:    parseDuration(k.String("CHARGE_LOCK_TTL"), "30s"),
		ChargeLockWait:   parseDuration(k.String("CHARGE_LOCK_WAIT"), "10s"),

		BreakerMinRequests:  parseInt(k.String("BREAKER_MIN_REQUESTS"), 10),
		BreakerFailureRatio: parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),

		AdminAPIKeyHash:        strings.TrimSpace(k.String("ADMIN_API_KEY_HASH")),
		BodyLimitBytes:         int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64<<10)),
		SecurityHeadersEnabled: parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		HSTSEnabled:            parseBoolDefault(k.String("HSTS_ENABLED"), isProduction(appEnv)),

		MigrateOnStart:    parseBool(k.String("MIGRATE_ON_START")),
		EventsEnabled:     parseBoolDefault(k.String("EVENTS_ENABLED"), true),
		EventsQueue:       valueOrDefault(k.String("EVENTS_QUEUE"), "funnel-events"),
		EventsMaxRetry:    parseInt(k.String("EVENTS_MAX_RETRY"), 10),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),

		ObsLogFormat:         valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		ObsLogLevel:          valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		ObsMetricsNamespace:  valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "funnel"),
		ObsPrometheusEnabled: parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		ObsMetricsBuckets:    k.String("OBS_METRICS_BUCKETS_MS"),
		ObsTracingEnabled:    parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
		ObsTracingExporter:   valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		ObsOTLPEndpoint:      strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		ObsSamplingRatio:     parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		ObsPprofEnabled:      parseBool(k.String("OBS_ENABLE_PPROF")),
		PprofBasicAuthUser:   strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofBasicAuthPass:   strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),

		HealthDBTimeout:    parseDuration(k.String("HEALTH_READY_DB_TIMEOUT"), "500ms"),
		HealthRedisTimeout: parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
		ShutdownTimeout:    parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.FunnelSessionSecret == "" {
		return nil, errors.New("FUNNEL_SESSION_SECRET is required")
	}
	switch cfg.PaymentProcessor {
	case ProcessorStripe:
		if cfg.StripeSecretKey == "" {
			return nil, errors.New("STRIPE_SECRET_KEY is required for the stripe processor")
		}
	case ProcessorSandbox:
		if isProduction(cfg.AppEnv) {
			return nil, errors.New("the sandbox processor cannot run in production")
		}
	default:
		return nil, fmt.Errorf("unknown PAYMENT_PROCESSOR %q", cfg.PaymentProcessor)
	}
	if cfg.BreakerFailureRatio <= 0 || cfg.BreakerFailureRatio > 1 {
		return nil, errors.New("BREAKER_FAILURE_RATIO must be in (0, 1]")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the app runs in production.
func (c *Config) IsProduction() bool { return isProduction(c.AppEnv) }

func isProduction(appEnv string) bool {
	switch strings.ToLower(strings.TrimSpace(appEnv)) {
	case "production", "prod":
		return true
	default:
		return false
	}
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return n
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return f
	}
	return fallback
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
