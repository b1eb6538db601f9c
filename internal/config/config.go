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
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	CatalogDir      string
	CatalogCacheTTL time.Duration
	CurrencyCode    string
	DefaultGSTRate  decimal.Decimal
	CartTTL         time.Duration
	IdempotencyTTL  time.Duration

	ReceiptWebhookURL       string
	ReceiptWebhookSecret    string
	ReceiptTimeout          time.Duration
	ReceiptMaxRetry         int
	ReceiptAllowInsecure    bool
	ReceiptRetryBase        time.Duration
	ReceiptRetryMax         time.Duration
	CircuitMinRequests      int
	CircuitFailureRatio     float64
	CircuitOpenFor          time.Duration
	WorkerConcurrency       int
	WorkerMetricsAddr       string
	LockTTL                 time.Duration
	LockRetryBackoff        time.Duration
	LockMaxWait             time.Duration
	RateLimitCodesPerMin    int
	RateLimitPaymentsPerMin int
	MaxBodyBytes            int64
	SecurityHeaders         bool
	EnableHSTS              bool

	Obs ObsConfig
}

// ObsConfig toggles logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	EnablePrometheus bool
	EnableTracing    bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	gst, err := decimal.NewFromString(valueOrDefault(k.String("DEFAULT_GST_RATE"), "0.09"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_GST_RATE: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CatalogDir:      valueOrDefault(k.String("CATALOG_DIR"), "./stores"),
		CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		CurrencyCode:    valueOrDefault(k.String("CURRENCY_CODE"), "SGD"),
		DefaultGSTRate:  gst,
		CartTTL:         parseDuration(k.String("CART_TTL"), "168h"),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		ReceiptWebhookURL:       strings.TrimSpace(k.String("RECEIPT_WEBHOOK_URL")),
		ReceiptWebhookSecret:    k.String("RECEIPT_WEBHOOK_SECRET"),
		ReceiptTimeout:          parseDuration(k.String("RECEIPT_TIMEOUT"), "10s"),
		ReceiptMaxRetry:         parseInt(k.String("RECEIPT_MAX_RETRY"), 8),
		ReceiptAllowInsecure:    parseBool(k.String("RECEIPT_ALLOW_INSECURE_TLS")),
		ReceiptRetryBase:        parseDuration(k.String("RECEIPT_RETRY_BASE"), "10s"),
		ReceiptRetryMax:         parseDuration(k.String("RECEIPT_RETRY_MAX"), "30m"),
		CircuitMinRequests:      parseInt(k.String("CIRCUIT_RECEIPT_MIN_REQUESTS"), 5),
		CircuitFailureRatio:     parseFloat(k.String("CIRCUIT_RECEIPT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:          parseDuration(k.String("CIRCUIT_RECEIPT_OPEN_FOR"), "30s"),
		WorkerConcurrency:       parseInt(k.String("WORKER_CONCURRENCY"), 5),
		WorkerMetricsAddr:       valueOrDefault(k.String("WORKER_METRICS_ADDR"), ":9091"),
		LockTTL:                 parseDuration(k.String("LOCK_TTL"), "15s"),
		LockRetryBackoff:        parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		LockMaxWait:             parseDuration(k.String("LOCK_MAX_WAIT"), "5s"),
		RateLimitCodesPerMin:    parseInt(k.String("RATE_LIMIT_CODES_PER_MIN"), 30),
		RateLimitPaymentsPerMin: parseInt(k.String("RATE_LIMIT_PAYMENTS_PER_MIN"), 10),
		MaxBodyBytes:            int64(parseInt(k.String("MAX_BODY_BYTES"), 64<<10)),
		SecurityHeaders:         parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		EnableHSTS:              parseBool(k.String("SECURITY_HSTS_ENABLED")),

		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "schoolcart"),
			EnablePrometheus: parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DefaultGSTRate.IsNegative() {
		return nil, errors.New("DEFAULT_GST_RATE must not be negative")
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
		return value
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

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return parseBool(value)
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
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
