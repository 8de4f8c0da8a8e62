package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is read from the environment, with an optional .env file
type Config struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty       bool          `env:"LOG_PRETTY" envDefault:"false"`

	// DatabaseURL selects Postgres; empty runs on in-memory storage
	DatabaseURL     string        `env:"DATABASE_URL"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	CleanupInterval time.Duration `env:"ACCESS_CODE_CLEANUP_INTERVAL" envDefault:"1h"`

	// RedisURL enables the Redis hot tier for access codes
	RedisURL string `env:"REDIS_URL"`

	// FirestoreProjectID moves the webhook audit trail to Firestore
	FirestoreProjectID string `env:"FIRESTORE_PROJECT_ID"`

	JWTSecret string `env:"JWT_SECRET,required"`
	JWTIssuer string `env:"JWT_ISSUER"`

	KiwifyWebhookSecret string            `env:"KIWIFY_WEBHOOK_SECRET,required"`
	PlanMapping         map[string]string `env:"KIWIFY_PLAN_MAPPING" envKeyValSeparator:"="`
	// A negative minimum amount disables that amount rule
	AnnualMinAmount     float64           `env:"PLAN_ANNUAL_MIN_AMOUNT" envDefault:"147"`
	MonthlyMinAmount    float64           `env:"PLAN_MONTHLY_MIN_AMOUNT" envDefault:"27"`
	WebhookRateLimit    int               `env:"WEBHOOK_RATE_LIMIT" envDefault:"100"`

	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Set it only when a reverse proxy in front of the server rewrites them.
	TrustProxy bool `env:"TRUST_PROXY" envDefault:"false"`

	CheckoutURL string `env:"CHECKOUT_URL"`

	ProfileCacheTTL  time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"1m"`
	MetricsNamespace string        `env:"METRICS_NAMESPACE" envDefault:"goaccess"`
}

// loadConfig loads .env (if present) and parses the environment
func loadConfig() (Config, error) {
	// The .env file is optional
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
