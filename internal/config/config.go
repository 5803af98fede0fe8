package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	APIToken    string
	NodeID      int64

	PlatformName    string
	DashboardDomain string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Email   EmailConfig
	Storage StorageConfig
	Mollie  MollieConfig
	SES     SESConfig
	Cron    CronConfig

	RateLimit RateLimitConfig

	OTLPEndpoint string
	OTLPEnabled  bool
	LogLevel     string
	LogFormat    string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type StorageConfig struct {
	Region        string
	Bucket        string
	KeyPrefix     string
	PublicBaseURL string
}

type MollieConfig struct {
	APIKey      string
	BaseURL     string
	WebhookURL  string
	RedirectURL string
}

type SESConfig struct {
	Region string
}

// RateLimitConfig bounds requests per client. It needs Redis.
type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

type CronConfig struct {
	DNSReconcile     string
	BillingRun       string
	PackageReminders string
}

// Module provides the environment configuration and the billing policy holder.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewBillingConfigHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "memberhub"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		APIToken:     strings.TrimSpace(getenv("API_TOKEN", "")),
		NodeID:       int64(getenvInt("NODE_ID", 1)),
		PlatformName: getenv("PLATFORM_NAME", "memberhub"),

		DashboardDomain: getenv("DASHBOARD_DOMAIN", "dashboard.memberhub.app"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "memberhub"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 1025),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "billing@memberhub.local"),
		},
		Storage: StorageConfig{
			Region:        getenv("S3_REGION", "eu-west-1"),
			Bucket:        strings.TrimSpace(getenv("S3_BUCKET", "")),
			KeyPrefix:     getenv("S3_KEY_PREFIX", "invoices"),
			PublicBaseURL: strings.TrimRight(getenv("S3_PUBLIC_BASE_URL", ""), "/"),
		},
		Mollie: MollieConfig{
			APIKey:      strings.TrimSpace(getenv("MOLLIE_API_KEY", "")),
			BaseURL:     getenv("MOLLIE_BASE_URL", "https://api.mollie.com/v2"),
			WebhookURL:  getenv("MOLLIE_WEBHOOK_URL", ""),
			RedirectURL: getenv("MOLLIE_REDIRECT_URL", ""),
		},
		SES: SESConfig{
			Region: getenv("SES_REGION", "eu-west-1"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("RATE_LIMIT_ENABLED", false),
			Rate:    getenvFloat("RATE_LIMIT_RATE", 5),
			Burst:   getenvInt("RATE_LIMIT_BURST", 20),
		},
		Cron: CronConfig{
			DNSReconcile:     getenv("CRON_DNS_RECONCILE", "@every 1h"),
			BillingRun:       getenv("CRON_BILLING_RUN", "0 3 1 * *"),
			PackageReminders: getenv("CRON_PACKAGE_REMINDERS", "0 9 * * *"),
		},

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPEnabled:  getenvBool("OTEL_ENABLED", false),
		LogLevel:     strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:    strings.ToLower(getenv("LOG_FORMAT", "json")),
	}
}

// IsProduction reports whether external side effects (SES, real payments) are live.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
