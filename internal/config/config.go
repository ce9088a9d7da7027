package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	BaseURL     string
	FrontendURL string
	LogLevel    string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	StripeSecretKey     string
	StripeWebhookSecret string

	GoogleMapsAPIKey string

	ServiceAreas []string

	WaveSize  int
	WaveDelay time.Duration

	DepositHomeLockoutCents int64
	DepositCarLockoutCents  int64
	DepositRekeyCents       int64
	DepositSmartLockCents   int64

	S3Bucket            string
	S3PhotoPrefix       string
	PhotoURLTTL         time.Duration
	MaxPhotoBytes       int64
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecret           string
	AWSEndpointOverride string

	DispatchQueueURL string
	UseMemoryQueue   bool
	WorkerCount      int

	SessionAbandonAfter time.Duration
	OfferSweepInterval  time.Duration

	EmailProvider     string
	SESFromEmail      string
	SESFromName       string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	OpsAlertEmail     string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("APP_ENV", "development"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		GoogleMapsAPIKey: getEnv("GOOGLE_MAPS_API_KEY", ""),

		ServiceAreas: getEnvAsList("SERVICE_AREAS", []string{"San Francisco", "Oakland", "San Jose", "Laredo"}),

		WaveSize:  getEnvAsInt("WAVE_SIZE", 3),
		WaveDelay: getEnvAsDuration("WAVE_DELAY", time.Duration(getEnvAsInt("WAVE_DELAY_SECONDS", 120))*time.Second),

		DepositHomeLockoutCents: int64(getEnvAsInt("DEPOSIT_HOME_LOCKOUT_CENTS", 4900)),
		DepositCarLockoutCents:  int64(getEnvAsInt("DEPOSIT_CAR_LOCKOUT_CENTS", 5900)),
		DepositRekeyCents:       int64(getEnvAsInt("DEPOSIT_REKEY_CENTS", 7900)),
		DepositSmartLockCents:   int64(getEnvAsInt("DEPOSIT_SMART_LOCK_CENTS", 9900)),

		S3Bucket:            getEnv("S3_BUCKET", ""),
		S3PhotoPrefix:       getEnv("S3_PHOTO_PREFIX", ""),
		PhotoURLTTL:         getEnvAsDuration("PHOTO_URL_TTL", 5*time.Minute),
		MaxPhotoBytes:       int64(getEnvAsInt("MAX_PHOTO_BYTES", 10*1024*1024)),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecret:           getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		DispatchQueueURL: getEnv("DISPATCH_QUEUE_URL", ""),
		UseMemoryQueue:   getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 2),

		SessionAbandonAfter: getEnvAsDuration("SESSION_ABANDON_AFTER", 24*time.Hour),
		OfferSweepInterval:  getEnvAsDuration("OFFER_SWEEP_INTERVAL", 30*time.Second),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Locksmith Dispatch"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Locksmith Dispatch"),
		OpsAlertEmail:     getEnv("OPS_ALERT_EMAIL", ""),
	}
}

// IsDev reports whether the app runs with relaxed development validation.
func (c *Config) IsDev() bool {
	return c.Env != "production"
}

// DepositAmounts returns the base deposit per service type in cents.
func (c *Config) DepositAmounts() map[string]int64 {
	return map[string]int64{
		"home_lockout": c.DepositHomeLockoutCents,
		"car_lockout":  c.DepositCarLockoutCents,
		"rekey":        c.DepositRekeyCents,
		"smart_lock":   c.DepositSmartLockCents,
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable, trimming blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
