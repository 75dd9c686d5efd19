package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL        string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	FieldEncryptionKey string        `mapstructure:"FIELD_ENCRYPTION_KEY"`
	RateLimitRequests  int           `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow    time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`

	// Streaming and warehouse
	KafkaBrokers         []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic           string   `mapstructure:"KAFKA_TOPIC"`
	KafkaGroupID         string   `mapstructure:"KAFKA_GROUP_ID"`
	WarehouseDatabaseURL string   `mapstructure:"WAREHOUSE_DATABASE_URL"`
	ETLJobsFile          string   `mapstructure:"ETL_JOBS_FILE"`

	// Backups
	BackupBucket   string        `mapstructure:"BACKUP_BUCKET"`
	BackupPrefix   string        `mapstructure:"BACKUP_PREFIX"`
	BackupInterval time.Duration `mapstructure:"BACKUP_INTERVAL"`
	AWSRegion      string        `mapstructure:"AWS_REGION"`

	// Notification providers
	SendGridAPIKey    string `mapstructure:"SENDGRID_API_KEY"`
	EmailFrom         string `mapstructure:"EMAIL_FROM"`
	TwilioAccountSID  string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber  string `mapstructure:"TWILIO_FROM_NUMBER"`
	FCMServerKey      string `mapstructure:"FCM_SERVER_KEY"`
	QuietHoursStart   string `mapstructure:"QUIET_HOURS_START"`
	QuietHoursEnd     string `mapstructure:"QUIET_HOURS_END"`
	WebhookMaxRetries int    `mapstructure:"WEBHOOK_MAX_RETRIES"`

	// Outbound API limits
	ExternalAPIRateLimit int           `mapstructure:"EXTERNAL_API_RATE_LIMIT"`
	ExternalAPIWindow    time.Duration `mapstructure:"EXTERNAL_API_WINDOW"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "FIELD_ENCRYPTION_KEY", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_GROUP_ID", "WAREHOUSE_DATABASE_URL", "ETL_JOBS_FILE",
	"BACKUP_BUCKET", "BACKUP_PREFIX", "BACKUP_INTERVAL", "AWS_REGION",
	"SENDGRID_API_KEY", "EMAIL_FROM", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN",
	"TWILIO_FROM_NUMBER", "FCM_SERVER_KEY", "QUIET_HOURS_START", "QUIET_HOURS_END",
	"WEBHOOK_MAX_RETRIES", "EXTERNAL_API_RATE_LIMIT", "EXTERNAL_API_WINDOW",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:8501")
	v.SetDefault("RATE_LIMIT_REQUESTS", 600)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("KAFKA_TOPIC", "healthmate.health-data")
	v.SetDefault("KAFKA_GROUP_ID", "healthmate-etl")
	v.SetDefault("BACKUP_PREFIX", "backups")
	v.SetDefault("BACKUP_INTERVAL", "24h")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("EMAIL_FROM", "noreply@healthmate.local")
	v.SetDefault("QUIET_HOURS_START", "22:00")
	v.SetDefault("QUIET_HOURS_END", "07:00")
	v.SetDefault("WEBHOOK_MAX_RETRIES", 3)
	v.SetDefault("EXTERNAL_API_RATE_LIMIT", 60)
	v.SetDefault("EXTERNAL_API_WINDOW", "1m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, unauthenticated requests get admin access.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER or AUTH_SIGNING_KEY.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

// splitList handles comma separated env values that viper leaves as a
// single-element slice.
func splitList(current []string, raw string) []string {
	if raw == "" {
		raw = strings.Join(current, ",")
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// StreamingEnabled reports whether Kafka brokers are configured.
func (c *Config) StreamingEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate checks that the configuration is safe to run. Outside development
// a token verifier must be configured, and in production the field
// encryption key is mandatory.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}

	if c.IsProduction() && c.FieldEncryptionKey == "" {
		return fmt.Errorf("FIELD_ENCRYPTION_KEY is required in production")
	}
	if c.FieldEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.FieldEncryptionKey)
		if err != nil {
			return fmt.Errorf("FIELD_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("FIELD_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if _, err := time.Parse("15:04", c.QuietHoursStart); err != nil {
		return fmt.Errorf("QUIET_HOURS_START must be HH:MM: %w", err)
	}
	if _, err := time.Parse("15:04", c.QuietHoursEnd); err != nil {
		return fmt.Errorf("QUIET_HOURS_END must be HH:MM: %w", err)
	}

	if c.BackupInterval < 0 {
		return fmt.Errorf("BACKUP_INTERVAL must not be negative")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	if c.ExternalAPIRateLimit <= 0 || c.ExternalAPIWindow <= 0 {
		return fmt.Errorf("EXTERNAL_API_RATE_LIMIT and EXTERNAL_API_WINDOW must be positive")
	}

	return nil
}
