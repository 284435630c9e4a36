package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// Telegram
	TelegramToken string  `validate:"required"`
	AdminChatIDs  []int64 `validate:"dive,ne=0"`
	UpdateMode    string  `validate:"oneof=polling webhook"`
	WebhookURL    string  `validate:"required_if=UpdateMode webhook"`
	WebhookSecret string

	// Database
	DatabaseURL string `validate:"required"`

	// Redis
	RedisAddress string

	// Pub/Sub
	PubSubProjectID       string
	PubSubTopic           string `validate:"required_with=PubSubProjectID"`
	PubSubCredentialsFile string

	// Supabase storage
	SupabaseURL           string `validate:"omitempty,url"`
	SupabaseServiceKey    string `validate:"required_with=SupabaseURL"`
	SupabaseReportsBucket string

	// Admin API
	AdminJWTSecret string

	// Workflow
	SweepInterval     time.Duration `validate:"gt=0"`
	ReminderThreshold time.Duration `validate:"gt=0"`
	EventTimeout      time.Duration `validate:"gt=0"`
	SessionTTL        time.Duration `validate:"gt=0"`

	// Server
	Port        string
	BaseURL     string `validate:"omitempty,url"`
	Environment string
	LogLevel    string `validate:"oneof=trace debug info warn warning error"`
	LogFormat   string `validate:"oneof=json text"`
}

func Load() (*Config, error) {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	adminIDs, err := getEnvInt64List("ADMIN_CHAT_IDS")
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		TelegramToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminChatIDs:  adminIDs,
		UpdateMode:    getEnv("UPDATE_MODE", "polling"),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddress: getEnv("REDIS_ADDRESS", ""),

		PubSubProjectID:       getEnv("PUBSUB_PROJECT_ID", ""),
		PubSubTopic:           getEnv("PUBSUB_TOPIC", ""),
		PubSubCredentialsFile: getEnv("PUBSUB_CREDENTIALS_FILE", ""),

		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseReportsBucket: getEnv("SUPABASE_REPORTS_BUCKET", "reports"),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		Port:        getEnv("PORT", "8080"),
		BaseURL:     getEnv("BASE_URL", ""),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
	}

	durations := []struct {
		dst *time.Duration
		key string
		def time.Duration
	}{
		{&cfg.SweepInterval, "SWEEP_INTERVAL", 60 * time.Second},
		{&cfg.ReminderThreshold, "REMINDER_THRESHOLD", 7 * time.Minute},
		{&cfg.EventTimeout, "EVENT_TIMEOUT", 15 * time.Second},
		{&cfg.SessionTTL, "SESSION_TTL", 24 * time.Hour},
	}
	for _, d := range durations {
		v, err := getEnvDuration(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func (c *Config) IsAdmin(chatID int64) bool {
	for _, id := range c.AdminChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// UsesMemoryStore reports whether DATABASE_URL selects the in-process store.
func (c *Config) UsesMemoryStore() bool {
	return strings.HasPrefix(c.DatabaseURL, "memory://")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvInt64List(key string) ([]int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}
	var out []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, id)
	}
	return out, nil
}
