package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config (receipt dedup + rate limiting; optional)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Push provider
	PushProvider     string // fcm | sns | log
	FCMAPIKey        string
	FCMWebhookSecret string
	AWSRegion        string

	// Resident management collaborator
	AccountsBaseURL string

	// Scheduler
	DelinquencySweepHour   int
	DelinquencySweepMinute int
	PublicationPollMinutes int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "vecino",
		DBPassword: "",
		DBName:     "vecino",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		PushProvider: "log",
		AWSRegion:    "us-east-1",

		DelinquencySweepHour:   2,
		DelinquencySweepMinute: 0,
		PublicationPollMinutes: 5,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Push provider
	if provider := os.Getenv("PUSH_PROVIDER"); provider != "" {
		if provider != "fcm" && provider != "sns" && provider != "log" {
			return nil, fmt.Errorf("invalid PUSH_PROVIDER: %s (must be fcm, sns, or log)", provider)
		}
		cfg.PushProvider = provider
	}

	if key := os.Getenv("FCM_API_KEY"); key != "" {
		cfg.FCMAPIKey = key
	}

	if secret := os.Getenv("FCM_WEBHOOK_SECRET"); secret != "" {
		cfg.FCMWebhookSecret = secret
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if url := os.Getenv("ACCOUNTS_BASE_URL"); url != "" {
		cfg.AccountsBaseURL = url
	}

	// Scheduler config
	if hour := os.Getenv("DELINQUENCY_SWEEP_HOUR"); hour != "" {
		h, err := strconv.Atoi(hour)
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid DELINQUENCY_SWEEP_HOUR: %s", hour)
		}
		cfg.DelinquencySweepHour = h
	}

	if minute := os.Getenv("DELINQUENCY_SWEEP_MINUTE"); minute != "" {
		m, err := strconv.Atoi(minute)
		if err != nil || m < 0 || m > 59 {
			return nil, fmt.Errorf("invalid DELINQUENCY_SWEEP_MINUTE: %s", minute)
		}
		cfg.DelinquencySweepMinute = m
	}

	if minutes := os.Getenv("PUBLICATION_POLL_MINUTES"); minutes != "" {
		m, err := strconv.Atoi(minutes)
		if err != nil || m <= 0 {
			return nil, fmt.Errorf("invalid PUBLICATION_POLL_MINUTES: %s", minutes)
		}
		cfg.PublicationPollMinutes = m
	}

	return cfg, nil
}

// PublicationPollInterval returns the release poll period.
func (c *Config) PublicationPollInterval() time.Duration {
	return time.Duration(c.PublicationPollMinutes) * time.Minute
}
