package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DBPath      string
	LogLevel    string
	LogFormat   string
	CatalogPath string
	Timezone    string
	AdminToken  string

	// RateLimit is accepted check-in/join requests per user per second.
	RateLimit float64

	S3Endpoint  string
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	BackupPassphrase    string
	BackupInterval      time.Duration
	BackupRetentionDays int

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	// ReminderHour is the local hour for daily check-in reminders; -1 disables them.
	ReminderHour int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching
// .env files.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("STRIDE_PORT", "8080"),
		DBPath:           getEnv("STRIDE_DB_PATH", "stride.db"),
		LogLevel:         getEnv("STRIDE_LOG_LEVEL", "info"),
		LogFormat:        getEnv("STRIDE_LOG_FORMAT", "text"),
		CatalogPath:      os.Getenv("STRIDE_CATALOG_PATH"),
		Timezone:         os.Getenv("STRIDE_TIMEZONE"),
		AdminToken:       os.Getenv("STRIDE_ADMIN_TOKEN"),
		S3Endpoint:       os.Getenv("STRIDE_S3_ENDPOINT"),
		S3Bucket:         os.Getenv("STRIDE_S3_BUCKET"),
		S3Region:         getEnv("STRIDE_S3_REGION", "us-east-1"),
		S3AccessKey:      os.Getenv("STRIDE_S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("STRIDE_S3_SECRET_KEY"),
		BackupPassphrase: os.Getenv("STRIDE_BACKUP_PASSPHRASE"),
		VAPIDPublicKey:   os.Getenv("STRIDE_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:  os.Getenv("STRIDE_VAPID_PRIVATE_KEY"),
		VAPIDSubscriber:  getEnv("STRIDE_VAPID_SUBSCRIBER", "admin@stride.local"),
	}

	var err error
	if cfg.RateLimit, err = strconv.ParseFloat(getEnv("STRIDE_RATE_LIMIT", "2"), 64); err != nil {
		return nil, fmt.Errorf("parse STRIDE_RATE_LIMIT: %w", err)
	}
	if cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("STRIDE_RATE_LIMIT must be positive, got %v", cfg.RateLimit)
	}
	if cfg.BackupInterval, err = time.ParseDuration(getEnv("STRIDE_BACKUP_INTERVAL", "24h")); err != nil {
		return nil, fmt.Errorf("parse STRIDE_BACKUP_INTERVAL: %w", err)
	}
	if cfg.BackupRetentionDays, err = strconv.Atoi(getEnv("STRIDE_BACKUP_RETENTION_DAYS", "30")); err != nil {
		return nil, fmt.Errorf("parse STRIDE_BACKUP_RETENTION_DAYS: %w", err)
	}

	if cfg.ReminderHour, err = strconv.Atoi(getEnv("STRIDE_REMINDER_HOUR", "19")); err != nil {
		return nil, fmt.Errorf("parse STRIDE_REMINDER_HOUR: %w", err)
	}
	if cfg.ReminderHour < -1 || cfg.ReminderHour > 23 {
		return nil, fmt.Errorf("STRIDE_REMINDER_HOUR must be between -1 and 23, got %d", cfg.ReminderHour)
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("parse STRIDE_TIMEZONE: %w", err)
		}
	}
	return cfg, nil
}

// Location returns the configured default timezone, or time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// BackupEnabled reports whether enough S3 settings are present to run backups.
func (c *Config) BackupEnabled() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.BackupPassphrase != ""
}

func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}
