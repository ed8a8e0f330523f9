package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the PDF assistant service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// Transport selects how chat events arrive: "telegram", "ws" for
	// the local development websocket, or "auto" (telegram when a
	// token is present, websocket otherwise).
	Transport     string
	TelegramToken string
	PublicURL     string

	MaxFileSize      int64
	SessionTTL       time.Duration
	SweepInterval    time.Duration
	SweepMaxAge      time.Duration
	MaxStorageBytes  int64
	MaxStorageFiles  int
	WorkDir          string
	MaxWatermarkText int

	DatabaseURL string

	AllowAnyOrigin bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "pdfmate"),
		Transport:        strings.ToLower(envOrDefault("APP_TRANSPORT", "auto")),
		TelegramToken:    trimEnv("TELEGRAM_TOKEN"),
		PublicURL:        trimEnv("PUBLIC_URL"),
		DatabaseURL:      trimEnv("DATABASE_URL"),
		WorkDir:          trimEnv("APP_WORK_DIR"),
		ShutdownTimeout:  15 * time.Second,
		MaxFileSize:      20 << 20,
		SessionTTL:       time.Hour,
		SweepInterval:    time.Hour,
		SweepMaxAge:      30 * time.Minute,
		MaxStorageBytes:  512 << 20,
		MaxStorageFiles:  256,
		MaxWatermarkText: 100,
		AllowAnyOrigin:   false,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepInterval, err = durationFromEnv("SWEEP_INTERVAL", cfg.SweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepMaxAge, err = durationFromEnv("SWEEP_MAX_AGE", cfg.SweepMaxAge)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxFileSize, err = int64FromEnv("MAX_FILE_SIZE", cfg.MaxFileSize)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxStorageBytes, err = int64FromEnv("MAX_STORAGE_BYTES", cfg.MaxStorageBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxStorageFiles, err = intFromEnv("MAX_STORAGE_FILES", cfg.MaxStorageFiles)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch cfg.Transport {
	case "auto", "telegram", "ws":
	default:
		return Config{}, fmt.Errorf("APP_TRANSPORT must be auto, telegram or ws, got %q", cfg.Transport)
	}
	if cfg.Transport == "telegram" && cfg.TelegramToken == "" {
		return Config{}, fmt.Errorf("APP_TRANSPORT=telegram but TELEGRAM_TOKEN is not set")
	}
	if cfg.MaxFileSize <= 0 {
		return Config{}, fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if cfg.SessionTTL < time.Minute {
		return Config{}, fmt.Errorf("SESSION_TTL must be at least 1m")
	}
	if cfg.SweepInterval < time.Second {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := trimEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
