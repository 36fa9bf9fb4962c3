package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port                string
	DatabasePath        string
	LogLevel            string
	MaxIngestBodyBytes  int64
	SweepInterval       time.Duration
	CardDebitWindowDays int
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	maxIngestBodyBytesStr := getEnv("MAX_INGEST_BODY_BYTES", "10485760")
	maxIngestBodyBytes, err := strconv.ParseInt(maxIngestBodyBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_INGEST_BODY_BYTES format '%s'. Using default 10MB. Error: %v", maxIngestBodyBytesStr, err)
		maxIngestBodyBytes = 10 * 1024 * 1024
	}

	sweepIntervalStr := getEnv("SWEEP_INTERVAL", "5m")
	sweepInterval, err := time.ParseDuration(sweepIntervalStr)
	if err != nil {
		log.Printf("WARNING: Invalid SWEEP_INTERVAL format '%s'. Using default 5m. Error: %v", sweepIntervalStr, err)
		sweepInterval = 5 * time.Minute
	}

	Cfg = &AppConfig{
		Port:                getEnv("PORT", "8080"),
		DatabasePath:        getEnv("DATABASE_PATH", "./clearledger.db"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		MaxIngestBodyBytes:  maxIngestBodyBytes,
		SweepInterval:       sweepInterval,
		CardDebitWindowDays: getEnvAsInt("CARD_DEBIT_WINDOW_DAYS", 40),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, SweepInterval=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.SweepInterval)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}
