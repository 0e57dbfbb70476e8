package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	DBURL            string
	LogLevel         string
	DBMaxConns       int
	WebhookSecret    string
	WebhookTolerance int // seconds; 0 disables the timestamp check
	HistoryLimit     int
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load("config.env")

	secret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if secret == "" {
		return nil, errors.New("PAYMENT_WEBHOOK_SECRET must be set")
	}

	return &Config{
		Port:     os.Getenv("APP_PORT"),
		LogLevel: os.Getenv("LOG_LEVEL"),
		DBURL: fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			os.Getenv("DB_HOST"),
			os.Getenv("DB_PORT"),
			os.Getenv("DB_NAME"),
		),
		DBMaxConns:       intEnv("DB_MAX_CONNS", 8),
		WebhookSecret:    secret,
		WebhookTolerance: intEnv("WEBHOOK_TOLERANCE_SECONDS", 300),
		HistoryLimit:     intEnv("WALLET_HISTORY_LIMIT", 20),
	}, nil
}

func intEnv(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
