package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/midtrans/midtrans-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nurealazmie002/santri-billing-core/models"
)

type Config struct {
	Port              string
	DatabaseURL       string
	GatewayEnv        midtrans.EnvironmentType
	GatewayServerKey  string
	GatewayTimeout    time.Duration
	StudentAPIBaseURL string
}

func LoadConfig() (*Config, error) {
	godotenv.Load()

	timeoutSec, err := strconv.Atoi(getEnvOrDefault("GATEWAY_TIMEOUT_SECONDS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT_SECONDS: %w", err)
	}

	// An empty server key would make webhook signatures verifiable by
	// anyone who knows the payload fields; refuse to start without one.
	serverKey := os.Getenv("MIDTRANS_SERVER_KEY")
	if serverKey == "" {
		return nil, fmt.Errorf("MIDTRANS_SERVER_KEY is required")
	}

	var env midtrans.EnvironmentType
	switch name := getEnvOrDefault("MIDTRANS_ENV", "sandbox"); name {
	case "sandbox":
		env = midtrans.Sandbox
	case "production":
		env = midtrans.Production
	default:
		return nil, fmt.Errorf("invalid MIDTRANS_ENV %q, want sandbox or production", name)
	}

	return &Config{
		Port:              os.Getenv("PORT"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		GatewayEnv:        env,
		GatewayServerKey:  serverKey,
		GatewayTimeout:    time.Duration(timeoutSec) * time.Second,
		StudentAPIBaseURL: os.Getenv("STUDENT_API_BASE_URL"),
	}, nil
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the schema for every owned model.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Invoice{},
		&models.InvoiceItem{},
		&models.PaymentAttempt{},
		&models.Transaction{},
		&models.GatewayEvent{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
