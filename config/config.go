package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/yourusername/clientflow/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port                 string
	DatabaseURL          string
	JWTSecret            string
	JWTRefreshSecret     string
	GatewayAPIBase       string
	GatewayAPIKey        string
	WebhookSecret        string // platform events
	ConnectWebhookSecret string // connected-account events
	KafkaBrokers         []string
	KafkaTopic           string
}

func LoadConfig() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:                 os.Getenv("PORT"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		JWTRefreshSecret:     os.Getenv("JWT_REFRESH_SECRET"),
		GatewayAPIBase:       getEnvOrDefault("GATEWAY_API_BASE", "https://api.gateway.example.com"),
		GatewayAPIKey:        os.Getenv("GATEWAY_API_KEY"),
		WebhookSecret:        os.Getenv("GATEWAY_WEBHOOK_SECRET"),
		ConnectWebhookSecret: os.Getenv("GATEWAY_CONNECT_WEBHOOK_SECRET"),
		KafkaTopic:           getEnvOrDefault("KAFKA_TOPIC", "clientflow.payments"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	return cfg, nil
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Migrate runs schema migration for all models. Exposed separately so tests
// can migrate an in-memory database.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.Contact{},
		&models.Payment{},
		&models.Invoice{},
		&models.Booking{},
		&models.Tag{},
		&models.TagAssignment{},
		&models.WebhookEndpoint{},
		&models.WebhookDelivery{},
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
