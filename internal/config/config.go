package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	Logger LoggerConfig

	Providers ProvidersConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

type LoggerConfig struct {
	Level string
}

// ProviderConfig carries the credentials and API endpoint for one payment
// provider.
type ProviderConfig struct {
	WebhookSecret string
	APIKey        string
	Endpoint      string
}

type ProvidersConfig struct {
	Cardstream ProviderConfig
	Njiamoney  ProviderConfig
	Tambapay   ProviderConfig
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "livraly"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},
		Providers: ProvidersConfig{
			Cardstream: ProviderConfig{
				WebhookSecret: getenv("CARDSTREAM_WEBHOOK_SECRET", ""),
				APIKey:        getenv("CARDSTREAM_API_KEY", ""),
				Endpoint:      getenv("CARDSTREAM_ENDPOINT", "https://api.cardstream.com/v1"),
			},
			Njiamoney: ProviderConfig{
				WebhookSecret: getenv("NJIAMONEY_WEBHOOK_SECRET", ""),
				APIKey:        getenv("NJIAMONEY_API_KEY", ""),
				Endpoint:      getenv("NJIAMONEY_ENDPOINT", "https://api.njiamoney.cm/v1"),
			},
			Tambapay: ProviderConfig{
				WebhookSecret: getenv("TAMBAPAY_WEBHOOK_SECRET", ""),
				APIKey:        getenv("TAMBAPAY_API_KEY", ""),
				Endpoint:      getenv("TAMBAPAY_ENDPOINT", "https://api.tambapay.sn/v1"),
			},
		},
		DBType:        getenv("DATABASE_TYPE", "postgres"),
		DBHost:        getenv("DATABASE_HOST", "localhost"),
		DBPort:        getenv("DATABASE_PORT", "5432"),
		DBName:        getenv("DATABASE_NAME", "livraly"),
		DBUser:        getenv("DATABASE_USER", "postgres"),
		DBPassword:    getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:     getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn: getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn: getenvInt("DATABASE_MAX_OPEN_CONN", 25),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
