package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Payment  PaymentConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type PaymentConfig struct {
	// Omise API credentials.
	PublicKey string
	SecretKey string
	// Shared secret the gateway signs webhook bodies with.
	WebhookSecret string
	// ReturnURI the hosted payment UI redirects back to.
	ReturnURI string
	// CardPaymentsEnabled is server-authoritative: the booking flow
	// re-checks it even if a client bypasses the UI.
	CardPaymentsEnabled bool
	RefundPollAttempts  int
	RefundPollInterval  time.Duration
}

type AdminConfig struct {
	// APIToken protects the /admin surface.
	APIToken string
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverHost := os.Getenv("SERVER_HOST")
	if serverHost == "" {
		serverHost = "localhost"
	}

	serverPortStr := os.Getenv("SERVER_PORT")
	if serverPortStr == "" {
		serverPortStr = "8080"
	}

	serverPort, err := strconv.Atoi(serverPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid SERVER_PORT: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: serverHost,
		Port: serverPort,
	}

	postgresHost := os.Getenv("POSTGRES_HOST")
	if postgresHost == "" {
		postgresHost = "localhost"
	}

	postgresPortStr := os.Getenv("POSTGRES_PORT")
	if postgresPortStr == "" {
		postgresPortStr = "5432"
	}

	postgresPort, err := strconv.Atoi(postgresPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid POSTGRES_PORT: %w", op, err)
	}

	postgresUser := os.Getenv("POSTGRES_USER")
	if postgresUser == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
	}

	postgresDB := os.Getenv("POSTGRES_DB")
	if postgresDB == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
	}

	postgresSSLMode := os.Getenv("POSTGRES_SSLMODE")
	if postgresSSLMode == "" {
		postgresSSLMode = "disable"
	}

	postgresCfg := PostgresConfig{
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		Host:     postgresHost,
		Port:     postgresPort,
		SSLMode:  postgresSSLMode,
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisCfg := RedisConfig{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}

	paymentCfg, err := paymentFromEnv(op)
	if err != nil {
		return nil, err
	}

	adminToken := os.Getenv("ADMIN_API_TOKEN")
	if adminToken == "" {
		return nil, fmt.Errorf("%s: missing ADMIN_API_TOKEN", op)
	}

	return &Config{
		Server:   serverCfg,
		Postgres: postgresCfg,
		Redis:    redisCfg,
		Payment:  paymentCfg,
		Admin:    AdminConfig{APIToken: adminToken},
	}, nil
}

func paymentFromEnv(op string) (PaymentConfig, error) {
	publicKey := os.Getenv("OMISE_PUBLIC_KEY")
	if publicKey == "" {
		return PaymentConfig{}, fmt.Errorf("%s: missing OMISE_PUBLIC_KEY", op)
	}

	secretKey := os.Getenv("OMISE_SECRET_KEY")
	if secretKey == "" {
		return PaymentConfig{}, fmt.Errorf("%s: missing OMISE_SECRET_KEY", op)
	}

	webhookSecret := os.Getenv("WEBHOOK_SECRET")
	if webhookSecret == "" {
		return PaymentConfig{}, fmt.Errorf("%s: missing WEBHOOK_SECRET", op)
	}

	cardEnabled := true
	if v := os.Getenv("CARD_PAYMENTS_ENABLED"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return PaymentConfig{}, fmt.Errorf("%s: invalid CARD_PAYMENTS_ENABLED: %w", op, err)
		}
		cardEnabled = parsed
	}

	attempts := 3
	if v := os.Getenv("REFUND_POLL_ATTEMPTS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return PaymentConfig{}, fmt.Errorf("%s: invalid REFUND_POLL_ATTEMPTS: %w", op, err)
		}
		attempts = parsed
	}

	interval := 1500 * time.Millisecond
	if v := os.Getenv("REFUND_POLL_INTERVAL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return PaymentConfig{}, fmt.Errorf("%s: invalid REFUND_POLL_INTERVAL: %w", op, err)
		}
		interval = parsed
	}

	return PaymentConfig{
		PublicKey:           publicKey,
		SecretKey:           secretKey,
		WebhookSecret:       webhookSecret,
		ReturnURI:           os.Getenv("PAYMENT_RETURN_URI"),
		CardPaymentsEnabled: cardEnabled,
		RefundPollAttempts:  attempts,
		RefundPollInterval:  interval,
	}, nil
}
