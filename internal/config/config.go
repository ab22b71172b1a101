package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	TransportCookie = "cookie"
	TransportHeader = "header"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	minBcryptCost = 10
)

var (
	ErrMissingSecret   = errors.New("missing required secret")
	ErrInvalidSettings = errors.New("invalid settings")
)

// Config is built once in main and handed to every component by reference.
// Nothing reads the environment after Load returns.
type Config struct {
	HTTPAddr string

	DatabaseDriver string
	DatabaseURL    string

	JWTSecret     []byte
	RefreshSecret []byte
	TokenHashKey  []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int

	Transport    string
	CookieSecure bool

	ChangePasswordRotates bool

	LogLevel string

	KafkaBrokers []string
	KafkaTopic   string

	ESURL      string
	ESUser     string
	ESPassword string
	ESIndex    string

	RedisAddr        string
	LoginMaxAttempts int
	LoginCooldown    time.Duration

	CORSOrigins []string
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() (*Config, error) {
	var env envReader
	cfg := &Config{
		HTTPAddr: EnvDefault("HTTP_ADDR", ":8080"),

		DatabaseDriver: EnvDefault("DATABASE_DRIVER", DriverPostgres),
		DatabaseURL:    EnvDefault("DATABASE_URL", ""),

		JWTSecret:     []byte(EnvDefault("JWT_SECRET", "")),
		RefreshSecret: []byte(EnvDefault("JWT_REFRESH_SECRET", "")),
		TokenHashKey:  []byte(EnvDefault("TOKEN_HASH_KEY", "")),

		AccessTTL:  env.Duration("ACCESS_TTL", time.Minute),
		RefreshTTL: env.Duration("REFRESH_TTL", 30*24*time.Hour),
		BcryptCost: env.Int("BCRYPT_COST", minBcryptCost),

		Transport:    EnvDefault("AUTH_TRANSPORT", TransportCookie),
		CookieSecure: env.Bool("COOKIE_SECURE", true),

		ChangePasswordRotates: env.Bool("CHANGE_PASSWORD_ROTATES", true),

		LogLevel: EnvDefault("LOG_LEVEL", "info"),

		KafkaBrokers: CSV(EnvDefault("KAFKA_BROKERS", "")),
		KafkaTopic:   EnvDefault("KAFKA_TOPIC", "user_events"),

		ESURL:      EnvDefault("ES_URL", ""),
		ESUser:     EnvDefault("ES_USER", ""),
		ESPassword: EnvDefault("ES_PASSWORD", ""),
		ESIndex:    EnvDefault("ES_INDEX", "auth_events"),

		RedisAddr:        EnvDefault("REDIS_ADDR", ""),
		LoginMaxAttempts: env.Int("LOGIN_MAX_ATTEMPTS", 5),
		LoginCooldown:    env.Duration("LOGIN_COOLDOWN", 15*time.Minute),

		CORSOrigins: CSV(EnvDefault("CORS_ORIGINS", "")),
	}

	if err := env.Err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate refuses configurations the server must not start with.
func (c *Config) Validate() error {
	if len(c.JWTSecret) == 0 {
		return fmt.Errorf("%w: JWT_SECRET", ErrMissingSecret)
	}
	if len(c.RefreshSecret) == 0 {
		return fmt.Errorf("%w: JWT_REFRESH_SECRET", ErrMissingSecret)
	}
	if string(c.JWTSecret) == string(c.RefreshSecret) {
		return fmt.Errorf("%w: JWT_SECRET and JWT_REFRESH_SECRET must differ", ErrInvalidSettings)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: token ttl must be positive", ErrInvalidSettings)
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("%w: ACCESS_TTL must be shorter than REFRESH_TTL", ErrInvalidSettings)
	}
	if c.BcryptCost < minBcryptCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("%w: BCRYPT_COST must be within [%d, %d]", ErrInvalidSettings, minBcryptCost, bcrypt.MaxCost)
	}
	switch c.Transport {
	case TransportCookie, TransportHeader:
	default:
		return fmt.Errorf("%w: AUTH_TRANSPORT %q", ErrInvalidSettings, c.Transport)
	}
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("%w: DATABASE_DRIVER %q", ErrInvalidSettings, c.DatabaseDriver)
	}
	if c.LoginMaxAttempts <= 0 {
		return fmt.Errorf("%w: LOGIN_MAX_ATTEMPTS must be positive", ErrInvalidSettings)
	}
	return nil
}
