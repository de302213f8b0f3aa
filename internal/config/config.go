// Package config loads runtime settings from the environment.  A .env file
// in the working directory is read first when present; real environment
// variables win over it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/database"
)

// Store backends selectable with APP_STORE.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config is the whole application configuration.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	AMQP      AMQPConfig
	Auth      AuthConfig
	Booking   BookingConfig
	Sweeper   SweeperConfig
}

type AppConfig struct {
	Env      string `envconfig:"APP_ENV" default:"dev"`
	Port     string `envconfig:"APP_PORT" default:"8080"`
	Store    string `envconfig:"APP_STORE" default:"mysql"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// IsProd reports whether APP_ENV is prod or production.
func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, "prod") || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	User            string        `envconfig:"DB_USER"`
	Pass            string        `envconfig:"DB_PASS"`
	Host            string        `envconfig:"DB_HOST" default:"127.0.0.1"`
	Port            string        `envconfig:"DB_PORT" default:"3306"`
	Name            string        `envconfig:"DB_NAME"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	AutoMigrate     bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

// Options converts the settings for database.Open.
func (d DBConfig) Options() database.Options {
	return database.Options{
		User:     d.User,
		Pass:     d.Pass,
		Host:     d.Host,
		Port:     d.Port,
		Name:     d.Name,
		MaxOpen:  d.MaxOpenConns,
		MaxIdle:  d.MaxIdleConns,
		Lifetime: d.ConnMaxLifetime,
	}
}

type AMQPConfig struct {
	Enabled bool   `envconfig:"AMQP_ENABLED" default:"false"`
	URL     string `envconfig:"AMQP_URL"`
	// LegacyURL is the older RABBITMQ_URL name, used when AMQP_URL is empty.
	LegacyURL       string `envconfig:"RABBITMQ_URL"`
	ConsumerEnabled bool   `envconfig:"AMQP_CONSUMER_ENABLED" default:"true"`
	NotificationLog string `envconfig:"NOTIFICATION_LOG_PATH" default:"logs/notifications.log"`
}

// BrokerURL returns the configured broker address.
func (a AMQPConfig) BrokerURL() string {
	if a.URL != "" {
		return a.URL
	}
	return a.LegacyURL
}

type AuthConfig struct {
	JWTSecret         string `envconfig:"JWT_SECRET"`
	AccessTTLMin      int    `envconfig:"ACCESS_TOKEN_TTL_MIN" default:"60"`
	BcryptCost        int    `envconfig:"BCRYPT_COST" default:"12"`
	BootstrapEmail    string `envconfig:"BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapPassword string `envconfig:"BOOTSTRAP_ADMIN_PASSWORD"`
}

// AccessTTL is the lifetime of staff access tokens.
func (a AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessTTLMin) * time.Minute
}

type BookingConfig struct {
	MaxAdvanceDays    int           `envconfig:"BOOKING_MAX_ADVANCE_DAYS" default:"365"`
	MinNights         int           `envconfig:"BOOKING_MIN_NIGHTS" default:"1"`
	MaxNights         int           `envconfig:"BOOKING_MAX_NIGHTS" default:"30"`
	HoldTTL           time.Duration `envconfig:"BOOKING_HOLD_TTL" default:"15m"`
	MaxHoldTTL        time.Duration `envconfig:"BOOKING_MAX_HOLD_TTL" default:"24h"`
	PendingTTL        time.Duration `envconfig:"BOOKING_PENDING_TTL" default:"0"`
	ReferencePrefix   string        `envconfig:"BOOKING_REFERENCE_PREFIX" default:"RB"`
	ReferenceAttempts int           `envconfig:"BOOKING_REFERENCE_ATTEMPTS" default:"10"`
	AdmissionAttempts int           `envconfig:"BOOKING_ADMISSION_ATTEMPTS" default:"3"`
	NotifyTimeout     time.Duration `envconfig:"BOOKING_NOTIFY_TIMEOUT" default:"10s"`
}

// Policy returns the stay rules.
func (b BookingConfig) Policy() booking.Policy {
	return booking.Policy{
		MaxAdvanceDays: b.MaxAdvanceDays,
		MinNights:      b.MinNights,
		MaxNights:      b.MaxNights,
		DefaultHoldTTL: b.HoldTTL,
		MaxHoldTTL:     b.MaxHoldTTL,
		PendingTTL:     b.PendingTTL,
	}
}

type SweeperConfig struct {
	Enabled   bool          `envconfig:"SWEEPER_ENABLED" default:"true"`
	Interval  time.Duration `envconfig:"SWEEPER_INTERVAL" default:"1m"`
	BatchSize int           `envconfig:"SWEEPER_BATCH_SIZE" default:"200"`
	LockTTL   time.Duration `envconfig:"SWEEPER_LOCK_TTL" default:"50s"`
	LockKey   string        `envconfig:"SWEEPER_LOCK_KEY" default:"reservation:sweeper:lock"`
}

// Load reads .env (if any) and the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv is Load without the .env file.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.RateLimit.normalize()
	cfg.Cache.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.App.Store {
	case StoreMySQL:
		if c.DB.User == "" || c.DB.Name == "" {
			return errors.New("config: DB_USER and DB_NAME are required when APP_STORE=mysql")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: APP_STORE must be %q or %q, got %q", StoreMySQL, StoreMemory, c.App.Store)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if c.Booking.MaxNights > 0 && c.Booking.MinNights > c.Booking.MaxNights {
		return errors.New("config: BOOKING_MIN_NIGHTS exceeds BOOKING_MAX_NIGHTS")
	}
	if c.Booking.HoldTTL < 0 || c.Booking.PendingTTL < 0 {
		return errors.New("config: booking TTLs must not be negative")
	}
	if c.Booking.MaxHoldTTL > 0 && c.Booking.HoldTTL > c.Booking.MaxHoldTTL {
		return errors.New("config: BOOKING_HOLD_TTL exceeds BOOKING_MAX_HOLD_TTL")
	}
	if !booking.ValidReferencePrefix(c.Booking.ReferencePrefix) {
		return fmt.Errorf("config: BOOKING_REFERENCE_PREFIX must be 1-%d letters or digits, got %q",
			booking.MaxReferencePrefixLength, c.Booking.ReferencePrefix)
	}
	if c.Sweeper.LockTTL >= c.Sweeper.Interval {
		return errors.New("config: SWEEPER_LOCK_TTL must be shorter than SWEEPER_INTERVAL")
	}
	return nil
}
