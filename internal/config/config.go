package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	Port                    string        `mapstructure:"PORT"`
	Env                     string        `mapstructure:"ENV"`
	InMemory                bool          `mapstructure:"IN_MEMORY"`
	DatabaseURL             string        `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL                string        `mapstructure:"REDIS_URL"`
	AvailabilityCacheTTL    time.Duration `mapstructure:"AVAILABILITY_CACHE_TTL"`
	KafkaBrokers            []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic              string        `mapstructure:"KAFKA_TOPIC"`
	AdminSecret             string        `mapstructure:"ADMIN_SECRET"`
	AdminTokenTTL           time.Duration `mapstructure:"ADMIN_TOKEN_TTL"`
	CORSOrigins             []string      `mapstructure:"CORS_ORIGINS"`
	ClinicTimezone          string        `mapstructure:"CLINIC_TIMEZONE"`
	BookingHorizonDays      int           `mapstructure:"BOOKING_HORIZON_DAYS"`
	StrictStatusTransitions bool          `mapstructure:"STRICT_STATUS_TRANSITIONS"`
	ReconcileSchedule       string        `mapstructure:"RECONCILE_SCHEDULE"`
	RateLimitRPS            float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst          int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout          time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "IN_MEMORY", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "AVAILABILITY_CACHE_TTL", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"ADMIN_SECRET", "ADMIN_TOKEN_TTL", "CORS_ORIGINS", "CLINIC_TIMEZONE",
	"BOOKING_HORIZON_DAYS", "STRICT_STATUS_TRANSITIONS", "RECONCILE_SCHEDULE",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
}

// Load reads configuration from the environment and an optional .env file.
// It does not validate; call Validate once command-line overrides are
// applied.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "30s")
	v.SetDefault("KAFKA_TOPIC", "appointment-events")
	v.SetDefault("ADMIN_TOKEN_TTL", "12h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CLINIC_TIMEZONE", "Asia/Riyadh")
	v.SetDefault("BOOKING_HORIZON_DAYS", 60)
	v.SetDefault("STRICT_STATUS_TRANSITIONS", false)
	v.SetDefault("RECONCILE_SCHEDULE", "0 3 * * *")
	v.SetDefault("RATE_LIMIT_RPS", 2)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("REQUEST_TIMEOUT", "15s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	return cfg, nil
}

// splitList normalizes a comma-separated setting that may arrive either
// already split or as a single string.
func splitList(parsed []string, raw string) []string {
	if len(parsed) == 0 && raw != "" {
		parsed = []string{raw}
	}
	var out []string
	for _, item := range parsed {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location loads CLINIC_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. DATABASE_URL is
// required unless the in-memory store is selected; production requires an
// admin secret and refuses the in-memory store.
func (c *Config) Validate() error {
	if !c.InMemory && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.IsProduction() {
		if c.InMemory {
			return fmt.Errorf("the in-memory store cannot be used in production")
		}
		if len(c.AdminSecret) < 16 {
			return fmt.Errorf("ADMIN_SECRET of at least 16 characters is required in production")
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.BookingHorizonDays <= 0 {
		return fmt.Errorf("BOOKING_HORIZON_DAYS must be positive, got %d", c.BookingHorizonDays)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.AvailabilityCacheTTL < 0 {
		return fmt.Errorf("AVAILABILITY_CACHE_TTL must not be negative")
	}
	return nil
}
