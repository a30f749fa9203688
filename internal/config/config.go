package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                      string        `mapstructure:"PORT"`
	Env                       string        `mapstructure:"ENV"`
	DatabaseURL               string        `mapstructure:"DATABASE_URL"`
	DBMaxConns                int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema                  string        `mapstructure:"DB_SCHEMA"`
	MigrationsDir             string        `mapstructure:"MIGRATIONS_DIR"`
	JWTSecret                 string        `mapstructure:"JWT_SECRET"`
	JWTExpiry                 time.Duration `mapstructure:"JWT_EXPIRY"`
	JWTIssuer                 string        `mapstructure:"JWT_ISSUER"`
	FrontendURL               string        `mapstructure:"FRONTEND_URL"`
	CORSOrigins               []string      `mapstructure:"CORS_ORIGINS"`
	UploadDir                 string        `mapstructure:"UPLOAD_DIR"`
	UploadMaxBytes            int64         `mapstructure:"UPLOAD_MAX_BYTES"`
	RateLimitRPS              float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst            int           `mapstructure:"RATE_LIMIT_BURST"`
	PrescriptionSweepInterval time.Duration `mapstructure:"PRESCRIPTION_SWEEP_INTERVAL"`
}

// devJWTSecret signs tokens when ENV=development and no JWT_SECRET is set.
const devJWTSecret = "telemed-development-secret-do-not-use-in-production"

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "3001")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "telemed")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("JWT_EXPIRY", "24h")
	v.SetDefault("JWT_ISSUER", "telemed")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("UPLOAD_MAX_BYTES", 10*1024*1024)
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("PRESCRIPTION_SWEEP_INTERVAL", "1h")

	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
		"MIGRATIONS_DIR", "JWT_SECRET", "JWT_EXPIRY", "JWT_ISSUER", "FRONTEND_URL",
		"CORS_ORIGINS", "UPLOAD_DIR", "UPLOAD_MAX_BYTES", "RATE_LIMIT_RPS",
		"RATE_LIMIT_BURST", "PRESCRIPTION_SWEEP_INTERVAL",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 0 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		} else {
			cfg.CORSOrigins = []string{cfg.FrontendURL}
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" && cfg.IsDev() {
		log.Println("WARNING: JWT_SECRET is not set; using the built-in development secret.")
		cfg.JWTSecret = devJWTSecret
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// JWT_SECRET must be set and at least 32 bytes long, and it may never be the
// development fallback.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required (current ENV=%q)", c.Env)
	}
	if !c.IsDev() {
		if c.JWTSecret == devJWTSecret {
			return fmt.Errorf("the development JWT secret cannot be used when ENV=%q", c.Env)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
		}
	}
	if c.JWTExpiry <= 0 {
		return fmt.Errorf("JWT_EXPIRY must be positive, got %s", c.JWTExpiry)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR must not be empty")
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.UploadMaxBytes)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
