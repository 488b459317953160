// Package config reads process configuration from the environment, after
// loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/medtariff/refprice/models"
)

type Config struct {
	AppName    string `env:"APP_NAME" envDefault:"refprice"`
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	PrettyLogs bool   `env:"PRETTY_LOGS" envDefault:"false"`

	// Database
	DatabaseHost            string        `env:"POSTGRES_HOST" envDefault:"localhost" validate:"required"`
	DatabasePort            int           `env:"POSTGRES_PORT" envDefault:"5432" validate:"gt=0,lte=65535"`
	DatabaseUser            string        `env:"POSTGRES_USER" envDefault:"postgres" validate:"required"`
	DatabasePassword        string        `env:"POSTGRES_PASSWORD"`
	DatabaseName            string        `env:"POSTGRES_DB" envDefault:"refprice" validate:"required"`
	DatabaseSSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	DatabaseMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25" validate:"gte=0"`
	DatabaseMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10" validate:"gte=0"`
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DatabaseLogQueries      bool          `env:"DB_LOG_QUERIES" envDefault:"false"`
	MigrateOnStart          bool          `env:"DB_MIGRATE_ON_START" envDefault:"false"`

	// Engine
	PipelineBatchSize  int           `env:"PIPELINE_BATCH_SIZE" envDefault:"500" validate:"gt=0"`
	MinApplyConfidence string        `env:"MIN_APPLY_CONFIDENCE" envDefault:"medium" validate:"oneof=high medium low"`
	RefDataPath        string        `env:"REFDATA_PATH"`
	SchemePath         string        `env:"SCHEME_PATH"`
	ExtractionTimeout  time.Duration `env:"EXTRACTION_TIMEOUT" envDefault:"5s" validate:"gt=0"`
}

// Load reads the given .env files, or .env in the working directory when
// none are given, then parses and validates the environment. A missing
// default .env is not an error; a named file that cannot be read is.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("load %v: %w", files, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %v: %w", err, models.ErrInvalidArgument)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v: %w", err, models.ErrInvalidArgument)
	}
	return cfg, nil
}

// DSN is the key/value connection string gorm's postgres driver expects.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DatabaseHost, c.DatabaseUser, c.DatabasePassword, c.DatabaseName, c.DatabasePort, c.DatabaseSSLMode)
}

// DatabaseURL is the URL form used by the migration driver.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DatabaseUser, c.DatabasePassword),
		Host:     fmt.Sprintf("%s:%d", c.DatabaseHost, c.DatabasePort),
		Path:     "/" + c.DatabaseName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DatabaseSSLMode),
	}
	return u.String()
}

func (c *Config) DBOptions() models.DBOptions {
	return models.DBOptions{
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
		LogQueries:      c.DatabaseLogQueries,
	}
}
