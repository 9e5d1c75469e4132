package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"turpe-billing/internal/parisdate"
)

const (
	TariffSourceFile = "file"
	TariffSourceDB   = "db"
)

// Config holds process configuration for the billing service.
type Config struct {
	DatabaseURL     string        `yaml:"database_url"`
	HTTPAddr        string        `yaml:"http_addr"`
	TenantID        string        `yaml:"tenant_id"`
	JWTSecret       string        `yaml:"jwt_secret"`
	IngestSecret    string        `yaml:"ingest_secret"`
	IngestMaxSkew   time.Duration `yaml:"ingest_max_skew"`
	TariffSource    string        `yaml:"tariff_source"`
	TariffRulesFile string        `yaml:"tariff_rules_file"`
	Workers         int           `yaml:"workers"`
	Timezone        string        `yaml:"timezone"`
	LogLevel        string        `yaml:"log_level"`
	Schedule        Schedule      `yaml:"schedule"`
}

// Schedule configures the daily billing run.
type Schedule struct {
	DailyAt string   `yaml:"daily_at"`
	Tenants []string `yaml:"tenants"`
}

// Load reads an optional .env file, environment variables and an optional
// YAML overlay named by BILLING_CONFIG.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "config: load .env")
	}

	cfg := Config{
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:        getenvDefault("TENANT_ID", "tenant-demo"),
		JWTSecret:       getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:    getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestMaxSkew:   time.Duration(getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300)) * time.Second,
		TariffSource:    getenvDefault("TARIFF_SOURCE", TariffSourceFile),
		TariffRulesFile: getenvDefault("TARIFF_RULES_FILE", "config/turpe_rules.yaml"),
		Workers:         getenvIntDefault("WORKERS", 4),
		Timezone:        getenvDefault("BILLING_TIMEZONE", parisdate.Zone),
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
		Schedule: Schedule{
			DailyAt: getenvDefault("RUN_DAILY_AT", "03:00"),
			Tenants: splitCSV(getenvDefault("RUN_TENANTS", "")),
		},
	}

	if path := os.Getenv("BILLING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "config: read %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "config: parse %s", path)
		}
	}

	if len(cfg.Schedule.Tenants) == 0 && cfg.TenantID != "" {
		cfg.Schedule.Tenants = []string{cfg.TenantID}
	}
	return cfg, cfg.Validate()
}

// Validate checks required keys and value ranges.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	if c.Workers <= 0 {
		return errors.Newf("config: WORKERS must be positive, got %d", c.Workers)
	}
	if c.Timezone != parisdate.Zone {
		return errors.Newf("config: unsupported billing timezone %q", c.Timezone)
	}
	switch c.TariffSource {
	case TariffSourceFile:
		if c.TariffRulesFile == "" {
			return errors.New("config: TARIFF_RULES_FILE is required for file tariffs")
		}
	case TariffSourceDB:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL or PG_DSN is required for db tariffs")
		}
	default:
		return errors.Newf("config: unknown tariff source %q", c.TariffSource)
	}
	if c.Schedule.DailyAt != "" {
		if _, _, err := ParseDailyAt(c.Schedule.DailyAt); err != nil {
			return err
		}
	}
	return nil
}

// ParseDailyAt parses an HH:MM wall-clock time.
func ParseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "config: invalid daily time %q", value)
	}
	return t.Hour(), t.Minute(), nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
