package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PostgresConfig holds the settings PgStore needs to open and tune a
// pgxpool connection to the records store backing the fake
// Dataverse-like organization service.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	SSLMode string `mapstructure:"ssl_mode"`

	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`

	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
}

// DefaultConfig returns the settings used when no environment
// overrides are present: a local, unauthenticated Postgres holding the
// fake service's records table.
func DefaultConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:              "localhost",
		Port:              5432,
		Database:          "dataverse_access_core",
		User:              "dataverse_access_core",
		Password:          "",
		SSLMode:           "disable",
		MaxConns:          20,
		MinConns:          2,
		MaxConnLifetime:   1 * time.Hour,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    30 * time.Second,
	}
}

// LoadFromEnv loads configuration from DVCORE_DB_-prefixed environment
// variables over the defaults above.
func LoadFromEnv() *PostgresConfig {
	v := viper.New()
	v.SetEnvPrefix("DVCORE_DB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("database", cfg.Database)
	v.SetDefault("user", cfg.User)
	v.SetDefault("password", cfg.Password)
	v.SetDefault("ssl_mode", cfg.SSLMode)
	v.SetDefault("max_conns", cfg.MaxConns)
	v.SetDefault("min_conns", cfg.MinConns)
	v.SetDefault("max_conn_lifetime", cfg.MaxConnLifetime)
	v.SetDefault("max_conn_idle_time", cfg.MaxConnIdleTime)
	v.SetDefault("health_check_period", cfg.HealthCheckPeriod)
	v.SetDefault("connect_timeout", cfg.ConnectTimeout)

	loaded := DefaultConfig()
	loaded.Host = v.GetString("host")
	loaded.Port = v.GetInt("port")
	loaded.Database = v.GetString("database")
	loaded.User = v.GetString("user")
	loaded.Password = v.GetString("password")
	loaded.SSLMode = v.GetString("ssl_mode")
	loaded.MaxConns = int32(v.GetInt32("max_conns"))
	loaded.MinConns = int32(v.GetInt32("min_conns"))
	loaded.MaxConnLifetime = v.GetDuration("max_conn_lifetime")
	loaded.MaxConnIdleTime = v.GetDuration("max_conn_idle_time")
	loaded.HealthCheckPeriod = v.GetDuration("health_check_period")
	loaded.ConnectTimeout = v.GetDuration("connect_timeout")
	return loaded
}

// Validate checks that c describes a usable pool configuration.
func (c *PostgresConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be greater than 0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("min connections cannot be negative")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections cannot be greater than max connections")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("max connection lifetime must be greater than 0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("max connection idle time must be greater than 0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("health check period must be greater than 0")
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s", c.SSLMode)
	}

	return nil
}

// DSN returns the connection string pgx expects.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}
