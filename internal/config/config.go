package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	TCC      TCCConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Log      LogConfig
	Server   ServerConfig
	CORS     CORSConfig
}

type TCCConfig struct {
	RecoveryTimeout time.Duration
	SweepInterval   time.Duration
	StoreTimeout    time.Duration
	SweepBatchSize  int
	SweepLockTTL    time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type JWTConfig struct {
	SecretKey string
}

type LogConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	Port string
}

type CORSConfig struct {
	AllowedOrigins []string
}

var envBindings = map[string]string{
	"tcc.recovery_timeout": "TCC_RECOVERY_TIMEOUT",
	"tcc.sweep_interval":   "TCC_SWEEP_INTERVAL",
	"tcc.store_timeout":    "TCC_STORE_TIMEOUT",
	"tcc.sweep_batch_size": "TCC_SWEEP_BATCH_SIZE",
	"tcc.sweep_lock_ttl":   "TCC_SWEEP_LOCK_TTL",

	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",
	"database.auto_migrate":      "DATABASE_AUTO_MIGRATE",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"jwt.secret_key": "JWT_SECRET_KEY",

	"log.level":  "LOG_LEVEL",
	"log.format": "LOG_FORMAT",

	"server.port":          "PORT",
	"cors.allowed_origins": "CORS_ALLOWED_ORIGINS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tcc.recovery_timeout", 60*time.Second)
	v.SetDefault("tcc.sweep_interval", 30*time.Second)
	v.SetDefault("tcc.store_timeout", 5*time.Second)
	v.SetDefault("tcc.sweep_batch_size", 100)
	v.SetDefault("tcc.sweep_lock_ttl", 2*time.Minute)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "tcc_account")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.port", "8080")
	v.SetDefault("cors.allowed_origins", []string{"https://*"})
}

// Load reads envFile (usually ".env") into the process environment when it exists, then
// resolves every key from the environment over the defaults. Variables already set in the
// environment win over the file. A missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	cfg := &Config{
		TCC: TCCConfig{
			RecoveryTimeout: v.GetDuration("tcc.recovery_timeout"),
			SweepInterval:   v.GetDuration("tcc.sweep_interval"),
			StoreTimeout:    v.GetDuration("tcc.store_timeout"),
			SweepBatchSize:  v.GetInt("tcc.sweep_batch_size"),
			SweepLockTTL:    v.GetDuration("tcc.sweep_lock_ttl"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{SecretKey: v.GetString("jwt.secret_key")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Server: ServerConfig{Port: v.GetString("server.port")},
		CORS:   CORSConfig{AllowedOrigins: splitList(v.GetStringSlice("cors.allowed_origins"))},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the participant and sweeper cannot run with.
func (c *Config) Validate() error {
	t := c.TCC
	switch {
	case t.RecoveryTimeout <= 0:
		return fmt.Errorf("tcc.recovery_timeout must be positive, got %s", t.RecoveryTimeout)
	case t.SweepInterval <= 0:
		return fmt.Errorf("tcc.sweep_interval must be positive, got %s", t.SweepInterval)
	case t.StoreTimeout <= 0:
		return fmt.Errorf("tcc.store_timeout must be positive, got %s", t.StoreTimeout)
	case t.SweepLockTTL <= 0:
		return fmt.Errorf("tcc.sweep_lock_ttl must be positive, got %s", t.SweepLockTTL)
	case t.SweepBatchSize <= 0:
		return fmt.Errorf("tcc.sweep_batch_size must be positive, got %d", t.SweepBatchSize)
	case t.RecoveryTimeout <= t.StoreTimeout:
		// A branch younger than one store timeout may still have its Try in flight.
		return fmt.Errorf("tcc.recovery_timeout (%s) must exceed tcc.store_timeout (%s)", t.RecoveryTimeout, t.StoreTimeout)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return logger, nil
}

// splitList accepts both a real list and a single comma-separated env value.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
