package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ConnectorConfig struct {
	URL      string
	Host     string
	Port     string
	Username string
	DbName   string
	Password string
	SslMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MaxRetries      uint64
}

func (c ConnectorConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s password=%s", c.Host, c.Port, c.Username, c.DbName, c.SslMode, c.Password)
}

// LoadConfigFromEnv prefers DATABASE_URL and falls back to the individual POSTGRES_* variables.
func LoadConfigFromEnv() ConnectorConfig {
	getEnv := func(key, def string) string {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
		return def
	}
	getInt := func(key string, def int) int {
		if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
			return n
		}
		return def
	}

	return ConnectorConfig{
		URL:             os.Getenv("DATABASE_URL"),
		Host:            getEnv("POSTGRES_HOST", "localhost"),
		Port:            getEnv("POSTGRES_PORT", "5432"),
		Username:        os.Getenv("POSTGRES_USER"),
		DbName:          getEnv("POSTGRES_DBNAME", "telemetry"),
		Password:        os.Getenv("POSTGRES_PASSWORD"),
		SslMode:         getEnv("POSTGRES_SSLMODE", "disable"),
		MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: 30 * time.Minute,
		MaxRetries:      uint64(getInt("DB_CONNECT_RETRIES", 5)),
	}
}

type ConnectorFunc func() (*gorm.DB, zerolog.Logger, error)

func NewSQLiteConnector(log zerolog.Logger) ConnectorFunc {
	return func() (*gorm.DB, zerolog.Logger, error) {
		db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{
			Logger:          logger.Default.LogMode(logger.Silent),
			CreateBatchSize: 1000,
		})

		if err == nil {
			db.Exec("PRAGMA foreign_keys = ON")
			sqldb, _ := db.DB()
			sqldb.SetMaxOpenConns(1)
		}

		return db, log, err
	}
}

func NewPostgreSQLConnector(ctx context.Context, log zerolog.Logger, cfg ConnectorConfig) ConnectorFunc {
	return func() (*gorm.DB, zerolog.Logger, error) {
		sublogger := log.With().Str("host", cfg.Host).Str("database", cfg.DbName).Logger()

		var db *gorm.DB

		connect := func() error {
			sublogger.Info().Msg("connecting to database host")

			conn, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
				Logger: logger.New(
					&sublogger,
					logger.Config{
						SlowThreshold:             time.Second,
						LogLevel:                  logger.Warn,
						IgnoreRecordNotFoundError: true,
						Colorful:                  false,
					},
				),
			})
			if err != nil {
				sublogger.Error().Err(err).Msg("failed to connect to database")
				return err
			}

			sqldb, err := conn.DB()
			if err != nil {
				return backoff.Permanent(err)
			}

			if err = sqldb.PingContext(ctx); err != nil {
				sublogger.Error().Err(err).Msg("database did not respond to ping")
				return err
			}

			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
			sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
			sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)

			db = conn
			return nil
		}

		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.MaxRetries), ctx)
		if err := backoff.Retry(connect, policy); err != nil {
			return nil, sublogger, fmt.Errorf("could not connect to database: %w", err)
		}

		return db, sublogger, nil
	}
}
