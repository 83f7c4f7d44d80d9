package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/config"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	_ "github.com/lib/pq"
)

// DB represents the database connection
type DB struct {
	*sql.DB
	maxRetries int
	logger     *logger.Logger
}

// NewConnection opens and verifies a PostgreSQL connection pool
func NewConnection(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.WithComponent("database").Infof("Database connection established to %s:%d/%s", cfg.Host, cfg.Port, cfg.Name)
	return Wrap(sqlDB, cfg.TxMaxRetries, log), nil
}

// Wrap adopts an already opened pool
func Wrap(sqlDB *sql.DB, maxRetries int, log *logger.Logger) *DB {
	return &DB{DB: sqlDB, maxRetries: maxRetries, logger: log}
}

func buildConnectionString(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return db.PingContext(ctx)
}
