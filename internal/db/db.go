package db

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Client представляет клиент для работы с базой данных.
type Client struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// NewClient создает новый экземпляр Client и проверяет соединение.
func NewClient(dsn string, log *zap.SugaredLogger) (*Client, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db: failed to ping database: %w", err)
	}

	return &Client{db: db, log: log}, nil
}

// DB возвращает нижележащий пул соединений.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Migrate применяет все недостающие миграции из sourceURL
// (например "file://migrations").
func (c *Client) Migrate(sourceURL, dsn string) error {
	m, err := migrate.New(sourceURL, dsn)
	if err != nil {
		return fmt.Errorf("db: failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			c.log.Infow("Database schema is up to date")
			return nil
		}
		return fmt.Errorf("db: failed to apply migrations: %w", err)
	}

	c.log.Infow("Database migrations applied")
	return nil
}

// Close закрывает соединение с базой данных.
func (c *Client) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("db: failed to close database connection: %w", err)
	}
	return nil
}
