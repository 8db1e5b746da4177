package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"data-act-broker/internal/config"

	_ "github.com/go-sql-driver/mysql"
)

// Child validator processes each open their own pool, so the defaults stay
// small.
const (
	defaultMaxOpen     = 10
	defaultMaxIdle     = 5
	defaultMaxLifetime = 5 * time.Minute
)

// NewConnection opens and pings the broker database.
func NewConnection(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	conn, err := sql.Open("mysql", cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}

	maxOpen := cfg.Database.MaxConnections
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpen
	}
	maxIdle := cfg.Database.MaxIdleConnections
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = min(defaultMaxIdle, maxOpen)
	}
	lifetime := cfg.Database.ConnectionLifetime
	if lifetime <= 0 {
		lifetime = defaultMaxLifetime
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)
	conn.SetConnMaxLifetime(lifetime)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to mysql %s/%s: %w", cfg.Database.Host, cfg.Database.Name, err)
	}
	return conn, nil
}
