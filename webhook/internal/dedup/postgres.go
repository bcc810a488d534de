package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queryTimeout = 5 * time.Second

// PostgresLedger persists signatures in the processed_signatures table.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(ctx context.Context, connString string) (*PostgresLedger, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresLedger{pool: pool}, nil
}

func (p *PostgresLedger) HasSeen(ctx context.Context, signature string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_signatures WHERE signature = $1)`, signature,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query processed signature: %w", err)
	}
	return exists, nil
}

func (p *PostgresLedger) MarkSeen(ctx context.Context, signature string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := p.pool.Exec(ctx,
		`INSERT INTO processed_signatures (signature) VALUES ($1) ON CONFLICT (signature) DO NOTHING`, signature,
	)
	if err != nil {
		return fmt.Errorf("insert processed signature: %w", err)
	}
	return nil
}

func (p *PostgresLedger) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM processed_signatures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count processed signatures: %w", err)
	}
	return n, nil
}

func (p *PostgresLedger) Close() error {
	p.pool.Close()
	return nil
}

// Migrate applies the ledger schema from sourceURL (e.g. "file://migrations").
func Migrate(sourceURL, connString string) error {
	m, err := migrate.New(sourceURL, connString)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
