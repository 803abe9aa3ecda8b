package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/CedrosPay/acquisim/internal/config"
)

// SharedPool owns one PostgreSQL connection pool shared by every store that needs it.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool opens and pings a pool for connectionString.
func NewSharedPool(ctx context.Context, connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &SharedPool{db: db}, nil
}

// DB returns the underlying handle.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the pool. Call it once at shutdown.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
