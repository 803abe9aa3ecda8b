package callbacks

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/CedrosPay/acquisim/internal/config"
	"github.com/CedrosPay/acquisim/internal/dbpool"
	"github.com/CedrosPay/acquisim/internal/metrics"
)

// NewDLQStore builds the backend named by cfg.Backend. The returned closer releases any
// connection the store holds and is never nil. A nil store means the DLQ is disabled.
func NewDLQStore(ctx context.Context, cfg config.DLQConfig, m *metrics.Metrics) (DLQStore, io.Closer, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nopCloser{}, nil
	case "memory":
		return NewMemoryDLQStore(), nopCloser{}, nil
	case "file":
		store, err := NewFileDLQStore(cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return store, closerFunc(store.Close), nil
	case "postgres":
		pool, err := dbpool.NewSharedPool(ctx, cfg.PostgresURL, cfg.PostgresPool)
		if err != nil {
			return nil, nil, err
		}
		store, err := NewPostgresDLQStore(ctx, pool.DB(), cfg.PostgresTable, m)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool, nil
	case "mongodb":
		store, err := NewMongoDLQStore(ctx, cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.MongoDBCollection, m)
		if err != nil {
			return nil, nil, err
		}
		return store, closerFunc(func() error { return store.Close(context.Background()) }), nil
	default:
		return nil, nil, fmt.Errorf("unknown DLQ backend %q", cfg.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
