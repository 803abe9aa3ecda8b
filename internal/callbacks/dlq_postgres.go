package callbacks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/CedrosPay/acquisim/internal/metrics"
)

// PostgresDLQStore keeps failed webhooks in a PostgreSQL table.
// The *sql.DB is borrowed from the shared pool and is not closed here.
type PostgresDLQStore struct {
	db      *sql.DB
	table   string
	metrics *metrics.Metrics
}

// NewPostgresDLQStore creates the table if missing. table must already be a validated identifier.
func NewPostgresDLQStore(ctx context.Context, db *sql.DB, table string, m *metrics.Metrics) (*PostgresDLQStore, error) {
	s := &PostgresDLQStore{db: db, table: table, metrics: m}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			payload JSONB NOT NULL,
			headers JSONB,
			event_type TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			last_error TEXT NOT NULL,
			last_attempt TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, table)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create DLQ table: %w", err)
	}
	return s, nil
}

func (s *PostgresDLQStore) SaveFailedWebhook(ctx context.Context, w FailedWebhook) error {
	defer metrics.MeasureDBQuery(s.metrics, "save_failed_webhook", "postgres")()

	headers, err := json.Marshal(w.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, url, payload, headers, event_type, attempts, last_error, last_attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			last_attempt = EXCLUDED.last_attempt
	`, s.table)

	// JSONB params go over the wire as text.
	_, err = s.db.ExecContext(ctx, query,
		w.ID, w.URL, string(w.Payload), string(headers), w.EventType,
		w.Attempts, w.LastError, w.LastAttempt, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert failed webhook: %w", err)
	}
	return nil
}

func (s *PostgresDLQStore) GetFailedWebhook(ctx context.Context, id string) (FailedWebhook, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_failed_webhook", "postgres")()

	query := fmt.Sprintf(`
		SELECT id, url, payload, headers, event_type, attempts, last_error, last_attempt, created_at
		FROM %s WHERE id = $1
	`, s.table)

	w, err := scanFailedWebhook(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return FailedWebhook{}, ErrWebhookNotFound
	}
	if err != nil {
		return FailedWebhook{}, fmt.Errorf("query failed webhook: %w", err)
	}
	return w, nil
}

func (s *PostgresDLQStore) ListFailedWebhooks(ctx context.Context, limit int) ([]FailedWebhook, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_failed_webhooks", "postgres")()

	query := fmt.Sprintf(`
		SELECT id, url, payload, headers, event_type, attempts, last_error, last_attempt, created_at
		FROM %s ORDER BY created_at ASC, id ASC
	`, s.table)
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed webhooks: %w", err)
	}
	defer rows.Close()

	result := []FailedWebhook{}
	for rows.Next() {
		w, err := scanFailedWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed webhook: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *PostgresDLQStore) DeleteFailedWebhook(ctx context.Context, id string) error {
	defer metrics.MeasureDBQuery(s.metrics, "delete_failed_webhook", "postgres")()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete failed webhook: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFailedWebhook(row rowScanner) (FailedWebhook, error) {
	var (
		w       FailedWebhook
		payload []byte
		headers []byte
	)
	err := row.Scan(&w.ID, &w.URL, &payload, &headers, &w.EventType,
		&w.Attempts, &w.LastError, &w.LastAttempt, &w.CreatedAt)
	if err != nil {
		return FailedWebhook{}, err
	}
	w.Payload = json.RawMessage(payload)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &w.Headers); err != nil {
			return FailedWebhook{}, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	return w, nil
}
