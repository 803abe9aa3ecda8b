package callbacks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrWebhookNotFound is returned for an unknown DLQ entry.
var ErrWebhookNotFound = errors.New("callbacks: failed webhook not found")

// DLQStore persists notifications that exhausted their retries.
type DLQStore interface {
	SaveFailedWebhook(ctx context.Context, webhook FailedWebhook) error
	GetFailedWebhook(ctx context.Context, id string) (FailedWebhook, error)
	ListFailedWebhooks(ctx context.Context, limit int) ([]FailedWebhook, error)
	DeleteFailedWebhook(ctx context.Context, id string) error
}

// FailedWebhook is a notification that exhausted all retry attempts.
type FailedWebhook struct {
	ID          string            `json:"id" bson:"_id"`
	URL         string            `json:"url" bson:"url"`
	Payload     json.RawMessage   `json:"payload" bson:"payload"`
	Headers     map[string]string `json:"headers" bson:"headers"`
	EventType   string            `json:"eventType" bson:"event_type"`
	Attempts    int               `json:"attempts" bson:"attempts"`
	LastError   string            `json:"lastError" bson:"last_error"`
	LastAttempt time.Time         `json:"lastAttempt" bson:"last_attempt"`
	CreatedAt   time.Time         `json:"createdAt" bson:"created_at"`
}

// NoopDLQStore discards failed webhooks.
type NoopDLQStore struct{}

func (NoopDLQStore) SaveFailedWebhook(context.Context, FailedWebhook) error { return nil }
func (NoopDLQStore) GetFailedWebhook(context.Context, string) (FailedWebhook, error) {
	return FailedWebhook{}, ErrWebhookNotFound
}
func (NoopDLQStore) ListFailedWebhooks(context.Context, int) ([]FailedWebhook, error) {
	return []FailedWebhook{}, nil
}
func (NoopDLQStore) DeleteFailedWebhook(context.Context, string) error { return nil }

// oldestFirst returns up to limit entries ordered by creation time. limit <= 0 means all.
func oldestFirst(webhooks map[string]FailedWebhook, limit int) []FailedWebhook {
	result := make([]FailedWebhook, 0, len(webhooks))
	for _, w := range webhooks {
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// MemoryDLQStore keeps failed webhooks in memory; they are lost on restart.
type MemoryDLQStore struct {
	mu       sync.RWMutex
	webhooks map[string]FailedWebhook
}

// NewMemoryDLQStore creates an in-memory DLQ store.
func NewMemoryDLQStore() *MemoryDLQStore {
	return &MemoryDLQStore{webhooks: make(map[string]FailedWebhook)}
}

func (m *MemoryDLQStore) SaveFailedWebhook(ctx context.Context, webhook FailedWebhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[webhook.ID] = webhook
	return nil
}

func (m *MemoryDLQStore) GetFailedWebhook(ctx context.Context, id string) (FailedWebhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.webhooks[id]
	if !ok {
		return FailedWebhook{}, ErrWebhookNotFound
	}
	return w, nil
}

func (m *MemoryDLQStore) ListFailedWebhooks(ctx context.Context, limit int) ([]FailedWebhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return oldestFirst(m.webhooks, limit), nil
}

func (m *MemoryDLQStore) DeleteFailedWebhook(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.webhooks, id)
	return nil
}

// FileDLQStore keeps failed webhooks in a JSON file rewritten atomically on every change.
type FileDLQStore struct {
	mu       sync.RWMutex
	filePath string
	webhooks map[string]FailedWebhook
}

// NewFileDLQStore opens (or creates on first write) the DLQ file.
func NewFileDLQStore(filePath string) (*FileDLQStore, error) {
	store := &FileDLQStore{
		filePath: filePath,
		webhooks: make(map[string]FailedWebhook),
	}
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load DLQ file: %w", err)
	}
	return store, nil
}

func (f *FileDLQStore) SaveFailedWebhook(ctx context.Context, webhook FailedWebhook) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks[webhook.ID] = webhook
	return f.persist()
}

func (f *FileDLQStore) GetFailedWebhook(ctx context.Context, id string) (FailedWebhook, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	w, ok := f.webhooks[id]
	if !ok {
		return FailedWebhook{}, ErrWebhookNotFound
	}
	return w, nil
}

func (f *FileDLQStore) ListFailedWebhooks(ctx context.Context, limit int) ([]FailedWebhook, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return oldestFirst(f.webhooks, limit), nil
}

func (f *FileDLQStore) DeleteFailedWebhook(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.webhooks[id]; !ok {
		return nil
	}
	delete(f.webhooks, id)
	return f.persist()
}

func (f *FileDLQStore) load() error {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return err
	}
	var webhooks map[string]FailedWebhook
	if err := json.Unmarshal(data, &webhooks); err != nil {
		return fmt.Errorf("unmarshal DLQ data: %w", err)
	}
	if webhooks != nil {
		f.webhooks = webhooks
	}
	return nil
}

// persist writes to a temp file and renames it over the original. Caller holds f.mu.
func (f *FileDLQStore) persist() error {
	data, err := json.MarshalIndent(f.webhooks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal DLQ data: %w", err)
	}

	if dir := filepath.Dir(f.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create DLQ dir: %w", err)
		}
	}

	tmpPath := f.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write DLQ file: %w", err)
	}
	if err := os.Rename(tmpPath, f.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename DLQ file: %w", err)
	}
	return nil
}

// Close is a no-op; every change is already on disk.
func (f *FileDLQStore) Close() error {
	return nil
}
