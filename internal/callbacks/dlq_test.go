package callbacks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CedrosPay/acquisim/internal/config"
	"github.com/CedrosPay/acquisim/internal/dbpool"
)

func failed(id string, created time.Time) FailedWebhook {
	return FailedWebhook{
		ID:          id,
		URL:         "http://merchant.test/notify",
		Payload:     json.RawMessage(`{"session_id":"s1","status":"fail"}`),
		Headers:     map[string]string{"X-Merchant-Key": "abc"},
		EventType:   EventPaymentFinished,
		Attempts:    5,
		LastError:   "received status 503",
		LastAttempt: created,
		CreatedAt:   created,
	}
}

// exerciseDLQ runs the behaviour every backend must share.
func exerciseDLQ(t *testing.T, store DLQStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	prefix := uuid.NewString()[:8]
	id := func(n int) string { return fmt.Sprintf("webhook_%s_%d", prefix, n) }

	for i, offset := range []int{2, 0, 1} {
		if err := store.SaveFailedWebhook(ctx, failed(id(i), base.Add(time.Duration(offset)*time.Second))); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	got, err := store.GetFailedWebhook(ctx, id(0))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.URL != "http://merchant.test/notify" || got.Attempts != 5 || got.Headers["X-Merchant-Key"] != "abc" {
		t.Errorf("Get = %+v", got)
	}
	var payload map[string]string
	if err := json.Unmarshal(got.Payload, &payload); err != nil || payload["session_id"] != "s1" {
		t.Errorf("payload = %s (%v)", got.Payload, err)
	}

	limited, err := store.ListFailedWebhooks(ctx, 2)
	if err != nil {
		t.Fatalf("List(2): %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List(2) returned %d entries", len(limited))
	}

	all, err := store.ListFailedWebhooks(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var mine []string
	for _, w := range all {
		if strings.HasPrefix(w.ID, "webhook_"+prefix) {
			mine = append(mine, w.ID)
		}
	}
	if want := []string{id(1), id(2), id(0)}; strings.Join(mine, ",") != strings.Join(want, ",") {
		t.Errorf("List order = %v, want %v", mine, want)
	}

	if err := store.DeleteFailedWebhook(ctx, id(1)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetFailedWebhook(ctx, id(1)); !errors.Is(err, ErrWebhookNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if err := store.DeleteFailedWebhook(ctx, id(1)); err != nil {
		t.Errorf("second Delete: %v", err)
	}

	for _, n := range []int{0, 2} {
		_ = store.DeleteFailedWebhook(ctx, id(n))
	}
}

func TestMemoryDLQStore(t *testing.T) {
	exerciseDLQ(t, NewMemoryDLQStore())
}

func TestFileDLQStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dlq.json")
	store, err := NewFileDLQStore(path)
	if err != nil {
		t.Fatalf("NewFileDLQStore: %v", err)
	}
	exerciseDLQ(t, store)
}

func TestFileDLQStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlq.json")
	store, err := NewFileDLQStore(path)
	if err != nil {
		t.Fatalf("NewFileDLQStore: %v", err)
	}
	if err := store.SaveFailedWebhook(context.Background(), failed("webhook_keep", time.Now().UTC())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	reopened, err := NewFileDLQStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := reopened.GetFailedWebhook(context.Background(), "webhook_keep"); err != nil {
		t.Errorf("entry lost across reopen: %v", err)
	}
}

func TestFileDLQStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlq.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileDLQStore(path); err == nil {
		t.Error("expected error for corrupt DLQ file")
	}
}

func TestNewDLQStore(t *testing.T) {
	ctx := context.Background()

	store, closer, err := NewDLQStore(ctx, config.DLQConfig{Backend: "none"}, nil)
	if err != nil || store != nil || closer == nil {
		t.Errorf("none: store=%v closer=%v err=%v", store, closer, err)
	}

	store, closer, err = NewDLQStore(ctx, config.DLQConfig{Backend: "memory"}, nil)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*MemoryDLQStore); !ok {
		t.Errorf("memory backend type = %T", store)
	}
	closer.Close()

	store, closer, err = NewDLQStore(ctx, config.DLQConfig{
		Backend:  "file",
		FilePath: filepath.Join(t.TempDir(), "dlq.json"),
	}, nil)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if _, ok := store.(*FileDLQStore); !ok {
		t.Errorf("file backend type = %T", store)
	}
	closer.Close()

	if _, _, err := NewDLQStore(ctx, config.DLQConfig{Backend: "redis"}, nil); err == nil {
		t.Error("unknown backend accepted")
	}
}

// Database backends run only when a server is provided.
func TestPostgresDLQStore(t *testing.T) {
	dsn := os.Getenv("ACQUISIM_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("ACQUISIM_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	pool, err := dbpool.NewSharedPool(ctx, dsn, config.PostgresPoolConfig{MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	store, err := NewPostgresDLQStore(ctx, pool.DB(), "failed_notifications_test", nil)
	if err != nil {
		t.Fatalf("NewPostgresDLQStore: %v", err)
	}
	exerciseDLQ(t, store)
}

func TestMongoDLQStore(t *testing.T) {
	uri := os.Getenv("ACQUISIM_TEST_MONGODB_URL")
	if uri == "" {
		t.Skip("ACQUISIM_TEST_MONGODB_URL not set")
	}
	ctx := context.Background()
	store, err := NewMongoDLQStore(ctx, uri, "acquisim_test", "failed_notifications", nil)
	if err != nil {
		t.Fatalf("NewMongoDLQStore: %v", err)
	}
	defer store.Close(ctx)
	exerciseDLQ(t, store)
}
