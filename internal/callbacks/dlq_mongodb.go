package callbacks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/CedrosPay/acquisim/internal/metrics"
)

// MongoDLQStore keeps failed webhooks in a MongoDB collection.
type MongoDLQStore struct {
	client  *mongo.Client
	coll    *mongo.Collection
	metrics *metrics.Metrics
}

// NewMongoDLQStore connects to uri and verifies the connection.
func NewMongoDLQStore(ctx context.Context, uri, database, collection string, m *metrics.Metrics) (*MongoDLQStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create DLQ index: %w", err)
	}

	return &MongoDLQStore{client: client, coll: coll, metrics: m}, nil
}

func (s *MongoDLQStore) SaveFailedWebhook(ctx context.Context, w FailedWebhook) error {
	defer metrics.MeasureDBQuery(s.metrics, "save_failed_webhook", "mongodb")()

	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": w.ID}, w, opts); err != nil {
		return fmt.Errorf("upsert failed webhook: %w", err)
	}
	return nil
}

func (s *MongoDLQStore) GetFailedWebhook(ctx context.Context, id string) (FailedWebhook, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_failed_webhook", "mongodb")()

	var w FailedWebhook
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&w)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return FailedWebhook{}, ErrWebhookNotFound
	}
	if err != nil {
		return FailedWebhook{}, fmt.Errorf("find failed webhook: %w", err)
	}
	return w, nil
}

func (s *MongoDLQStore) ListFailedWebhooks(ctx context.Context, limit int) ([]FailedWebhook, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_failed_webhooks", "mongodb")()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("query failed webhooks: %w", err)
	}
	defer cursor.Close(ctx)

	result := []FailedWebhook{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("decode failed webhooks: %w", err)
	}
	return result, nil
}

func (s *MongoDLQStore) DeleteFailedWebhook(ctx context.Context, id string) error {
	defer metrics.MeasureDBQuery(s.metrics, "delete_failed_webhook", "mongodb")()

	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete failed webhook: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoDLQStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
