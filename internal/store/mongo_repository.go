package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rencire/free-games-claimer/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type claimDocument struct {
	Namespace string    `bson:"namespace"`
	Title     string    `bson:"title"`
	Time      time.Time `bson:"claimed_at"`
	URL       string    `bson:"url,omitempty"`
	Store     string    `bson:"store,omitempty"`
	Status    string    `bson:"status,omitempty"`
	Code      string    `bson:"code,omitempty"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoRepository stores claim records in a MongoDB collection.
type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectMongo connects, pings and ensures the (namespace, title) unique index.
func ConnectMongo(ctx context.Context, uri, dbName string) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	repo := &MongoRepository{
		client:     client,
		collection: client.Database(dbName).Collection("claim_records"),
	}

	index := mongo.IndexModel{
		Keys: bson.D{
			{Key: "namespace", Value: 1},
			{Key: "title", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("namespace_title_unique"),
	}
	if _, err := repo.collection.Indexes().CreateOne(ctx, index); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create namespace_title index: %w", err)
	}
	return repo, nil
}

// Load fetches every record of namespace.
func (r *MongoRepository) Load(ctx context.Context, namespace string) ([]domain.ClaimRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "claimed_at", Value: 1}, {Key: "title", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"namespace": namespace}, opts)
	if err != nil {
		return nil, fmt.Errorf("find claim records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []claimDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode claim records: %w", err)
	}

	records := make([]domain.ClaimRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, domain.ClaimRecord{
			Title:  d.Title,
			Time:   d.Time.UTC(),
			URL:    d.URL,
			Store:  d.Store,
			Status: domain.ClaimStatus(d.Status),
			Code:   d.Code,
		})
	}
	return records, nil
}

// Save upserts records with one bulk write. claimed_at is only written on insert.
func (r *MongoRepository) Save(ctx context.Context, namespace string, records []domain.ClaimRecord) error {
	namespace, records, err := normalizeRecords(namespace, records)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range records {
		update := bson.M{
			"$set": bson.M{
				"url":        rec.URL,
				"store":      rec.Store,
				"status":     string(rec.Status),
				"code":       rec.Code,
				"updated_at": now,
			},
			"$setOnInsert": bson.M{
				"namespace":  namespace,
				"title":      rec.Title,
				"claimed_at": rec.Time,
			},
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"namespace": namespace, "title": rec.Title}).
			SetUpdate(update).
			SetUpsert(true))
	}

	if _, err := r.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("bulk upsert claim records: %w", err)
	}
	return nil
}

// ListNamespaces returns every user with at least one record.
func (r *MongoRepository) ListNamespaces(ctx context.Context) ([]string, error) {
	values, err := r.collection.Distinct(ctx, "namespace", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("distinct namespaces: %w", err)
	}
	namespaces := make([]string, 0, len(values))
	for _, v := range values {
		if ns, ok := v.(string); ok {
			namespaces = append(namespaces, ns)
		}
	}
	return namespaces, nil
}

// Close disconnects the client.
func (r *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
