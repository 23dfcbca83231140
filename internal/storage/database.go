package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is the Store backed by a MongoDB database, one collection
// per named document family.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewMongoStore connects to uri and selects database.
func NewMongoStore(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &MongoStore{
		client:   client,
		database: client.Database(database),
		logger:   logger.With("component", "mongo_store"),
	}, nil
}

func (s *MongoStore) Add(ctx context.Context, collection string, doc map[string]any) (string, error) {
	id, _ := doc["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	out := cloneDoc(doc)
	out["id"] = id

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.database.Collection(collection).InsertOne(opCtx, out)
	if err != nil {
		return "", fmt.Errorf("mongodb insert into %s: %w", collection, err)
	}
	return id, nil
}

func (s *MongoStore) ReadOne(ctx context.Context, collection, id string) (map[string]any, error) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var doc bson.M
	err := s.database.Collection(collection).FindOne(opCtx, bson.M{"id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find %s/%s: %w", collection, id, err)
	}
	return map[string]any(doc), nil
}

func (s *MongoStore) Read(ctx context.Context, collection string, filter Filter, sortField string, desc bool) ([]map[string]any, error) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := bson.M{}
	for k, v := range filter {
		query[k] = v
	}

	opts := options.Find()
	if sortField != "" {
		dir := 1
		if desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: sortField, Value: dir}})
	}

	cursor, err := s.database.Collection(collection).Find(opCtx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find %s: %w", collection, err)
	}
	defer cursor.Close(opCtx)

	var docs []map[string]any
	for cursor.Next(opCtx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongodb decode %s: %w", collection, err)
		}
		docs = append(docs, map[string]any(doc))
	}
	return docs, cursor.Err()
}

func (s *MongoStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	set := bson.M{}
	for k, v := range patch {
		set[k] = v
	}

	res, err := s.database.Collection(collection).UpdateOne(opCtx, bson.M{"id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("mongodb update %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := s.database.Collection(collection).DeleteOne(opCtx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("mongodb delete %s/%s: %w", collection, id, err)
	}
	if res.DeletedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *MongoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
