package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dmaguirre/mercadoscan/config"
	"github.com/dmaguirre/mercadoscan/models"
)

// MongoStore keeps snapshots in a MongoDB collection, one document per
// (search_term, listing_id, date_str) key.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to MongoDB and ensures the unique snapshot-key
// index exists.
func NewMongoStore(ctx context.Context, cfg *config.Config) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "search_term", Value: 1},
			{Key: "listing_id", Value: 1},
			{Key: "date_str", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ensure snapshot index: %w", err)
	}

	return &MongoStore{client: client, coll: coll}, nil
}

// Upsert replaces the same-day snapshot of the listing or inserts a new
// document. ReplaceOne with upsert is atomic per document.
func (m *MongoStore) Upsert(ctx context.Context, record *models.ListingRecord) error {
	filter := bson.M{
		"search_term": record.SearchTerm,
		"listing_id":  record.ListingID,
		"date_str":    record.SnapshotDate,
	}
	_, err := m.coll.ReplaceOne(ctx, filter, record, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert snapshot %s/%s/%s: %w", record.SearchTerm, record.ListingID, record.SnapshotDate, err)
	}
	return nil
}

// FindLatestBefore returns the newest snapshot strictly before date.
func (m *MongoStore) FindLatestBefore(ctx context.Context, term, listingID, date string) (*models.ListingRecord, error) {
	filter := bson.M{
		"search_term": term,
		"listing_id":  listingID,
		"date_str":    bson.M{"$lt": date},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "date_str", Value: -1}})

	var record models.ListingRecord
	err := m.coll.FindOne(ctx, filter, opts).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest before %s: %w", date, err)
	}
	return &record, nil
}

// FindAll returns the snapshots matching the filter, oldest day first.
func (m *MongoStore) FindAll(ctx context.Context, filter Filter) ([]*models.ListingRecord, error) {
	query := bson.M{}
	if filter.SearchTerm != "" {
		query["search_term"] = filter.SearchTerm
	}
	if filter.ListingID != "" {
		query["listing_id"] = filter.ListingID
	}
	if filter.Date != "" {
		query["date_str"] = filter.Date
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "date_str", Value: 1},
		{Key: "listing_id", Value: 1},
	})
	cursor, err := m.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find snapshots: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*models.ListingRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}
	return records, nil
}

// DistinctSearchTerms lists every stored search term, sorted.
func (m *MongoStore) DistinctSearchTerms(ctx context.Context) ([]string, error) {
	values, err := m.coll.Distinct(ctx, "search_term", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("distinct search terms: %w", err)
	}
	terms := make([]string, 0, len(values))
	for _, v := range values {
		if term, ok := v.(string); ok && term != "" {
			terms = append(terms, term)
		}
	}
	sort.Strings(terms)
	return terms, nil
}

// Reset removes every snapshot from the collection.
func (m *MongoStore) Reset(ctx context.Context) error {
	if _, err := m.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("reset snapshots: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
