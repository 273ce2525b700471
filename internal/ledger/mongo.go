package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/models"
)

const collectionName = "ledger"

// MongoStore persists ledger entries in MongoDB keyed by order id. The
// conditional writes rely on single-document atomicity, so no transactions
// are needed.
type MongoStore struct {
	collection *mongo.Collection
	timeout    time.Duration
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection(collectionName),
		timeout:    5 * time.Second,
	}
}

// EnsureIndexes creates the secondary indexes used for reconciliation
// queries. It is safe to call on every start.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "provider_reference", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create ledger indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, orderID string) (*models.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var entry models.LedgerEntry
	if err := s.collection.FindOne(ctx, bson.M{"_id": orderID}).Decode(&entry); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch ledger entry %s: %w", orderID, err)
	}
	return &entry, nil
}

func (s *MongoStore) Put(ctx context.Context, entry models.LedgerEntry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastUpdatedAt.IsZero() {
		entry.LastUpdatedAt = entry.CreatedAt
	}

	// A terminal entry does not match the filter, so the upsert attempts an
	// insert with the same _id and fails with a duplicate key error.
	filter := bson.M{
		"_id":    entry.OrderID,
		"status": bson.M{"$nin": bson.A{models.StatusCompleted, models.StatusFailed}},
	}
	_, err := s.collection.ReplaceOne(ctx, filter, entry, options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrLedgerConflict
		}
		return fmt.Errorf("failed to save ledger entry %s: %w", entry.OrderID, err)
	}
	return nil
}

func (s *MongoStore) CompareAndSwap(ctx context.Context, orderID string, expected models.PaymentStatus, next models.LedgerEntry) (bool, error) {
	if err := checkTransition(expected, next); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	set := bson.M{
		"provider":           next.Provider,
		"amount":             next.Amount,
		"phone_number":       next.PhoneNumber,
		"status":             next.Status,
		"provider_reference": next.ProviderReference,
		"last_updated_at":    time.Now().UTC(),
	}
	if next.NotifiedAt != nil {
		set["notified_at"] = *next.NotifiedAt
	}

	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": orderID, "status": expected}, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("failed to update ledger entry %s: %w", orderID, err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	if _, err := s.Get(ctx, orderID); err != nil {
		return false, err
	}
	return false, nil
}
