// Package docstore is the document database layer. It holds the
// persisted conversations plus the demo call-center data the built-in
// agent tools query: customers, purchases and products.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultConnectTimeout = 10 * time.Second

var (
	// ErrInvalidOptions marks a rejected configuration.
	ErrInvalidOptions = errors.New("invalid docstore options")

	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("document not found")
)

// Options configures the store connection.
type Options struct {
	// Endpoint is the mongodb:// connection string.
	Endpoint string
	Database string

	ConversationsCollection string
	CustomersCollection     string
	PurchasesCollection     string
	ProductsCollection      string

	ConnectTimeout time.Duration
}

// Validate checks required fields and fills collection defaults.
func (o *Options) Validate() error {
	if o.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidOptions)
	}
	if o.Database == "" {
		return fmt.Errorf("%w: database is required", ErrInvalidOptions)
	}
	if o.ConversationsCollection == "" {
		o.ConversationsCollection = "ai_conversations"
	}
	if o.CustomersCollection == "" {
		o.CustomersCollection = "customers"
	}
	if o.PurchasesCollection == "" {
		o.PurchasesCollection = "purchases"
	}
	if o.ProductsCollection == "" {
		o.ProductsCollection = "products"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	return nil
}

// Store is a connected document store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	opts   Options
}

// Connect dials the store and verifies the connection with a ping.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(opts.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("document store ping failed: %w", err)
	}

	return &Store{
		client: client,
		db:     client.Database(opts.Database),
		opts:   opts,
	}, nil
}

// Close releases the underlying connections.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// CreateConversation inserts a finished conversation document.
// Documents are only ever created, never updated.
func (s *Store) CreateConversation(ctx context.Context, doc any) error {
	_, err := s.db.Collection(s.opts.ConversationsCollection).InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetCustomer fetches one customer record by its business id.
func (s *Store) GetCustomer(ctx context.Context, customerID string) (map[string]any, error) {
	var result bson.M
	err := s.db.Collection(s.opts.CustomersCollection).
		FindOne(ctx, customerFilter(customerID), options.FindOne().SetProjection(withoutObjectID())).
		Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: customer %s", ErrNotFound, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch customer %s: %w", customerID, err)
	}
	return result, nil
}

// UpdateCustomer applies a partial update to a customer record.
func (s *Store) UpdateCustomer(ctx context.Context, customerID string, fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: no fields to update", ErrInvalidOptions)
	}
	result, err := s.db.Collection(s.opts.CustomersCollection).
		UpdateOne(ctx, customerFilter(customerID), bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update customer %s: %w", customerID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: customer %s", ErrNotFound, customerID)
	}
	return nil
}

// PurchaseHistory lists a customer's purchases, most recent first.
func (s *Store) PurchaseHistory(ctx context.Context, customerID string, limit int64) ([]map[string]any, error) {
	findOpts := options.Find().
		SetProjection(withoutObjectID()).
		SetSort(bson.D{{Key: "purchase_date", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(limit)
	}

	cursor, err := s.db.Collection(s.opts.PurchasesCollection).
		Find(ctx, bson.M{"customer_id": customerID}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases for %s: %w", customerID, err)
	}
	return drain(ctx, cursor)
}

// SearchProducts matches the query against product name, category and
// description, case-insensitively.
func (s *Store) SearchProducts(ctx context.Context, query string, limit int64) ([]map[string]any, error) {
	findOpts := options.Find().SetProjection(withoutObjectID())
	if limit > 0 {
		findOpts.SetLimit(limit)
	}

	cursor, err := s.db.Collection(s.opts.ProductsCollection).
		Find(ctx, productFilter(query), findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	return drain(ctx, cursor)
}

func drain(ctx context.Context, cursor *mongo.Cursor) ([]map[string]any, error) {
	defer cursor.Close(ctx)
	var results []map[string]any
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return results, nil
}

func customerFilter(customerID string) bson.M {
	return bson.M{"id": customerID}
}

func productFilter(query string) bson.M {
	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
	return bson.M{"$or": bson.A{
		bson.M{"name": pattern},
		bson.M{"category": pattern},
		bson.M{"description": pattern},
	}}
}

func withoutObjectID() bson.M {
	return bson.M{"_id": 0}
}
