package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emart/emart-cart/cart-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CartsCollection = "carts"

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrItemNotFound = errors.New("item not found in cart")

	ErrVersionConflict = errors.New("cart was modified concurrently")
)

type mongoRepository struct {
	collection *mongo.Collection
}

func (m mongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&cart)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}

// SaveCart writes the whole item list and its totals, guarded by the cart
// version. created_at is only set when the document is inserted.
func (m mongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now().UTC()

	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	if cart.SchemaVersion == 0 {
		cart.SchemaVersion = domain.SchemaVersion
	}

	filter := bson.M{"user_id": cart.UserID, "version": cart.Version}
	opts := options.Update()
	if cart.Version == 0 {
		// new cart, or one stored before versions existed
		filter["version"] = bson.M{"$in": bson.A{nil, 0}}
		opts.SetUpsert(true)
	}
	update := bson.M{
		"$set": bson.M{
			"items":          cart.Items,
			"total_items":    cart.TotalItems,
			"total_price":    cart.TotalPrice,
			"updated_at":     now,
			"synced_at":      now,
			"schema_version": cart.SchemaVersion,
			"version":        cart.Version + 1,
		},
		"$setOnInsert": bson.M{"created_at": cart.CreatedAt},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// the upsert raced another insert for the same user
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	if result.MatchedCount == 0 && result.UpsertedCount == 0 {
		return ErrVersionConflict
	}

	cart.Version++
	cart.UpdatedAt = now
	cart.SyncedAt = &now
	return nil
}

// ClearCart empties the cart but keeps the document.
func (m mongoRepository) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	now := time.Now().UTC()
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set": bson.M{
			"items":       []domain.CartItem{},
			"total_items": 0,
			"total_price": 0.0,
			"updated_at":  now,
			"synced_at":   now,
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var cart domain.Cart
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}

func (m mongoRepository) Ping(ctx context.Context) error {
	return m.collection.Database().Client().Ping(ctx, nil)
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection(CartsCollection),
	}
}
