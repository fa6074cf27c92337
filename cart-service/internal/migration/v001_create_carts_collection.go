package migration

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type CreateCartsCollection struct{}

func (CreateCartsCollection) ID() string    { return "CART-V001_CreateCartsCollection" }
func (CreateCartsCollection) Order() string { return "001" }

func (CreateCartsCollection) Execute(ctx context.Context, db *mongo.Database) error {
	names, err := db.ListCollectionNames(ctx, bson.M{"name": CartsCollection})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	if len(names) > 0 {
		return nil
	}

	err = db.CreateCollection(ctx, CartsCollection)
	if err != nil && !hasErrorCode(err, codeNamespaceExists) {
		return fmt.Errorf("create %s collection: %w", CartsCollection, err)
	}
	return nil
}

func (CreateCartsCollection) Rollback(ctx context.Context, db *mongo.Database) error {
	if err := db.Collection(CartsCollection).Drop(ctx); err != nil {
		return fmt.Errorf("drop %s collection: %w", CartsCollection, err)
	}
	return nil
}
