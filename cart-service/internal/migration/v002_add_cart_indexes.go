package migration

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	IndexUserIDUnique = "idx_user_id_unique"
	IndexUpdatedAt    = "idx_updated_at"
	IndexSyncedAt     = "idx_synced_at"
	IndexUserUpdated  = "idx_user_updated"
)

func cartIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName(IndexUserIDUnique).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName(IndexUpdatedAt),
		},
		{
			Keys:    bson.D{{Key: "synced_at", Value: 1}},
			Options: options.Index().SetName(IndexSyncedAt).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName(IndexUserUpdated),
		},
	}
}

// AddCartIndexes creates the cart indexes one by one. An index that already
// exists under a different definition is logged and left alone.
type AddCartIndexes struct {
	Log *zap.Logger
}

func (AddCartIndexes) ID() string    { return "CART-V002_AddCartIndexes" }
func (AddCartIndexes) Order() string { return "002" }

func (m AddCartIndexes) Execute(ctx context.Context, db *mongo.Database) error {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	coll := db.Collection(CartsCollection)

	for _, idx := range cartIndexes() {
		name := *idx.Options.Name
		_, err := coll.Indexes().CreateOne(ctx, idx)
		switch {
		case err == nil:
			log.Info("index ensured", zap.String("index", name))
		case hasErrorCode(err, codeIndexOptionsConflict, codeIndexKeySpecsConflict):
			log.Warn("index exists with a different definition, keeping it",
				zap.String("index", name), zap.Error(err))
		default:
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	return nil
}

func (AddCartIndexes) Rollback(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(CartsCollection)

	var errs []error
	for _, idx := range cartIndexes() {
		name := *idx.Options.Name
		_, err := coll.Indexes().DropOne(ctx, name)
		if err != nil && !hasErrorCode(err, codeIndexNotFound, codeNamespaceNotFound) {
			errs = append(errs, fmt.Errorf("drop index %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
