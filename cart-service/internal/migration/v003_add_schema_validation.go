package migration

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AddSchemaValidation struct{}

func (AddSchemaValidation) ID() string    { return "CART-V003_AddSchemaValidation" }
func (AddSchemaValidation) Order() string { return "003" }

func cartSchema() bson.M {
	return bson.M{
		"bsonType": "object",
		"required": bson.A{"user_id", "items", "total_items", "total_price"},
		"properties": bson.M{
			"user_id": bson.M{"bsonType": "string"},
			"items": bson.M{
				"bsonType": "array",
				"items": bson.M{
					"bsonType": "object",
					"required": bson.A{"item_id", "product_id", "product_name", "category", "price", "quantity"},
					"properties": bson.M{
						"item_id":      bson.M{"bsonType": "string"},
						"product_id":   bson.M{"bsonType": "string"},
						"product_name": bson.M{"bsonType": "string"},
						"category": bson.M{
							"bsonType": "string",
							"enum":     bson.A{"books", "courses", "software"},
						},
						"price":    bson.M{"bsonType": "double", "minimum": 0},
						"quantity": bson.M{"bsonType": "int", "minimum": 1, "maximum": 100},
					},
				},
			},
			"total_items":    bson.M{"bsonType": "int", "minimum": 0},
			"total_price":    bson.M{"bsonType": "double", "minimum": 0},
			"schema_version": bson.M{"bsonType": "int", "minimum": 1},
			"version":        bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
		},
	}
}

// Execute attaches the validator. Moderate level leaves documents that were
// already invalid alone until they are next updated.
func (AddSchemaValidation) Execute(ctx context.Context, db *mongo.Database) error {
	cmd := bson.D{
		{Key: "collMod", Value: CartsCollection},
		{Key: "validator", Value: bson.M{"$jsonSchema": cartSchema()}},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	if err := db.RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("attach validator to %s: %w", CartsCollection, err)
	}
	return nil
}

func (AddSchemaValidation) Rollback(ctx context.Context, db *mongo.Database) error {
	cmd := bson.D{
		{Key: "collMod", Value: CartsCollection},
		{Key: "validator", Value: bson.M{}},
		{Key: "validationLevel", Value: "off"},
	}
	err := db.RunCommand(ctx, cmd).Err()
	if err != nil && !hasErrorCode(err, codeNamespaceNotFound) {
		return fmt.Errorf("remove validator from %s: %w", CartsCollection, err)
	}
	return nil
}
