package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nudge/internal/constants"
)

// EnsureMongoCollection prepares the callback audit collection. The collection
// itself is created lazily on first insert; only the indexes are required up
// front so webhook lookups stay cheap.
func EnsureMongoCollection(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(constants.CallbackAuditCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider_message_id", Value: 1}, {Key: "received_at", Value: -1}},
			Options: options.Index().SetName("idx_callback_audit_provider_message_received"),
		},
		{
			Keys:    bson.D{{Key: "received_at", Value: -1}},
			Options: options.Index().SetName("idx_callback_audit_received_at"),
		},
		{
			Keys:    bson.D{{Key: "event", Value: 1}},
			Options: options.Index().SetName("idx_callback_audit_event"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
