package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nudge/internal/constants"
)

// CallbackAudit is the verbatim log of one provider callback, written before
// any processing happens. It is the trail used to diagnose provider
// integration issues, so the raw body is stored untouched.
type CallbackAudit struct {
	ID         string                 `json:"id" bson:"_id,omitempty"`
	Event      string                 `json:"event" bson:"event"`
	ProviderID string                 `json:"provider_message_id" bson:"provider_message_id"`
	RawBody    string                 `json:"raw_body" bson:"raw_body"`
	Headers    map[string]string      `json:"headers,omitempty" bson:"headers,omitempty"`
	SourceIP   string                 `json:"source_ip" bson:"source_ip"`
	UserAgent  string                 `json:"user_agent" bson:"user_agent"`
	Extra      map[string]interface{} `json:"extra,omitempty" bson:"extra,omitempty"`
	ReceivedAt time.Time              `json:"received_at" bson:"received_at"`
}

type AuditRepository interface {
	Log(ctx context.Context, audit *CallbackAudit) error
	ListByProviderID(ctx context.Context, providerID string, limit int) ([]CallbackAudit, error)
}

type mongoAuditRepository struct {
	collection *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) AuditRepository {
	return &mongoAuditRepository{
		collection: db.Collection(constants.CallbackAuditCollection),
	}
}

func (r *mongoAuditRepository) Log(ctx context.Context, audit *CallbackAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.New().String()
	}
	if audit.ReceivedAt.IsZero() {
		audit.ReceivedAt = time.Now()
	}

	if _, err := r.collection.InsertOne(ctx, audit); err != nil {
		return fmt.Errorf("failed to log callback audit: %w", err)
	}
	return nil
}

func (r *mongoAuditRepository) ListByProviderID(ctx context.Context, providerID string, limit int) ([]CallbackAudit, error) {
	if limit <= 0 {
		limit = constants.DefaultLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "received_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"provider_message_id": providerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list callback audits: %w", err)
	}
	defer cursor.Close(ctx)

	var audits []CallbackAudit
	if err := cursor.All(ctx, &audits); err != nil {
		return nil, fmt.Errorf("failed to decode callback audits: %w", err)
	}

	return audits, nil
}
