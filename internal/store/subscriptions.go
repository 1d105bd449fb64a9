package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lunch_order_bot/internal/workflow"
)

// subscriptionCollection captures the collection operations the repository
// needs, enabling fakes in tests.
type subscriptionCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// subscriptionDoc is the persisted shape of one chat's reminder subscription.
type subscriptionDoc struct {
	ChatID    int64     `bson:"chat_id"`
	Active    bool      `bson:"active"`
	NextDueAt time.Time `bson:"next_due_at"`
	UpdatedAt time.Time `bson:"updated_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// SubscriptionRepository persists reminder subscriptions so restarts can
// restore armed timers.
type SubscriptionRepository struct {
	coll subscriptionCollection
}

// NewSubscriptionRepository constructs a repository over the given collection.
func NewSubscriptionRepository(coll subscriptionCollection) *SubscriptionRepository {
	return &SubscriptionRepository{coll: coll}
}

// SaveSubscription upserts the chat's subscription snapshot keyed by chat id.
func (r *SubscriptionRepository) SaveSubscription(ctx context.Context, snap workflow.Snapshot) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if r == nil || r.coll == nil {
		return errors.New("subscription repository is not initialized")
	}
	if snap.ChatID == 0 {
		return errors.New("chat id is required")
	}

	now := time.Now().UTC()

	filter := bson.D{{Key: "chat_id", Value: snap.ChatID}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "active", Value: snap.Active},
			{Key: "next_due_at", Value: snap.NextDueAt.UTC()},
			{Key: "updated_at", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "chat_id", Value: snap.ChatID},
			{Key: "created_at", Value: now},
		}},
	}

	if _, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	return nil
}

// ListActive returns the snapshots of every active subscription.
func (r *SubscriptionRepository) ListActive(ctx context.Context) ([]workflow.Snapshot, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if r == nil || r.coll == nil {
		return nil, errors.New("subscription repository is not initialized")
	}

	cursor, err := r.coll.Find(ctx, bson.D{{Key: "active", Value: true}})
	if err != nil {
		return nil, fmt.Errorf("find active subscriptions: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []subscriptionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}

	snaps := make([]workflow.Snapshot, 0, len(docs))
	for _, doc := range docs {
		snaps = append(snaps, workflow.Snapshot{
			ChatID:    doc.ChatID,
			Active:    doc.Active,
			NextDueAt: doc.NextDueAt,
		})
	}

	return snaps, nil
}
