package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lunch_order_bot/internal/workflow"
)

type fakeSubscriptionCollection struct {
	updateFilter interface{}
	updateDoc    interface{}
	updateOpts   []*options.UpdateOptions
	updateErr    error

	findFilter interface{}
	findDocs   []interface{}
	findErr    error
}

func (f *fakeSubscriptionCollection) UpdateOne(_ context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.updateFilter = filter
	f.updateDoc = update
	f.updateOpts = opts
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &mongo.UpdateResult{MatchedCount: 1}, nil
}

func (f *fakeSubscriptionCollection) Find(_ context.Context, filter interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	f.findFilter = filter
	if f.findErr != nil {
		return nil, f.findErr
	}
	return mongo.NewCursorFromDocuments(f.findDocs, nil, nil)
}

func TestSaveSubscriptionUpserts(t *testing.T) {
	coll := &fakeSubscriptionCollection{}
	repo := NewSubscriptionRepository(coll)

	nextDue := time.Date(2025, time.October, 20, 7, 45, 0, 0, time.UTC)
	snap := workflow.Snapshot{ChatID: 42, Active: true, NextDueAt: nextDue}

	if err := repo.SaveSubscription(context.Background(), snap); err != nil {
		t.Fatalf("expected save to succeed, got error: %v", err)
	}

	filter, ok := coll.updateFilter.(bson.D)
	if !ok || len(filter) != 1 || filter[0].Key != "chat_id" || filter[0].Value != int64(42) {
		t.Fatalf("expected a chat_id filter, got %v", coll.updateFilter)
	}

	update, ok := coll.updateDoc.(bson.D)
	if !ok || len(update) != 2 {
		t.Fatalf("expected $set and $setOnInsert, got %v", coll.updateDoc)
	}

	set, ok := update[0].Value.(bson.D)
	if !ok || update[0].Key != "$set" {
		t.Fatalf("expected $set first, got %v", update[0])
	}
	fields := map[string]interface{}{}
	for _, elem := range set {
		fields[elem.Key] = elem.Value
	}
	if fields["active"] != true {
		t.Fatalf("expected active to be set, got %v", fields)
	}
	if got, ok := fields["next_due_at"].(time.Time); !ok || !got.Equal(nextDue) {
		t.Fatalf("expected next_due_at %v, got %v", nextDue, fields["next_due_at"])
	}

	if len(coll.updateOpts) != 1 || coll.updateOpts[0].Upsert == nil || !*coll.updateOpts[0].Upsert {
		t.Fatalf("expected upsert option to be set")
	}
}

func TestSaveSubscriptionValidatesInput(t *testing.T) {
	repo := NewSubscriptionRepository(&fakeSubscriptionCollection{})

	if err := repo.SaveSubscription(nil, workflow.Snapshot{ChatID: 1}); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if err := repo.SaveSubscription(context.Background(), workflow.Snapshot{}); err == nil {
		t.Fatalf("expected error for missing chat id")
	}

	var uninitialized *SubscriptionRepository
	if err := uninitialized.SaveSubscription(context.Background(), workflow.Snapshot{ChatID: 1}); err == nil {
		t.Fatalf("expected error for nil repository")
	}
}

func TestSaveSubscriptionPropagatesErrors(t *testing.T) {
	wantErr := errors.New("write failed")
	repo := NewSubscriptionRepository(&fakeSubscriptionCollection{updateErr: wantErr})

	err := repo.SaveSubscription(context.Background(), workflow.Snapshot{ChatID: 1})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected error to wrap write failure, got %v", err)
	}
}

func TestListActiveReturnsSnapshots(t *testing.T) {
	nextDue := time.Date(2025, time.October, 20, 7, 45, 0, 0, time.UTC)
	coll := &fakeSubscriptionCollection{
		findDocs: []interface{}{
			bson.D{
				{Key: "chat_id", Value: int64(42)},
				{Key: "active", Value: true},
				{Key: "next_due_at", Value: nextDue},
			},
			bson.D{
				{Key: "chat_id", Value: int64(43)},
				{Key: "active", Value: true},
				{Key: "next_due_at", Value: nextDue.Add(24 * time.Hour)},
			},
		},
	}
	repo := NewSubscriptionRepository(coll)

	snaps, err := repo.ListActive(context.Background())
	if err != nil {
		t.Fatalf("expected list to succeed, got error: %v", err)
	}

	filter, ok := coll.findFilter.(bson.D)
	if !ok || len(filter) != 1 || filter[0].Key != "active" || filter[0].Value != true {
		t.Fatalf("expected an active=true filter, got %v", coll.findFilter)
	}

	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].ChatID != 42 || !snaps[0].Active || !snaps[0].NextDueAt.Equal(nextDue) {
		t.Fatalf("unexpected first snapshot: %+v", snaps[0])
	}
}

func TestListActivePropagatesErrors(t *testing.T) {
	wantErr := errors.New("find failed")
	repo := NewSubscriptionRepository(&fakeSubscriptionCollection{findErr: wantErr})

	if _, err := repo.ListActive(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected error to wrap find failure, got %v", err)
	}

	if _, err := repo.ListActive(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}
