package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes helper methods to retrieve collection counts for basic
// diagnostics without leaking MongoDB internals to callers.
type StatsProvider struct {
	subscriptions countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the subscriptions
// collection.
func NewStatsProvider(subscriptions countCollection) *StatsProvider {
	return &StatsProvider{subscriptions: subscriptions}
}

// CountSubscriptions returns the number of documents in the subscriptions
// collection.
func (p *StatsProvider) CountSubscriptions(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.subscriptions == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.subscriptions.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}

	return count, nil
}

// CountActive returns the number of active subscriptions.
func (p *StatsProvider) CountActive(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.subscriptions == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.subscriptions.CountDocuments(ctx, bson.D{{Key: "active", Value: true}})
	if err != nil {
		return 0, fmt.Errorf("count active subscriptions: %w", err)
	}

	return count, nil
}
