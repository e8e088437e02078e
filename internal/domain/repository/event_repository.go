package repository

import (
	"context"

	"chain-risk-scorer/internal/domain/entity"
)

// EventLookup is the read-only view of stored transaction events used during scoring
type EventLookup interface {
	// LookupRecentEvents returns up to limit recent events sent by address, in no guaranteed order
	LookupRecentEvents(ctx context.Context, address string, limit int) ([]*entity.TransactionEvent, error)
}

// EventRepository defines the interface for transaction event persistence
type EventRepository interface {
	EventLookup

	// SaveEvent stores an event, linking its sender and recipient addresses
	SaveEvent(ctx context.Context, event *entity.TransactionEvent) error
}
