package service

import (
	"context"

	"chain-risk-scorer/internal/domain/entity"
)

// ScoringService defines the interface for scoring ingested transaction events
type ScoringService interface {
	// ProcessEvent scores a single event, persists it and publishes the assessment
	ProcessEvent(ctx context.Context, event *entity.TransactionEvent) (*entity.RiskAssessment, error)

	// ProcessEventBatch scores multiple events concurrently
	ProcessEventBatch(ctx context.Context, events []*entity.TransactionEvent) error
}
