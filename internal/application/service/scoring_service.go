package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/domain/repository"
	"chain-risk-scorer/internal/domain/service"
	"chain-risk-scorer/internal/infrastructure/config"
	"chain-risk-scorer/internal/infrastructure/logger"
	"chain-risk-scorer/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidEvent is returned for events that cannot be scored
var ErrInvalidEvent = errors.New("invalid transaction event")

// AssessmentPublisher emits scored events to downstream consumers
type AssessmentPublisher interface {
	Publish(ctx context.Context, assessment *entity.RiskAssessment) error
}

// RiskScoringAppService implements ScoringService interface
type RiskScoringAppService struct {
	scorer    service.RiskScorer
	events    repository.EventRepository
	profiles  repository.ProfileRepository
	publisher AssessmentPublisher
	metrics   *metrics.Metrics
	workers   int
	logger    *logger.Logger
}

// NewRiskScoringAppService creates a new risk scoring application service
func NewRiskScoringAppService(
	scorer service.RiskScorer,
	events repository.EventRepository,
	profiles repository.ProfileRepository,
	publisher AssessmentPublisher,
	metrics *metrics.Metrics,
	cfg *config.AppConfig,
	logger *logger.Logger,
) service.ScoringService {
	workers := cfg.WorkerPoolSize
	if workers <= 0 {
		workers = 1
	}
	return &RiskScoringAppService{
		scorer:    scorer,
		events:    events,
		profiles:  profiles,
		publisher: publisher,
		metrics:   metrics,
		workers:   workers,
		logger:    logger.WithComponent("scoring-service"),
	}
}

// ProcessEvent scores a single event, persists it and publishes the assessment.
// The caller's event is not modified.
func (s *RiskScoringAppService) ProcessEvent(ctx context.Context, event *entity.TransactionEvent) (*entity.RiskAssessment, error) {
	start := time.Now()

	normalized, err := normalizeEvent(event)
	if err != nil {
		s.metrics.RecordRejected("invalid_event")
		s.logger.Error("Dropping invalid transaction event", zap.Error(err))
		return nil, err
	}

	log := s.logger.WithEvent(normalized.TraceID, normalized.TransactionHash, normalized.ChainID)

	risk := s.scorer.Score(ctx, normalized)
	s.metrics.RecordEvaluation(string(risk.Level), risk.Score, risk.Factors, risk.IsFallback(), time.Since(start).Seconds())

	s.persist(ctx, log, normalized, risk)

	assessment := entity.NewRiskAssessment(normalized, risk)

	publishStart := time.Now()
	err = s.publisher.Publish(ctx, assessment)
	s.metrics.RecordPublish(err, time.Since(publishStart).Seconds())
	if err != nil {
		log.Error("Failed to publish risk assessment",
			zap.String("hash", normalized.TransactionHash),
			zap.Error(err))
		return assessment, fmt.Errorf("failed to publish risk assessment: %w", err)
	}

	log.Info("Scored transaction event",
		zap.String("hash", normalized.TransactionHash),
		zap.Float64("score", risk.Score),
		zap.String("level", string(risk.Level)),
		zap.Strings("factors", risk.Factors),
		zap.Duration("elapsed", time.Since(start)))

	return assessment, nil
}

// ProcessEventBatch scores events concurrently, bounded by the worker pool size.
// Every event is attempted; the first error is returned.
func (s *RiskScoringAppService) ProcessEventBatch(ctx context.Context, events []*entity.TransactionEvent) error {
	s.logger.Debug("Processing event batch", zap.Int("count", len(events)))

	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, event := range events {
		event := event
		g.Go(func() error {
			_, err := s.ProcessEvent(ctx, event)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to process event batch: %w", err)
	}
	return nil
}

// persist stores the event and refreshes the involved profiles. Failures are logged and counted only.
func (s *RiskScoringAppService) persist(ctx context.Context, log *logger.Logger, event *entity.TransactionEvent, risk *entity.RiskScore) {
	if err := s.events.SaveEvent(ctx, event); err != nil {
		s.metrics.RecordStoreFailure("save_event")
		log.Warn("Failed to save transaction event", zap.Error(err))
	}

	seenAt := time.Unix(event.Timestamp, 0).UTC()
	for _, address := range []string{event.From, event.To} {
		if address == "" {
			continue
		}
		if err := s.profiles.RecordActivity(ctx, address, seenAt); err != nil {
			s.metrics.RecordStoreFailure("record_activity")
			log.Warn("Failed to record address activity", zap.String("address", address), zap.Error(err))
		}
	}

	// A fallback score says nothing about the sender
	if risk.IsFallback() {
		return
	}
	if err := s.profiles.UpdateRiskScore(ctx, event.From, risk.Score, risk.Level); err != nil {
		s.metrics.RecordStoreFailure("update_risk_score")
		log.Warn("Failed to update sender risk score", zap.Error(err))
	}
}

// normalizeEvent returns a lowercased copy of event with a trace id
func normalizeEvent(event *entity.TransactionEvent) (*entity.TransactionEvent, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}

	normalized := *event
	normalized.From = strings.ToLower(strings.TrimSpace(event.From))
	normalized.To = strings.ToLower(strings.TrimSpace(event.To))
	normalized.TransactionHash = strings.TrimSpace(event.TransactionHash)
	if event.Metadata != nil {
		normalized.Metadata = make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			normalized.Metadata[k] = v
		}
	}

	if normalized.From == "" {
		return nil, fmt.Errorf("%w: missing sender", ErrInvalidEvent)
	}
	if normalized.TransactionHash == "" {
		return nil, fmt.Errorf("%w: missing transaction hash", ErrInvalidEvent)
	}
	if normalized.TraceID == "" {
		normalized.TraceID = uuid.NewString()
	}
	return &normalized, nil
}
