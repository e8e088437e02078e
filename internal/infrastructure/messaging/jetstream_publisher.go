package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/infrastructure/config"
	"chain-risk-scorer/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// JetStreamPublisher publishes risk assessments to NATS JetStream
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config *config.NATSConfig
	logger *logger.Logger
}

// NewJetStreamPublisher creates a publisher; Connect must be called before publishing
func NewJetStreamPublisher(cfg *config.NATSConfig, logger *logger.Logger) *JetStreamPublisher {
	return &JetStreamPublisher{
		config: cfg,
		logger: logger.WithComponent("jetstream-publisher"),
	}
}

// Connect connects to NATS and ensures the result stream exists
func (p *JetStreamPublisher) Connect(ctx context.Context) error {
	if !p.config.Enabled {
		p.logger.Info("NATS is disabled, risk assessments will not be published")
		return nil
	}

	nc, err := nats.Connect(p.config.URL, connectOptions(p.config, p.logger, "chain-risk-scorer-publisher")...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p.nc = nc
	p.js = js

	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		p.nc, p.js = nil, nil
		return fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	p.logger.Info("NATS publisher initialized",
		zap.String("url", p.config.URL),
		zap.String("stream", p.config.ResultStreamName),
		zap.String("subject", p.config.ResultSubject))
	return nil
}

// ensureStream creates the result stream if it doesn't exist
func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, p.config.ResultStreamName)
	if err == nil {
		if info, err := stream.Info(ctx); err == nil {
			p.logger.Debug("JetStream stream already exists",
				zap.String("stream", p.config.ResultStreamName),
				zap.Uint64("messages", info.State.Msgs))
		}
		return nil
	}

	p.logger.Info("Creating JetStream stream", zap.String("stream", p.config.ResultStreamName))

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        p.config.ResultStreamName,
		Description: "Risk assessments of scored transaction events",
		Subjects:    []string{p.config.ResultSubject + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.ResultMaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// SubjectFor returns the subject an assessment is published on, one per risk level
func (p *JetStreamPublisher) SubjectFor(assessment *entity.RiskAssessment) string {
	level := "unknown"
	if assessment.Risk != nil && assessment.Risk.Level != "" {
		level = strings.ToLower(string(assessment.Risk.Level))
	}
	return fmt.Sprintf("%s.%s", p.config.ResultSubject, level)
}

// Publish sends an assessment. The transaction hash is the message id so redeliveries are deduplicated.
func (p *JetStreamPublisher) Publish(ctx context.Context, assessment *entity.RiskAssessment) error {
	if p.js == nil {
		p.logger.Debug("Publisher not connected, skipping",
			zap.String("trace_id", assessment.TraceID))
		return nil
	}

	subject := p.SubjectFor(assessment)
	data, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("failed to marshal risk assessment: %w", err)
	}

	var opts []jetstream.PublishOpt
	if assessment.TransactionHash != "" {
		opts = append(opts, jetstream.WithMsgID(assessment.TransactionHash))
	}
	if _, err := p.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish risk assessment: %w", err)
	}

	p.logger.Debug("Published risk assessment",
		zap.String("trace_id", assessment.TraceID),
		zap.String("subject", subject))
	return nil
}

// Close closes the connection to NATS
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.nc, p.js = nil, nil
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
