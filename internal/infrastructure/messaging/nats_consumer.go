package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/infrastructure/config"
	"chain-risk-scorer/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConsumer receives transaction events from NATS, preferring a JetStream pull consumer
type NATSConsumer struct {
	conn      *nats.Conn
	js        nats.JetStreamContext
	sub       *nats.Subscription
	config    *config.NATSConfig
	logger    *logger.Logger
	msgChan   chan *entity.TransactionEvent
	isRunning atomic.Bool
	done      chan struct{}

	// chanMu orders sends from subscription callbacks against close(msgChan)
	chanMu     sync.RWMutex
	chanClosed bool
}

// NewNATSConsumer creates a new NATS consumer
func NewNATSConsumer(cfg *config.NATSConfig, logger *logger.Logger) *NATSConsumer {
	return &NATSConsumer{
		config:  cfg,
		logger:  logger.WithComponent("nats-consumer"),
		msgChan: make(chan *entity.TransactionEvent, cfg.MaxPendingMessages),
		done:    make(chan struct{}),
	}
}

// Connect connects to NATS server and sets up consumer
func (n *NATSConsumer) Connect(ctx context.Context) error {
	if !n.config.Enabled {
		n.logger.Info("NATS is disabled, skipping connection")
		return nil
	}

	n.logger.Info("Connecting to NATS server", zap.String("url", n.config.URL))

	conn, err := nats.Connect(n.config.URL, connectOptions(n.config, n.logger, "chain-risk-scorer-consumer")...)
	if err != nil {
		n.logger.Error("Failed to connect to NATS", zap.Error(err))
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n.conn = conn

	// Try JetStream first, if not available fall back to core NATS
	js, err := conn.JetStream()
	if err != nil {
		n.logger.Warn("JetStream not available, using core NATS", zap.Error(err))
		return n.setupCoreNATSSubscription()
	}

	n.js = js
	return n.setupJetStreamSubscription()
}

// connectOptions are shared by the consumer and the publisher connections
func connectOptions(cfg *config.NATSConfig, log *logger.Logger, name string) []nats.Option {
	return []nats.Option{
		nats.Name(name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectDelay),
		nats.MaxReconnects(cfg.ReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}
}

// setupJetStreamSubscription binds a durable pull consumer named after the consumer group
func (n *NATSConsumer) setupJetStreamSubscription() error {
	subject := n.config.EventSubject()
	durable := n.config.ConsumerGroup

	n.logger.Info("Setting up JetStream subscription",
		zap.String("subject", subject),
		zap.String("stream", n.config.StreamName),
		zap.String("consumer", durable))

	sub, err := n.js.PullSubscribe(subject, durable, nats.BindStream(n.config.StreamName))
	if err != nil {
		n.logger.Warn("Failed to create pull consumer, falling back to core NATS", zap.Error(err))
		return n.setupCoreNATSSubscription()
	}

	n.sub = sub
	n.isRunning.Store(true)

	go n.processJetStreamMessages()

	n.logger.Info("Successfully connected to NATS JetStream",
		zap.String("subject", subject),
		zap.String("consumer", durable))

	return nil
}

// processJetStreamMessages processes messages from JetStream pull subscription
func (n *NATSConsumer) processJetStreamMessages() {
	defer close(n.done)
	n.logger.Info("Starting JetStream message processing")

	for n.isRunning.Load() {
		msgs, err := n.sub.Fetch(n.config.FetchBatchSize, nats.MaxWait(n.config.FetchMaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				n.logger.Debug("No messages available, continuing...")
				continue
			}
			if !n.isRunning.Load() {
				break
			}
			n.logger.Error("Failed to fetch messages", zap.Error(err))
			continue
		}

		n.logger.Debug("Fetched messages from JetStream", zap.Int("count", len(msgs)))

		for _, msg := range msgs {
			n.handleMessage(msg)
		}
	}

	n.logger.Info("Stopped JetStream message processing")
}

// setupCoreNATSSubscription sets up core NATS subscription
func (n *NATSConsumer) setupCoreNATSSubscription() error {
	subject := n.config.EventSubject()
	queueGroup := n.config.ConsumerGroup

	n.logger.Info("Setting up core NATS subscription",
		zap.String("subject", subject),
		zap.String("queue_group", queueGroup))

	sub, err := n.conn.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
		n.handleMessage(msg)
	})
	if err != nil {
		n.logger.Error("Failed to subscribe to subject", zap.Error(err))
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	n.sub = sub
	n.isRunning.Store(true)
	close(n.done)

	n.logger.Info("Successfully connected to core NATS",
		zap.String("subject", subject),
		zap.String("queue_group", queueGroup))

	return nil
}

// handleMessage decodes a transaction event and hands it to the processing channel
func (n *NATSConsumer) handleMessage(msg *nats.Msg) {
	var event entity.TransactionEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		n.logger.Error("Failed to unmarshal transaction event", zap.Error(err))
		// Redelivery cannot fix a malformed payload
		if msg.Reply != "" {
			_ = msg.Term()
		}
		return
	}

	n.logger.Debug("Received transaction event",
		zap.String("trace_id", event.TraceID),
		zap.String("hash", event.TransactionHash),
		zap.String("from", event.From),
		zap.String("to", event.To))

	n.chanMu.RLock()
	defer n.chanMu.RUnlock()
	if n.chanClosed {
		n.logger.Debug("Consumer stopped, leaving message for redelivery",
			zap.String("hash", event.TransactionHash))
		if msg.Reply != "" {
			_ = msg.Nak()
		}
		return
	}

	select {
	case n.msgChan <- &event:
		if msg.Reply != "" {
			_ = msg.Ack()
		}
	default:
		n.logger.Warn("Message channel is full, dropping message",
			zap.String("trace_id", event.TraceID),
			zap.String("hash", event.TransactionHash))
		if msg.Reply != "" {
			_ = msg.Nak()
		}
	}
}

// Disconnect stops fetching, closes the connection and then the message channel
func (n *NATSConsumer) Disconnect() error {
	wasRunning := n.isRunning.Swap(false)

	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	if wasRunning {
		<-n.done
	}
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	n.sub = nil

	n.chanMu.Lock()
	if !n.chanClosed {
		n.chanClosed = true
		close(n.msgChan)
	}
	n.chanMu.Unlock()
	n.logger.Info("Disconnected from NATS")
	return nil
}

// IsConnected checks if connected to NATS
func (n *NATSConsumer) IsConnected() bool {
	return n.isRunning.Load() && n.conn != nil && n.conn.IsConnected()
}

// GetMessageChannel returns the message channel
func (n *NATSConsumer) GetMessageChannel() <-chan *entity.TransactionEvent {
	return n.msgChan
}
