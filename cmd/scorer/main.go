package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app_service "chain-risk-scorer/internal/application/service"
	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/domain/repository"
	domain_service "chain-risk-scorer/internal/domain/service"
	"chain-risk-scorer/internal/infrastructure/config"
	"chain-risk-scorer/internal/infrastructure/database"
	"chain-risk-scorer/internal/infrastructure/logger"
	"chain-risk-scorer/internal/infrastructure/memory"
	"chain-risk-scorer/internal/infrastructure/messaging"
	"chain-risk-scorer/internal/infrastructure/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// flushInterval bounds how long a partial batch waits before scoring
const flushInterval = 5 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.NewLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Supply(log),
		fx.Supply(&cfg.App),
		fx.Supply(&cfg.NATS),
		fx.Supply(&cfg.Neo4J),

		// Infrastructure providers
		fx.Provide(
			func(cfg *config.Config) (entity.RiskRules, error) { return cfg.Rules() },
			func() *metrics.Metrics { return metrics.NewMetrics(nil) },
			database.NewNeo4JClient,
			provideStores,
			func(r repository.EventRepository) repository.EventLookup { return r },
			func(r repository.ProfileRepository) repository.ProfileLookup { return r },
			messaging.NewNATSConsumer,
			messaging.NewJetStreamPublisher,
			func(p *messaging.JetStreamPublisher) app_service.AssessmentPublisher { return p },
		),

		// Domain services
		fx.Provide(provideRiskScorer),

		// Application providers
		fx.Provide(app_service.NewRiskScoringAppService),

		// Lifecycle hooks
		fx.Invoke(startScorer),
		fx.Invoke(startHealthServer),
		fx.Invoke(startMetricsServer),

		fx.WithLogger(func() fxevent.Logger {
			return fxevent.NopLogger
		}),
	)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down application...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Stop(stopCtx); err != nil {
		log.Error("Failed to stop application gracefully", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
}

// provideStores selects Neo4J or the in-process store
func provideStores(
	cfg *config.Config,
	client *database.Neo4JClient,
	log *logger.Logger,
) (repository.EventRepository, repository.ProfileRepository) {
	if cfg.Neo4J.Enabled {
		return database.NewNeo4JEventRepository(client, log), database.NewNeo4JProfileRepository(client, log)
	}
	log.Warn("Neo4J is disabled, history and profiles are kept in memory")
	store := memory.NewStore()
	return store, store
}

// provideRiskScorer assembles the detectors, evaluator and aggregator
func provideRiskScorer(
	rules entity.RiskRules,
	events repository.EventLookup,
	profiles repository.ProfileLookup,
	cfg *config.AppConfig,
	log *logger.Logger,
) domain_service.RiskScorer {
	evaluator := domain_service.NewPatternRiskEvaluator(
		events,
		profiles,
		domain_service.NewMevPatternDetector(rules.KnownMEVBots, rules.MEVMethodSignatures, log),
		domain_service.NewTimeSeriesAnomalyScorer(log),
		rules,
		cfg.RecentEventLimit,
		log,
	)
	return domain_service.NewRiskAggregator(evaluator, profiles, domain_service.NewDimensionScorer(rules), log)
}

// startScorer connects the stores and brokers and starts the scoring loop
func startScorer(
	lifecycle fx.Lifecycle,
	consumer *messaging.NATSConsumer,
	publisher *messaging.JetStreamPublisher,
	scoringService domain_service.ScoringService,
	neo4jClient *database.Neo4JClient,
	cfg *config.Config,
	log *logger.Logger,
) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting risk scorer...")

			if cfg.Neo4J.Enabled {
				if err := neo4jClient.Connect(ctx); err != nil {
					return fmt.Errorf("failed to connect to Neo4J: %w", err)
				}
			}

			log.Info("NATS Configuration",
				zap.String("url", cfg.NATS.URL),
				zap.String("stream_name", cfg.NATS.StreamName),
				zap.String("subject", cfg.NATS.EventSubject()),
				zap.String("result_subject", cfg.NATS.ResultSubject),
				zap.Bool("enabled", cfg.NATS.Enabled),
			)

			if err := publisher.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect publisher: %w", err)
			}
			if err := consumer.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}

			go func() {
				defer close(done)
				processMessages(runCtx, consumer, scoringService, log, cfg)
			}()

			log.Info("Risk scorer started successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping risk scorer...")

			// Closing the consumer channel flushes the pending batch
			if err := consumer.Disconnect(); err != nil {
				log.Error("Failed to disconnect consumer", zap.Error(err))
			}
			select {
			case <-done:
			case <-ctx.Done():
			}
			cancel()

			if err := publisher.Close(); err != nil {
				log.Error("Failed to close publisher", zap.Error(err))
			}
			if cfg.Neo4J.Enabled {
				if err := neo4jClient.Close(ctx); err != nil {
					log.Error("Failed to close Neo4J connection", zap.Error(err))
				}
			}
			return nil
		},
	})
}

// startHealthServer starts the health check server
func startHealthServer(
	lifecycle fx.Lifecycle,
	cfg *config.Config,
	consumer *messaging.NATSConsumer,
	neo4jClient *database.Neo4JClient,
	logger *logger.Logger,
) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.Health.Timeout)
		defer cancel()

		natsOK := !cfg.NATS.Enabled || consumer.IsConnected()
		neo4jOK := !cfg.Neo4J.Enabled || neo4jClient.IsConnected(ctx)
		status := map[string]any{"status": "ok", "nats": natsOK, "neo4j": neo4jOK}
		code := http.StatusOK
		if !natsOK || !neo4jOK {
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serve(lifecycle, server, "health", logger)
}

// startMetricsServer exposes the Prometheus registry
func startMetricsServer(
	lifecycle fx.Lifecycle,
	cfg *config.Config,
	logger *logger.Logger,
) {
	if !cfg.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serve(lifecycle, server, "metrics", logger)
}

func serve(lifecycle fx.Lifecycle, server *http.Server, name string, logger *logger.Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("server", name), zap.String("addr", server.Addr))

			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server error", zap.String("server", name), zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server", zap.String("server", name))
			return server.Shutdown(ctx)
		},
	})
}

// processMessages groups consumed events into batches and scores them
func processMessages(
	ctx context.Context,
	consumer *messaging.NATSConsumer,
	scoringService domain_service.ScoringService,
	logger *logger.Logger,
	cfg *config.Config,
) {
	msgChan := consumer.GetMessageChannel()
	batch := make([]*entity.TransactionEvent, 0, cfg.App.BatchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		events := make([]*entity.TransactionEvent, len(batch))
		copy(events, batch)
		batch = batch[:0]

		if err := scoringService.ProcessEventBatch(ctx, events); err != nil {
			logger.Error("Failed to process event batch",
				zap.Error(err),
				zap.Int("batch_size", len(events)))
			return
		}
		logger.Debug("Processed event batch", zap.Int("batch_size", len(events)))
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case event, ok := <-msgChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= cfg.App.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}
