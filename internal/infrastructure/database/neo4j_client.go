package database

import (
	"context"
	"fmt"

	"chain-risk-scorer/internal/infrastructure/config"
	"chain-risk-scorer/internal/infrastructure/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4JClient handles Neo4J database operations
type Neo4JClient struct {
	driver neo4j.DriverWithContext
	config *config.Neo4JConfig
	logger *logger.Logger
}

// NewNeo4JClient creates a new Neo4J client
func NewNeo4JClient(cfg *config.Neo4JConfig, logger *logger.Logger) *Neo4JClient {
	return &Neo4JClient{
		config: cfg,
		logger: logger.WithComponent("neo4j-client"),
	}
}

// Connect connects to Neo4J database
func (n *Neo4JClient) Connect(ctx context.Context) error {
	n.logger.Info("Connecting to Neo4J database", zap.String("uri", n.config.URI))

	driver, err := neo4j.NewDriverWithContext(
		n.config.URI,
		neo4j.BasicAuth(n.config.Username, n.config.Password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = n.config.MaxConnectionPoolSize
			config.ConnectionAcquisitionTimeout = n.config.ConnectionAcquisitionTimeout
			config.SocketConnectTimeout = n.config.ConnectTimeout
		},
	)
	if err != nil {
		n.logger.Error("Failed to create Neo4J driver", zap.Error(err))
		return fmt.Errorf("failed to create Neo4J driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		n.logger.Error("Failed to verify Neo4J connectivity", zap.Error(err))
		_ = driver.Close(ctx)
		return fmt.Errorf("failed to verify Neo4J connectivity: %w", err)
	}

	n.driver = driver
	n.logger.Info("Successfully connected to Neo4J database")

	if err := n.setupSchema(ctx); err != nil {
		return fmt.Errorf("failed to setup schema: %w", err)
	}

	return nil
}

// Close closes the Neo4J connection
func (n *Neo4JClient) Close(ctx context.Context) error {
	if n.driver != nil {
		n.logger.Info("Closing Neo4J connection")
		return n.driver.Close(ctx)
	}
	return nil
}

// NewSession opens a session on the configured database
func (n *Neo4JClient) NewSession(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return n.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: n.config.Database,
		AccessMode:   mode,
	})
}

// setupSchema creates the constraints and indexes the repositories query by
func (n *Neo4JClient) setupSchema(ctx context.Context) error {
	session := n.NewSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT address_unique IF NOT EXISTS FOR (a:Address) REQUIRE a.address IS UNIQUE",
		"CREATE CONSTRAINT event_tx_hash IF NOT EXISTS FOR (e:Event) REQUIRE e.tx_hash IS UNIQUE",
		"CREATE INDEX address_risk_score IF NOT EXISTS FOR (a:Address) ON (a.risk_score)",
		"CREATE INDEX address_first_seen IF NOT EXISTS FOR (a:Address) ON (a.first_seen)",
		"CREATE INDEX event_timestamp IF NOT EXISTS FOR (e:Event) ON (e.timestamp)",
		"CREATE INDEX event_block_number IF NOT EXISTS FOR (e:Event) ON (e.block_number)",
	}

	for _, statement := range statements {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, statement, nil)
		})
		if err != nil {
			n.logger.Warn("Failed to apply schema statement", zap.String("statement", statement), zap.Error(err))
		}
	}

	n.logger.Info("Schema setup completed")
	return nil
}

// IsConnected checks if connected to Neo4J
func (n *Neo4JClient) IsConnected(ctx context.Context) bool {
	if n.driver == nil {
		return false
	}
	return n.driver.VerifyConnectivity(ctx) == nil
}
