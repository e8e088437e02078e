package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/domain/repository"
	"chain-risk-scorer/internal/infrastructure/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4JProfileRepository implements ProfileRepository on Address nodes
type Neo4JProfileRepository struct {
	client *Neo4JClient
	logger *logger.Logger
}

// NewNeo4JProfileRepository creates a new Neo4J profile repository
func NewNeo4JProfileRepository(client *Neo4JClient, logger *logger.Logger) repository.ProfileRepository {
	return &Neo4JProfileRepository{
		client: client,
		logger: logger.WithComponent("neo4j-profile-repo"),
	}
}

// LookupAddressProfile returns the profile for address, or nil when no node exists
func (r *Neo4JProfileRepository) LookupAddressProfile(ctx context.Context, address string) (*entity.AddressProfile, error) {
	session := r.client.NewSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (a:Address {address: $address})
		RETURN a.address as address,
			   a.risk_score as riskScore,
			   a.tags as tags,
			   a.first_seen as firstSeen,
			   a.last_seen as lastSeen,
			   a.transaction_count as transactionCount
	`

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"address": strings.ToLower(address)})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lookup address profile: %w", err)
	}

	records := result.([]*neo4j.Record)
	if len(records) == 0 {
		return nil, nil
	}

	row := readRecord(records[0])
	return &entity.AddressProfile{
		Address:          row.str("address"),
		RiskScore:        row.score("riskScore"),
		Tags:             row.tags("tags"),
		FirstSeen:        row.seen("firstSeen"),
		LastSeen:         row.seen("lastSeen"),
		TransactionCount: row.int("transactionCount"),
	}, nil
}

// RecordActivity creates the address node if needed and widens its seen range
func (r *Neo4JProfileRepository) RecordActivity(ctx context.Context, address string, seenAt time.Time) error {
	query := `
		MERGE (a:Address {address: $address})
		ON CREATE SET
			a.first_seen = $seen_at,
			a.last_seen = $seen_at,
			a.transaction_count = 1,
			a.risk_score = 0.0,
			a.tags = []
		ON MATCH SET
			a.first_seen = CASE WHEN a.first_seen IS NULL OR $seen_at < a.first_seen THEN $seen_at ELSE a.first_seen END,
			a.last_seen = CASE WHEN a.last_seen IS NULL OR $seen_at > a.last_seen THEN $seen_at ELSE a.last_seen END,
			a.transaction_count = coalesce(a.transaction_count, 0) + 1
	`

	return r.write(ctx, "record address activity", query, map[string]any{
		"address": strings.ToLower(address),
		"seen_at": seenAt.UTC(),
	})
}

// UpdateRiskScore stores the latest score and level on the address
func (r *Neo4JProfileRepository) UpdateRiskScore(ctx context.Context, address string, score float64, level entity.RiskLevel) error {
	query := `
		MERGE (a:Address {address: $address})
		ON CREATE SET a.tags = [], a.transaction_count = 0
		SET a.risk_score = $score,
			a.risk_level = $level,
			a.risk_updated_at = datetime()
	`

	return r.write(ctx, "update risk score", query, map[string]any{
		"address": strings.ToLower(address),
		"score":   score,
		"level":   string(level),
	})
}

// AddTag attaches tag to the address once
func (r *Neo4JProfileRepository) AddTag(ctx context.Context, address, tag string) error {
	query := `
		MERGE (a:Address {address: $address})
		ON CREATE SET a.risk_score = 0.0, a.transaction_count = 0
		SET a.tags = CASE
			WHEN $tag IN coalesce(a.tags, []) THEN a.tags
			ELSE coalesce(a.tags, []) + $tag
		END
	`

	return r.write(ctx, "add address tag", query, map[string]any{
		"address": strings.ToLower(address),
		"tag":     tag,
	})
}

func (r *Neo4JProfileRepository) write(ctx context.Context, action, query string, params map[string]any) error {
	session := r.client.NewSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	return nil
}
