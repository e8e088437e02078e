package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/domain/repository"
	"chain-risk-scorer/internal/infrastructure/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4JEventRepository implements EventRepository on the address graph.
// Events are stored as (:Address)-[:SENT]->(:Event)-[:TO]->(:Address).
type Neo4JEventRepository struct {
	client *Neo4JClient
	logger *logger.Logger
}

// NewNeo4JEventRepository creates a new Neo4J event repository
func NewNeo4JEventRepository(client *Neo4JClient, logger *logger.Logger) repository.EventRepository {
	return &Neo4JEventRepository{
		client: client,
		logger: logger.WithComponent("neo4j-event-repo"),
	}
}

// SaveEvent stores an event and links its sender and recipient
func (r *Neo4JEventRepository) SaveEvent(ctx context.Context, event *entity.TransactionEvent) error {
	session := r.client.NewSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		MERGE (e:Event {tx_hash: $tx_hash})
		ON CREATE SET
			e.trace_id = $trace_id,
			e.chain_id = $chain_id,
			e.block_number = $block_number,
			e.from_address = $from,
			e.to_address = $to,
			e.value = $value,
			e.timestamp = $timestamp,
			e.type = $type,
			e.method_name = $method_name,
			e.metadata = $metadata
		MERGE (f:Address {address: $from})
		MERGE (f)-[:SENT]->(e)
		FOREACH (ignored IN CASE WHEN $to = '' THEN [] ELSE [1] END |
			MERGE (t:Address {address: $to})
			MERGE (e)-[:TO]->(t)
		)
	`

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode event metadata: %w", err)
	}

	params := map[string]any{
		"tx_hash":      event.TransactionHash,
		"trace_id":     event.TraceID,
		"chain_id":     event.ChainID,
		"block_number": event.BlockNumber,
		"from":         strings.ToLower(event.From),
		"to":           strings.ToLower(event.To),
		"value":        event.Value,
		"timestamp":    event.Timestamp,
		"type":         string(event.Type),
		"method_name":  event.MethodName,
		"metadata":     string(metadataJSON),
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	r.logger.Debug("Saved event",
		zap.String("trace_id", event.TraceID),
		zap.String("hash", event.TransactionHash))
	return nil
}

// LookupRecentEvents returns the latest events sent by address, newest first
func (r *Neo4JEventRepository) LookupRecentEvents(ctx context.Context, address string, limit int) ([]*entity.TransactionEvent, error) {
	session := r.client.NewSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (:Address {address: $address})-[:SENT]->(e:Event)
		RETURN e.trace_id as traceId,
			   e.chain_id as chainId,
			   e.block_number as blockNumber,
			   e.tx_hash as txHash,
			   e.from_address as fromAddress,
			   e.to_address as toAddress,
			   e.value as value,
			   e.timestamp as timestamp,
			   e.type as type,
			   e.method_name as methodName,
			   e.metadata as metadata
		ORDER BY e.timestamp DESC
		LIMIT $limit
	`

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"address": strings.ToLower(address),
			"limit":   int64(limit),
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lookup recent events: %w", err)
	}

	records := result.([]*neo4j.Record)
	events := make([]*entity.TransactionEvent, 0, len(records))
	for _, record := range records {
		events = append(events, r.mapRecordToEvent(record))
	}
	return events, nil
}

func (r *Neo4JEventRepository) mapRecordToEvent(record *neo4j.Record) *entity.TransactionEvent {
	row := readRecord(record)
	event := &entity.TransactionEvent{
		TraceID:         row.str("traceId"),
		ChainID:         row.int("chainId"),
		BlockNumber:     row.int("blockNumber"),
		TransactionHash: row.str("txHash"),
		From:            row.str("fromAddress"),
		To:              row.str("toAddress"),
		Value:           row.str("value"),
		Timestamp:       row.int("timestamp"),
		Type:            entity.EventType(row.str("type")),
		MethodName:      row.str("methodName"),
	}

	if raw := row.str("metadata"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &event.Metadata); err != nil {
			r.logger.Warn("Failed to decode event metadata",
				zap.String("hash", event.TransactionHash),
				zap.Error(err))
		}
	}
	return event
}
