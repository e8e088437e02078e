package database

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/infrastructure/config"
	"chain-risk-scorer/internal/infrastructure/logger"
)

// connectTestClient connects to the database named by NEO4J_TEST_URI or skips the test
func connectTestClient(t *testing.T) *Neo4JClient {
	t.Helper()
	uri := os.Getenv("NEO4J_TEST_URI")
	if uri == "" {
		t.Skip("NEO4J_TEST_URI not set")
	}

	cfg := &config.Neo4JConfig{
		URI:                          uri,
		Username:                     envOr("NEO4J_TEST_USERNAME", "neo4j"),
		Password:                     envOr("NEO4J_TEST_PASSWORD", "password"),
		Database:                     envOr("NEO4J_TEST_DATABASE", "neo4j"),
		ConnectTimeout:               10 * time.Second,
		MaxConnectionPoolSize:        5,
		ConnectionAcquisitionTimeout: 10 * time.Second,
	}
	client := NewNeo4JClient(cfg, logger.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func randomAddress() string {
	return "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func TestNeo4JEventRepository_SaveAndLookup(t *testing.T) {
	client := connectTestClient(t)
	repo := NewNeo4JEventRepository(client, logger.NewNop())
	ctx := context.Background()
	sender := randomAddress()
	recipient := randomAddress()

	for i, ts := range []int64{1_700_000_000, 1_700_000_060, 1_700_000_030} {
		require.NoError(t, repo.SaveEvent(ctx, &entity.TransactionEvent{
			TraceID:         uuid.NewString(),
			ChainID:         1,
			BlockNumber:     int64(100 + i),
			TransactionHash: "0x" + uuid.NewString(),
			From:            strings.ToUpper(sender[:4]) + sender[4:],
			To:              recipient,
			Value:           "1000000000000000000",
			Timestamp:       ts,
			Type:            entity.EventTypeContractCall,
			MethodName:      "swap",
			Metadata:        map[string]string{entity.MetadataGasPrice: "20"},
		}))
	}

	events, err := repo.LookupRecentEvents(ctx, sender, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1_700_000_060), events[0].Timestamp)
	assert.Equal(t, int64(1_700_000_030), events[1].Timestamp)
	assert.Equal(t, sender, events[0].From)
	assert.Equal(t, recipient, events[0].To)
	assert.Equal(t, entity.EventTypeContractCall, events[0].Type)
	assert.Equal(t, "20", events[0].Metadata[entity.MetadataGasPrice])

	none, err := repo.LookupRecentEvents(ctx, randomAddress(), 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNeo4JProfileRepository_Lifecycle(t *testing.T) {
	client := connectTestClient(t)
	repo := NewNeo4JProfileRepository(client, logger.NewNop())
	ctx := context.Background()
	address := randomAddress()

	profile, err := repo.LookupAddressProfile(ctx, address)
	require.NoError(t, err)
	assert.Nil(t, profile)

	later := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-48 * time.Hour)
	require.NoError(t, repo.RecordActivity(ctx, address, later))
	require.NoError(t, repo.RecordActivity(ctx, address, earlier))
	require.NoError(t, repo.UpdateRiskScore(ctx, address, 0.75, entity.RiskLevelHigh))
	require.NoError(t, repo.AddTag(ctx, address, entity.TagMixer))
	require.NoError(t, repo.AddTag(ctx, address, entity.TagMixer))

	profile, err = repo.LookupAddressProfile(ctx, address)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, address, profile.Address)
	assert.InDelta(t, 0.75, profile.RiskScore, 1e-9)
	assert.Equal(t, []string{entity.TagMixer}, profile.Tags)
	assert.Equal(t, int64(2), profile.TransactionCount)
	assert.True(t, earlier.Equal(profile.FirstSeen))
	assert.True(t, later.Equal(profile.LastSeen))
	assert.True(t, profile.IsMixer())
}
