package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chain-risk-scorer/internal/domain/entity"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 20, cfg.App.RecentEventLimit)
	assert.Equal(t, "transactions.events", cfg.NATS.EventSubject())
	assert.Equal(t, "risk.assessments", cfg.NATS.ResultSubject)
	assert.Equal(t, 5*time.Second, cfg.NATS.FetchMaxWait)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.True(t, cfg.Neo4J.Enabled)
	require.NoError(t, cfg.Validate())

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, entity.DefaultRiskRules(), rules)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("RISK_THRESHOLDS_ASSOCIATION_RISK_NEIGHBOR_RATIO", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rules.Thresholds.Association.RiskNeighborRatio, 1e-9)
}

func TestLoadFrom_File(t *testing.T) {
	path := writeConfig(t, `
app:
  worker_pool_size: 4
risk:
  thresholds:
    large_transfer:
      "10": "500"
    frequent_transfer:
      window: 30m
  mev_method_signatures:
    - flashLoan
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.App.WorkerPoolSize)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, "500", rules.Thresholds.LargeTransfer[10])
	assert.Equal(t, "100", rules.Thresholds.LargeTransfer[1])
	assert.Equal(t, 30*time.Minute, rules.Thresholds.FrequentTransfer.Window)
	assert.Equal(t, []string{"flashLoan"}, rules.MEVMethodSignatures)
	assert.Len(t, rules.KnownMEVBots, 3)
}

func TestLoadFrom_UnbalancedWeights(t *testing.T) {
	path := writeConfig(t, `
risk:
  weights:
    FLOW:
      factors:
        LARGE_TRANSFER: 0.9
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrInvalidRules)

	_, err = cfg.Rules()
	assert.ErrorIs(t, err, entity.ErrInvalidRules)
}

func TestLoadFrom_MissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRiskConfig_ToRulesRejectsBadChainID(t *testing.T) {
	rc := RiskConfig{}
	rc.Thresholds.LargeTransfer = map[string]string{"mainnet": "100"}

	_, err := rc.ToRules()
	assert.ErrorIs(t, err, entity.ErrInvalidRules)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no workers", func(c *Config) { c.App.WorkerPoolSize = 0 }},
		{"no batch", func(c *Config) { c.App.BatchSize = -1 }},
		{"no history", func(c *Config) { c.App.RecentEventLimit = 0 }},
		{"no result subject", func(c *Config) { c.NATS.ResultSubject = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)

			assert.Error(t, cfg.Validate())
		})
	}
}
