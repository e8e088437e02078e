package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chain-risk-scorer/internal/domain/entity"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Neo4J   Neo4JConfig   `mapstructure:"neo4j"`
	Health  HealthConfig  `mapstructure:"health"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Risk    RiskConfig    `mapstructure:"risk"`
}

// AppConfig represents application-specific configuration
type AppConfig struct {
	Env              string `mapstructure:"env"`
	LogLevel         string `mapstructure:"log_level"`
	HTTPPort         int    `mapstructure:"http_port"`
	WorkerPoolSize   int    `mapstructure:"worker_pool_size"`
	BatchSize        int    `mapstructure:"batch_size"`
	RecentEventLimit int    `mapstructure:"recent_event_limit"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL                string        `mapstructure:"url"`
	StreamName         string        `mapstructure:"stream_name"`
	SubjectPrefix      string        `mapstructure:"subject_prefix"`
	ConsumerGroup      string        `mapstructure:"consumer_group"`
	ResultStreamName   string        `mapstructure:"result_stream_name"`
	ResultSubject      string        `mapstructure:"result_subject"`
	ResultMaxAge       time.Duration `mapstructure:"result_max_age"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ReconnectAttempts  int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay"`
	FetchBatchSize     int           `mapstructure:"fetch_batch_size"`
	FetchMaxWait       time.Duration `mapstructure:"fetch_max_wait"`
	MaxPendingMessages int           `mapstructure:"max_pending_messages"`
	Enabled            bool          `mapstructure:"enabled"`
}

// EventSubject is the subject transaction events are consumed from
func (c NATSConfig) EventSubject() string {
	return fmt.Sprintf("%s.events", c.SubjectPrefix)
}

// Neo4JConfig represents Neo4J configuration
type Neo4JConfig struct {
	URI                          string        `mapstructure:"uri"`
	Username                     string        `mapstructure:"username"`
	Password                     string        `mapstructure:"password"`
	Database                     string        `mapstructure:"database"`
	ConnectTimeout               time.Duration `mapstructure:"connect_timeout"`
	MaxConnectionPoolSize        int           `mapstructure:"max_connection_pool_size"`
	ConnectionAcquisitionTimeout time.Duration `mapstructure:"connection_acquisition_timeout"`
	Enabled                      bool          `mapstructure:"enabled"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// RiskConfig is the rule table as it appears in configuration.
// Keys are case-insensitive; viper lowercases them.
type RiskConfig struct {
	Weights             map[string]DimensionWeightConfig `mapstructure:"weights"`
	Thresholds          RiskThresholdsConfig             `mapstructure:"thresholds"`
	KnownMEVBots        []string                         `mapstructure:"known_mev_bots"`
	MEVMethodSignatures []string                         `mapstructure:"mev_method_signatures"`
}

// DimensionWeightConfig is one row of the weight table
type DimensionWeightConfig struct {
	Weight  float64            `mapstructure:"weight"`
	Factors map[string]float64 `mapstructure:"factors"`
}

// RiskThresholdsConfig holds the scoring thresholds
type RiskThresholdsConfig struct {
	// LargeTransfer maps a chain id to a whole-coin amount
	LargeTransfer    map[string]string `mapstructure:"large_transfer"`
	FrequentTransfer struct {
		TxCount            int           `mapstructure:"tx_count"`
		UniqueAddressCount int           `mapstructure:"unique_address_count"`
		Window             time.Duration `mapstructure:"window"`
	} `mapstructure:"frequent_transfer"`
	BatchOperation struct {
		MinOperations int           `mapstructure:"min_operations"`
		TimeWindow    time.Duration `mapstructure:"time_window"`
	} `mapstructure:"batch_operation"`
	Association struct {
		RiskNeighborRatio float64 `mapstructure:"risk_neighbor_ratio"`
	} `mapstructure:"association"`
}

// ToRules converts the configured rule table into its domain form
func (r RiskConfig) ToRules() (entity.RiskRules, error) {
	rules := entity.RiskRules{
		Weights: make(map[entity.Dimension]entity.DimensionWeight, len(r.Weights)),
		Thresholds: entity.RiskThresholds{
			LargeTransfer: make(map[int64]string, len(r.Thresholds.LargeTransfer)),
			FrequentTransfer: entity.FrequentTransferThreshold{
				TxCount:            r.Thresholds.FrequentTransfer.TxCount,
				UniqueAddressCount: r.Thresholds.FrequentTransfer.UniqueAddressCount,
				Window:             r.Thresholds.FrequentTransfer.Window,
			},
			BatchOperation: entity.BatchOperationThreshold{
				MinOperations: r.Thresholds.BatchOperation.MinOperations,
				TimeWindow:    r.Thresholds.BatchOperation.TimeWindow,
			},
			Association: entity.AssociationThreshold{
				RiskNeighborRatio: r.Thresholds.Association.RiskNeighborRatio,
			},
		},
		KnownMEVBots:        append([]string(nil), r.KnownMEVBots...),
		MEVMethodSignatures: append([]string(nil), r.MEVMethodSignatures...),
	}

	for name, w := range r.Weights {
		factors := make(map[string]float64, len(w.Factors))
		for factor, fw := range w.Factors {
			factors[strings.ToUpper(factor)] = fw
		}
		rules.Weights[entity.Dimension(strings.ToUpper(name))] = entity.DimensionWeight{
			Weight:  w.Weight,
			Factors: factors,
		}
	}

	for chain, amount := range r.Thresholds.LargeTransfer {
		chainID, err := strconv.ParseInt(chain, 10, 64)
		if err != nil {
			return entity.RiskRules{}, fmt.Errorf("%w: chain id %q in large_transfer", entity.ErrInvalidRules, chain)
		}
		rules.Thresholds.LargeTransfer[chainID] = amount
	}

	return rules, nil
}

// Load loads configuration from environment variables and files
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from an explicit file, or from the default search paths when path is empty
func LoadFrom(path string) (*Config, error) {
	// A missing .env file is fine
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/chain-risk-scorer")
	}

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &config, nil
}

// Validate checks the settings the scorer cannot run without
func (c *Config) Validate() error {
	if c.App.WorkerPoolSize <= 0 {
		return fmt.Errorf("app.worker_pool_size must be positive, got %d", c.App.WorkerPoolSize)
	}
	if c.App.BatchSize <= 0 {
		return fmt.Errorf("app.batch_size must be positive, got %d", c.App.BatchSize)
	}
	if c.App.RecentEventLimit <= 0 {
		return fmt.Errorf("app.recent_event_limit must be positive, got %d", c.App.RecentEventLimit)
	}
	if c.NATS.Enabled && c.NATS.ResultSubject == "" {
		return errors.New("nats.result_subject is required when NATS is enabled")
	}

	rules, err := c.Risk.ToRules()
	if err != nil {
		return err
	}
	return rules.Validate()
}

// Rules returns the validated rule table
func (c *Config) Rules() (entity.RiskRules, error) {
	rules, err := c.Risk.ToRules()
	if err != nil {
		return entity.RiskRules{}, err
	}
	if err := rules.Validate(); err != nil {
		return entity.RiskRules{}, err
	}
	return rules, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_port", 8080)
	v.SetDefault("app.worker_pool_size", 10)
	v.SetDefault("app.batch_size", 100)
	v.SetDefault("app.recent_event_limit", 20)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "TRANSACTIONS")
	v.SetDefault("nats.subject_prefix", "transactions")
	v.SetDefault("nats.consumer_group", "chain-risk-scorer")
	v.SetDefault("nats.result_stream_name", "RISK_ASSESSMENTS")
	v.SetDefault("nats.result_subject", "risk.assessments")
	v.SetDefault("nats.result_max_age", "168h")
	v.SetDefault("nats.connect_timeout", "10s")
	v.SetDefault("nats.reconnect_attempts", 5)
	v.SetDefault("nats.reconnect_delay", "2s")
	v.SetDefault("nats.fetch_batch_size", 10)
	v.SetDefault("nats.fetch_max_wait", "5s")
	v.SetDefault("nats.max_pending_messages", 10000)
	v.SetDefault("nats.enabled", true)

	// Neo4J defaults
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.connect_timeout", "10s")
	v.SetDefault("neo4j.max_connection_pool_size", 50)
	v.SetDefault("neo4j.connection_acquisition_timeout", "60s")
	v.SetDefault("neo4j.enabled", true)

	// Health defaults
	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.timeout", "5s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	setRiskDefaults(v, entity.DefaultRiskRules())

	// Bind env for NATS URL
	_ = v.BindEnv("nats.url", "NATS_URL")
}

// setRiskDefaults registers every key of the built-in rule table so each one can be overridden
func setRiskDefaults(v *viper.Viper, rules entity.RiskRules) {
	for dim, w := range rules.Weights {
		prefix := "risk.weights." + strings.ToLower(string(dim))
		v.SetDefault(prefix+".weight", w.Weight)
		for factor, fw := range w.Factors {
			v.SetDefault(prefix+".factors."+strings.ToLower(factor), fw)
		}
	}

	th := rules.Thresholds
	for chain, amount := range th.LargeTransfer {
		v.SetDefault(fmt.Sprintf("risk.thresholds.large_transfer.%d", chain), amount)
	}
	v.SetDefault("risk.thresholds.frequent_transfer.tx_count", th.FrequentTransfer.TxCount)
	v.SetDefault("risk.thresholds.frequent_transfer.unique_address_count", th.FrequentTransfer.UniqueAddressCount)
	v.SetDefault("risk.thresholds.frequent_transfer.window", th.FrequentTransfer.Window)
	v.SetDefault("risk.thresholds.batch_operation.min_operations", th.BatchOperation.MinOperations)
	v.SetDefault("risk.thresholds.batch_operation.time_window", th.BatchOperation.TimeWindow)
	v.SetDefault("risk.thresholds.association.risk_neighbor_ratio", th.Association.RiskNeighborRatio)

	v.SetDefault("risk.known_mev_bots", rules.KnownMEVBots)
	v.SetDefault("risk.mev_method_signatures", rules.MEVMethodSignatures)
}
