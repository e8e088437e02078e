package entity

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidRules is returned when a rule table fails validation
var ErrInvalidRules = errors.New("invalid risk rules")

// Dimension is a top-level grouping in the weight table
type Dimension string

const (
	DimensionFlow        Dimension = "FLOW"
	DimensionBehavior    Dimension = "BEHAVIOR"
	DimensionAssociation Dimension = "ASSOCIATION"
	DimensionHistorical  Dimension = "HISTORICAL"
)

// Dimensions lists every dimension in reporting order
var Dimensions = []Dimension{DimensionFlow, DimensionBehavior, DimensionAssociation, DimensionHistorical}

// Factor keys inside each dimension
const (
	FactorKeyLargeTransfer       = "LARGE_TRANSFER"
	FactorKeyFrequentTransfer    = "FREQUENT_TRANSFER"
	FactorKeyIrregularPattern    = "IRREGULAR_PATTERN"
	FactorKeyContractInteraction = "CONTRACT_INTERACTION"
	FactorKeyBatchOperation      = "BATCH_OPERATION"
	FactorKeyAddressCreation     = "ADDRESS_CREATION"
	FactorKeyBlacklist           = "BLACKLIST"
	FactorKeyRiskNeighbor        = "RISK_NEIGHBOR"
	FactorKeyMixerInteraction    = "MIXER_INTERACTION"
	FactorKeyAccountAge          = "ACCOUNT_AGE"
	FactorKeyActivityPattern     = "ACTIVITY_PATTERN"
	FactorKeyBalanceChanges      = "BALANCE_CHANGES"
)

// weightTolerance bounds the rounding error accepted when weights are summed
const weightTolerance = 1e-6

// DimensionWeight holds a dimension weight and the weights of its factors
type DimensionWeight struct {
	Weight  float64            `json:"weight"`
	Factors map[string]float64 `json:"factors"`
}

// FrequentTransferThreshold bounds sender activity inside a window
type FrequentTransferThreshold struct {
	TxCount            int           `json:"tx_count"`
	UniqueAddressCount int           `json:"unique_address_count"`
	Window             time.Duration `json:"window"`
}

// BatchOperationThreshold bounds bursts of sender operations
type BatchOperationThreshold struct {
	MinOperations int           `json:"min_operations"`
	TimeWindow    time.Duration `json:"time_window"`
}

// AssociationThreshold bounds counterparty risk
type AssociationThreshold struct {
	RiskNeighborRatio float64 `json:"risk_neighbor_ratio"`
}

// RiskThresholds groups every threshold used by the scoring rules
type RiskThresholds struct {
	// LargeTransfer maps chain id to a whole-unit amount
	LargeTransfer    map[int64]string          `json:"large_transfer"`
	FrequentTransfer FrequentTransferThreshold `json:"frequent_transfer"`
	BatchOperation   BatchOperationThreshold   `json:"batch_operation"`
	Association      AssociationThreshold      `json:"association"`
}

// RiskRules is the read-only rule table loaded at startup
type RiskRules struct {
	Weights             map[Dimension]DimensionWeight `json:"weights"`
	Thresholds          RiskThresholds                `json:"thresholds"`
	KnownMEVBots        []string                      `json:"known_mev_bots"`
	MEVMethodSignatures []string                      `json:"mev_method_signatures"`
}

// DefaultChainID is used for thresholds when a chain has no entry of its own
const DefaultChainID int64 = 1

// DefaultRiskRules returns the built-in rule table
func DefaultRiskRules() RiskRules {
	return RiskRules{
		Weights: map[Dimension]DimensionWeight{
			DimensionFlow: {
				Weight: 0.3,
				Factors: map[string]float64{
					FactorKeyLargeTransfer:    0.4,
					FactorKeyFrequentTransfer: 0.3,
					FactorKeyIrregularPattern: 0.3,
				},
			},
			DimensionBehavior: {
				Weight: 0.3,
				Factors: map[string]float64{
					FactorKeyContractInteraction: 0.35,
					FactorKeyBatchOperation:      0.35,
					FactorKeyAddressCreation:     0.3,
				},
			},
			DimensionAssociation: {
				Weight: 0.25,
				Factors: map[string]float64{
					FactorKeyBlacklist:        0.4,
					FactorKeyRiskNeighbor:     0.3,
					FactorKeyMixerInteraction: 0.3,
				},
			},
			DimensionHistorical: {
				Weight: 0.15,
				Factors: map[string]float64{
					FactorKeyAccountAge:      0.3,
					FactorKeyActivityPattern: 0.4,
					FactorKeyBalanceChanges:  0.3,
				},
			},
		},
		Thresholds: RiskThresholds{
			LargeTransfer: map[int64]string{
				1:   "100",
				56:  "1000",
				137: "10000",
			},
			FrequentTransfer: FrequentTransferThreshold{
				TxCount:            10,
				UniqueAddressCount: 5,
				Window:             time.Hour,
			},
			BatchOperation: BatchOperationThreshold{
				MinOperations: 3,
				TimeWindow:    5 * time.Minute,
			},
			Association: AssociationThreshold{
				RiskNeighborRatio: 0.3,
			},
		},
		KnownMEVBots: []string{
			"0x000000000000084e91743124a982076c59f10084",
			"0x0000000000007f150bd6f54c40a34d7c3d5e9f56",
			"0x00000000000000adc04c56bf30ac9d3c0aaf14dc",
		},
		MEVMethodSignatures: []string{
			"swapExactTokensForTokens",
			"swapTokensForExactTokens",
			"swap",
			"flashLoan",
			"flash",
		},
	}
}

// LargeTransferThreshold returns the whole-unit large-transfer amount for a chain
func (r RiskRules) LargeTransferThreshold(chainID int64) (decimal.Decimal, bool) {
	raw, ok := r.Thresholds.LargeTransfer[chainID]
	if !ok {
		raw, ok = r.Thresholds.LargeTransfer[DefaultChainID]
	}
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Validate checks that weights sum to one and thresholds are usable
func (r RiskRules) Validate() error {
	var dimensionSum float64
	for _, dim := range Dimensions {
		w, ok := r.Weights[dim]
		if !ok {
			return fmt.Errorf("%w: missing dimension %s", ErrInvalidRules, dim)
		}
		if w.Weight < 0 {
			return fmt.Errorf("%w: negative weight for %s", ErrInvalidRules, dim)
		}
		dimensionSum += w.Weight

		var factorSum float64
		for name, fw := range w.Factors {
			if fw < 0 {
				return fmt.Errorf("%w: negative weight for %s.%s", ErrInvalidRules, dim, name)
			}
			factorSum += fw
		}
		if math.Abs(factorSum-1) > weightTolerance {
			return fmt.Errorf("%w: factor weights of %s sum to %.4f", ErrInvalidRules, dim, factorSum)
		}
	}
	if math.Abs(dimensionSum-1) > weightTolerance {
		return fmt.Errorf("%w: dimension weights sum to %.4f", ErrInvalidRules, dimensionSum)
	}

	for chainID, raw := range r.Thresholds.LargeTransfer {
		d, err := decimal.NewFromString(raw)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("%w: large transfer threshold for chain %d must be a positive amount", ErrInvalidRules, chainID)
		}
	}
	ft := r.Thresholds.FrequentTransfer
	if ft.TxCount <= 0 || ft.UniqueAddressCount <= 0 || ft.Window <= 0 {
		return fmt.Errorf("%w: frequent transfer thresholds must be positive", ErrInvalidRules)
	}
	bo := r.Thresholds.BatchOperation
	if bo.MinOperations <= 0 || bo.TimeWindow <= 0 {
		return fmt.Errorf("%w: batch operation thresholds must be positive", ErrInvalidRules)
	}
	ratio := r.Thresholds.Association.RiskNeighborRatio
	if ratio <= 0 || ratio > 1 {
		return fmt.Errorf("%w: risk neighbor ratio must be in (0,1]", ErrInvalidRules)
	}
	return nil
}
