package service

import (
	"sort"

	"chain-risk-scorer/internal/domain/entity"
)

// DimensionScorer breaks an evaluation down along the configured weight table.
// The breakdown is informational and does not feed the final score.
type DimensionScorer struct {
	rules entity.RiskRules
}

// NewDimensionScorer creates a dimension scorer for a validated rule table
func NewDimensionScorer(rules entity.RiskRules) *DimensionScorer {
	return &DimensionScorer{rules: rules}
}

// Score returns one row per dimension in reporting order
func (d *DimensionScorer) Score(
	event *entity.TransactionEvent,
	pattern *entity.PatternResult,
	address *entity.AddressAssessment,
) []entity.DimensionScore {
	signals := d.signals(event, pattern, address)

	out := make([]entity.DimensionScore, 0, len(entity.Dimensions))
	for _, dim := range entity.Dimensions {
		weights, ok := d.rules.Weights[dim]
		if !ok {
			continue
		}
		row := entity.DimensionScore{
			Dimension: dim,
			Weight:    weights.Weight,
			Factors:   make(map[string]float64, len(weights.Factors)),
		}
		// summed in name order so repeated calls agree to the last bit
		names := make([]string, 0, len(weights.Factors))
		for name := range weights.Factors {
			names = append(names, name)
		}
		sort.Strings(names)

		var score float64
		for _, name := range names {
			s := signals[name]
			row.Factors[name] = s
			score += weights.Factors[name] * s
		}
		row.Score = entity.Clamp01(score)
		out = append(out, row)
	}
	return out
}

func (d *DimensionScorer) signals(
	event *entity.TransactionEvent,
	pattern *entity.PatternResult,
	address *entity.AddressAssessment,
) map[string]float64 {
	sig := pattern.Signals
	th := d.rules.Thresholds

	accountAge := 0.0
	switch {
	case address.NewSender:
		accountAge = 1
	case !address.SenderKnown && !address.Degraded:
		accountAge = 0.5
	}

	return map[string]float64{
		entity.FactorKeyLargeTransfer: d.largeTransferSignal(event),
		entity.FactorKeyFrequentTransfer: entity.Clamp01(max(
			ratio(sig.Activity.WindowEvents, th.FrequentTransfer.TxCount),
			ratio(sig.Activity.WindowCounterparties, th.FrequentTransfer.UniqueAddressCount),
		)),
		entity.FactorKeyIrregularPattern:    sig.AnomalyScore,
		entity.FactorKeyContractInteraction: sig.ContractRisk,
		entity.FactorKeyBatchOperation:      indicator(th.BatchOperation.MinOperations > 0 && sig.Activity.BatchEvents >= th.BatchOperation.MinOperations),
		entity.FactorKeyAddressCreation:     indicator(address.NewSender),
		entity.FactorKeyBlacklist:           indicator(address.SenderBlacklisted || address.RecipientBlacklisted),
		entity.FactorKeyRiskNeighbor:        indicator(address.RecipientKnown && address.RecipientRiskScore >= th.Association.RiskNeighborRatio),
		entity.FactorKeyMixerInteraction:    indicator(address.MixerRecipient),
		entity.FactorKeyAccountAge:          accountAge,
		entity.FactorKeyActivityPattern:     pattern.Score,
		entity.FactorKeyBalanceChanges:      sig.ValueRisk,
	}
}

// largeTransferSignal is the value as a fraction of the chain's large-transfer threshold, capped at 1
func (d *DimensionScorer) largeTransferSignal(event *entity.TransactionEvent) float64 {
	threshold, ok := d.rules.LargeTransferThreshold(event.ChainID)
	if !ok || !threshold.IsPositive() || event.Value == "" {
		return 0
	}
	wei, err := parseAmount(event.Value)
	if err != nil || wei.IsNegative() {
		return 0
	}
	units := toWholeUnits(wei)
	if units.GreaterThanOrEqual(threshold) {
		return 1
	}
	return entity.Clamp01(units.Div(threshold).InexactFloat64())
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
