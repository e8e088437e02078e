package service_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/domain/service"
)

func rowsByDimension(rows []entity.DimensionScore) map[entity.Dimension]entity.DimensionScore {
	out := make(map[entity.Dimension]entity.DimensionScore, len(rows))
	for _, r := range rows {
		out[r.Dimension] = r
	}
	return out
}

func TestDimensionScorer_ReportingOrder(t *testing.T) {
	scorer := service.NewDimensionScorer(entity.DefaultRiskRules())

	rows := scorer.Score(newEvent(attacker, poolA, noonUTC), &entity.PatternResult{}, &entity.AddressAssessment{SenderKnown: true, RecipientKnown: true})

	require.Len(t, rows, 4)
	for i, dim := range entity.Dimensions {
		assert.Equal(t, dim, rows[i].Dimension)
	}
	assert.InDelta(t, 0.3, rows[0].Weight, 1e-9)
	assert.InDelta(t, 0.15, rows[3].Weight, 1e-9)
}

func TestDimensionScorer_LargeTransfer(t *testing.T) {
	scorer := service.NewDimensionScorer(entity.DefaultRiskRules())
	address := &entity.AddressAssessment{SenderKnown: true, RecipientKnown: true}

	tests := []struct {
		name    string
		chainID int64
		value   string
		want    float64
	}{
		{"above mainnet threshold", 1, "150000000000000000000", 1},
		{"half of mainnet threshold", 1, "50000000000000000000", 0.5},
		{"bsc threshold is higher", 56, "500000000000000000000", 0.5},
		{"unknown chain uses mainnet", 999, "100000000000000000000", 1},
		{"garbage value", 1, "lots", 0},
		{"empty value", 1, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := newEvent(attacker, poolA, noonUTC, withValue(tt.value))
			event.ChainID = tt.chainID

			rows := rowsByDimension(scorer.Score(event, &entity.PatternResult{}, address))

			assert.InDelta(t, tt.want, rows[entity.DimensionFlow].Factors[entity.FactorKeyLargeTransfer], 1e-9)
		})
	}
}

func TestDimensionScorer_Signals(t *testing.T) {
	scorer := service.NewDimensionScorer(entity.DefaultRiskRules())
	pattern := &entity.PatternResult{
		Score: 0.6,
		Signals: entity.PatternSignals{
			ContractRisk: 0.7,
			ValueRisk:    0.9,
			AnomalyScore: 0.8,
			Activity: entity.ActivityStats{
				WindowEvents:         4,
				WindowCounterparties: 5,
				BatchEvents:          3,
			},
		},
	}
	address := &entity.AddressAssessment{
		SenderKnown:          true,
		RecipientKnown:       true,
		NewSender:            true,
		RecipientBlacklisted: true,
		MixerRecipient:       true,
		RecipientRiskScore:   0.3,
	}

	rows := rowsByDimension(scorer.Score(newEvent(attacker, poolA, noonUTC, withValue("")), pattern, address))

	flow := rows[entity.DimensionFlow]
	assert.InDelta(t, 1, flow.Factors[entity.FactorKeyFrequentTransfer], 1e-9)
	assert.InDelta(t, 0.8, flow.Factors[entity.FactorKeyIrregularPattern], 1e-9)
	assert.InDelta(t, 0.3*1+0.3*0.8, flow.Score, 1e-9)

	behavior := rows[entity.DimensionBehavior]
	assert.Equal(t, map[string]float64{
		entity.FactorKeyContractInteraction: 0.7,
		entity.FactorKeyBatchOperation:      1,
		entity.FactorKeyAddressCreation:     1,
	}, behavior.Factors)
	assert.InDelta(t, 0.35*0.7+0.35+0.3, behavior.Score, 1e-9)

	association := rows[entity.DimensionAssociation]
	assert.InDelta(t, 1, association.Score, 1e-9)

	historical := rows[entity.DimensionHistorical]
	assert.InDelta(t, 0.3*1+0.4*0.6+0.3*0.9, historical.Score, 1e-9)
}

func TestDimensionScorer_AccountAge(t *testing.T) {
	scorer := service.NewDimensionScorer(entity.DefaultRiskRules())

	tests := []struct {
		name    string
		address entity.AddressAssessment
		want    float64
	}{
		{"new sender", entity.AddressAssessment{SenderKnown: true, NewSender: true}, 1},
		{"unknown sender", entity.AddressAssessment{}, 0.5},
		{"lookup failed", entity.AddressAssessment{Degraded: true}, 0},
		{"established sender", entity.AddressAssessment{SenderKnown: true}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := rowsByDimension(scorer.Score(newEvent(attacker, poolA, noonUTC), &entity.PatternResult{}, &tt.address))

			assert.InDelta(t, tt.want, rows[entity.DimensionHistorical].Factors[entity.FactorKeyAccountAge], 1e-9)
		})
	}
}

func TestDimensionScorer_RiskNeighborNeedsKnownRecipient(t *testing.T) {
	scorer := service.NewDimensionScorer(entity.DefaultRiskRules())

	known := rowsByDimension(scorer.Score(newEvent(attacker, poolA, noonUTC), &entity.PatternResult{},
		&entity.AddressAssessment{RecipientKnown: true, RecipientRiskScore: 0.29}))
	risky := rowsByDimension(scorer.Score(newEvent(attacker, poolA, noonUTC), &entity.PatternResult{},
		&entity.AddressAssessment{RecipientKnown: true, RecipientRiskScore: 0.3}))

	assert.Zero(t, known[entity.DimensionAssociation].Factors[entity.FactorKeyRiskNeighbor])
	assert.Equal(t, 1.0, risky[entity.DimensionAssociation].Factors[entity.FactorKeyRiskNeighbor])
}

func TestDimensionScorer_RepeatedCallsAgreeExactly(t *testing.T) {
	scorer := service.NewDimensionScorer(entity.DefaultRiskRules())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		event := newEvent(attacker, poolA, noonUTC, withValue(fmt.Sprintf("%d000000000000000", rng.Intn(200_000))))
		pattern := &entity.PatternResult{
			Score: rng.Float64(),
			Signals: entity.PatternSignals{
				ValueRisk:    rng.Float64(),
				ContractRisk: rng.Float64(),
				AnomalyScore: rng.Float64(),
				Activity: entity.ActivityStats{
					WindowEvents:         rng.Intn(20),
					WindowCounterparties: rng.Intn(10),
					BatchEvents:          rng.Intn(8),
				},
			},
		}
		address := &entity.AddressAssessment{
			SenderKnown:        rng.Intn(2) == 0,
			RecipientKnown:     true,
			RecipientRiskScore: rng.Float64(),
			MixerRecipient:     rng.Intn(2) == 0,
		}

		want := scorer.Score(event, pattern, address)
		for j := 0; j < 50; j++ {
			require.Equal(t, want, scorer.Score(event, pattern, address), "input %d", i)
		}
	}
}
