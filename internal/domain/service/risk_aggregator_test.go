package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/domain/service"
	"chain-risk-scorer/internal/infrastructure/logger"
)

const (
	twoThousandEth = "2000000000000000000000"
	day            = 24 * time.Hour
)

// stubPattern is a PatternEvaluator with a fixed answer
type stubPattern struct {
	result *entity.PatternResult
	err    error
	panics bool
}

func (s stubPattern) Evaluate(context.Context, *entity.TransactionEvent) (*entity.PatternResult, error) {
	if s.panics {
		panic("evaluator exploded")
	}
	return s.result, s.err
}

func newAggregator(pattern service.PatternEvaluator, profiles *stubProfiles) *service.RiskAggregator {
	return service.NewRiskAggregator(pattern, profiles, nil, logger.NewNop())
}

func knownProfile(address string, risk float64, firstSeen time.Time, tags ...string) *entity.AddressProfile {
	return &entity.AddressProfile{Address: address, RiskScore: risk, FirstSeen: firstSeen, Tags: tags}
}

func TestRiskAggregator_EvaluatorFailureReturnsFallback(t *testing.T) {
	tests := []struct {
		name    string
		pattern stubPattern
	}{
		{"error", stubPattern{err: errors.New("evaluator down")}},
		{"panic", stubPattern{panics: true}},
		{"no result", stubPattern{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAggregator(tt.pattern, &stubProfiles{})

			got := a.Score(context.Background(), newEvent(attacker, poolA, noonUTC))

			assert.Equal(t, &entity.RiskScore{
				Score:      0.2,
				Level:      entity.RiskLevelLow,
				Factors:    []string{"ai_analysis_failed"},
				Confidence: 0.3,
			}, got)
		})
	}
}

func TestRiskAggregator_NilEventReturnsFallback(t *testing.T) {
	rules := entity.DefaultRiskRules()
	log := logger.NewNop()
	evaluator := service.NewPatternRiskEvaluator(&stubEvents{}, &stubProfiles{}, stubMEV{}, stubAnomaly{}, rules, 0, log)
	a := service.NewRiskAggregator(evaluator, &stubProfiles{}, service.NewDimensionScorer(rules), log)

	assert.True(t, a.Evaluate(context.Background(), nil).IsFallback())
}

func TestRiskAggregator_KnownParties(t *testing.T) {
	at := time.Unix(noonUTC, 0)
	profiles := &stubProfiles{profiles: map[string]*entity.AddressProfile{
		attacker: knownProfile(attacker, 0.2, at.Add(-30*day)),
		poolA:    knownProfile(poolA, 0.1, at.Add(-300*day)),
	}}
	pattern := stubPattern{result: &entity.PatternResult{Score: 0.5, Factors: []string{entity.FactorMEVActivity}, Confidence: 0.75}}

	got := newAggregator(pattern, profiles).Score(context.Background(), newEvent(attacker, poolA, noonUTC, withValue(oneEth)))

	// address: 0.1 + 0.2*0.4 + 0.1*0.3
	assert.InDelta(t, 0.5*0.4+0.21*0.3+0.1*0.15+0.1*0.15, got.Score, 1e-9)
	assert.Equal(t, entity.RiskLevelLow, got.Level)
	assert.Equal(t, []string{entity.FactorMEVActivity}, got.Factors)
	assert.InDelta(t, 0.75*0.7+0.8*0.3, got.Confidence, 1e-9)
}

func TestRiskAggregator_UnknownPartiesAtNightWithLargeValue(t *testing.T) {
	pattern := stubPattern{result: &entity.PatternResult{Score: 0.1, Factors: []string{}, Confidence: 0.5}}

	got := newAggregator(pattern, &stubProfiles{}).Score(context.Background(), newEvent(attacker, poolA, twoAMUTC, withValue(twoThousandEth)))

	assert.InDelta(t, 0.1*0.4+0.6*0.3+0.7*0.15+0.9*0.15, got.Score, 1e-9)
	assert.Equal(t, entity.RiskLevelMedium, got.Level)
	assert.Equal(t, []string{
		entity.FactorUnknownSender,
		entity.FactorUnknownRecipient,
		entity.FactorUnusualTimeActivity,
		entity.FactorUnusualValuePattern,
	}, got.Factors)
	assert.InDelta(t, 0.5, got.Confidence, 1e-9)
}

func TestRiskAggregator_DeduplicatesFactors(t *testing.T) {
	pattern := stubPattern{result: &entity.PatternResult{
		Score:      0.3,
		Factors:    []string{entity.FactorUnusualValuePattern},
		Confidence: 0.6,
	}}

	got := newAggregator(pattern, &stubProfiles{}).Score(context.Background(), newEvent(attacker, poolA, noonUTC, withValue(twoThousandEth)))

	assert.Equal(t, []string{
		entity.FactorUnusualValuePattern,
		entity.FactorUnknownSender,
		entity.FactorUnknownRecipient,
	}, got.Factors)
}

func TestRiskAggregator_BlacklistedSenderToMixer(t *testing.T) {
	at := time.Unix(twoAMUTC, 0)
	profiles := &stubProfiles{profiles: map[string]*entity.AddressProfile{
		attacker: knownProfile(attacker, 0.9, at.Add(-2*day), "scam-report"),
		poolA:    knownProfile(poolA, 0.5, at.Add(-400*day), "tornado-mixer"),
	}}
	pattern := stubPattern{result: &entity.PatternResult{Score: 1, Factors: []string{entity.FactorMEVActivity}, Confidence: 0.9}}

	got := newAggregator(pattern, profiles).Score(context.Background(), newEvent(attacker, poolA, twoAMUTC, withValue(twoThousandEth)))

	assert.InDelta(t, 0.4+0.3+0.7*0.15+0.9*0.15, got.Score, 1e-9)
	assert.Equal(t, entity.RiskLevelCritical, got.Level)
	assert.Equal(t, []string{
		entity.FactorMEVActivity,
		entity.FactorNewAddress,
		entity.FactorBlacklistedAddress,
		entity.FactorMixerInteraction,
		entity.FactorUnusualTimeActivity,
		entity.FactorUnusualValuePattern,
	}, got.Factors)
	assert.InDelta(t, 0.87, got.Confidence, 1e-9)
}

func TestRiskAggregator_ProfileLookupFailureDegradesAddressRisk(t *testing.T) {
	pattern := stubPattern{result: &entity.PatternResult{Score: 0.2, Factors: []string{}, Confidence: 0.5}}
	profiles := &stubProfiles{err: errors.New("cache cold and store down")}

	got := newAggregator(pattern, profiles).Score(context.Background(), newEvent(attacker, poolA, noonUTC, withValue(oneEth)))

	assert.False(t, got.IsFallback())
	assert.InDelta(t, 0.2*0.4+0.3*0.3+0.1*0.15+0.1*0.15, got.Score, 1e-9)
	assert.Equal(t, []string{entity.FactorAddressEvaluationFailed}, got.Factors)
	assert.InDelta(t, 0.5*0.7+0.4*0.3, got.Confidence, 1e-9)
}

func TestRiskAggregator_RecipientLookupFailureDegradesAddressRisk(t *testing.T) {
	pattern := stubPattern{result: &entity.PatternResult{Score: 0.2, Factors: []string{}, Confidence: 0.5}}
	profiles := &stubProfiles{err: errors.New("timeout"), failFor: poolA}

	got := newAggregator(pattern, profiles).Score(context.Background(), newEvent(attacker, poolA, noonUTC))

	assert.Equal(t, []string{entity.FactorAddressEvaluationFailed}, got.Factors)
}

func TestRiskAggregator_ContractCreationHasUnknownRecipient(t *testing.T) {
	pattern := stubPattern{result: &entity.PatternResult{Score: 0.1, Factors: []string{}, Confidence: 0.5}}
	profiles := &stubProfiles{profiles: map[string]*entity.AddressProfile{
		attacker: knownProfile(attacker, 0, time.Unix(noonUTC, 0).Add(-100*day)),
	}}

	got := newAggregator(pattern, profiles).Score(context.Background(), newEvent(attacker, "", noonUTC))

	assert.Equal(t, []string{entity.FactorUnknownRecipient}, got.Factors)
}

func TestRiskAggregator_ValueMagnitude(t *testing.T) {
	pattern := stubPattern{result: &entity.PatternResult{Score: 0, Factors: []string{}, Confidence: 0.5}}
	profiles := &stubProfiles{profiles: map[string]*entity.AddressProfile{
		attacker: knownProfile(attacker, 0, time.Time{}),
		poolA:    knownProfile(poolA, 0, time.Time{}),
	}}
	a := newAggregator(pattern, profiles)

	tests := []struct {
		value     string
		wantValue float64
	}{
		{"", 0.1},
		{"not-wei", 0.2},
		{"5000000000000000000", 0.1},
		{"10000000000000000000", 0.1},
		{"10000000000000000001", 0.3},
		{"150000000000000000000", 0.6},
		{"1000000000000000000001", 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := a.Score(context.Background(), newEvent(attacker, poolA, noonUTC, withValue(tt.value)))

			// pattern 0, address 0.1, time 0.1
			assert.InDelta(t, 0.1*0.3+0.1*0.15+tt.wantValue*0.15, got.Score, 1e-9)
		})
	}
}

func TestRiskAggregator_Deterministic(t *testing.T) {
	rules := entity.DefaultRiskRules()
	log := logger.NewNop()
	at := time.Unix(twoAMUTC, 0)
	profiles := &stubProfiles{profiles: map[string]*entity.AddressProfile{
		attacker: knownProfile(attacker, 0.4, at.Add(-3*day), "mixer-user"),
		poolA:    knownProfile(poolA, 0.35, at.Add(-90*day)),
	}}
	detector := service.NewMevPatternDetector(rules.KnownMEVBots, rules.MEVMethodSignatures, log)

	for _, size := range []int{0, 3, 8, 15} {
		for _, value := range []string{oneEth, "37000000000000000000", twoThousandEth} {
			t.Run(fmt.Sprintf("%d events %s wei", size, value), func(t *testing.T) {
				events := &stubEvents{events: history(size, twoAMUTC, 7, withType(entity.EventTypeContractCall))}
				evaluator := service.NewPatternRiskEvaluator(events, profiles, detector, service.NewTimeSeriesAnomalyScorer(log), rules, 0, log)
				a := service.NewRiskAggregator(evaluator, profiles, service.NewDimensionScorer(rules), log)
				event := newEvent(attacker, poolA, twoAMUTC, withValue(value), withMethod("swapExactTokensForTokens"))

				first, err := json.Marshal(a.Score(context.Background(), event))
				require.NoError(t, err)
				for i := 0; i < 50; i++ {
					again, err := json.Marshal(a.Score(context.Background(), event))
					require.NoError(t, err)
					require.Equal(t, string(first), string(again))
				}
			})
		}
	}
}

func TestRiskAggregator_OutputsStayInRange(t *testing.T) {
	at := time.Unix(twoAMUTC, 0)
	profiles := &stubProfiles{profiles: map[string]*entity.AddressProfile{
		attacker: knownProfile(attacker, 5, at, "blacklist", "scam"),
		poolA:    knownProfile(poolA, 3, at, "blacklist", "mixer"),
	}}

	for _, p := range []float64{-1, 0, 0.5, 1, 7} {
		pattern := stubPattern{result: &entity.PatternResult{Score: p, Factors: []string{}, Confidence: p}}
		got := newAggregator(pattern, profiles).Score(context.Background(), newEvent(attacker, poolA, twoAMUTC, withValue(twoThousandEth)))

		assert.GreaterOrEqual(t, got.Score, 0.0)
		assert.LessOrEqual(t, got.Score, 1.0)
		assert.GreaterOrEqual(t, got.Confidence, 0.0)
		assert.LessOrEqual(t, got.Confidence, 0.95)
	}
}
