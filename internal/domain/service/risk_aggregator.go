package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/domain/repository"
	"chain-risk-scorer/internal/infrastructure/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	patternShare  = 0.4
	addressShare  = 0.3
	timeShare     = 0.15
	valueShare    = 0.15
	confidenceCap = 0.95

	newAddressWindow = 7 * 24 * time.Hour
)

var (
	largeValueUnits    = decimal.NewFromInt(1000)
	mediumValueUnits   = decimal.NewFromInt(100)
	smallValueUnits    = decimal.NewFromInt(10)
	errNoPatternResult = errors.New("pattern evaluator returned no result")
)

// RiskScorer is the entry point of the scoring pipeline
type RiskScorer interface {
	// Score never fails; degraded evaluations are reported through factor tags
	Score(ctx context.Context, event *entity.TransactionEvent) *entity.RiskScore
}

// RiskAggregator combines pattern, address, time-of-day and value risk into the final score
type RiskAggregator struct {
	pattern    PatternEvaluator
	profiles   repository.ProfileLookup
	dimensions *DimensionScorer
	logger     *logger.Logger
}

// NewRiskAggregator creates a new risk aggregator. dimensions may be nil.
func NewRiskAggregator(
	pattern PatternEvaluator,
	profiles repository.ProfileLookup,
	dimensions *DimensionScorer,
	logger *logger.Logger,
) *RiskAggregator {
	return &RiskAggregator{
		pattern:    pattern,
		profiles:   profiles,
		dimensions: dimensions,
		logger:     logger.WithComponent("risk-aggregator"),
	}
}

// Score implements RiskScorer
func (a *RiskAggregator) Score(ctx context.Context, event *entity.TransactionEvent) *entity.RiskScore {
	result, err := guard(func() (*entity.RiskScore, error) { return a.evaluate(ctx, event) })
	if err != nil {
		a.logger.Warn("Risk evaluation failed, using fallback score",
			zap.String("trace_id", traceID(event)),
			zap.Error(err))
		return entity.FallbackRiskScore()
	}
	return result
}

// Evaluate is Score under the name exposed to callers of the pipeline
func (a *RiskAggregator) Evaluate(ctx context.Context, event *entity.TransactionEvent) *entity.RiskScore {
	return a.Score(ctx, event)
}

func (a *RiskAggregator) evaluate(ctx context.Context, event *entity.TransactionEvent) (*entity.RiskScore, error) {
	pattern, err := a.pattern.Evaluate(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate pattern risk: %w", err)
	}
	if pattern == nil {
		return nil, errNoPatternResult
	}

	address := a.assessAddresses(ctx, event)
	timeRisk := timeOfDayRisk(event.Timestamp)
	valueRisk := valueMagnitudeRisk(event.Value)

	score := entity.Clamp01(pattern.Score*patternShare +
		address.Score*addressShare +
		timeRisk*timeShare +
		valueRisk*valueShare)

	factors := entity.NewFactorSet(pattern.Factors...)
	factors.Add(address.Factors...)
	if timeRisk > patternSignalThreshold {
		factors.Add(entity.FactorUnusualTimeActivity)
	}
	if valueRisk > patternSignalThreshold {
		factors.Add(entity.FactorUnusualValuePattern)
	}

	result := &entity.RiskScore{
		Score:      score,
		Level:      entity.LevelForScore(score),
		Factors:    factors.List(),
		Confidence: entity.Clamp01(math.Min(confidenceCap, pattern.Confidence*0.7+address.Confidence*0.3)),
	}
	if a.dimensions != nil {
		result.Dimensions = a.dimensions.Score(event, pattern, address)
	}

	a.logger.Debug("Risk evaluation completed",
		zap.String("trace_id", event.TraceID),
		zap.Float64("score", result.Score),
		zap.String("level", string(result.Level)),
		zap.Strings("factors", result.Factors))

	return result, nil
}

// assessAddresses scores the sender and recipient profiles. Lookup failures degrade locally.
func (a *RiskAggregator) assessAddresses(ctx context.Context, event *entity.TransactionEvent) *entity.AddressAssessment {
	from, err := a.profiles.LookupAddressProfile(ctx, event.From)
	if err != nil {
		return a.degradedAddressAssessment(event, err)
	}
	var to *entity.AddressProfile
	if event.To != "" {
		if to, err = a.profiles.LookupAddressProfile(ctx, event.To); err != nil {
			return a.degradedAddressAssessment(event, err)
		}
	}

	at := time.Unix(event.Timestamp, 0).UTC()
	factors := entity.NewFactorSet()
	assessment := &entity.AddressAssessment{
		SenderKnown:    from != nil,
		RecipientKnown: to != nil,
	}
	score := 0.1

	if from != nil {
		score += entity.Clamp01(from.RiskScore) * 0.4
		if from.IsNewAt(at, newAddressWindow) {
			assessment.NewSender = true
			score += 0.2
			factors.Add(entity.FactorNewAddress)
		}
		if from.IsBlacklisted() {
			assessment.SenderBlacklisted = true
			score += 0.8
			factors.Add(entity.FactorBlacklistedAddress)
		}
	} else {
		score += 0.3
		factors.Add(entity.FactorUnknownSender)
	}

	if to != nil {
		assessment.RecipientRiskScore = entity.Clamp01(to.RiskScore)
		score += assessment.RecipientRiskScore * 0.3
		if to.IsBlacklisted() {
			assessment.RecipientBlacklisted = true
			score += 0.3
			factors.Add(entity.FactorBlacklistedRecipient)
		}
		if to.IsMixer() {
			assessment.MixerRecipient = true
			score += 0.5
			factors.Add(entity.FactorMixerInteraction)
		}
	} else {
		score += 0.2
		factors.Add(entity.FactorUnknownRecipient)
	}

	assessment.Score = entity.Clamp01(score)
	assessment.Factors = factors.List()
	assessment.Confidence = 0.5
	if from != nil && to != nil {
		assessment.Confidence = 0.8
	}
	return assessment
}

func (a *RiskAggregator) degradedAddressAssessment(event *entity.TransactionEvent, err error) *entity.AddressAssessment {
	a.logger.Warn("Address profile lookup failed",
		zap.String("trace_id", event.TraceID),
		zap.String("from", event.From),
		zap.String("to", event.To),
		zap.Error(err))
	return &entity.AddressAssessment{
		Score:      0.3,
		Factors:    []string{entity.FactorAddressEvaluationFailed},
		Confidence: 0.4,
		Degraded:   true,
	}
}

// timeOfDayRisk flags activity between 00:00 and 05:00 UTC
func timeOfDayRisk(timestamp int64) float64 {
	if time.Unix(timestamp, 0).UTC().Hour() < nightHourEnd {
		return 0.7
	}
	return 0.1
}

// valueMagnitudeRisk buckets the transfer value in whole coins
func valueMagnitudeRisk(value string) float64 {
	if value == "" {
		return 0.1
	}
	wei, err := parseAmount(value)
	if err != nil {
		return neutralParseFailureRisk
	}
	units := toWholeUnits(wei)
	switch {
	case units.GreaterThan(largeValueUnits):
		return 0.9
	case units.GreaterThan(mediumValueUnits):
		return 0.6
	case units.GreaterThan(smallValueUnits):
		return 0.3
	default:
		return 0.1
	}
}
