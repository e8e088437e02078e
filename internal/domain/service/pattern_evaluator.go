package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/domain/repository"
	"chain-risk-scorer/internal/infrastructure/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultRecentEventLimit is how many recent sender events are fetched per evaluation
const DefaultRecentEventLimit = 20

const (
	patternBaseScore          = 0.1
	patternSignalThreshold    = 0.6
	anomalySignalThreshold    = 0.5
	frequencyWeight           = 0.3
	valueWeight               = 0.25
	contractWeight            = 0.2
	mevContribution           = 0.4
	anomalyWeight             = 0.25
	patternConfidenceBase     = 0.5
	patternConfidenceCap      = 0.9
	patternConfidenceScale    = 40.0
	degradedPatternScore      = 0.1
	degradedPatternConfidence = 0.3
	neutralParseFailureRisk   = 0.2
)

// ErrNilEvent is returned when an evaluation is requested without an event
var ErrNilEvent = errors.New("event is required")

// PatternEvaluator produces the behavioural pattern score for an event
type PatternEvaluator interface {
	// Evaluate returns the pattern result. Lookup failures degrade the result instead of erroring.
	Evaluate(ctx context.Context, event *entity.TransactionEvent) (*entity.PatternResult, error)
}

// PatternRiskEvaluator combines sender history heuristics with MEV and anomaly detection
type PatternRiskEvaluator struct {
	events       repository.EventLookup
	profiles     repository.ProfileLookup
	mev          MEVDetector
	anomaly      AnomalyScorer
	thresholds   entity.RiskThresholds
	historyLimit int
	logger       *logger.Logger
}

// NewPatternRiskEvaluator creates a new pattern risk evaluator
func NewPatternRiskEvaluator(
	events repository.EventLookup,
	profiles repository.ProfileLookup,
	mev MEVDetector,
	anomaly AnomalyScorer,
	rules entity.RiskRules,
	historyLimit int,
	logger *logger.Logger,
) *PatternRiskEvaluator {
	if historyLimit <= 0 {
		historyLimit = DefaultRecentEventLimit
	}
	return &PatternRiskEvaluator{
		events:       events,
		profiles:     profiles,
		mev:          mev,
		anomaly:      anomaly,
		thresholds:   rules.Thresholds,
		historyLimit: historyLimit,
		logger:       logger.WithComponent("pattern-evaluator"),
	}
}

// Evaluate implements PatternEvaluator
func (e *PatternRiskEvaluator) Evaluate(ctx context.Context, event *entity.TransactionEvent) (*entity.PatternResult, error) {
	if event == nil {
		return nil, ErrNilEvent
	}

	recent, err := e.events.LookupRecentEvents(ctx, event.From, e.historyLimit)
	if err != nil {
		e.logger.Warn("Failed to look up recent events",
			zap.String("trace_id", event.TraceID),
			zap.String("address", event.From),
			zap.Error(err))
		return degradedPatternResult(), nil
	}
	profile, err := e.profiles.LookupAddressProfile(ctx, event.From)
	if err != nil {
		e.logger.Warn("Failed to look up sender profile",
			zap.String("trace_id", event.TraceID),
			zap.String("address", event.From),
			zap.Error(err))
		return degradedPatternResult(), nil
	}

	window := historyWindow(event, recent)

	signals := entity.PatternSignals{
		FrequencyRisk: frequencyRisk(window, profile),
		ValueRisk:     valueRisk(window, event),
		ContractRisk:  contractRisk(window),
		MEVDetected:   e.mev.Detect(event, window),
		AnomalyScore:  e.anomaly.Score(window),
		HistorySize:   len(window),
		Activity:      e.activityStats(event, window),
	}

	factors := entity.NewFactorSet()
	score := patternBaseScore
	if signals.FrequencyRisk > patternSignalThreshold {
		factors.Add(entity.FactorHighFrequencyTrading)
		score += signals.FrequencyRisk * frequencyWeight
	}
	if signals.ValueRisk > patternSignalThreshold {
		factors.Add(entity.FactorUnusualValuePattern)
		score += signals.ValueRisk * valueWeight
	}
	if signals.ContractRisk > patternSignalThreshold {
		factors.Add(entity.FactorSuspiciousContractCalls)
		score += signals.ContractRisk * contractWeight
	}
	if signals.MEVDetected {
		factors.Add(entity.FactorMEVActivity)
		score += mevContribution
	}
	if signals.AnomalyScore > anomalySignalThreshold {
		factors.Add(entity.FactorTimeSeriesAnomaly)
		score += signals.AnomalyScore * anomalyWeight
	}

	result := &entity.PatternResult{
		Score:      entity.Clamp01(score),
		Factors:    factors.List(),
		Confidence: math.Min(patternConfidenceCap, patternConfidenceBase+float64(len(window))/patternConfidenceScale),
		Signals:    signals,
	}

	e.logger.Debug("Pattern evaluation completed",
		zap.String("trace_id", event.TraceID),
		zap.Float64("score", result.Score),
		zap.Int("factors", len(result.Factors)),
		zap.Int("history", len(window)))

	return result, nil
}

func degradedPatternResult() *entity.PatternResult {
	return &entity.PatternResult{
		Score:      degradedPatternScore,
		Factors:    []string{entity.FactorPatternAnalysisFailed},
		Confidence: degradedPatternConfidence,
		Degraded:   true,
	}
}

// historyWindow drops the event itself and nil entries and orders the rest by time
func historyWindow(event *entity.TransactionEvent, recent []*entity.TransactionEvent) []*entity.TransactionEvent {
	window := make([]*entity.TransactionEvent, 0, len(recent))
	for _, r := range recent {
		if r == nil {
			continue
		}
		if event.TransactionHash != "" && strings.EqualFold(r.TransactionHash, event.TransactionHash) {
			continue
		}
		window = append(window, r)
	}
	sort.SliceStable(window, func(i, j int) bool { return window[i].Timestamp < window[j].Timestamp })
	return window
}

// frequencyRisk scores the average spacing of the sender's recent events
func frequencyRisk(window []*entity.TransactionEvent, profile *entity.AddressProfile) float64 {
	if len(window) < 2 {
		return patternBaseScore
	}

	var total int64
	for i := 1; i < len(window); i++ {
		total += window[i].Timestamp - window[i-1].Timestamp
	}
	avg := float64(total) / float64(len(window)-1)

	switch {
	case avg < 30:
		return 0.8
	case avg < 300:
		return 0.5
	case profile != nil && profile.TransactionCount > 1000 && len(window) > 10:
		return 0.4
	default:
		return patternBaseScore
	}
}

// valueRisk compares the event value with the mean of recent values
func valueRisk(window []*entity.TransactionEvent, event *entity.TransactionEvent) float64 {
	if event.Value == "" || len(window) < 3 {
		return patternBaseScore
	}

	var values []decimal.Decimal
	for _, r := range window {
		if r.Value == "" {
			continue
		}
		v, err := parseAmount(r.Value)
		if err != nil {
			return neutralParseFailureRisk
		}
		values = append(values, v)
	}
	if len(values) < 3 {
		return patternBaseScore
	}

	current, err := parseAmount(event.Value)
	if err != nil {
		return neutralParseFailureRisk
	}
	avg := decimal.Sum(values[0], values[1:]...).Div(decimal.NewFromInt(int64(len(values))))

	switch {
	case current.GreaterThan(avg.Mul(decimal.NewFromInt(10))):
		return 0.9
	case current.GreaterThan(avg.Mul(decimal.NewFromInt(5))):
		return 0.7
	case current.GreaterThan(avg.Mul(decimal.NewFromInt(2))):
		return 0.4
	default:
		return patternBaseScore
	}
}

// contractRisk scores how much of the sender's recent activity is contract calls
func contractRisk(window []*entity.TransactionEvent) float64 {
	if len(window) < 5 {
		return patternBaseScore
	}

	contracts := make(map[string]struct{})
	var calls int
	for _, r := range window {
		if r.Type != entity.EventTypeContractCall {
			continue
		}
		calls++
		contracts[strings.ToLower(r.To)] = struct{}{}
	}

	callRatio := ratio(calls, len(window))
	switch {
	case callRatio > 0.8:
		return 0.7
	case callRatio > 0.5:
		return 0.4
	case len(contracts) > 5:
		return 0.5
	case calls > 5 && len(contracts) == 1:
		return 0.6
	default:
		return patternBaseScore
	}
}

// activityStats counts sender activity inside the frequent-transfer and batch windows
func (e *PatternRiskEvaluator) activityStats(event *entity.TransactionEvent, window []*entity.TransactionEvent) entity.ActivityStats {
	frequentSpan := int64(e.thresholds.FrequentTransfer.Window.Seconds())
	batchSpan := int64(e.thresholds.BatchOperation.TimeWindow.Seconds())

	stats := entity.ActivityStats{WindowEvents: 1, BatchEvents: 1}
	counterparties := make(map[string]struct{})
	if event.To != "" {
		counterparties[strings.ToLower(event.To)] = struct{}{}
	}

	for _, r := range window {
		if !entity.SameAddress(r.From, event.From) {
			continue
		}
		age := event.Timestamp - r.Timestamp
		if age < 0 {
			continue
		}
		if age < frequentSpan {
			stats.WindowEvents++
			if r.To != "" {
				counterparties[strings.ToLower(r.To)] = struct{}{}
			}
		}
		if age < batchSpan {
			stats.BatchEvents++
		}
	}
	stats.WindowCounterparties = len(counterparties)
	return stats
}
