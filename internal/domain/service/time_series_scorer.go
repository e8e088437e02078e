package service

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/infrastructure/logger"

	"go.uber.org/zap"
)

const (
	minAnomalySample      = 5
	mixedPatternMinEvents = 10
	mixedPatternCap       = 0.7
	periodicityWindow     = 3
	periodicityTolerance  = 0.2
	nightHourEnd          = 5
	anomalyFailureScore   = 0.2
	baselineAnomalyScore  = 0.1
	irregularIntervalsMin = 0.4
)

// AnomalyScorer scores a series of events for temporal and participant anomalies
type AnomalyScorer interface {
	// Score returns a value in [0,1]; failures map to a fixed default
	Score(events []*entity.TransactionEvent) float64
}

// AnomalyBreakdown holds every sub-score that fed the anomaly score
type AnomalyBreakdown struct {
	Score              float64 `json:"score"`
	Regularity         float64 `json:"regularity"`
	Burst              float64 `json:"burst"`
	Periodicity        float64 `json:"periodicity"`
	TimeDistribution   float64 `json:"time_distribution"`
	Cyclic             float64 `json:"cyclic"`
	WashTrading        float64 `json:"wash_trading"`
	ValueAnomaly       float64 `json:"value_anomaly"`
	IrregularIntervals float64 `json:"irregular_intervals"`
	MixedPattern       float64 `json:"mixed_pattern"`
}

// TimeSeriesAnomalyScorer computes the anomaly score as the maximum of independent sub-scores
type TimeSeriesAnomalyScorer struct {
	logger *logger.Logger
}

// NewTimeSeriesAnomalyScorer creates a new time series anomaly scorer
func NewTimeSeriesAnomalyScorer(logger *logger.Logger) *TimeSeriesAnomalyScorer {
	return &TimeSeriesAnomalyScorer{logger: logger.WithComponent("time-series-scorer")}
}

// Score implements AnomalyScorer
func (s *TimeSeriesAnomalyScorer) Score(events []*entity.TransactionEvent) float64 {
	breakdown, err := s.Analyze(events)
	if err != nil {
		s.logger.Warn("Time series analysis failed",
			zap.Int("events", len(events)),
			zap.Error(err))
		return anomalyFailureScore
	}
	return breakdown.Score
}

// Analyze computes every sub-score. Small samples short-circuit with only Score set.
func (s *TimeSeriesAnomalyScorer) Analyze(events []*entity.TransactionEvent) (AnomalyBreakdown, error) {
	switch {
	case len(events) <= 1:
		return AnomalyBreakdown{Score: 0}, nil
	case len(events) < minAnomalySample:
		return AnomalyBreakdown{Score: baselineAnomalyScore}, nil
	}
	return guard(func() (AnomalyBreakdown, error) { return analyzeSeries(events) })
}

func analyzeSeries(events []*entity.TransactionEvent) (AnomalyBreakdown, error) {
	ordered := make([]*entity.TransactionEvent, 0, len(events))
	for _, e := range events {
		if e == nil {
			return AnomalyBreakdown{}, errors.New("nil event in series")
		}
		ordered = append(ordered, e)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })

	intervals := make([]float64, 0, len(ordered)-1)
	for i := 1; i < len(ordered); i++ {
		intervals = append(intervals, float64(ordered[i].Timestamp-ordered[i-1].Timestamp))
	}
	avgInterval := mean(intervals)
	cv := coefficientOfVariation(intervals)

	b := AnomalyBreakdown{
		Regularity:         baselineAnomalyScore,
		Burst:              baselineAnomalyScore,
		Periodicity:        periodicityScore(intervals),
		TimeDistribution:   timeDistributionScore(ordered),
		Cyclic:             cyclicScore(ordered),
		WashTrading:        washTradingScore(ordered),
		ValueAnomaly:       valueAnomalyScore(ordered),
		IrregularIntervals: irregularIntervalScore(intervals),
	}

	// simultaneous events have no cadence to measure
	if avgInterval > 0 && cv < 0.1 && len(intervals) > 5 {
		b.Regularity = 0.8
	}

	burstThreshold := avgInterval * 0.2
	var bursts int
	for _, iv := range intervals {
		if iv < burstThreshold {
			bursts++
		}
	}
	if ratio(bursts, len(intervals)) > 0.7 && len(intervals) > 5 {
		b.Burst = 0.7
	}

	if len(ordered) >= mixedPatternMinEvents {
		b.MixedPattern = math.Min(mixedPatternCap, mixedPatternScore(ordered))
	}

	b.Score = entity.Clamp01(maxOf(
		baselineAnomalyScore,
		b.Regularity,
		b.Burst,
		b.Periodicity,
		b.TimeDistribution,
		b.Cyclic,
		b.WashTrading,
		b.ValueAnomaly,
		b.IrregularIntervals,
		b.MixedPattern,
	))
	return b, nil
}

// periodicityScore compares consecutive windows of three intervals
func periodicityScore(intervals []float64) float64 {
	if len(intervals) < 10 {
		return baselineAnomalyScore
	}

	comparisons := len(intervals) - periodicityWindow*2 + 1
	var similar int
	for i := 0; i < comparisons; i++ {
		if windowsSimilar(intervals[i:i+periodicityWindow], intervals[i+periodicityWindow:i+periodicityWindow*2]) {
			similar++
		}
	}

	r := ratio(similar, comparisons)
	switch {
	case r > 0.7:
		return 0.9
	case r > 0.5:
		return 0.7
	case r > 0.3:
		return 0.5
	default:
		return baselineAnomalyScore
	}
}

func windowsSimilar(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if b[i] == 0 {
			if a[i] != 0 {
				return false
			}
			continue
		}
		r := a[i] / b[i]
		if r < 1-periodicityTolerance || r > 1+periodicityTolerance {
			return false
		}
	}
	return true
}

// timeDistributionScore looks for activity packed into few hours or into the night, in UTC
func timeDistributionScore(events []*entity.TransactionEvent) float64 {
	if len(events) < minAnomalySample {
		return baselineAnomalyScore
	}

	var hours [24]int
	for _, e := range events {
		hours[time.Unix(e.Timestamp, 0).UTC().Hour()]++
	}

	var active, night int
	for h, count := range hours {
		if count > 0 {
			active++
		}
		if h < nightHourEnd {
			night += count
		}
	}

	switch {
	case active <= 3 && len(events) > 10:
		return 0.7
	case ratio(night, len(events)) >= 0.5 && len(events) > 5:
		return 0.8
	}
	return baselineAnomalyScore
}

// cyclicScore looks for A->B B->A reversals and a dominant address pair
func cyclicScore(events []*entity.TransactionEvent) float64 {
	if len(events) < 4 {
		return baselineAnomalyScore
	}

	pairCounts := make(map[[2]string]int)
	var maxPair int
	for _, e := range events {
		key := [2]string{strings.ToLower(e.From), strings.ToLower(e.To)}
		pairCounts[key]++
		if pairCounts[key] > maxPair {
			maxPair = pairCounts[key]
		}
	}

	var reversals int
	for i := 0; i < len(events)-2; i++ {
		a, b := events[i], events[i+1]
		if entity.SameAddress(a.From, b.To) && entity.SameAddress(a.To, b.From) {
			reversals++
		}
	}

	score := baselineAnomalyScore
	if ratio(reversals, len(events)-1) > 0.5 {
		score = math.Max(score, 0.8)
	}
	if ratio(maxPair, len(events)) > 0.4 && len(events) > 4 {
		score = math.Max(score, 0.7)
	}
	return score
}

// washTradingScore looks for addresses that both send and receive a large share of the flow
func washTradingScore(events []*entity.TransactionEvent) float64 {
	if len(events) < 6 {
		return baselineAnomalyScore
	}

	type flow struct{ sent, received int }
	flows := make(map[string]*flow)
	get := func(addr string) *flow {
		addr = strings.ToLower(addr)
		f, ok := flows[addr]
		if !ok {
			f = &flow{}
			flows[addr] = f
		}
		return f
	}
	for _, e := range events {
		get(e.From).sent++
		get(e.To).received++
	}

	score := baselineAnomalyScore
	for _, f := range flows {
		total := f.sent + f.received
		if f.sent == 0 || f.received == 0 || ratio(total, len(events)*2) <= 0.3 {
			continue
		}
		balance := ratio(min(f.sent, f.received), max(f.sent, f.received))
		switch {
		case balance > 0.7 && total > 5:
			score = math.Max(score, 0.9)
		case balance > 0.5 && total > 3:
			score = math.Max(score, 0.7)
		case balance > 0.3:
			score = math.Max(score, 0.5)
		}
	}
	return score
}

// valueAnomalyScore looks at the dispersion and tails of positive transfer values
func valueAnomalyScore(events []*entity.TransactionEvent) float64 {
	if len(events) < 3 {
		return baselineAnomalyScore
	}

	values := make([]float64, 0, len(events))
	for _, e := range events {
		if e.Value == "" {
			continue
		}
		d, err := parseAmount(e.Value)
		if err != nil {
			continue
		}
		if v := d.InexactFloat64(); v > 0 {
			values = append(values, v)
		}
	}
	if len(values) < 3 {
		return baselineAnomalyScore
	}

	m := mean(values)
	sd := stdDev(values, m)
	largeThreshold := m + 3*sd
	smallThreshold := math.Max(0.1, m-sd)

	var large, small int
	for _, v := range values {
		if v > largeThreshold {
			large++
		}
		if v < smallThreshold {
			small++
		}
	}
	largeRatio := ratio(large, len(values))
	smallRatio := ratio(small, len(values))

	switch {
	case coefficientOfVariation(values) > 2:
		return 0.7
	case largeRatio > 0.2 && len(values) > 4:
		return 0.6
	case largeRatio > 0.1 && smallRatio > 0.3 && len(values) > 5:
		return 0.7
	}
	return baselineAnomalyScore
}

// irregularIntervalScore flags uneven spacing; the first matching rule wins and
// any sufficiently long series scores at least 0.4
func irregularIntervalScore(intervals []float64) float64 {
	if len(intervals) < 5 {
		return baselineAnomalyScore
	}

	if coefficientOfVariation(intervals) > 1.5 {
		return 0.6
	}

	lo, hi := intervals[0], intervals[0]
	for _, iv := range intervals[1:] {
		lo = math.Min(lo, iv)
		hi = math.Max(hi, iv)
	}
	if (lo == 0 && hi > 0) || (lo > 0 && hi/lo > 10) {
		return 0.5
	}

	var sudden int
	for i := 1; i < len(intervals); i++ {
		prev, cur := intervals[i-1], intervals[i]
		if prev == 0 {
			if cur > 0 {
				sudden++
			}
			continue
		}
		if r := cur / prev; r > 5 || r < 0.2 {
			sudden++
		}
	}
	if ratio(sudden, len(intervals)-1) > 0.3 {
		return 0.7
	}
	return irregularIntervalsMin
}

// mixedPatternScore blends participant skew, participation dispersion and repeated pairs
func mixedPatternScore(events []*entity.TransactionEvent) float64 {
	frequency := make(map[string]int)
	for _, e := range events {
		if e.From != "" {
			frequency[strings.ToLower(e.From)]++
		}
		if e.To != "" {
			frequency[strings.ToLower(e.To)]++
		}
	}
	if len(frequency) == 0 {
		return baselineAnomalyScore
	}

	counts := make([]float64, 0, len(frequency))
	var maxFreq int
	for _, c := range frequency {
		counts = append(counts, float64(c))
		maxFreq = max(maxFreq, c)
	}

	seen := make(map[[2]string]struct{})
	repeated := make(map[[2]string]struct{})
	for _, e := range events {
		if e.From == "" || e.To == "" {
			continue
		}
		key := [2]string{strings.ToLower(e.From), strings.ToLower(e.To)}
		if _, ok := seen[key]; ok {
			repeated[key] = struct{}{}
			continue
		}
		seen[key] = struct{}{}
	}

	score := baselineAnomalyScore
	if float64(maxFreq) > float64(len(events))*0.35 {
		score = math.Max(score, 0.4)
	}
	if coefficientOfVariation(counts) > 1.2 {
		score = math.Max(score, 0.5)
	}
	if ratio(len(repeated), max(1, len(seen))) > 0.25 {
		score = math.Max(score, 0.6)
	}
	return score
}

func maxOf(values ...float64) float64 {
	out := math.Inf(-1)
	for _, v := range values {
		out = math.Max(out, v)
	}
	return out
}
