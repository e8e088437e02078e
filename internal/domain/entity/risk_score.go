package entity

// RiskLevel is the coarse classification of a risk score
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Level thresholds, inclusive lower bounds
const (
	CriticalThreshold = 0.9
	HighThreshold     = 0.7
	MediumThreshold   = 0.4
)

// LevelForScore maps a score onto the fixed level step function
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= CriticalThreshold:
		return RiskLevelCritical
	case score >= HighThreshold:
		return RiskLevelHigh
	case score >= MediumThreshold:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// Factor tags emitted by the scoring pipeline
const (
	FactorHighFrequencyTrading    = "high_frequency_trading"
	FactorUnusualValuePattern     = "unusual_value_pattern"
	FactorSuspiciousContractCalls = "suspicious_contract_interaction"
	FactorMEVActivity             = "mev_activity"
	FactorTimeSeriesAnomaly       = "time_series_anomaly"
	FactorPatternAnalysisFailed   = "pattern_analysis_failed"
	FactorNewAddress              = "new_address"
	FactorBlacklistedAddress      = "blacklisted_address"
	FactorUnknownSender           = "unknown_sender"
	FactorBlacklistedRecipient    = "blacklisted_recipient"
	FactorMixerInteraction        = "mixer_interaction"
	FactorUnknownRecipient        = "unknown_recipient"
	FactorAddressEvaluationFailed = "address_risk_evaluation_failed"
	FactorUnusualTimeActivity     = "unusual_time_activity"
	FactorAnalysisFailed          = "ai_analysis_failed"
)

// FactorSet is an insertion-ordered set of factor tags
type FactorSet struct {
	order []string
	seen  map[string]struct{}
}

// NewFactorSet creates a factor set seeded with the given tags
func NewFactorSet(tags ...string) *FactorSet {
	fs := &FactorSet{seen: make(map[string]struct{})}
	fs.Add(tags...)
	return fs
}

// Add appends tags that are not already present
func (f *FactorSet) Add(tags ...string) {
	for _, tag := range tags {
		if _, ok := f.seen[tag]; ok {
			continue
		}
		f.seen[tag] = struct{}{}
		f.order = append(f.order, tag)
	}
}

// Contains reports whether the tag is in the set
func (f *FactorSet) Contains(tag string) bool {
	_, ok := f.seen[tag]
	return ok
}

// Len returns the number of tags
func (f *FactorSet) Len() int {
	return len(f.order)
}

// List returns the tags in insertion order
func (f *FactorSet) List() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// DimensionScore is one row of the per-dimension breakdown
type DimensionScore struct {
	Dimension Dimension          `json:"dimension"`
	Weight    float64            `json:"weight"`
	Score     float64            `json:"score"`
	Factors   map[string]float64 `json:"factors"`
}

// RiskScore is the result of a full evaluation
type RiskScore struct {
	Score      float64          `json:"score"`
	Level      RiskLevel        `json:"level"`
	Factors    []string         `json:"factors"`
	Confidence float64          `json:"confidence"`
	Dimensions []DimensionScore `json:"dimensions,omitempty"`
}

// IsFallback reports whether the score is the fixed degraded result
func (r *RiskScore) IsFallback() bool {
	return len(r.Factors) == 1 && r.Factors[0] == FactorAnalysisFailed
}

// FallbackRiskScore returns the fixed result used when the evaluation could not complete
func FallbackRiskScore() *RiskScore {
	return &RiskScore{
		Score:      0.2,
		Level:      RiskLevelLow,
		Factors:    []string{FactorAnalysisFailed},
		Confidence: 0.3,
	}
}

// Clamp01 bounds a value to [0,1]; NaN maps to 0
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
