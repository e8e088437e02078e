package entity

// ActivityStats summarises the sender's recent activity relative to the rule windows
type ActivityStats struct {
	WindowEvents         int `json:"window_events"`
	WindowCounterparties int `json:"window_counterparties"`
	BatchEvents          int `json:"batch_events"`
}

// PatternSignals carries the raw heuristics behind a pattern evaluation
type PatternSignals struct {
	FrequencyRisk float64       `json:"frequency_risk"`
	ValueRisk     float64       `json:"value_risk"`
	ContractRisk  float64       `json:"contract_risk"`
	MEVDetected   bool          `json:"mev_detected"`
	AnomalyScore  float64       `json:"anomaly_score"`
	HistorySize   int           `json:"history_size"`
	Activity      ActivityStats `json:"activity"`
}

// PatternResult is the output of the pattern risk evaluation
type PatternResult struct {
	Score      float64        `json:"score"`
	Factors    []string       `json:"factors"`
	Confidence float64        `json:"confidence"`
	Signals    PatternSignals `json:"signals"`
	Degraded   bool           `json:"degraded"`
}

// AddressAssessment is the association risk derived from sender and recipient profiles
type AddressAssessment struct {
	Score                float64  `json:"score"`
	Factors              []string `json:"factors"`
	Confidence           float64  `json:"confidence"`
	SenderKnown          bool     `json:"sender_known"`
	RecipientKnown       bool     `json:"recipient_known"`
	NewSender            bool     `json:"new_sender"`
	SenderBlacklisted    bool     `json:"sender_blacklisted"`
	RecipientBlacklisted bool     `json:"recipient_blacklisted"`
	MixerRecipient       bool     `json:"mixer_recipient"`
	RecipientRiskScore   float64  `json:"recipient_risk_score"`
	Degraded             bool     `json:"degraded"`
}

// RiskAssessment is the published record of one scored event
type RiskAssessment struct {
	TraceID         string     `json:"trace_id"`
	ChainID         int64      `json:"chain_id"`
	BlockNumber     int64      `json:"block_number"`
	TransactionHash string     `json:"transaction_hash"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Timestamp       int64      `json:"timestamp"`
	Risk            *RiskScore `json:"risk"`
}

// NewRiskAssessment binds a risk score to the event it was computed for
func NewRiskAssessment(event *TransactionEvent, risk *RiskScore) *RiskAssessment {
	return &RiskAssessment{
		TraceID:         event.TraceID,
		ChainID:         event.ChainID,
		BlockNumber:     event.BlockNumber,
		TransactionHash: event.TransactionHash,
		From:            event.From,
		To:              event.To,
		Timestamp:       event.Timestamp,
		Risk:            risk,
	}
}
