package service

import (
	"sort"
	"strings"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/infrastructure/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MEVCheck names one of the detector's checks
type MEVCheck string

const (
	CheckKnownBot        MEVCheck = "known_bot"
	CheckMethodSignature MEVCheck = "method_signature"
	CheckSandwich        MEVCheck = "sandwich"
	CheckRepeatTarget    MEVCheck = "repeat_target"
	CheckHighFrequency   MEVCheck = "high_frequency"
	CheckHighGasPrice    MEVCheck = "high_gas_price"
)

const (
	sandwichMaxGap          int64 = 30
	sandwichFallbackWindow  int64 = 60
	highFrequencyMinEvents        = 4
	highFrequencyMaxSpan    int64 = 60
	gasPriceMultiplier            = 3.0
	gasPriceAbsoluteCeiling       = 200.0
)

var sandwichVictimShare = decimal.NewFromFloat(0.5)

// MEVDetector decides whether an event looks like MEV extraction
type MEVDetector interface {
	// Detect returns true when any check matches; check failures count as no match
	Detect(event *entity.TransactionEvent, recent []*entity.TransactionEvent) bool
}

// CheckOutcome is the result of running one check
type CheckOutcome struct {
	Check   MEVCheck
	Matched bool
	Err     error
}

// DetectionReport records how a detection decision was reached
type DetectionReport struct {
	Detected     bool
	MatchedCheck MEVCheck
	Outcomes     []CheckOutcome
}

// Failed returns the outcomes whose check errored
func (r DetectionReport) Failed() []CheckOutcome {
	var failed []CheckOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// MevPatternDetector runs the ordered MEV checks
type MevPatternDetector struct {
	knownBots        map[string]struct{}
	methodSignatures []string
	logger           *logger.Logger
}

// NewMevPatternDetector creates a detector from a bot deny-list and method substrings
func NewMevPatternDetector(knownBots, methodSignatures []string, logger *logger.Logger) *MevPatternDetector {
	bots := make(map[string]struct{}, len(knownBots))
	for _, addr := range knownBots {
		bots[strings.ToLower(strings.TrimSpace(addr))] = struct{}{}
	}
	sigs := make([]string, 0, len(methodSignatures))
	for _, sig := range methodSignatures {
		if sig = strings.ToLower(strings.TrimSpace(sig)); sig != "" {
			sigs = append(sigs, sig)
		}
	}
	return &MevPatternDetector{
		knownBots:        bots,
		methodSignatures: sigs,
		logger:           logger.WithComponent("mev-detector"),
	}
}

// Detect implements MEVDetector
func (d *MevPatternDetector) Detect(event *entity.TransactionEvent, recent []*entity.TransactionEvent) bool {
	return d.Inspect(event, recent).Detected
}

// Inspect runs the checks in order, stopping at the first match
func (d *MevPatternDetector) Inspect(event *entity.TransactionEvent, recent []*entity.TransactionEvent) DetectionReport {
	checks := []struct {
		name MEVCheck
		run  func(*entity.TransactionEvent, []*entity.TransactionEvent) (bool, error)
	}{
		{CheckKnownBot, d.checkKnownBot},
		{CheckMethodSignature, d.checkMethodSignature},
		{CheckSandwich, d.checkSandwich},
		{CheckRepeatTarget, d.checkRepeatTarget},
		{CheckHighFrequency, d.checkHighFrequency},
		{CheckHighGasPrice, d.checkHighGasPrice},
	}

	var report DetectionReport
	for _, c := range checks {
		matched, err := guard(func() (bool, error) { return c.run(event, recent) })
		report.Outcomes = append(report.Outcomes, CheckOutcome{Check: c.name, Matched: matched && err == nil, Err: err})

		if err != nil {
			d.logger.Warn("MEV check failed",
				zap.String("trace_id", traceID(event)),
				zap.String("check", string(c.name)),
				zap.Error(err))
			continue
		}
		if matched {
			report.Detected = true
			report.MatchedCheck = c.name
			d.logger.Info("MEV pattern detected",
				zap.String("trace_id", event.TraceID),
				zap.String("check", string(c.name)),
				zap.String("from", event.From))
			return report
		}
	}
	return report
}

func (d *MevPatternDetector) checkKnownBot(event *entity.TransactionEvent, _ []*entity.TransactionEvent) (bool, error) {
	_, ok := d.knownBots[strings.ToLower(event.From)]
	return ok, nil
}

func (d *MevPatternDetector) checkMethodSignature(event *entity.TransactionEvent, _ []*entity.TransactionEvent) (bool, error) {
	if event.MethodName == "" {
		return false, nil
	}
	method := strings.ToLower(event.MethodName)
	for _, sig := range d.methodSignatures {
		if strings.Contains(method, sig) {
			return true, nil
		}
	}
	return false, nil
}

// checkSandwich looks for attacker buy, victim, attacker sell around one pool
func (d *MevPatternDetector) checkSandwich(event *entity.TransactionEvent, recent []*entity.TransactionEvent) (bool, error) {
	if len(recent) < 2 {
		return false, nil
	}

	for i := 0; i < len(recent)-1; i++ {
		buy, victim := recent[i], recent[i+1]
		if buy == nil || victim == nil {
			continue
		}
		if victim.Timestamp-buy.Timestamp > sandwichMaxGap || event.Timestamp-victim.Timestamp > sandwichMaxGap {
			continue
		}
		if !entity.SameAddress(buy.To, victim.To) || !entity.SameAddress(victim.To, event.To) {
			continue
		}
		if !entity.SameAddress(buy.From, event.From) || entity.SameAddress(buy.From, victim.From) {
			continue
		}
		if buy.MethodName != "" && victim.MethodName != "" && event.MethodName != "" && !isBuySellShape(buy.MethodName, event.MethodName) {
			continue
		}
		if attackerOutweighsVictim(buy, victim, event) {
			return true, nil
		}
	}
	return false, nil
}

// checkRepeatTarget is the broad tail of the sandwich check: the sender hit the
// same target within the last minute, whether or not a victim sits between.
// Every prior is scanned, so window order does not matter.
func (d *MevPatternDetector) checkRepeatTarget(event *entity.TransactionEvent, recent []*entity.TransactionEvent) (bool, error) {
	if len(recent) < 2 {
		return false, nil
	}
	for _, prior := range recent {
		if prior == nil || !entity.SameAddress(prior.From, event.From) || !entity.SameAddress(prior.To, event.To) {
			continue
		}
		if gap := event.Timestamp - prior.Timestamp; gap >= 0 && gap < sandwichFallbackWindow {
			return true, nil
		}
	}
	return false, nil
}

func isBuySellShape(buyMethod, sellMethod string) bool {
	buyMethod = strings.ToLower(buyMethod)
	sellMethod = strings.ToLower(sellMethod)
	return (strings.Contains(buyMethod, "swap") || strings.Contains(buyMethod, "buy")) &&
		(strings.Contains(sellMethod, "swap") || strings.Contains(sellMethod, "sell"))
}

// attackerOutweighsVictim reports whether the buy or sell leg exceeds half the victim's value.
// Missing or unparsable values never match.
func attackerOutweighsVictim(buy, victim, sell *entity.TransactionEvent) bool {
	buyValue, err := parseAmount(buy.Value)
	if err != nil {
		return false
	}
	victimValue, err := parseAmount(victim.Value)
	if err != nil {
		return false
	}
	sellValue, err := parseAmount(sell.Value)
	if err != nil {
		return false
	}
	half := victimValue.Mul(sandwichVictimShare)
	return buyValue.GreaterThan(half) || sellValue.GreaterThan(half)
}

func (d *MevPatternDetector) checkHighFrequency(event *entity.TransactionEvent, recent []*entity.TransactionEvent) (bool, error) {
	timestamps := []int64{event.Timestamp}
	for _, e := range recent {
		if e != nil && entity.SameAddress(e.From, event.From) {
			timestamps = append(timestamps, e.Timestamp)
		}
	}
	if len(timestamps) < highFrequencyMinEvents {
		return false, nil
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)-1]-timestamps[0] <= highFrequencyMaxSpan, nil
}

func (d *MevPatternDetector) checkHighGasPrice(event *entity.TransactionEvent, recent []*entity.TransactionEvent) (bool, error) {
	if len(recent) == 0 {
		return false, nil
	}
	current, ok := gasPrice(event)
	if !ok || current <= 0 {
		return false, nil
	}

	var prices []float64
	for _, e := range recent {
		if e == nil {
			continue
		}
		if p, ok := gasPrice(e); ok && p > 0 {
			prices = append(prices, p)
		}
	}
	if len(prices) == 0 {
		return false, nil
	}

	return current > mean(prices)*gasPriceMultiplier || current > gasPriceAbsoluteCeiling, nil
}

// gasPrice reads the gas price metadata; unparsable values are treated as absent
func gasPrice(event *entity.TransactionEvent) (float64, bool) {
	raw, ok := event.MetadataValue(entity.MetadataGasPrice)
	if !ok {
		return 0, false
	}
	d, err := parseAmount(raw)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

func traceID(event *entity.TransactionEvent) string {
	if event == nil {
		return ""
	}
	return event.TraceID
}
