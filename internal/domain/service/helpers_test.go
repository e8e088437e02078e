package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"chain-risk-scorer/internal/domain/entity"
)

const (
	attacker = "0xa11ce00000000000000000000000000000000001"
	victim   = "0xb0b0000000000000000000000000000000000002"
	poolA    = "0xpool00000000000000000000000000000000000a"
	poolB    = "0xpool00000000000000000000000000000000000b"
)

type eventOption func(*entity.TransactionEvent)

func withValue(v string) eventOption {
	return func(e *entity.TransactionEvent) { e.Value = v }
}

func withMethod(m string) eventOption {
	return func(e *entity.TransactionEvent) { e.MethodName = m }
}

func withGasPrice(p string) eventOption {
	return func(e *entity.TransactionEvent) {
		if e.Metadata == nil {
			e.Metadata = map[string]string{}
		}
		e.Metadata[entity.MetadataGasPrice] = p
	}
}

func withType(t entity.EventType) eventOption {
	return func(e *entity.TransactionEvent) { e.Type = t }
}

func withHash(h string) eventOption {
	return func(e *entity.TransactionEvent) { e.TransactionHash = h }
}

func newEvent(from, to string, ts int64, opts ...eventOption) *entity.TransactionEvent {
	e := &entity.TransactionEvent{
		TraceID:         fmt.Sprintf("trace-%d", ts),
		ChainID:         1,
		BlockNumber:     ts / 12,
		TransactionHash: fmt.Sprintf("0xtx-%s-%d", from, ts),
		From:            from,
		To:              to,
		Value:           "1000000000000000000",
		Timestamp:       ts,
		Type:            entity.EventTypeTransfer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// stubEvents is an EventLookup returning fixed history
type stubEvents struct {
	mu     sync.Mutex
	events []*entity.TransactionEvent
	err    error
	calls  []string
	limits []int
}

func (s *stubEvents) LookupRecentEvents(_ context.Context, address string, limit int) ([]*entity.TransactionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, address)
	s.limits = append(s.limits, limit)
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

// stubProfiles is a ProfileLookup keyed by lowercase address
type stubProfiles struct {
	profiles map[string]*entity.AddressProfile
	err      error
	failFor  string
}

func (s *stubProfiles) LookupAddressProfile(_ context.Context, address string) (*entity.AddressProfile, error) {
	if s.err != nil && (s.failFor == "" || strings.EqualFold(s.failFor, address)) {
		return nil, s.err
	}
	if s.profiles == nil {
		return nil, nil
	}
	return s.profiles[strings.ToLower(address)], nil
}

// stubMEV is an MEVDetector with a fixed answer
type stubMEV struct{ detected bool }

func (s stubMEV) Detect(*entity.TransactionEvent, []*entity.TransactionEvent) bool { return s.detected }

// stubAnomaly is an AnomalyScorer with a fixed answer
type stubAnomaly struct{ score float64 }

func (s stubAnomaly) Score([]*entity.TransactionEvent) float64 { return s.score }
