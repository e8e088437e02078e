package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/domain/repository"
)

// Store keeps events and address profiles in process memory.
// It backs riskctl and runs of the scorer with Neo4J disabled.
type Store struct {
	mu       sync.RWMutex
	events   map[string][]*entity.TransactionEvent
	hashes   map[string]struct{}
	profiles map[string]*entity.AddressProfile
}

var (
	_ repository.EventRepository   = (*Store)(nil)
	_ repository.ProfileRepository = (*Store)(nil)
)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		events:   make(map[string][]*entity.TransactionEvent),
		hashes:   make(map[string]struct{}),
		profiles: make(map[string]*entity.AddressProfile),
	}
}

func key(address string) string {
	return strings.ToLower(address)
}

// SaveEvent stores a copy of event under its sender. Events already stored by hash are ignored.
func (s *Store) SaveEvent(_ context.Context, event *entity.TransactionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := key(event.TransactionHash)
	if _, ok := s.hashes[hash]; ok && hash != "" {
		return nil
	}
	s.hashes[hash] = struct{}{}

	sender := key(event.From)
	s.events[sender] = append(s.events[sender], cloneEvent(event))
	return nil
}

// LookupRecentEvents returns up to limit events sent by address, newest first
func (s *Store) LookupRecentEvents(_ context.Context, address string, limit int) ([]*entity.TransactionEvent, error) {
	s.mu.RLock()
	stored := s.events[key(address)]
	out := make([]*entity.TransactionEvent, 0, len(stored))
	for _, e := range stored {
		out = append(out, cloneEvent(e))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LookupAddressProfile returns a copy of the profile, or nil when the address is unknown
func (s *Store) LookupAddressProfile(_ context.Context, address string) (*entity.AddressProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[key(address)]
	if !ok {
		return nil, nil
	}
	return cloneProfile(p), nil
}

// PutProfile replaces the profile stored for its address
func (s *Store) PutProfile(profile *entity.AddressProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := cloneProfile(profile)
	p.Address = key(p.Address)
	s.profiles[p.Address] = p
}

// RecordActivity creates the profile if needed and widens its seen range
func (s *Store) RecordActivity(_ context.Context, address string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seenAt = seenAt.UTC()
	p := s.profileLocked(address)
	if p.FirstSeen.IsZero() || seenAt.Before(p.FirstSeen) {
		p.FirstSeen = seenAt
	}
	if seenAt.After(p.LastSeen) {
		p.LastSeen = seenAt
	}
	p.TransactionCount++
	return nil
}

// UpdateRiskScore stores the latest score for address
func (s *Store) UpdateRiskScore(_ context.Context, address string, score float64, _ entity.RiskLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profileLocked(address).RiskScore = score
	return nil
}

// AddTag attaches tag to address once
func (s *Store) AddTag(_ context.Context, address, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profileLocked(address)
	if !slices.Contains(p.Tags, tag) {
		p.Tags = append(p.Tags, tag)
	}
	return nil
}

func (s *Store) profileLocked(address string) *entity.AddressProfile {
	k := key(address)
	p, ok := s.profiles[k]
	if !ok {
		p = &entity.AddressProfile{Address: k, Tags: []string{}}
		s.profiles[k] = p
	}
	return p
}

func cloneEvent(e *entity.TransactionEvent) *entity.TransactionEvent {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneProfile(p *entity.AddressProfile) *entity.AddressProfile {
	c := *p
	c.Tags = slices.Clone(p.Tags)
	return &c
}
