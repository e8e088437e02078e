package repository

import (
	"context"
	"time"

	"chain-risk-scorer/internal/domain/entity"
)

// ProfileLookup is the read-only view of address profiles used during scoring
type ProfileLookup interface {
	// LookupAddressProfile returns the profile for address, or nil when the address is unknown
	LookupAddressProfile(ctx context.Context, address string) (*entity.AddressProfile, error)
}

// ProfileRepository defines the interface for address profile maintenance
type ProfileRepository interface {
	ProfileLookup

	// RecordActivity creates the profile if needed and bumps its activity counters
	RecordActivity(ctx context.Context, address string, seenAt time.Time) error

	// UpdateRiskScore stores the latest risk score computed for address
	UpdateRiskScore(ctx context.Context, address string, score float64, level entity.RiskLevel) error

	// AddTag attaches a tag such as blacklist or mixer to address
	AddTag(ctx context.Context, address, tag string) error
}
