package entity

import (
	"strings"
	"time"
)

// Tag markers recognised on address profiles
const (
	TagBlacklist = "blacklist"
	TagScam      = "scam"
	TagMixer     = "mixer"
)

// AddressProfile represents what is known about an address outside a single evaluation
type AddressProfile struct {
	Address          string    `json:"address"`
	RiskScore        float64   `json:"risk_score"`
	Tags             []string  `json:"tags"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	TransactionCount int64     `json:"transaction_count"`
}

// HasTagContaining reports whether any tag contains one of the markers, ignoring case
func (p *AddressProfile) HasTagContaining(markers ...string) bool {
	for _, tag := range p.Tags {
		lower := strings.ToLower(tag)
		for _, m := range markers {
			if strings.Contains(lower, m) {
				return true
			}
		}
	}
	return false
}

// IsBlacklisted reports whether the profile carries a blacklist or scam marker
func (p *AddressProfile) IsBlacklisted() bool {
	return p.HasTagContaining(TagBlacklist, TagScam)
}

// IsMixer reports whether the profile carries a mixer marker
func (p *AddressProfile) IsMixer() bool {
	return p.HasTagContaining(TagMixer)
}

// IsNewAt reports whether the address was first seen less than window before at.
// A profile without a first-seen time is never considered new.
func (p *AddressProfile) IsNewAt(at time.Time, window time.Duration) bool {
	if p.FirstSeen.IsZero() {
		return false
	}
	return at.Sub(p.FirstSeen) < window
}
