package entity

import (
	"fmt"
	"strings"
	"time"
)

// Platform is the source system an identifier belongs to.
type Platform string

const (
	PlatformEmail     Platform = "email"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformDashboard Platform = "dashboard"
	PlatformInstagram Platform = "instagram"
)

// Platforms lists the supported platforms in display order.
var Platforms = []Platform{PlatformEmail, PlatformWhatsApp, PlatformDashboard, PlatformInstagram}

// ParsePlatform accepts a platform name case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported platform %q", s)
}

// ProfileStatus is the lifecycle state of a canonical profile.
type ProfileStatus string

const (
	StatusActive ProfileStatus = "active"
	// StatusMerged marks a profile absorbed into MergedInto; it owns no identities.
	StatusMerged ProfileStatus = "merged"
	// StatusUnderReview marks a provisional profile awaiting a candidate decision.
	StatusUnderReview ProfileStatus = "under_review"
)

// ParseProfileStatus validates a status filter.
func ParseProfileStatus(s string) (ProfileStatus, error) {
	switch st := ProfileStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusMerged, StatusUnderReview:
		return st, nil
	}
	return "", fmt.Errorf("unsupported profile status %q", s)
}

// Profile is a canonical person (row in `unified_profiles`).
type Profile struct {
	ID            string              `json:"id" db:"id"`
	CanonicalName string              `json:"canonical_name" db:"canonical_name"`
	Status        ProfileStatus       `json:"status" db:"status"`
	MergedInto    string              `json:"merged_into,omitempty" db:"merged_into"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
	Identities    []*PlatformIdentity `json:"identities" db:"-"`
}

// PlatformIdentity is one identifier on one platform (row in `platform_identities`).
// (Platform, Identifier) is unique across the store.
type PlatformIdentity struct {
	ID            string    `json:"id" db:"id"`
	ProfileID     string    `json:"profile_id" db:"profile_id"`
	Platform      Platform  `json:"platform" db:"platform"`
	RawIdentifier string    `json:"raw_identifier" db:"raw_identifier"`
	Identifier    string    `json:"identifier" db:"identifier"`
	DisplayName   string    `json:"display_name" db:"display_name"`
	Verified      bool      `json:"verified" db:"verified"`
	Confidence    float64   `json:"confidence_score" db:"confidence_score"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Key is the uniqueness key of an identity, also used as lock name.
func (i *PlatformIdentity) Key() string { return IdentityKey(i.Platform, i.Identifier) }

// IdentityKey formats the (platform, normalized identifier) uniqueness key.
func IdentityKey(p Platform, normalized string) string {
	return string(p) + ":" + normalized
}

// Names returns the canonical name followed by distinct identity display names.
func (p *Profile) Names() []string {
	out := make([]string, 0, len(p.Identities)+1)
	seen := map[string]bool{}
	add := func(n string) {
		k := strings.ToLower(strings.TrimSpace(n))
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, n)
	}
	add(p.CanonicalName)
	for _, id := range p.Identities {
		add(id.DisplayName)
	}
	return out
}

// Clone returns a deep copy, identities included.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Identities = make([]*PlatformIdentity, len(p.Identities))
	for i, id := range p.Identities {
		c := *id
		cp.Identities[i] = &c
	}
	return &cp
}
