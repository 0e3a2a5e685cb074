// Package store defines the persistence boundary for profiles, platform
// identities and match candidates.
package store

import (
	"context"
	"errors"
	"time"

	candidateentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateIdentity reports a (platform, identifier) pair that is already owned by a profile.
	ErrDuplicateIdentity = errors.New("identity already exists")
	// ErrTransient marks contention failures (serialization, deadlock) that may succeed on retry.
	ErrTransient = errors.New("transient storage failure")
)

// IsRetryable reports whether a transaction failed for a reason worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrDuplicateIdentity)
}

// Stats holds aggregate counts for the dashboard.
type Stats struct {
	TotalProfiles   int64 `json:"total_profiles" db:"total_profiles"`
	TotalIdentities int64 `json:"total_identities" db:"total_identities"`
	PendingReviews  int64 `json:"pending_reviews" db:"pending_reviews"`
}

// Reader is the read surface shared by the store and its transactions.
type Reader interface {
	// FindIdentity returns ErrNotFound when no identity has the key.
	FindIdentity(ctx context.Context, platform profileentity.Platform, normalized string) (*profileentity.PlatformIdentity, error)
	GetProfile(ctx context.Context, id string) (*profileentity.Profile, error)
	// ListProfiles returns profiles with their identities in creation order.
	// An empty status lists every profile.
	ListProfiles(ctx context.Context, status profileentity.ProfileStatus) ([]*profileentity.Profile, error)
	ListIdentities(ctx context.Context) ([]*profileentity.PlatformIdentity, error)
	GetCandidate(ctx context.Context, id string) (*candidateentity.MatchCandidate, error)
	// ListCandidates returns candidates with the status, newest first.
	ListCandidates(ctx context.Context, status candidateentity.ReviewStatus) ([]*candidateentity.MatchCandidate, error)
	Stats(ctx context.Context) (Stats, error)
}

// Tx is a unit of work. Writes become visible only when the transaction commits.
type Tx interface {
	Reader

	// LockKeys serializes concurrent transactions touching the same identity keys.
	LockKeys(ctx context.Context, keys ...string) error
	CreateProfile(ctx context.Context, p *profileentity.Profile) error
	SetProfileStatus(ctx context.Context, id string, status profileentity.ProfileStatus, mergedInto string) error
	// CreateIdentity returns ErrDuplicateIdentity when the key is taken.
	CreateIdentity(ctx context.Context, i *profileentity.PlatformIdentity) error
	// ReparentIdentities moves every identity of from onto to and returns how many moved.
	ReparentIdentities(ctx context.Context, from, to string, confidence float64, verified bool) (int64, error)
	CreateCandidate(ctx context.Context, c *candidateentity.MatchCandidate) error
	// LockCandidate loads a candidate and holds it until the transaction ends.
	LockCandidate(ctx context.Context, id string) (*candidateentity.MatchCandidate, error)
	ResolveCandidate(ctx context.Context, id string, status candidateentity.ReviewStatus, reviewer string, at time.Time) error
}

// Store is the shared persistence for the engine.
type Store interface {
	Reader
	// WithinTx runs fn in a transaction, committing when fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// LiveProfile follows merged_into links until it reaches a profile that was
// not absorbed by another one.
func LiveProfile(ctx context.Context, r Reader, id string) (*profileentity.Profile, error) {
	const maxHops = 8
	for range maxHops {
		p, err := r.GetProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.Status != profileentity.StatusMerged || p.MergedInto == "" {
			return p, nil
		}
		id = p.MergedInto
	}
	return nil, errors.New("merge chain too long")
}
