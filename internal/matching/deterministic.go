package matching

import (
	"context"
	"errors"
	"fmt"

	candidateentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store"
)

// DeterministicMatcher looks identifiers up on the store's unique index.
type DeterministicMatcher struct {
	reader store.Reader
}

func NewDeterministicMatcher(r store.Reader) *DeterministicMatcher {
	return &DeterministicMatcher{reader: r}
}

// MatchExact returns nil, nil when no identity has the key. A hit carries
// confidence 1.0 and names the live profile, following merges.
func (m *DeterministicMatcher) MatchExact(ctx context.Context, id Identifier) (*MatchResult, error) {
	p, err := m.lookup(ctx, id)
	if err != nil || p == nil {
		return nil, err
	}
	return exactResult(p), nil
}

// lookup returns the live profile owning id, or nil.
func (m *DeterministicMatcher) lookup(ctx context.Context, id Identifier) (*profileentity.Profile, error) {
	hit, err := m.reader.FindIdentity(ctx, id.Platform, id.Normalized)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find identity %s: %w", id.Key(), err)
	}
	p, err := store.LiveProfile(ctx, m.reader, hit.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("load profile of %s: %w", id.Key(), err)
	}
	return p, nil
}

func exactResult(p *profileentity.Profile) *MatchResult {
	return &MatchResult{
		ProfileID:   p.ID,
		ProfileName: p.CanonicalName,
		MatchType:   candidateentity.MatchDeterministic,
		Confidence:  1.0,
	}
}

// exactHits groups deterministic hits by profile, earliest created first.
type exactHits struct {
	profiles  []*profileentity.Profile
	unmatched []Identifier
}

// collect looks up every identifier; the orchestrator plans from the result.
func (m *DeterministicMatcher) collect(ctx context.Context, ids []Identifier) (*exactHits, error) {
	h := &exactHits{}
	seen := map[string]bool{}
	for _, id := range ids {
		p, err := m.lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			h.unmatched = append(h.unmatched, id)
			continue
		}
		if !seen[p.ID] {
			seen[p.ID] = true
			h.profiles = append(h.profiles, p)
		}
	}
	sortByCreation(h.profiles)
	return h, nil
}
