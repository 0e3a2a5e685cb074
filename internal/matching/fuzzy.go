package matching

import (
	candidateentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
)

const (
	nameWeight       = 0.5
	identifierWeight = 0.35
	phoneticWeight   = 0.15
)

// FuzzyMatcher scores profiles by string similarity of names and loosely
// normalized identifiers. It is pure and deterministic.
type FuzzyMatcher struct {
	policy Policy
}

func NewFuzzyMatcher(policy Policy) *FuzzyMatcher {
	return &FuzzyMatcher{policy: policy}
}

// Match returns at most TopK profiles of pool scoring at least the noise
// floor. pool must be in creation order; it breaks ties.
func (m *FuzzyMatcher) Match(attrs Attributes, pool []*profileentity.Profile) []MatchResult {
	name := NormalizeName(attrs.DisplayName)
	key := phoneticKey(name)
	loose := make([]string, 0, len(attrs.Identifiers))
	for _, id := range attrs.Identifiers {
		if l := LooseIdentifier(id.Platform, id.Normalized); l != "" {
			loose = append(loose, l)
		}
	}

	var out []MatchResult
	for pos, p := range pool {
		score, ok := m.score(name, key, loose, p)
		if !ok {
			continue
		}
		score = m.policy.inferred(score)
		if score < m.policy.NoiseFloor {
			continue
		}
		out = append(out, MatchResult{
			ProfileID:   p.ID,
			ProfileName: p.CanonicalName,
			MatchType:   candidateentity.MatchFuzzy,
			Confidence:  score,
			pos:         pos,
		})
	}
	rank(out)
	if len(out) > m.policy.TopK {
		out = out[:m.policy.TopK]
	}
	return out
}

// score blends the signals the submission can supply, renormalizing the
// weights over them. ok is false when no signal applies.
func (m *FuzzyMatcher) score(name, key string, loose []string, p *profileentity.Profile) (float64, bool) {
	var total, weights float64

	if names := p.Names(); name != "" && len(names) > 0 {
		best, phonetic := 0.0, 0.0
		for _, n := range names {
			n = NormalizeName(n)
			if s := StringScore(name, n); s > best {
				best = s
			}
			if key != "" && phoneticKey(n) == key {
				phonetic = 1
			}
		}
		total += nameWeight*best + phoneticWeight*phonetic
		weights += nameWeight + phoneticWeight
	}

	if len(loose) > 0 && len(p.Identities) > 0 {
		best := 0.0
		for _, id := range p.Identities {
			stored := LooseIdentifier(id.Platform, id.Identifier)
			for _, l := range loose {
				if s := StringScore(l, stored); s > best {
					best = s
				}
			}
		}
		total += identifierWeight * best
		weights += identifierWeight
	}

	if weights == 0 {
		return 0, false
	}
	return total / weights, true
}
