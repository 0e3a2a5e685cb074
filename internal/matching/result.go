// Package matching resolves platform identifiers to canonical profiles with an
// escalating deterministic, fuzzy and semantic matcher chain.
package matching

import (
	"errors"
	"sort"

	candidateentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
)

var (
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrNoValidIdentifiers = errors.New("no valid identifiers")
	// ErrExternalMatcherUnavailable is logged when every semantic call failed;
	// it never reaches callers.
	ErrExternalMatcherUnavailable = errors.New("external matcher unavailable")
)

// Identifier is a submitted identifier after normalization.
type Identifier struct {
	Platform   profileentity.Platform
	Raw        string
	Normalized string
}

func (i Identifier) Key() string { return profileentity.IdentityKey(i.Platform, i.Normalized) }

// Attributes is what the fuzzy and semantic matchers know about a submission.
type Attributes struct {
	Identifiers []Identifier
	DisplayName string
}

// MatchResult is one scored profile. Reasoning is only set for llm matches.
type MatchResult struct {
	ProfileID   string                    `json:"profile_id"`
	ProfileName string                    `json:"profile_name"`
	MatchType   candidateentity.MatchType `json:"match_type"`
	Confidence  float64                   `json:"confidence"`
	Reasoning   string                    `json:"reasoning,omitempty"`

	// pos is the profile's place in the pool, used to break ties by creation order.
	pos int
}

// rank orders results by confidence, then pool position.
func rank(results []MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].pos < results[j].pos
	})
}

// mergeResults keeps the best score per profile. On equal scores the earlier
// list wins, so callers pass fuzzy results before semantic ones.
func mergeResults(lists ...[]MatchResult) []MatchResult {
	best := map[string]int{}
	var out []MatchResult
	for _, list := range lists {
		for _, r := range list {
			i, ok := best[r.ProfileID]
			if !ok {
				best[r.ProfileID] = len(out)
				out = append(out, r)
				continue
			}
			if r.Confidence > out[i].Confidence {
				out[i] = r
			}
		}
	}
	rank(out)
	return out
}
