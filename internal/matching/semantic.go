package matching

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	candidateentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/llm"
	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
)

// Scorer judges one candidate/profile pair. llm.OllamaScorer and
// llm.CachedScorer implement it; tests use stubs.
type Scorer interface {
	ScoreCandidate(ctx context.Context, p llm.Payload) (llm.Verdict, error)
}

type SemanticConfig struct {
	Timeout     time.Duration
	Concurrency int
}

// SemanticMatcher asks a Scorer about each shortlisted profile in parallel.
// Failures contribute nothing.
type SemanticMatcher struct {
	scorer Scorer
	cfg    SemanticConfig
	policy Policy
	logger *zap.SugaredLogger
}

func NewSemanticMatcher(scorer Scorer, cfg SemanticConfig, policy Policy, logger *zap.SugaredLogger) *SemanticMatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &SemanticMatcher{scorer: scorer, cfg: cfg, policy: policy, logger: logger}
}

// Match returns the shortlisted profiles the model considers a match, in
// shortlist order. It returns within the configured timeout.
func (m *SemanticMatcher) Match(ctx context.Context, attrs Attributes, shortlist []*profileentity.Profile) []MatchResult {
	if m == nil || m.scorer == nil || len(shortlist) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	candidate := candidateParty(attrs)
	results := make([]*MatchResult, len(shortlist))
	var failed atomic.Int32

	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for i, p := range shortlist {
		g.Go(func() error {
			if ctx.Err() != nil {
				failed.Add(1)
				return nil
			}
			v, err := m.scorer.ScoreCandidate(ctx, llm.Payload{Candidate: candidate, Profile: profileParty(p)})
			if err != nil {
				failed.Add(1)
				m.logger.Warnw("semantic scoring failed", "profile_id", p.ID, "err", err)
				return nil
			}
			if !v.IsMatch || math.IsNaN(v.Confidence) {
				return nil
			}
			results[i] = &MatchResult{
				ProfileID:   p.ID,
				ProfileName: p.CanonicalName,
				MatchType:   candidateentity.MatchLLM,
				Confidence:  m.policy.inferred(v.Confidence),
				Reasoning:   v.Reasoning,
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := int(failed.Load()); n == len(shortlist) {
		m.logger.Warnw("semantic phase contributed nothing",
			"err", fmt.Errorf("%w: %d of %d calls failed", ErrExternalMatcherUnavailable, n, len(shortlist)))
	}

	var out []MatchResult
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func candidateParty(attrs Attributes) llm.Party {
	p := llm.Party{Identifiers: make([]llm.Attribute, 0, len(attrs.Identifiers))}
	if n := NormalizeName(attrs.DisplayName); n != "" {
		p.Names = []string{n}
	}
	for _, id := range attrs.Identifiers {
		p.Identifiers = append(p.Identifiers, llm.Attribute{Platform: string(id.Platform), Value: id.Normalized})
	}
	return p
}

func profileParty(profile *profileentity.Profile) llm.Party {
	p := llm.Party{Names: profile.Names(), Identifiers: make([]llm.Attribute, 0, len(profile.Identities))}
	for _, id := range profile.Identities {
		p.Identifiers = append(p.Identifiers, llm.Attribute{Platform: string(id.Platform), Value: id.Identifier})
	}
	return p
}
