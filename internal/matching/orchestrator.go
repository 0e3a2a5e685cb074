package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	candidateentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

// Mode selects between a read-only query and the identity-add flow.
type Mode int

const (
	ModeQuery Mode = iota
	ModeAddIdentity
)

type Request struct {
	Identifiers map[profileentity.Platform]string
	DisplayName string
	// AutoMatch false limits the add flow to exact lookups.
	AutoMatch bool
	Mode      Mode
}

// Decision is the outcome of Resolve.
type Decision struct {
	Action Action
	// Matches holds the ranked matches at or above the review threshold.
	Matches []MatchResult
	// Profile owns the submitted identities after an add, or is the exact
	// match of a query. For a conflict it is the earliest created profile.
	Profile    *profileentity.Profile
	Candidates []*candidateentity.MatchCandidate
	// Identities lists the identities created by this call.
	Identities []*profileentity.PlatformIdentity
	NewProfile bool
	Conflict   bool
	// Written reports whether the call changed the store.
	Written bool
}

// Best returns the top match or nil.
func (d *Decision) Best() *MatchResult {
	if len(d.Matches) == 0 {
		return nil
	}
	return &d.Matches[0]
}

// Candidate returns the first candidate created, or nil.
func (d *Decision) Candidate() *candidateentity.MatchCandidate {
	if len(d.Candidates) == 0 {
		return nil
	}
	return d.Candidates[0]
}

type Config struct {
	Policy       Policy
	WriteTimeout time.Duration
	TxAttempts   uint
}

// Orchestrator runs the matcher chain and applies the policy.
type Orchestrator struct {
	store      store.Store
	normalizer *Normalizer
	exact      *DeterministicMatcher
	fuzzy      *FuzzyMatcher
	semantic   *SemanticMatcher
	cfg        Config
	locks      *keyLock
	flight     singleflight.Group
	logger     *zap.SugaredLogger

	newProfileID   func() string
	newCandidateID func() string
}

// NewOrchestrator wires the chain. semantic may be nil to disable the LLM phase.
func NewOrchestrator(st store.Store, normalizer *Normalizer, semantic *SemanticMatcher, cfg Config, logger *zap.SugaredLogger) *Orchestrator {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.TxAttempts == 0 {
		cfg.TxAttempts = 3
	}
	return &Orchestrator{
		store:          st,
		normalizer:     normalizer,
		exact:          NewDeterministicMatcher(st),
		fuzzy:          NewFuzzyMatcher(cfg.Policy),
		semantic:       semantic,
		cfg:            cfg,
		locks:          newKeyLock(),
		logger:         logger,
		newProfileID:   utilities.NewSnowflakeID,
		newCandidateID: utilities.NewKSUID,
	}
}

func (o *Orchestrator) Policy() Policy { return o.cfg.Policy }

// Resolve decides which profile the request's identifiers belong to.
// ModeAddIdentity persists the outcome in one transaction; concurrent
// identical requests share one outcome.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) (*Decision, error) {
	ids, err := o.normalizeAll(req.Identifiers)
	if err != nil {
		return nil, err
	}
	attrs := Attributes{Identifiers: ids, DisplayName: strings.TrimSpace(req.DisplayName)}

	if req.Mode == ModeQuery {
		return o.query(ctx, attrs)
	}

	v, err, shared := o.flight.Do(signature(attrs, req.AutoMatch), func() (any, error) {
		return o.add(ctx, attrs, req.AutoMatch)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		o.logger.Debugw("shared resolution outcome", "identifiers", keysOf(ids))
	}
	return v.(*Decision), nil
}

func (o *Orchestrator) normalizeAll(raw map[profileentity.Platform]string) ([]Identifier, error) {
	platforms := make([]profileentity.Platform, 0, len(raw))
	for p := range raw {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platformOrder(platforms[i]) < platformOrder(platforms[j]) })

	var ids []Identifier
	var errs []error
	for _, p := range platforms {
		n, err := o.normalizer.Normalize(p, raw[p])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids = append(ids, Identifier{Platform: p, Raw: strings.TrimSpace(raw[p]), Normalized: n})
	}
	if len(ids) == 0 {
		return nil, errors.Join(append([]error{ErrNoValidIdentifiers}, errs...)...)
	}
	if len(errs) > 0 {
		o.logger.Debugw("ignoring invalid identifiers", "err", errors.Join(errs...))
	}
	return ids, nil
}

func platformOrder(p profileentity.Platform) string {
	for i, known := range profileentity.Platforms {
		if p == known {
			return strconv.Itoa(i)
		}
	}
	return "~" + string(p)
}

func (o *Orchestrator) query(ctx context.Context, attrs Attributes) (*Decision, error) {
	rctx, cancel := o.storeContext(ctx)
	defer cancel()

	hits, err := o.exact.collect(rctx, attrs.Identifiers)
	if err != nil {
		return nil, err
	}
	if len(hits.profiles) > 0 {
		return exactDecision(hits), nil
	}

	matches, err := o.infer(ctx, rctx, attrs)
	if err != nil {
		return nil, err
	}
	d := &Decision{Action: ActionNoMatch, Matches: matches}
	if best := d.Best(); best != nil {
		d.Action = o.cfg.Policy.Classify(best.Confidence)
		if d.Profile, err = o.store.GetProfile(rctx, best.ProfileID); err != nil {
			return nil, fmt.Errorf("load matched profile: %w", err)
		}
	}
	return d, nil
}

func exactDecision(hits *exactHits) *Decision {
	d := &Decision{Action: ActionAutoLinked, Profile: hits.profiles[0]}
	for _, p := range hits.profiles {
		d.Matches = append(d.Matches, *exactResult(p))
	}
	if len(hits.profiles) > 1 {
		d.Action = ActionCandidateCreated
		d.Conflict = true
	}
	return d
}

// storeContext detaches store access from the caller, so a caller deadline
// that cuts the semantic phase short still leaves the fuzzy result to decide.
func (o *Orchestrator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.WriteTimeout)
}

// infer runs the fuzzy matcher over active profiles and, when warranted, the
// semantic matcher over the shortlist. Results below the review threshold
// are dropped. The semantic phase runs under ctx, store reads under rctx.
func (o *Orchestrator) infer(ctx, rctx context.Context, attrs Attributes) ([]MatchResult, error) {
	pool, err := o.store.ListProfiles(rctx, profileentity.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active profiles: %w", err)
	}
	fuzzy := o.fuzzy.Match(attrs, pool)

	var semantic []MatchResult
	if o.semantic != nil && o.needsSemantic(attrs, fuzzy) {
		semantic = o.semantic.Match(ctx, attrs, o.shortlist(fuzzy, pool))
		pos := make(map[string]int, len(pool))
		for i, p := range pool {
			pos[p.ID] = i
		}
		for i := range semantic {
			semantic[i].pos = pos[semantic[i].ProfileID]
		}
	}

	var out []MatchResult
	for _, r := range mergeResults(fuzzy, semantic) {
		if r.Confidence >= o.cfg.Policy.ReviewThreshold {
			out = append(out, r)
		}
	}
	return out, nil
}

func (o *Orchestrator) needsSemantic(attrs Attributes, fuzzy []MatchResult) bool {
	if attrs.DisplayName != "" {
		return true
	}
	return len(fuzzy) >= 2 && fuzzy[0].Confidence-fuzzy[1].Confidence < o.cfg.Policy.AmbiguityMargin
}

// shortlist is the fuzzy top-K, or the whole pool when fuzzy found nothing
// and the pool is small.
func (o *Orchestrator) shortlist(fuzzy []MatchResult, pool []*profileentity.Profile) []*profileentity.Profile {
	if len(fuzzy) == 0 {
		if len(pool) <= o.cfg.Policy.TopK {
			return pool
		}
		return nil
	}
	byID := make(map[string]*profileentity.Profile, len(pool))
	for _, p := range pool {
		byID[p.ID] = p
	}
	out := make([]*profileentity.Profile, 0, len(fuzzy))
	for _, r := range fuzzy {
		out = append(out, byID[r.ProfileID])
	}
	return out
}

// plan is the write an add request needs.
type plan struct {
	action  Action
	matches []MatchResult
	// target receives the identities on a link, or is the proposed match of a
	// review candidate or conflict.
	target     *profileentity.Profile
	attach     []Identifier
	confidence float64
	// fresh is created by the plan: a new active or provisional profile.
	fresh     *profileentity.Profile
	conflicts []*profileentity.Profile
}

func (o *Orchestrator) add(ctx context.Context, attrs Attributes, autoMatch bool) (*Decision, error) {
	unlock := o.locks.Lock(keysOf(attrs.Identifiers)...)
	defer unlock()

	return store.Retry(context.WithoutCancel(ctx), o.cfg.TxAttempts, o.logger, func() (*Decision, error) {
		p, err := o.plan(ctx, attrs, autoMatch)
		if err != nil {
			return nil, err
		}
		return o.commit(ctx, attrs, p)
	})
}

func (o *Orchestrator) plan(ctx context.Context, attrs Attributes, autoMatch bool) (*plan, error) {
	rctx, cancel := o.storeContext(ctx)
	defer cancel()

	hits, err := o.exact.collect(rctx, attrs.Identifiers)
	if err != nil {
		return nil, err
	}
	switch {
	case len(hits.profiles) == 1:
		return &plan{
			action:     ActionAutoLinked,
			matches:    exactDecision(hits).Matches,
			target:     hits.profiles[0],
			attach:     hits.unmatched,
			confidence: 1.0,
		}, nil
	case len(hits.profiles) > 1:
		d := exactDecision(hits)
		return &plan{
			action:     d.Action,
			matches:    d.Matches,
			target:     hits.profiles[0],
			attach:     hits.unmatched,
			confidence: 1.0,
			conflicts:  hits.profiles[1:],
		}, nil
	case !autoMatch:
		return o.freshPlan(attrs, nil, profileentity.StatusActive), nil
	}

	matches, err := o.infer(ctx, rctx, attrs)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return o.freshPlan(attrs, nil, profileentity.StatusActive), nil
	}
	best := matches[0]
	target, err := o.store.GetProfile(rctx, best.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("load matched profile: %w", err)
	}
	switch o.cfg.Policy.Classify(best.Confidence) {
	case ActionAutoLinked:
		return &plan{
			action:     ActionAutoLinked,
			matches:    matches,
			target:     target,
			attach:     attrs.Identifiers,
			confidence: best.Confidence,
		}, nil
	case ActionCandidateCreated:
		p := o.freshPlan(attrs, matches, profileentity.StatusUnderReview)
		p.action = ActionCandidateCreated
		p.target = target
		return p, nil
	}
	return o.freshPlan(attrs, matches, profileentity.StatusActive), nil
}

func (o *Orchestrator) freshPlan(attrs Attributes, matches []MatchResult, status profileentity.ProfileStatus) *plan {
	return &plan{
		action:     ActionNoMatch,
		matches:    matches,
		attach:     attrs.Identifiers,
		confidence: 1.0,
		fresh: &profileentity.Profile{
			ID:            o.newProfileID(),
			CanonicalName: canonicalName(attrs.DisplayName, attrs.Identifiers),
			Status:        status,
		},
	}
}

// commit applies p in one transaction, detached from caller cancellation.
// An identifier claimed since planning fails the attempt with
// store.ErrDuplicateIdentity so the caller re-plans.
func (o *Orchestrator) commit(ctx context.Context, attrs Attributes, p *plan) (*Decision, error) {
	d := &Decision{
		Action:     p.action,
		Matches:    p.matches,
		Profile:    p.target,
		NewProfile: p.fresh != nil,
		Conflict:   len(p.conflicts) > 0,
	}
	if p.fresh == nil && len(p.attach) == 0 && len(p.conflicts) == 0 {
		return d, nil
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.WriteTimeout)
	defer cancel()

	var created []*profileentity.PlatformIdentity
	var candidates []*candidateentity.MatchCandidate
	var owner *profileentity.Profile
	err := o.store.WithinTx(wctx, func(ctx context.Context, tx store.Tx) error {
		created, candidates, owner = nil, nil, nil
		if err := tx.LockKeys(ctx, keysOf(attrs.Identifiers)...); err != nil {
			return err
		}
		for _, id := range p.attach {
			_, err := tx.FindIdentity(ctx, id.Platform, id.Normalized)
			if err == nil {
				return fmt.Errorf("%s: %w", id.Key(), store.ErrDuplicateIdentity)
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		ownerID := ""
		switch {
		case p.fresh != nil:
			fresh := *p.fresh
			if err := tx.CreateProfile(ctx, &fresh); err != nil {
				return fmt.Errorf("create profile: %w", err)
			}
			ownerID = fresh.ID
		case len(p.attach) > 0:
			live, err := store.LiveProfile(ctx, tx, p.target.ID)
			if err != nil {
				return fmt.Errorf("load link target: %w", err)
			}
			ownerID = live.ID
		}

		for _, id := range p.attach {
			pi := &profileentity.PlatformIdentity{
				ID:            o.newProfileID(),
				ProfileID:     ownerID,
				Platform:      id.Platform,
				RawIdentifier: id.Raw,
				Identifier:    id.Normalized,
				DisplayName:   attrs.DisplayName,
				Confidence:    p.confidence,
			}
			if err := tx.CreateIdentity(ctx, pi); err != nil {
				return fmt.Errorf("attach %s: %w", id.Key(), err)
			}
			created = append(created, pi)
		}

		var err error
		if candidates, err = o.createCandidates(ctx, tx, attrs, p, ownerID); err != nil {
			return err
		}

		if ownerID == "" {
			ownerID = p.target.ID
		}
		owner, err = tx.GetProfile(ctx, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.Profile = owner
	d.Identities = created
	d.Candidates = candidates
	d.Written = d.NewProfile || len(created) > 0 || len(candidates) > 0
	o.logger.Infow("identity resolved",
		"action", d.Action,
		"profile_id", owner.ID,
		"new_profile", d.NewProfile,
		"identities", len(created),
		"candidates", len(candidates),
	)
	return d, nil
}

func (o *Orchestrator) createCandidates(ctx context.Context, tx store.Tx, attrs Attributes, p *plan, sourceID string) ([]*candidateentity.MatchCandidate, error) {
	subject := subjectOf(attrs)
	var out []*candidateentity.MatchCandidate

	if p.action == ActionCandidateCreated && len(p.conflicts) == 0 {
		best := p.matches[0]
		c := &candidateentity.MatchCandidate{
			ID:              o.newCandidateID(),
			Subject:         subject,
			SourceProfileID: sourceID,
			TargetProfileID: best.ProfileID,
			MatchType:       best.MatchType,
			Confidence:      best.Confidence,
			Reasoning:       best.Reasoning,
		}
		if err := tx.CreateCandidate(ctx, c); err != nil {
			return nil, fmt.Errorf("create candidate: %w", err)
		}
		return append(out, c), nil
	}

	if len(p.conflicts) == 0 {
		return nil, nil
	}
	pending, err := tx.ListCandidates(ctx, candidateentity.ReviewPending)
	if err != nil {
		return nil, err
	}
	open := map[string]bool{}
	for _, c := range pending {
		if c.MatchType == candidateentity.MatchDeterministicConflict && c.TargetProfileID == p.target.ID {
			open[c.SourceProfileID] = true
		}
	}
	for _, other := range p.conflicts {
		if open[other.ID] {
			continue
		}
		c := &candidateentity.MatchCandidate{
			ID:              o.newCandidateID(),
			Subject:         subject,
			SourceProfileID: other.ID,
			TargetProfileID: p.target.ID,
			MatchType:       candidateentity.MatchDeterministicConflict,
			Confidence:      1.0,
			Reasoning:       fmt.Sprintf("identifiers resolve exactly to profiles %s and %s", p.target.ID, other.ID),
		}
		if err := tx.CreateCandidate(ctx, c); err != nil {
			return nil, fmt.Errorf("create conflict candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func subjectOf(attrs Attributes) candidateentity.Subject {
	s := candidateentity.Subject{DisplayName: attrs.DisplayName}
	for _, id := range attrs.Identifiers {
		s.Identifiers = append(s.Identifiers, candidateentity.SubjectIdentifier{
			Platform:   id.Platform,
			Raw:        id.Raw,
			Normalized: id.Normalized,
		})
	}
	return s
}

func keysOf(ids []Identifier) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Key()
	}
	return out
}

func signature(attrs Attributes, autoMatch bool) string {
	keys := keysOf(attrs.Identifiers)
	sort.Strings(keys)
	return strings.Join(keys, ",") + "|" + NormalizeName(attrs.DisplayName) + "|" + strconv.FormatBool(autoMatch)
}

func sortByCreation(ps []*profileentity.Profile) {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
