// Package memory is an in-process store used by tests and local runs.
// Transactions operate on a private copy of the data that replaces the
// shared state on commit, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	candidateentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store"
)

type state struct {
	profiles     map[string]*profileentity.Profile // identities not populated
	profileOrder []string
	identities   map[string]*profileentity.PlatformIdentity
	identityKeys map[string]string // key -> identity id
	idOrder      []string
	candidates   map[string]*candidateentity.MatchCandidate
	candOrder    []string
	now          func() time.Time
}

// Store keeps all records in maps guarded by a single RWMutex.
type Store struct {
	mu sync.RWMutex
	st *state
	// failCommit, when set, is returned instead of committing (tests).
	failCommit func() error
}

// New returns an empty store.
func New() *Store {
	return &Store{st: &state{
		profiles:     map[string]*profileentity.Profile{},
		identities:   map[string]*profileentity.PlatformIdentity{},
		identityKeys: map[string]string{},
		candidates:   map[string]*candidateentity.MatchCandidate{},
		now:          func() time.Time { return time.Now().UTC() },
	}}
}

// FailCommitWith makes subsequent commits fail with the error returned by fn
// (nil fn restores normal behaviour).
func (s *Store) FailCommitWith(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = fn
}

var _ store.Store = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	if s.failCommit != nil {
		if err := s.failCommit(); err != nil {
			return err
		}
	}
	s.st = work
	return nil
}

func (s *Store) FindIdentity(ctx context.Context, p profileentity.Platform, normalized string) (*profileentity.PlatformIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.findIdentity(p, normalized)
}

func (s *Store) GetProfile(ctx context.Context, id string) (*profileentity.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getProfile(id)
}

func (s *Store) ListProfiles(ctx context.Context, status profileentity.ProfileStatus) ([]*profileentity.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listProfiles(status), nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]*profileentity.PlatformIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listIdentities(), nil
}

func (s *Store) GetCandidate(ctx context.Context, id string) (*candidateentity.MatchCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getCandidate(id)
}

func (s *Store) ListCandidates(ctx context.Context, status candidateentity.ReviewStatus) ([]*candidateentity.MatchCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listCandidates(status), nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.stats(), nil
}

// tx is only reachable inside WithinTx, which holds the write lock.
type tx struct{ st *state }

func (t *tx) FindIdentity(ctx context.Context, p profileentity.Platform, normalized string) (*profileentity.PlatformIdentity, error) {
	return t.st.findIdentity(p, normalized)
}

func (t *tx) GetProfile(ctx context.Context, id string) (*profileentity.Profile, error) {
	return t.st.getProfile(id)
}

func (t *tx) ListProfiles(ctx context.Context, status profileentity.ProfileStatus) ([]*profileentity.Profile, error) {
	return t.st.listProfiles(status), nil
}

func (t *tx) ListIdentities(ctx context.Context) ([]*profileentity.PlatformIdentity, error) {
	return t.st.listIdentities(), nil
}

func (t *tx) GetCandidate(ctx context.Context, id string) (*candidateentity.MatchCandidate, error) {
	return t.st.getCandidate(id)
}

func (t *tx) ListCandidates(ctx context.Context, status candidateentity.ReviewStatus) ([]*candidateentity.MatchCandidate, error) {
	return t.st.listCandidates(status), nil
}

func (t *tx) Stats(ctx context.Context) (store.Stats, error) {
	return t.st.stats(), nil
}

// LockKeys is a no-op: the store write lock already serializes transactions.
func (t *tx) LockKeys(ctx context.Context, keys ...string) error { return nil }

func (t *tx) CreateProfile(ctx context.Context, p *profileentity.Profile) error {
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if _, ok := t.st.profiles[p.ID]; ok {
		return fmt.Errorf("profile %s already exists", p.ID)
	}
	now := t.st.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = profileentity.StatusActive
	}
	cp := p.Clone()
	cp.Identities = nil
	t.st.profiles[p.ID] = cp
	t.st.profileOrder = append(t.st.profileOrder, p.ID)
	return nil
}

func (t *tx) SetProfileStatus(ctx context.Context, id string, status profileentity.ProfileStatus, mergedInto string) error {
	p, ok := t.st.profiles[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	p.MergedInto = mergedInto
	p.UpdatedAt = t.st.now()
	return nil
}

func (t *tx) CreateIdentity(ctx context.Context, i *profileentity.PlatformIdentity) error {
	if _, ok := t.st.profiles[i.ProfileID]; !ok {
		return fmt.Errorf("profile %s: %w", i.ProfileID, store.ErrNotFound)
	}
	if _, taken := t.st.identityKeys[i.Key()]; taken {
		return fmt.Errorf("%s: %w", i.Key(), store.ErrDuplicateIdentity)
	}
	now := t.st.now()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now
	cp := *i
	t.st.identities[i.ID] = &cp
	t.st.identityKeys[i.Key()] = i.ID
	t.st.idOrder = append(t.st.idOrder, i.ID)
	return nil
}

func (t *tx) ReparentIdentities(ctx context.Context, from, to string, confidence float64, verified bool) (int64, error) {
	if _, ok := t.st.profiles[to]; !ok {
		return 0, fmt.Errorf("profile %s: %w", to, store.ErrNotFound)
	}
	var n int64
	now := t.st.now()
	for _, id := range t.st.idOrder {
		i := t.st.identities[id]
		if i.ProfileID != from {
			continue
		}
		i.ProfileID = to
		i.Confidence = confidence
		i.Verified = verified
		i.UpdatedAt = now
		n++
	}
	return n, nil
}

func (t *tx) CreateCandidate(ctx context.Context, c *candidateentity.MatchCandidate) error {
	if _, ok := t.st.candidates[c.ID]; ok {
		return fmt.Errorf("candidate %s already exists", c.ID)
	}
	now := t.st.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = candidateentity.ReviewPending
	}
	t.st.candidates[c.ID] = c.Clone()
	t.st.candOrder = append(t.st.candOrder, c.ID)
	return nil
}

func (t *tx) LockCandidate(ctx context.Context, id string) (*candidateentity.MatchCandidate, error) {
	return t.st.getCandidate(id)
}

func (t *tx) ResolveCandidate(ctx context.Context, id string, status candidateentity.ReviewStatus, reviewer string, at time.Time) error {
	c, ok := t.st.candidates[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	c.ReviewedBy = reviewer
	reviewedAt := at
	c.ReviewedAt = &reviewedAt
	c.UpdatedAt = at
	return nil
}

func (s *state) clone() *state {
	cp := &state{
		profiles:     make(map[string]*profileentity.Profile, len(s.profiles)),
		profileOrder: append([]string(nil), s.profileOrder...),
		identities:   make(map[string]*profileentity.PlatformIdentity, len(s.identities)),
		identityKeys: make(map[string]string, len(s.identityKeys)),
		idOrder:      append([]string(nil), s.idOrder...),
		candidates:   make(map[string]*candidateentity.MatchCandidate, len(s.candidates)),
		candOrder:    append([]string(nil), s.candOrder...),
		now:          s.now,
	}
	for k, v := range s.profiles {
		cp.profiles[k] = v.Clone()
	}
	for k, v := range s.identities {
		c := *v
		cp.identities[k] = &c
	}
	for k, v := range s.identityKeys {
		cp.identityKeys[k] = v
	}
	for k, v := range s.candidates {
		cp.candidates[k] = v.Clone()
	}
	return cp
}

func (s *state) findIdentity(p profileentity.Platform, normalized string) (*profileentity.PlatformIdentity, error) {
	id, ok := s.identityKeys[profileentity.IdentityKey(p, normalized)]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *s.identities[id]
	return &c, nil
}

func (s *state) getProfile(id string) (*profileentity.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.withIdentities(p), nil
}

func (s *state) withIdentities(p *profileentity.Profile) *profileentity.Profile {
	cp := p.Clone()
	cp.Identities = []*profileentity.PlatformIdentity{}
	for _, id := range s.idOrder {
		if i := s.identities[id]; i.ProfileID == p.ID {
			c := *i
			cp.Identities = append(cp.Identities, &c)
		}
	}
	return cp
}

func (s *state) listProfiles(status profileentity.ProfileStatus) []*profileentity.Profile {
	out := []*profileentity.Profile{}
	for _, id := range s.profileOrder {
		p := s.profiles[id]
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, s.withIdentities(p))
	}
	return out
}

func (s *state) listIdentities() []*profileentity.PlatformIdentity {
	out := make([]*profileentity.PlatformIdentity, 0, len(s.idOrder))
	for _, id := range s.idOrder {
		c := *s.identities[id]
		out = append(out, &c)
	}
	return out
}

func (s *state) getCandidate(id string) (*candidateentity.MatchCandidate, error) {
	c, ok := s.candidates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *state) listCandidates(status candidateentity.ReviewStatus) []*candidateentity.MatchCandidate {
	out := []*candidateentity.MatchCandidate{}
	for _, id := range s.candOrder {
		if c := s.candidates[id]; status == "" || c.Status == status {
			out = append(out, c.Clone())
		}
	}
	// newest first; candOrder is insertion order
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

func (s *state) stats() store.Stats {
	var st store.Stats
	for _, p := range s.profiles {
		if p.Status == profileentity.StatusActive {
			st.TotalProfiles++
		}
	}
	st.TotalIdentities = int64(len(s.identities))
	for _, c := range s.candidates {
		if c.Status == candidateentity.ReviewPending {
			st.PendingReviews++
		}
	}
	return st
}
