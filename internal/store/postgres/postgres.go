// Package postgres implements store.Store on PostgreSQL via sqlx and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	candidateentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
	candidaterepo "github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/repo"
	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
	profilerepo "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store"
)

// Store is the production store.
type Store struct {
	reader
	db     *sqlx.DB
	logger *zap.SugaredLogger
}

var _ store.Store = (*Store)(nil)

func New(db *sqlx.DB, logger *zap.SugaredLogger) *Store {
	return &Store{
		reader: newReader(db),
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the tables in dependency order.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.profiles.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure profile tables: %w", err)
	}
	if err := s.candidates.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure candidate table: %w", err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warnw("rollback failed", "err", rbErr)
		}
	}()

	if err = fn(ctx, &pgTx{reader: newReader(sqlTx), tx: sqlTx}); err != nil {
		return mapErr(err)
	}
	if err = sqlTx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

type reader struct {
	profiles   *profilerepo.ProfileRepo
	candidates *candidaterepo.CandidateRepo
}

func newReader(db sqlx.ExtContext) reader {
	return reader{
		profiles:   profilerepo.NewProfileRepo(db),
		candidates: candidaterepo.NewCandidateRepo(db),
	}
}

func (r reader) FindIdentity(ctx context.Context, p profileentity.Platform, normalized string) (*profileentity.PlatformIdentity, error) {
	i, err := r.profiles.FindIdentity(ctx, p, normalized)
	return i, mapErr(err)
}

func (r reader) GetProfile(ctx context.Context, id string) (*profileentity.Profile, error) {
	p, err := r.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	ids, err := r.profiles.IdentitiesByProfile(ctx, []string{p.ID})
	if err != nil {
		return nil, mapErr(err)
	}
	p.Identities = nonNil(ids[p.ID])
	return p, nil
}

func (r reader) ListProfiles(ctx context.Context, status profileentity.ProfileStatus) ([]*profileentity.Profile, error) {
	profiles, err := r.profiles.List(ctx, status)
	if err != nil {
		return nil, mapErr(err)
	}
	ids := make([]string, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ID
	}
	byProfile, err := r.profiles.IdentitiesByProfile(ctx, ids)
	if err != nil {
		return nil, mapErr(err)
	}
	for _, p := range profiles {
		p.Identities = nonNil(byProfile[p.ID])
	}
	return profiles, nil
}

func (r reader) ListIdentities(ctx context.Context) ([]*profileentity.PlatformIdentity, error) {
	ids, err := r.profiles.ListIdentities(ctx)
	return nonNil(ids), mapErr(err)
}

func (r reader) GetCandidate(ctx context.Context, id string) (*candidateentity.MatchCandidate, error) {
	c, err := r.candidates.GetByID(ctx, id)
	return c, mapErr(err)
}

func (r reader) ListCandidates(ctx context.Context, status candidateentity.ReviewStatus) ([]*candidateentity.MatchCandidate, error) {
	cs, err := r.candidates.ListByStatus(ctx, status)
	return cs, mapErr(err)
}

func (r reader) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	var err error
	if st.TotalProfiles, err = r.profiles.CountByStatus(ctx, profileentity.StatusActive); err != nil {
		return st, mapErr(err)
	}
	if st.TotalIdentities, err = r.profiles.CountIdentities(ctx); err != nil {
		return st, mapErr(err)
	}
	if st.PendingReviews, err = r.candidates.CountByStatus(ctx, candidateentity.ReviewPending); err != nil {
		return st, mapErr(err)
	}
	return st, nil
}

type pgTx struct {
	reader
	tx *sqlx.Tx
}

// LockKeys takes transaction-scoped advisory locks in sorted order so two
// transactions never wait on each other in opposite order.
func (t *pgTx) LockKeys(ctx context.Context, keys ...string) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for i, k := range sorted {
		if i > 0 && sorted[i-1] == k {
			continue
		}
		if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, k); err != nil {
			return mapErr(fmt.Errorf("lock %s: %w", k, err))
		}
	}
	return nil
}

func (t *pgTx) CreateProfile(ctx context.Context, p *profileentity.Profile) error {
	if p.Status == "" {
		p.Status = profileentity.StatusActive
	}
	return mapErr(t.profiles.Create(ctx, p))
}

func (t *pgTx) SetProfileStatus(ctx context.Context, id string, status profileentity.ProfileStatus, mergedInto string) error {
	n, err := t.profiles.SetStatus(ctx, id, status, mergedInto)
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) CreateIdentity(ctx context.Context, i *profileentity.PlatformIdentity) error {
	return mapErr(t.profiles.CreateIdentity(ctx, i))
}

func (t *pgTx) ReparentIdentities(ctx context.Context, from, to string, confidence float64, verified bool) (int64, error) {
	n, err := t.profiles.Reparent(ctx, from, to, confidence, verified, time.Now().UTC())
	return n, mapErr(err)
}

func (t *pgTx) CreateCandidate(ctx context.Context, c *candidateentity.MatchCandidate) error {
	return mapErr(t.candidates.Create(ctx, c))
}

func (t *pgTx) LockCandidate(ctx context.Context, id string) (*candidateentity.MatchCandidate, error) {
	c, err := t.candidates.GetForUpdate(ctx, id)
	return c, mapErr(err)
}

func (t *pgTx) ResolveCandidate(ctx context.Context, id string, status candidateentity.ReviewStatus, reviewer string, at time.Time) error {
	n, err := t.candidates.Resolve(ctx, id, status, reviewer, at)
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapErr translates driver errors into the store taxonomy, keeping the cause.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %w", store.ErrDuplicateIdentity, err)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %w", store.ErrTransient, err)
		}
	}
	return err
}

func nonNil[T any](s []*T) []*T {
	if s == nil {
		return []*T{}
	}
	return s
}
