package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
)

const profileColumns = `id, canonical_name, status, merged_into, created_at, updated_at`

const identityColumns = `id, profile_id, platform, raw_identifier, identifier, display_name,
	verified, confidence_score, created_at, updated_at`

// ProfileRepo provides data access for unified_profiles and platform_identities.
// It runs against either the pool or an open transaction.
type ProfileRepo struct {
	db sqlx.ExtContext
}

func NewProfileRepo(db sqlx.ExtContext) *ProfileRepo { return &ProfileRepo{db: db} }

// EnsureTable creates the profile and identity tables if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *ProfileRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS unified_profiles (
  id varchar(32) PRIMARY KEY,
  canonical_name TEXT NOT NULL DEFAULT '',
  status varchar(16) NOT NULL DEFAULT 'active',
  merged_into varchar(32) NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_unified_profiles_status ON unified_profiles(status);
CREATE TABLE IF NOT EXISTS platform_identities (
  id varchar(32) PRIMARY KEY,
  profile_id varchar(32) NOT NULL REFERENCES unified_profiles(id),
  platform varchar(16) NOT NULL,
  raw_identifier TEXT NOT NULL,
  identifier TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  verified BOOLEAN NOT NULL DEFAULT false,
  confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CONSTRAINT uq_platform_identities_key UNIQUE (platform, identifier)
);
CREATE INDEX IF NOT EXISTS idx_platform_identities_profile ON platform_identities(profile_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a profile row and fills the server-side timestamps.
func (r *ProfileRepo) Create(ctx context.Context, p *entity.Profile) error {
	const q = `INSERT INTO unified_profiles (id, canonical_name, status, merged_into)
		VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`
	return r.db.QueryRowxContext(ctx, q, p.ID, p.CanonicalName, p.Status, p.MergedInto).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}

// GetByID returns the profile without identities or sql.ErrNoRows.
func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*entity.Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM unified_profiles WHERE id=$1`
	var p entity.Profile
	if err := sqlx.GetContext(ctx, r.db, &p, q, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns profiles in creation order; an empty status matches all.
func (r *ProfileRepo) List(ctx context.Context, status entity.ProfileStatus) ([]*entity.Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM unified_profiles WHERE ($1 = '' OR status = $1) ORDER BY created_at, id`
	var rows []*entity.Profile
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, string(status)); err != nil {
		return nil, err
	}
	return rows, nil
}

// SetStatus updates status and merge pointer; returns affected rows.
func (r *ProfileRepo) SetStatus(ctx context.Context, id string, status entity.ProfileStatus, mergedInto string) (int64, error) {
	const q = `UPDATE unified_profiles SET status=$2, merged_into=$3, updated_at=NOW() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, status, mergedInto)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByStatus counts profiles with the status.
func (r *ProfileRepo) CountByStatus(ctx context.Context, status entity.ProfileStatus) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM unified_profiles WHERE status=$1`, status)
	return n, err
}

// FindIdentity looks up the unique (platform, identifier) key or returns sql.ErrNoRows.
func (r *ProfileRepo) FindIdentity(ctx context.Context, platform entity.Platform, identifier string) (*entity.PlatformIdentity, error) {
	q := `SELECT ` + identityColumns + ` FROM platform_identities WHERE platform=$1 AND identifier=$2`
	var i entity.PlatformIdentity
	if err := sqlx.GetContext(ctx, r.db, &i, q, platform, identifier); err != nil {
		return nil, err
	}
	return &i, nil
}

// CreateIdentity inserts an identity; the unique constraint rejects duplicates.
func (r *ProfileRepo) CreateIdentity(ctx context.Context, i *entity.PlatformIdentity) error {
	const q = `INSERT INTO platform_identities
		(id, profile_id, platform, raw_identifier, identifier, display_name, verified, confidence_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`
	return r.db.QueryRowxContext(ctx, q,
		i.ID, i.ProfileID, i.Platform, i.RawIdentifier, i.Identifier, i.DisplayName, i.Verified, i.Confidence,
	).Scan(&i.CreatedAt, &i.UpdatedAt)
}

// IdentitiesByProfile loads identities for the given profiles, keyed by profile id.
func (r *ProfileRepo) IdentitiesByProfile(ctx context.Context, profileIDs []string) (map[string][]*entity.PlatformIdentity, error) {
	out := make(map[string][]*entity.PlatformIdentity, len(profileIDs))
	if len(profileIDs) == 0 {
		return out, nil
	}
	q := `SELECT ` + identityColumns + ` FROM platform_identities WHERE profile_id = ANY($1) ORDER BY created_at, id`
	var rows []*entity.PlatformIdentity
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, pq.Array(profileIDs)); err != nil {
		return nil, err
	}
	for _, i := range rows {
		out[i.ProfileID] = append(out[i.ProfileID], i)
	}
	return out, nil
}

// ListIdentities returns every identity in creation order.
func (r *ProfileRepo) ListIdentities(ctx context.Context) ([]*entity.PlatformIdentity, error) {
	q := `SELECT ` + identityColumns + ` FROM platform_identities ORDER BY created_at, id`
	var rows []*entity.PlatformIdentity
	if err := sqlx.SelectContext(ctx, r.db, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// CountIdentities counts all identities.
func (r *ProfileRepo) CountIdentities(ctx context.Context) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM platform_identities`)
	return n, err
}

// Reparent moves identities between profiles, stamping confidence and verification.
func (r *ProfileRepo) Reparent(ctx context.Context, from, to string, confidence float64, verified bool, at time.Time) (int64, error) {
	const q = `UPDATE platform_identities SET profile_id=$2, confidence_score=$3, verified=$4, updated_at=$5 WHERE profile_id=$1`
	res, err := r.db.ExecContext(ctx, q, from, to, confidence, verified, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
