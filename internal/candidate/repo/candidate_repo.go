package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
)

// NOTE: match_candidates references unified_profiles, so the profile tables
// must exist before EnsureTable runs.

const candidateColumns = `id, source_profile_id, target_profile_id, match_type, confidence_score,
	reasoning, subject, status, reviewed_by, reviewed_at, created_at, updated_at`

type CandidateRepo struct {
	db sqlx.ExtContext
}

func NewCandidateRepo(db sqlx.ExtContext) *CandidateRepo { return &CandidateRepo{db: db} }

// candidateRow mirrors the table; subject is JSONB.
type candidateRow struct {
	ID              string     `db:"id"`
	SourceProfileID string     `db:"source_profile_id"`
	TargetProfileID string     `db:"target_profile_id"`
	MatchType       string     `db:"match_type"`
	Confidence      float64    `db:"confidence_score"`
	Reasoning       string     `db:"reasoning"`
	Subject         []byte     `db:"subject"`
	Status          string     `db:"status"`
	ReviewedBy      string     `db:"reviewed_by"`
	ReviewedAt      *time.Time `db:"reviewed_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (row candidateRow) toEntity() (*entity.MatchCandidate, error) {
	c := &entity.MatchCandidate{
		ID:              row.ID,
		SourceProfileID: row.SourceProfileID,
		TargetProfileID: row.TargetProfileID,
		MatchType:       entity.MatchType(row.MatchType),
		Confidence:      row.Confidence,
		Reasoning:       row.Reasoning,
		Status:          entity.ReviewStatus(row.Status),
		ReviewedBy:      row.ReviewedBy,
		ReviewedAt:      row.ReviewedAt,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if len(row.Subject) > 0 {
		if err := json.Unmarshal(row.Subject, &c.Subject); err != nil {
			return nil, fmt.Errorf("decode subject of candidate %s: %w", row.ID, err)
		}
	}
	return c, nil
}

// EnsureTable creates the match_candidates table if not exists.
func (r *CandidateRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS match_candidates (
  id varchar(32) PRIMARY KEY,
  source_profile_id varchar(32) NOT NULL DEFAULT '',
  target_profile_id varchar(32) NOT NULL REFERENCES unified_profiles(id),
  match_type varchar(32) NOT NULL,
  confidence_score DOUBLE PRECISION NOT NULL,
  reasoning TEXT NOT NULL DEFAULT '',
  subject JSONB NOT NULL DEFAULT '{}'::jsonb,
  status varchar(16) NOT NULL DEFAULT 'pending',
  reviewed_by TEXT NOT NULL DEFAULT '',
  reviewed_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_match_candidates_status ON match_candidates(status, created_at DESC);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a pending candidate.
func (r *CandidateRepo) Create(ctx context.Context, c *entity.MatchCandidate) error {
	subject, err := json.Marshal(c.Subject)
	if err != nil {
		return fmt.Errorf("encode subject: %w", err)
	}
	if c.Status == "" {
		c.Status = entity.ReviewPending
	}
	const q = `INSERT INTO match_candidates
		(id, source_profile_id, target_profile_id, match_type, confidence_score, reasoning, subject, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`
	return r.db.QueryRowxContext(ctx, q,
		c.ID, c.SourceProfileID, c.TargetProfileID, c.MatchType, c.Confidence, c.Reasoning, string(subject), c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

// GetByID returns a candidate or sql.ErrNoRows.
func (r *CandidateRepo) GetByID(ctx context.Context, id string) (*entity.MatchCandidate, error) {
	return r.get(ctx, `SELECT `+candidateColumns+` FROM match_candidates WHERE id=$1`, id)
}

// GetForUpdate row-locks the candidate until the surrounding transaction ends.
func (r *CandidateRepo) GetForUpdate(ctx context.Context, id string) (*entity.MatchCandidate, error) {
	return r.get(ctx, `SELECT `+candidateColumns+` FROM match_candidates WHERE id=$1 FOR UPDATE`, id)
}

func (r *CandidateRepo) get(ctx context.Context, q, id string) (*entity.MatchCandidate, error) {
	var row candidateRow
	if err := sqlx.GetContext(ctx, r.db, &row, q, id); err != nil {
		return nil, err
	}
	return row.toEntity()
}

// ListByStatus returns candidates with the status, newest first.
func (r *CandidateRepo) ListByStatus(ctx context.Context, status entity.ReviewStatus) ([]*entity.MatchCandidate, error) {
	q := `SELECT ` + candidateColumns + ` FROM match_candidates WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC, id DESC`
	var rows []candidateRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, string(status)); err != nil {
		return nil, err
	}
	out := make([]*entity.MatchCandidate, 0, len(rows))
	for _, row := range rows {
		c, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Resolve records the review outcome of a pending candidate; returns affected rows.
func (r *CandidateRepo) Resolve(ctx context.Context, id string, status entity.ReviewStatus, reviewer string, at time.Time) (int64, error) {
	const q = `UPDATE match_candidates SET status=$2, reviewed_by=$3, reviewed_at=$4, updated_at=$4
		WHERE id=$1 AND status='pending'`
	res, err := r.db.ExecContext(ctx, q, id, status, reviewer, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByStatus counts candidates with the status.
func (r *CandidateRepo) CountByStatus(ctx context.Context, status entity.ReviewStatus) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM match_candidates WHERE status=$1`, status)
	return n, err
}
