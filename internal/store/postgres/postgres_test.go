package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store"
)

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock"), zaptest.NewLogger(t).Sugar()), mock
}

func TestMapErr(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"unique", &pq.Error{Code: "23505"}, store.ErrDuplicateIdentity},
		{"serialization", fmt.Errorf("commit: %w", &pq.Error{Code: "40001"}), store.ErrTransient},
		{"deadlock", &pq.Error{Code: "40P01"}, store.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapErr(tc.in)
			assert.ErrorIs(t, got, tc.want)
			assert.ErrorIs(t, got, tc.in)
		})
	}

	other := errors.New("boom")
	assert.Same(t, other, mapErr(other))
	assert.NoError(t, mapErr(nil))
}

func TestWithinTx_LocksSortedDistinctKeysAndCommits(t *testing.T) {
	s, mock := newStore(t)
	lock := regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)

	mock.ExpectBegin()
	mock.ExpectExec(lock).WithArgs("email:a@x.com").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(lock).WithArgs("instagram:alice_a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.LockKeys(ctx, "instagram:alice_a", "email:a@x.com", "instagram:alice_a")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RollsBackAndMapsDuplicate(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO platform_identities`)).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateIdentity(ctx, &profileentity.PlatformIdentity{
			ID: "i1", ProfileID: "p1", Platform: profileentity.PlatformEmail,
			RawIdentifier: "a@x.com", Identifier: "a@x.com", Confidence: 1,
		})
	})
	assert.ErrorIs(t, err, store.ErrDuplicateIdentity)
	assert.True(t, store.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_ResolveCandidateAlreadyResolved(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE match_candidates`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.ResolveCandidate(ctx, "c1", "approved", "admin", time.Now().UTC())
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfile_NotFound(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM unified_profiles WHERE id=$1`)).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetProfile(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM unified_profiles WHERE status=$1`)).
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM platform_identities`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM match_candidates WHERE status=$1`)).
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.Stats{TotalProfiles: 2, TotalIdentities: 4, PendingReviews: 1}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}
