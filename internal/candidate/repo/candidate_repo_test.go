package repo

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
)

var candidateCols = []string{"id", "source_profile_id", "target_profile_id", "match_type", "confidence_score",
	"reasoning", "subject", "status", "reviewed_by", "reviewed_at", "created_at", "updated_at"}

func newMock(t *testing.T) (*CandidateRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCandidateRepo(sqlx.NewDb(db, "sqlmock")), mock
}

func TestCandidateRepo_CreateEncodesSubject(t *testing.T) {
	r, mock := newMock(t)
	now := time.Now().UTC()
	c := &entity.MatchCandidate{
		ID:              "c1",
		SourceProfileID: "prov",
		TargetProfileID: "p1",
		MatchType:       entity.MatchFuzzy,
		Confidence:      0.77,
		Subject: entity.Subject{
			Identifiers: []entity.SubjectIdentifier{{Platform: "instagram", Raw: "@alice_a", Normalized: "alice_a"}},
			DisplayName: "Alice A",
		},
	}
	subject := `{"identifiers":[{"platform":"instagram","raw":"@alice_a","normalized":"alice_a"}],"display_name":"Alice A"}`

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO match_candidates`)).
		WithArgs("c1", "prov", "p1", entity.MatchFuzzy, 0.77, "", subject, entity.ReviewPending).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, r.Create(context.Background(), c))
	assert.Equal(t, entity.ReviewPending, c.Status)
	assert.Equal(t, now, c.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidateRepo_GetForUpdateDecodesSubject(t *testing.T) {
	r, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id=$1 FOR UPDATE`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(candidateCols).AddRow(
			"c1", "prov", "p1", "llm", 0.8, "same person",
			[]byte(`{"identifiers":[{"platform":"email","raw":"a@x.com","normalized":"a@x.com"}]}`),
			"pending", "", nil, now, now))

	c, err := r.GetForUpdate(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, entity.MatchLLM, c.MatchType)
	require.Len(t, c.Subject.Identifiers, 1)
	assert.Equal(t, "a@x.com", c.Subject.Identifiers[0].Normalized)
	assert.Nil(t, c.ReviewedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidateRepo_ListByStatusNewestFirst(t *testing.T) {
	r, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC, id DESC`)).
		WithArgs("approved").
		WillReturnRows(sqlmock.NewRows(candidateCols).
			AddRow("c2", "", "p1", "fuzzy", 0.7, "", []byte(`{}`), "approved", "admin", now, now, now).
			AddRow("c1", "", "p1", "fuzzy", 0.66, "", []byte(`{}`), "approved", "admin", now, now, now))

	got, err := r.ListByStatus(context.Background(), entity.ReviewApproved)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].ID)
	assert.Equal(t, "admin", got[0].ReviewedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidateRepo_ResolveOnlyPending(t *testing.T) {
	r, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`WHERE id=$1 AND status='pending'`)).
		WithArgs("c1", entity.ReviewRejected, "admin", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := r.Resolve(context.Background(), "c1", entity.ReviewRejected, "admin", at)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
