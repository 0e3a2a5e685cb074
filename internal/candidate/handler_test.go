package candidate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store/memory"
)

func newTestMux(t *testing.T, secret string) (*http.ServeMux, *memory.Store) {
	t.Helper()
	st := memory.New()
	seedReview(t, st)
	logger := zaptest.NewLogger(t).Sugar()
	h := NewHandler(newTestService(t, st), NewReviewerAuth(secret), logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /candidates", h.List)
	mux.HandleFunc("GET /candidates/{id}", h.Get)
	mux.HandleFunc("POST /candidates/{id}/approve", h.Approve)
	mux.HandleFunc("POST /candidates/{id}/reject", h.Reject)
	return mux, st
}

func serve(t *testing.T, mux http.Handler, method, path, body string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestHandler_ListPending(t *testing.T) {
	mux, _ := newTestMux(t, "")
	rec, out := serve(t, mux, http.MethodGet, "/candidates", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 1, out["count"])

	rec, out = serve(t, mux, http.MethodGet, "/candidates?status=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, out["success"])
}

func TestHandler_GetCandidate(t *testing.T) {
	mux, _ := newTestMux(t, "")
	rec, out := serve(t, mux, http.MethodGet, "/candidates/c1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	assert.Equal(t, "c1", data["id"])
	assert.Equal(t, "pending", data["status"])

	rec, out = serve(t, mux, http.MethodGet, "/candidates/zzz", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, out["success"])
}

func TestHandler_ApproveThenConflict(t *testing.T) {
	mux, _ := newTestMux(t, "")
	rec, out := serve(t, mux, http.MethodPost, "/candidates/c1/approve", `{"reviewed_by":"carol"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	assert.Equal(t, "approved", data["status"])
	assert.Equal(t, "carol", data["reviewed_by"])
	assert.Equal(t, "p1", out["profile"].(map[string]any)["id"])

	rec, _ = serve(t, mux, http.MethodPost, "/candidates/c1/reject", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_RejectDefaultsReviewer(t *testing.T) {
	mux, _ := newTestMux(t, "")
	rec, out := serve(t, mux, http.MethodPost, "/candidates/c1/reject", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultReviewer, out["data"].(map[string]any)["reviewed_by"])
}

func TestHandler_NotFoundAndBadPayload(t *testing.T) {
	mux, _ := newTestMux(t, "")
	rec, _ := serve(t, mux, http.MethodPost, "/candidates/zzz/approve", "{}", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = serve(t, mux, http.MethodPost, "/candidates/c1/approve", "{", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_BearerReviewer(t *testing.T) {
	const secret = "review-secret"
	mux, _ := newTestMux(t, secret)

	rec, _ := serve(t, mux, http.MethodPost, "/candidates/c1/approve", `{"reviewed_by":"mallory"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := NewReviewerAuth(secret).SignReviewerToken("dana", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	rec, out := serve(t, mux, http.MethodPost, "/candidates/c1/approve", `{"reviewed_by":"mallory"}`,
		http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dana", out["data"].(map[string]any)["reviewed_by"])
}

func TestReviewerAuth(t *testing.T) {
	auth := NewReviewerAuth("s3cret")
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := []struct {
		name    string
		token   func() string
		wantErr bool
		want    string
	}{
		{name: "valid", want: "dana", token: func() string {
			s, _ := auth.SignReviewerToken("dana", jwt.RegisteredClaims{ExpiresAt: exp})
			return s
		}},
		{name: "wrong key", wantErr: true, token: func() string {
			s, _ := NewReviewerAuth("other").SignReviewerToken("dana", jwt.RegisteredClaims{ExpiresAt: exp})
			return s
		}},
		{name: "expired", wantErr: true, token: func() string {
			s, _ := auth.SignReviewerToken("dana", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
			return s
		}},
		{name: "no expiry", wantErr: true, token: func() string {
			s, _ := auth.SignReviewerToken("dana", jwt.RegisteredClaims{})
			return s
		}},
		{name: "no subject", wantErr: true, token: func() string {
			s, _ := auth.SignReviewerToken("", jwt.RegisteredClaims{ExpiresAt: exp})
			return s
		}},
		{name: "garbage", wantErr: true, token: func() string { return "not.a.token" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.Header.Set("Authorization", "Bearer "+tc.token())
			got, err := auth.Reviewer(r, "ignored")
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	disabled := NewReviewerAuth("")
	got, err := disabled.Reviewer(httptest.NewRequest(http.MethodPost, "/", nil), "  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultReviewer, got)
}
