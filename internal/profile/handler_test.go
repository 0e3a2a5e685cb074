package profile

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/matching"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store/memory"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	st := memory.New()
	n := matching.NewNormalizer(matching.DefaultPhoneRegion)
	o := matching.NewOrchestrator(st, n, nil, matching.Config{Policy: matching.DefaultPolicy()}, logger)
	h := NewHandler(NewProfileService(st, o, n, logger), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /profiles", h.ListProfiles)
	mux.HandleFunc("GET /profiles/{id}", h.GetProfile)
	mux.HandleFunc("POST /profiles", h.CreateProfile)
	mux.HandleFunc("GET /identities", h.ListIdentities)
	mux.HandleFunc("POST /identities", h.AddIdentity)
	mux.HandleFunc("GET /stats", h.Stats)
	return mux
}

func call(t *testing.T, mux http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestAddIdentity_NewThenExact(t *testing.T) {
	mux := newTestMux(t)

	code, out := call(t, mux, http.MethodPost, "/identities",
		`{"platform":"email","identifier":" Alice@X.com ","display_name":"alice a"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, out["new_profile_created"])
	assert.Equal(t, "no_match", out["action"])
	assert.Nil(t, out["match_result"])
	assert.Nil(t, out["candidate"])
	data := out["data"].(map[string]any)
	assert.Equal(t, "alice@x.com", data["identifier"])
	profileID := out["profile"].(map[string]any)["id"].(string)

	code, out = call(t, mux, http.MethodPost, "/identities", `{"platform":"email","identifier":"alice@x.com"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["new_profile_created"])
	assert.Equal(t, "auto_linked", out["action"])
	assert.Equal(t, "Alice A", out["matched_profile_name"])
	mr := out["match_result"].(map[string]any)
	assert.Equal(t, "deterministic", mr["match_type"])
	assert.EqualValues(t, 1, mr["confidence"])
	assert.Equal(t, profileID, out["profile"].(map[string]any)["id"])
}

func TestAddIdentity_ReviewBandReturnsCandidate(t *testing.T) {
	mux := newTestMux(t)
	code, _ := call(t, mux, http.MethodPost, "/identities",
		`{"platform":"email","identifier":"a@x.com","display_name":"Alice A"}`)
	require.Equal(t, http.StatusCreated, code)

	code, out := call(t, mux, http.MethodPost, "/identities",
		`{"platform":"instagram","identifier":"@alice_a","display_name":"Alice A"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "candidate_created", out["action"])
	c := out["candidate"].(map[string]any)
	assert.Equal(t, "pending", c["status"])
	assert.Equal(t, "under_review", out["profile"].(map[string]any)["status"])

	_, stats := call(t, mux, http.MethodGet, "/stats", "")
	assert.Equal(t, map[string]any{"total_profiles": 1.0, "total_identities": 2.0, "pending_reviews": 1.0}, stats["data"])

	_, list := call(t, mux, http.MethodGet, "/profiles?status=under_review", "")
	assert.EqualValues(t, 1, list["count"])
	_, ids := call(t, mux, http.MethodGet, "/identities", "")
	assert.EqualValues(t, 2, ids["count"])
}

func TestAddIdentity_AutoMatchOff(t *testing.T) {
	mux := newTestMux(t)
	call(t, mux, http.MethodPost, "/identities", `{"platform":"email","identifier":"a@x.com","display_name":"Alice A"}`)

	code, out := call(t, mux, http.MethodPost, "/identities",
		`{"platform":"instagram","identifier":"alice_a","display_name":"Alice A","auto_match":false}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, out["new_profile_created"])
	assert.Nil(t, out["candidate"])
	assert.Equal(t, "active", out["profile"].(map[string]any)["status"])
}

func TestAddIdentity_Invalid(t *testing.T) {
	mux := newTestMux(t)
	cases := []string{
		`{"platform":"myspace","identifier":"x"}`,
		`{"platform":"email","identifier":""}`,
		`{"platform":"email","identifier":"not-an-email"}`,
		`{"platform":"whatsapp","identifier":"12"}`,
		`{`,
	}
	for _, body := range cases {
		code, out := call(t, mux, http.MethodPost, "/identities", body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Equal(t, false, out["success"], body)
	}
}

func TestProfiles_CreateGetList(t *testing.T) {
	mux := newTestMux(t)

	code, out := call(t, mux, http.MethodPost, "/profiles", `{"canonical_name":"  bob   builder "}`)
	require.Equal(t, http.StatusCreated, code)
	p := out["data"].(map[string]any)
	assert.Equal(t, "Bob Builder", p["canonical_name"])
	id := p["id"].(string)

	code, out = call(t, mux, http.MethodGet, "/profiles/"+id, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, out["data"].(map[string]any)["id"])

	code, _ = call(t, mux, http.MethodGet, "/profiles/nope", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, out = call(t, mux, http.MethodGet, "/profiles", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["count"])

	code, _ = call(t, mux, http.MethodGet, "/profiles?status=deleted", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, mux, http.MethodPost, "/profiles", `{"canonical_name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
