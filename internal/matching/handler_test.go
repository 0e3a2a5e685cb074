package matching

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store/memory"
)

func postMatch(t *testing.T, h *Handler, body string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Match(rec, httptest.NewRequest(http.MethodPost, "/match", strings.NewReader(body)))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func TestHandler_Match(t *testing.T) {
	st := memory.New()
	o := newOrchestrator(t, st, nil)
	_, err := o.Resolve(context.Background(), addReq(email("a@x.com"), "Alice A"))
	require.NoError(t, err)
	h := NewHandler(o, zaptest.NewLogger(t).Sugar())

	code, out := postMatch(t, h, `{"identifiers":{"instagram":"@alice_a"},"display_name":"Alice A"}`)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["match_count"])
	m := out["matches"].([]any)[0].(map[string]any)
	assert.Equal(t, "fuzzy", m["match_type"])
	assert.Equal(t, "Alice A", m["profile_name"])
	assert.Equal(t, 0.77, m["confidence"])

	code, out = postMatch(t, h, `{"identifiers":{"email":"A@X.com"}}`)
	require.Equal(t, http.StatusOK, code)
	m = out["matches"].([]any)[0].(map[string]any)
	assert.Equal(t, "deterministic", m["match_type"])

	code, out = postMatch(t, h, `{"identifiers":{"email":"zed@q.com"},"display_name":"Zed Q"}`)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, out["match_count"])
	assert.Equal(t, []any{}, out["matches"])

	// unknown platforms are skipped, the rest still resolves
	code, out = postMatch(t, h, `{"identifiers":{"fax":"123","email":"a@x.com"}}`)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["match_count"])
	m = out["matches"].([]any)[0].(map[string]any)
	assert.Equal(t, "deterministic", m["match_type"])

	// queries never write
	list, _ := st.ListProfiles(context.Background(), "")
	assert.Len(t, list, 1)
}

func TestHandler_MatchInvalid(t *testing.T) {
	h := NewHandler(newOrchestrator(t, memory.New(), nil), zaptest.NewLogger(t).Sugar())
	for _, body := range []string{
		`{"identifiers":{"fax":"123"}}`,
		`{"identifiers":{"email":"nope"}}`,
		`{"identifiers":{}}`,
		`not json`,
	} {
		code, out := postMatch(t, h, body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Equal(t, false, out["success"], body)
	}
}
