package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var samplePayload = Payload{
	Candidate: Party{Names: []string{"Alice A"}, Identifiers: []Attribute{{Platform: "instagram", Value: "alice_a"}}},
	Profile:   Party{Names: []string{"Alice A"}, Identifiers: []Attribute{{Platform: "email", Value: "a@x.com"}}},
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(samplePayload)
	assert.Contains(t, p, "- instagram: alice_a")
	assert.Contains(t, p, "- email: a@x.com")
	assert.Contains(t, p, `"is_match"`)
}

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict("Sure! ```json\n{\"is_match\": true, \"confidence\": 0.8, \"reasoning\": \" same name \"}\n```")
	require.NoError(t, err)
	assert.Equal(t, Verdict{IsMatch: true, Confidence: 0.8, Reasoning: "same name"}, v)

	for reply, want := range map[string]Verdict{
		`{"is_match": true, "confidence": 0.8, "reasoning": "same"} and also {"is_match": false}`: {IsMatch: true, Confidence: 0.8, Reasoning: "same"},
		"Verdict: {\"is_match\": false, \"confidence\": 0.3} (note: {braces} in prose)":   {IsMatch: false, Confidence: 0.3},
	} {
		v, err := ParseVerdict(reply)
		require.NoError(t, err, reply)
		assert.Equal(t, want, v, reply)
	}

	for _, reply := range []string{
		"no json here",
		"{not json}",
		`{"reasoning": "missing fields"}`,
		"} backwards {",
	} {
		_, err := ParseVerdict(reply)
		assert.ErrorIs(t, err, ErrMalformedResponse, reply)
	}
}

func TestOllamaScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		assert.False(t, req.Stream)
		assert.Contains(t, req.Prompt, "alice_a")
		_ = json.NewEncoder(w).Encode(generateResponse{
			Model:    req.Model,
			Response: `{"is_match": true, "confidence": 0.72, "reasoning": "handle matches name"}`,
			Done:     true,
		})
	}))
	defer srv.Close()

	s := NewOllamaScorer(srv.URL, "", time.Second, zaptest.NewLogger(t).Sugar())
	assert.Equal(t, DefaultModel, s.Model())
	v, err := s.ScoreCandidate(context.Background(), samplePayload)
	require.NoError(t, err)
	assert.True(t, v.IsMatch)
	assert.Equal(t, 0.72, v.Confidence)
}

func TestOllamaScorer_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		_, err := NewOllamaScorer(srv.URL, "m", time.Second, zaptest.NewLogger(t).Sugar()).
			ScoreCandidate(context.Background(), samplePayload)
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(generateResponse{Response: "I think so"})
		}))
		defer srv.Close()
		_, err := NewOllamaScorer(srv.URL, "m", time.Second, zaptest.NewLogger(t).Sugar()).
			ScoreCandidate(context.Background(), samplePayload)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("deadline", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err := NewOllamaScorer(srv.URL, "m", 10*time.Second, zaptest.NewLogger(t).Sugar()).
			ScoreCandidate(ctx, samplePayload)
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func (m *mapCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (m *mapCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

type countingScorer struct {
	calls int
	err   error
}

func (c *countingScorer) ScoreCandidate(context.Context, Payload) (Verdict, error) {
	c.calls++
	if c.err != nil {
		return Verdict{}, c.err
	}
	return Verdict{IsMatch: true, Confidence: 0.7, Reasoning: "cached"}, nil
}

func TestCachedScorer(t *testing.T) {
	ctx := context.Background()
	next := &countingScorer{}
	cache := &mapCache{data: map[string]string{}}
	s := NewCachedScorer(next, cache, time.Hour, "m", zaptest.NewLogger(t).Sugar())

	first, err := s.ScoreCandidate(ctx, samplePayload)
	require.NoError(t, err)
	second, err := s.ScoreCandidate(ctx, samplePayload)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.calls)

	other := samplePayload
	other.Candidate.Names = []string{"Bob"}
	_, err = s.ScoreCandidate(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedScorer_CacheDownFallsThrough(t *testing.T) {
	next := &countingScorer{}
	cache := &mapCache{data: map[string]string{}, err: errors.New("connection refused")}
	s := NewCachedScorer(next, cache, time.Hour, "m", zaptest.NewLogger(t).Sugar())

	v, err := s.ScoreCandidate(context.Background(), samplePayload)
	require.NoError(t, err)
	assert.True(t, v.IsMatch)
	assert.Equal(t, 1, next.calls)
}

func TestCachedScorer_ErrorsNotCached(t *testing.T) {
	next := &countingScorer{err: errors.New("timeout")}
	cache := &mapCache{data: map[string]string{}}
	s := NewCachedScorer(next, cache, time.Hour, "m", zaptest.NewLogger(t).Sugar())

	_, err := s.ScoreCandidate(context.Background(), samplePayload)
	assert.Error(t, err)
	assert.Empty(t, cache.data)
}
