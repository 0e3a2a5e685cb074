package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const DefaultModel = "gemma2:2b"

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaScorer asks an Ollama-compatible /api/generate endpoint for a verdict.
type OllamaScorer struct {
	httpClient *resty.Client
	model      string
	logger     *zap.SugaredLogger
}

// NewOllamaScorer builds a client for baseURL. Per-call deadlines come from
// the context; timeout only bounds a call whose context has none.
func NewOllamaScorer(baseURL, model string, timeout time.Duration, logger *zap.SugaredLogger) *OllamaScorer {
	if model == "" {
		model = DefaultModel
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &OllamaScorer{httpClient: client, model: model, logger: logger}
}

func (s *OllamaScorer) Model() string { return s.model }

func (s *OllamaScorer) ScoreCandidate(ctx context.Context, p Payload) (Verdict, error) {
	var out generateResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(generateRequest{Model: s.model, Prompt: BuildPrompt(p), Stream: false, Format: "json"}).
		SetResult(&out).
		Post("/api/generate")
	if err != nil {
		return Verdict{}, fmt.Errorf("call model: %w", err)
	}
	if resp.IsError() {
		return Verdict{}, fmt.Errorf("call model: unexpected status %d", resp.StatusCode())
	}
	v, err := ParseVerdict(out.Response)
	if err != nil {
		s.logger.Debugw("unparseable model reply", "model", s.model, "reply", out.Response)
		return Verdict{}, err
	}
	return v, nil
}
