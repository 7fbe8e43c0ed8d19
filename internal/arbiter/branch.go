package arbiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vigil-labs/vigil-gate/internal/config"
)

// Scorer is one external scoring branch: it takes text and returns a threat
// score in [0,100] with a confidence in [0,1].
type Scorer interface {
	Score(ctx context.Context, text string) (score, confidence float64, err error)
}

// httpScorer calls a branch service over HTTP JSON:
// POST {"text": ...} -> {"score": ..., "confidence": ...}.
type httpScorer struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPScorer builds a Scorer for one branch endpoint.
func NewHTTPScorer(ep config.BranchEndpoint) Scorer {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &httpScorer{
		url:     ep.URL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

func (s *httpScorer) Score(ctx context.Context, text string) (float64, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return 0, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("branch %s: status %d", s.url, resp.StatusCode)
	}
	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("branch %s: decode: %w", s.url, err)
	}
	if out.Score < 0 {
		out.Score = 0
	}
	if out.Score > 100 {
		out.Score = 100
	}
	return out.Score, out.Confidence, nil
}
