package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Recognizer is one external entity-recognition service.
type Recognizer interface {
	Recognize(ctx context.Context, text string, entityTypes []string, language string) ([]Entity, error)
}

// httpRecognizer calls a recognizer sidecar:
// POST {"text", "entities", "language"} -> {"entities": [{type, start, end, score}]}.
// Offsets in the response index into the submitted text.
type httpRecognizer struct {
	url    string
	client *http.Client
}

func NewHTTPRecognizer(url string, timeout time.Duration) Recognizer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpRecognizer{url: url, client: &http.Client{Timeout: timeout}}
}

type recognizeRequest struct {
	Text     string   `json:"text"`
	Entities []string `json:"entities"`
	Language string   `json:"language"`
}

type recognizeResponse struct {
	Entities []struct {
		Type  string  `json:"type"`
		Start int     `json:"start"`
		End   int     `json:"end"`
		Score float64 `json:"score"`
	} `json:"entities"`
}

func (c *httpRecognizer) Recognize(ctx context.Context, text string, entityTypes []string, language string) ([]Entity, error) {
	body, err := json.Marshal(recognizeRequest{Text: text, Entities: entityTypes, Language: language})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognizer %s: status %d", c.url, resp.StatusCode)
	}
	var out recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("recognizer %s: decode: %w", c.url, err)
	}
	entities := make([]Entity, 0, len(out.Entities))
	for _, e := range out.Entities {
		entities = append(entities, Entity{
			Type:   e.Type,
			Start:  e.Start,
			End:    e.End,
			Score:  e.Score,
			Source: language,
		})
	}
	return entities, nil
}
