package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Identifier resolves the dominant language of a text.
type Identifier interface {
	Identify(ctx context.Context, text string) (language string, confidence float64, err error)
}

// httpIdentifier calls the language identifier service:
// POST {"text": ...} -> {"language": ..., "confidence": ...}.
type httpIdentifier struct {
	url    string
	client *http.Client
}

func NewHTTPIdentifier(url string, timeout time.Duration) Identifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &httpIdentifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (c *httpIdentifier) Identify(ctx context.Context, text string) (string, float64, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("identifier: status %d", resp.StatusCode)
	}
	var out struct {
		Language   string  `json:"language"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, err
	}
	return out.Language, out.Confidence, nil
}

// Entity-based language hints. A structural-ID pattern in the text implies
// Polish far more reliably than statistical detection of short mixed-language
// prompts, so strong hints short-circuit the identifier call entirely and
// weak hints override a low-confidence statistical answer.

var polishHintKeywords = []string{
	"pesel", "nip", "regon", "karta", "kredytowa", "kredytowej",
	"dowód", "dowod", "osobisty", "podatku", "jest", "jeszcze",
}

var (
	elevenDigitPattern = regexp.MustCompile(`\b\d{11}\b`)
	tenDigitPattern    = regexp.MustCompile(`\b\d{10}\b`)
)

// polishHintScore scores entity-based Polish signals: 1 per keyword,
// 3 for an 11-digit run (PESEL shape), 2 for a 10-digit run (NIP shape).
func polishHintScore(text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, kw := range polishHintKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	if elevenDigitPattern.MatchString(text) {
		score += 3
	}
	if tenDigitPattern.MatchString(text) {
		score += 2
	}
	return score
}

const (
	hintShortCircuit   = 2   // hint score at which the identifier is skipped
	lowConfidence      = 0.7 // identifier answers below this can be overridden
	fallbackConfidence = 0.5
)

// routeLanguage picks the language whose recognizer should handle
// language-bound entity types. Fail-open: an unreachable identifier
// degrades to hints, then to English.
func routeLanguage(ctx context.Context, id Identifier, text string) (string, float64) {
	hints := polishHintScore(text)
	if hints >= hintShortCircuit {
		return "pl", 1.0
	}
	if id == nil {
		if hints > 0 {
			return "pl", fallbackConfidence
		}
		return "en", fallbackConfidence
	}
	lang, conf, err := id.Identify(ctx, text)
	if err != nil || lang == "" {
		if hints > 0 {
			return "pl", fallbackConfidence
		}
		return "en", fallbackConfidence
	}
	if conf < lowConfidence && hints > 0 {
		return "pl", 0.6
	}
	return lang, conf
}
