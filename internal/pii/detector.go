package pii

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vigil-labs/vigil-gate/internal/config"
)

// agnosticTypes are requested from every recognizer; their shape does not
// depend on language.
var agnosticTypes = []string{TypeEmail, TypeCreditCard, TypePhone}

// languageBoundTypes are routed to the single best-language recognizer
// only. Running person-name models cross-language produces false positives
// on ordinary words.
var languageBoundTypes = []string{TypePerson, TypePESEL, TypeNIP, TypeREGON}

type recognizerEntry struct {
	language string
	client   Recognizer
}

// Detector fans out to the recognizer sidecars, runs the local fallback,
// checksum-validates structured identifiers, and merges everything into
// one non-overlapping list.
type Detector struct {
	recognizers []recognizerEntry
	identifier  Identifier
	deadline    time.Duration
	logger      *slog.Logger
}

func NewDetector(cfg config.PIIConfig, logger *slog.Logger) *Detector {
	d := &Detector{
		deadline: cfg.Deadline,
		logger:   logger,
	}
	if d.deadline <= 0 {
		d.deadline = 5 * time.Second
	}
	for _, rc := range cfg.Recognizers {
		if rc.URL == "" {
			continue
		}
		d.recognizers = append(d.recognizers, recognizerEntry{
			language: rc.Language,
			client:   NewHTTPRecognizer(rc.URL, d.deadline),
		})
	}
	if cfg.IdentifierURL != "" {
		d.identifier = NewHTTPIdentifier(cfg.IdentifierURL, d.deadline)
	}
	return d
}

// WithRecognizer adds or replaces a language's recognizer. Test seam.
func (d *Detector) WithRecognizer(language string, r Recognizer) *Detector {
	for i := range d.recognizers {
		if d.recognizers[i].language == language {
			d.recognizers[i].client = r
			return d
		}
	}
	d.recognizers = append(d.recognizers, recognizerEntry{language: language, client: r})
	return d
}

// WithIdentifier replaces the language identifier. Test seam.
func (d *Detector) WithIdentifier(id Identifier) *Detector {
	d.identifier = id
	return d
}

// Detect scans text and returns the merged entity list. External failures
// contribute zero entities; the local fallback always runs, so the result
// is never an error.
func (d *Detector) Detect(ctx context.Context, text string) []Entity {
	ctx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	bestLang, langConf := routeLanguage(ctx, d.identifier, text)

	results := make([][]Entity, len(d.recognizers))
	var wg sync.WaitGroup
	for i, rec := range d.recognizers {
		types := agnosticTypes
		if rec.language == bestLang {
			types = append(append([]string{}, agnosticTypes...), languageBoundTypes...)
		}
		wg.Add(1)
		go func(i int, rec recognizerEntry, types []string) {
			defer wg.Done()
			entities, err := rec.client.Recognize(ctx, text, types, rec.language)
			if err != nil {
				d.logger.Warn("recognizer unavailable",
					"language", rec.language, "error", err)
				return
			}
			results[i] = entities
		}(i, rec, types)
	}

	candidates := scanFallback(text)
	wg.Wait()

	for _, entities := range results {
		candidates = append(candidates, entities...)
	}

	candidates = ApplyChecksums(text, candidates)
	merged := Merge(candidates)

	d.logger.Debug("pii detection complete",
		"language", bestLang, "language_confidence", langConf,
		"entities", len(merged))
	return merged
}
