// Package translation implements C3: fetching per-language translations for
// a final utterance with concurrent per-language calls and a per-call
// timeout, grounded on MatchaCake-LiveSub's GeminiTranslator.
package translation

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/esperanto-captions/pkg/telemetry"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

// Translator performs a single source->target translation call.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	Close()
}

// Service is C3: it fans a final utterance's text out to every configured
// target language concurrently, each bounded by Timeout, and assembles the
// results into an EnrichedFinal. A target whose call errors or times out is
// simply absent from Translations, never an empty string (per spec.md §3).
type Service struct {
	translator   Translator
	sourceLang   string
	targets      []transcript.Language
	timeout      time.Duration
	logger       telemetry.Logger
	metrics      *telemetry.Metrics
}

// NewService builds a Service. targets lists every language to translate
// into; sourceLang is the utterance's source language.
func NewService(translator Translator, sourceLang string, targets []transcript.Language, timeout time.Duration, logger telemetry.Logger, metrics *telemetry.Metrics) *Service {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Service{
		translator: translator,
		sourceLang: sourceLang,
		targets:    targets,
		timeout:    timeout,
		logger:     logger,
		metrics:    metrics,
	}
}

// Enrich translates final.Text into every target language concurrently and
// returns an EnrichedFinal. It never returns an error itself: a failed or
// timed-out target is simply omitted from Translations.
func (s *Service) Enrich(ctx context.Context, final transcript.TranscriptEvent) transcript.EnrichedFinal {
	enriched := transcript.EnrichedFinal{
		TranscriptEvent: final,
		Translations:    make(map[transcript.Language]string, len(s.targets)),
	}
	if final.Text == "" || len(s.targets) == 0 {
		return enriched
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, target := range s.targets {
		target := target
		g.Go(func() error {
			start := time.Now()
			callCtx, cancel := context.WithTimeout(gctx, s.timeout)
			defer cancel()

			text, err := s.translator.Translate(callCtx, final.Text, s.sourceLang, string(target))
			s.metrics.TranslationLatency.Record(ctx, time.Since(start).Seconds())
			if err != nil {
				s.logger.Warn("translation: call failed", "target", target, "error", err)
				return nil // a single target's failure must not cancel the others
			}
			if text == "" {
				return nil
			}
			mu.Lock()
			enriched.Translations[target] = text
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // errors are already swallowed per-target above; nothing to propagate

	return enriched
}
