package translation

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/genai"
)

// GeminiTranslator is a Translator backed by Google's Gemini API, grounded
// on MatchaCake-LiveSub/internal/translate/gemini.go: degrade to a cheaper
// fallback model for 30s after a rate-limit/unavailable response, then
// auto-recover.
type GeminiTranslator struct {
	client        *genai.Client
	model         string
	fallbackModel string
	degraded      atomic.Bool
	recoverAt     atomic.Int64
}

// NewGeminiTranslator builds a GeminiTranslator for the given model, with a
// fixed fallback model used during rate-limit degradation.
func NewGeminiTranslator(ctx context.Context, apiKey, model, fallbackModel string) (*GeminiTranslator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("translation: create gemini client: %w", err)
	}
	if fallbackModel == "" {
		fallbackModel = "gemini-2.0-flash"
	}
	return &GeminiTranslator{client: client, model: model, fallbackModel: fallbackModel}, nil
}

func (t *GeminiTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	prompt := fmt.Sprintf(
		"Translate the following %s text to %s. "+
			"Output ONLY the translation, nothing else. Keep it natural and concise, "+
			"suitable for a live meeting caption.\n\n%s",
		sourceLang, targetLang, text,
	)

	model := t.activeModel()
	resp, err := t.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		if isRateLimited(err) {
			t.degraded.Store(true)
			t.recoverAt.Store(time.Now().Add(30 * time.Second).UnixMilli())
			resp, err = t.client.Models.GenerateContent(ctx, t.fallbackModel, genai.Text(prompt), nil)
			if err != nil {
				return "", fmt.Errorf("translation: gemini fallback call: %w", err)
			}
		} else {
			return "", fmt.Errorf("translation: gemini call: %w", err)
		}
	}

	return strings.TrimSpace(resp.Text()), nil
}

func (t *GeminiTranslator) activeModel() string {
	if t.degraded.Load() {
		if time.Now().UnixMilli() >= t.recoverAt.Load() {
			t.degraded.Store(false)
			return t.model
		}
		return t.fallbackModel
	}
	return t.model
}

func isRateLimited(err error) bool {
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "503") ||
		strings.Contains(s, "RESOURCE_EXHAUSTED") || strings.Contains(s, "UNAVAILABLE")
}

// Close releases the underlying client. genai.Client has no explicit close;
// this exists so GeminiTranslator satisfies Translator uniformly with other
// implementations that do hold a closable resource.
func (t *GeminiTranslator) Close() {}
