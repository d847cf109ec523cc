package translation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

type fakeTranslator struct {
	delay   time.Duration
	err     map[string]error
	results map[string]string
}

func (f *fakeTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err, ok := f.err[targetLang]; ok {
		return "", err
	}
	return f.results[targetLang], nil
}

func (f *fakeTranslator) Close() {}

func TestEnrichTranslatesAllTargets(t *testing.T) {
	tr := &fakeTranslator{results: map[string]string{"en": "hello", "fr": "bonjour"}}
	svc := NewService(tr, "eo", []transcript.Language{"en", "fr"}, time.Second, nil, nil)

	final := transcript.TranscriptEvent{Type: transcript.EventFinal, Text: "saluton"}
	enriched := svc.Enrich(context.Background(), final)

	if enriched.Translations["en"] != "hello" || enriched.Translations["fr"] != "bonjour" {
		t.Errorf("translations = %v, want en=hello fr=bonjour", enriched.Translations)
	}
}

func TestEnrichOmitsFailedTargetsWithoutEmptyString(t *testing.T) {
	tr := &fakeTranslator{
		results: map[string]string{"en": "hello"},
		err:     map[string]error{"fr": errors.New("boom")},
	}
	svc := NewService(tr, "eo", []transcript.Language{"en", "fr"}, time.Second, nil, nil)

	enriched := svc.Enrich(context.Background(), transcript.TranscriptEvent{Text: "saluton"})

	if _, ok := enriched.Translations["fr"]; ok {
		t.Errorf("expected fr to be absent after a translate error, got %q", enriched.Translations["fr"])
	}
	if enriched.Translations["en"] != "hello" {
		t.Errorf("translations[en] = %q, want hello", enriched.Translations["en"])
	}
}

func TestEnrichTimesOutSlowTarget(t *testing.T) {
	tr := &fakeTranslator{delay: 50 * time.Millisecond, results: map[string]string{"en": "hello"}}
	svc := NewService(tr, "eo", []transcript.Language{"en"}, 5*time.Millisecond, nil, nil)

	enriched := svc.Enrich(context.Background(), transcript.TranscriptEvent{Text: "saluton"})

	if _, ok := enriched.Translations["en"]; ok {
		t.Error("expected timed-out target to be absent from translations")
	}
}

func TestEnrichSkipsEmptyText(t *testing.T) {
	tr := &fakeTranslator{results: map[string]string{"en": "hello"}}
	svc := NewService(tr, "eo", []transcript.Language{"en"}, time.Second, nil, nil)

	enriched := svc.Enrich(context.Background(), transcript.TranscriptEvent{Text: ""})

	if len(enriched.Translations) != 0 {
		t.Errorf("expected no translations for empty text, got %v", enriched.Translations)
	}
}
