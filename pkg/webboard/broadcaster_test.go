package webboard

import (
	"encoding/json"
	"testing"

	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

func TestBroadcastPartialDropsOldestOnFullQueue(t *testing.T) {
	b := New(Config{}, nil, nil, nil)

	cl := &client{id: 1, send: make(chan []byte, 2), closed: make(chan struct{})}
	b.mu.Lock()
	b.clients[cl.id] = cl
	b.mu.Unlock()

	b.BroadcastPartial(transcript.TranscriptEvent{Text: "one"})
	b.BroadcastPartial(transcript.TranscriptEvent{Text: "two"})
	b.BroadcastPartial(transcript.TranscriptEvent{Text: "three"})

	if len(cl.send) != 2 {
		t.Fatalf("len(cl.send) = %d, want 2 (bounded queue)", len(cl.send))
	}

	var first, second OutboundMessage
	if err := json.Unmarshal(<-cl.send, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(<-cl.send, &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Text != "two" || second.Text != "three" {
		t.Errorf("got %q, %q; want oldest (\"one\") dropped, leaving two/three", first.Text, second.Text)
	}
}

func TestBroadcastFinalIncludesTranslations(t *testing.T) {
	b := New(Config{}, nil, nil, nil)

	cl := &client{id: 1, send: make(chan []byte, 1), closed: make(chan struct{})}
	b.mu.Lock()
	b.clients[cl.id] = cl
	b.mu.Unlock()

	b.BroadcastFinal(transcript.EnrichedFinal{
		TranscriptEvent: transcript.TranscriptEvent{Text: "saluton"},
		Translations:    map[transcript.Language]string{"en": "hello"},
	})

	var msg OutboundMessage
	if err := json.Unmarshal(<-cl.send, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "final" || msg.Translations["en"] != "hello" {
		t.Errorf("msg = %+v, want type=final translations[en]=hello", msg)
	}
}

func TestConfigHandlerFields(t *testing.T) {
	cfg := Config{Targets: []string{"en", "fr"}, DefaultVisibility: map[string]bool{"en": true}}
	b := New(cfg, nil, nil, nil)
	if len(b.cfg.Targets) != 2 {
		t.Errorf("targets = %v, want 2 entries", b.cfg.Targets)
	}
}
