package discord

import (
	"strings"
	"testing"
	"time"

	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

func TestHasSentenceBoundary(t *testing.T) {
	cases := map[string]bool{
		"Saluton mondo.":  true,
		"Ĉu vi bone fartas?": true,
		"Ne!":              true,
		"今日は。":            true,
		"Saluton mondo":    false,
		"":                 false,
		"   ":              false,
	}
	for in, want := range cases {
		if got := hasSentenceBoundary(in); got != want {
			t.Errorf("hasSentenceBoundary(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSplitToCapPreservesOrderAndCap(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, "line")
	}
	body := strings.Join(lines, "\n")

	chunks := splitToCap(body, 20)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	var rebuilt []string
	for _, c := range chunks {
		rebuilt = append(rebuilt, strings.Split(c, "\n")...)
	}
	if strings.Join(rebuilt, "\n") != body {
		t.Error("splitting and rejoining chunks did not preserve line order/content")
	}
}

func TestFormatLockedLayout(t *testing.T) {
	b := &Batcher{
		lines:      []string{"unua linio"},
		translated: map[transcript.Language][]string{"en": {"first line"}},
		langLabels: map[transcript.Language]string{"en": "English"},
	}
	out := b.formatLocked()
	if !strings.HasPrefix(out, "Esperanto:\n") {
		t.Errorf("expected body to start with Esperanto: header, got %q", out)
	}
	if !strings.Contains(out, "English:\n") {
		t.Errorf("expected English: header in body, got %q", out)
	}
}

func TestAddAccumulatesUntilMaxChars(t *testing.T) {
	b := &Batcher{
		webhookID:     "",
		maxChars:      10000,
		translated:    make(map[transcript.Language][]string),
		flushNow:      make(chan struct{}, 1),
		flushInterval: 0,
	}
	// webhookID empty => Add is a no-op per disabled mode; use a non-empty
	// id so Add actually accumulates without requiring network delivery.
	b.webhookID = "id"
	b.Add(transcript.EnrichedFinal{TranscriptEvent: transcript.TranscriptEvent{Text: "saluton"}})
	if len(b.lines) != 1 {
		t.Fatalf("len(b.lines) = %d, want 1", len(b.lines))
	}
}

func TestDueLockedHoldsUnterminatedBatchUntilMaxHold(t *testing.T) {
	b := &Batcher{
		flushInterval: 10 * time.Millisecond,
		sawBoundary:   false,
		firstAddedAt:  time.Now().Add(-15 * time.Millisecond),
	}
	if b.dueLocked() {
		t.Fatal("dueLocked() = true before maxHoldMultiple*flushInterval elapsed with no terminator, want false")
	}

	b.firstAddedAt = time.Now().Add(-(b.flushInterval * maxHoldMultiple) - time.Millisecond)
	if !b.dueLocked() {
		t.Fatal("dueLocked() = false past maxHoldMultiple*flushInterval with no terminator, want true")
	}
}

func TestDueLockedFlushesOnBoundaryBeforeMaxHold(t *testing.T) {
	b := &Batcher{
		flushInterval: 10 * time.Millisecond,
		sawBoundary:   true,
		firstAddedAt:  time.Now().Add(-15 * time.Millisecond),
	}
	if !b.dueLocked() {
		t.Fatal("dueLocked() = false after flushInterval with sentence terminator, want true")
	}
}
