package transcriptlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

func TestAppendWritesLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.log")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	err = l.Append(transcript.TranscriptEvent{
		Text:    "saluton mondo",
		Speaker: "Alice",
		EndedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	line := strings.TrimSpace(string(data))
	want := "2026-01-01T12:00:00Z [Alice] saluton mondo"
	if line != want {
		t.Errorf("line = %q, want %q", line, want)
	}
}

func TestAppendSkipsEmptyText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.log")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.Append(transcript.TranscriptEvent{Text: ""}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty file, got %q", data)
	}
}

func TestDisabledLogIsNoOp(t *testing.T) {
	l, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Append(transcript.TranscriptEvent{Text: "hello"}); err != nil {
		t.Fatalf("Append on disabled log: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close on disabled log: %v", err)
	}
}
