// Package transcriptlog implements C5: an append-only, timestamped log of
// final transcripts. Grounded on the teacher's pkg/audio/wav.go for its
// directness — a single small file, stdlib only.
package transcriptlog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

// Log appends one line per final utterance to a file, flushing after every
// write so a crash loses at most nothing already returned to the caller.
type Log struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// Open creates (or appends to) the file at path. An empty path disables the
// log: Append becomes a no-op and Close is harmless.
func Open(path string) (*Log, error) {
	if path == "" {
		return &Log{}, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transcriptlog: open %s: %w", path, err)
	}
	return &Log{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one line: "<RFC3339 timestamp> [<speaker>] <text>". Empty
// text is never written (callers must have already dropped empty finals
// per spec.md §3).
func (l *Log) Append(final transcript.TranscriptEvent) error {
	if l.f == nil || final.Text == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := final.EndedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	speaker := final.Speaker
	if speaker == "" {
		speaker = "-"
	}

	if _, err := fmt.Fprintf(l.w, "%s [%s] %s\n", ts.Format(time.RFC3339), speaker, final.Text); err != nil {
		return fmt.Errorf("transcriptlog: write: %w", err)
	}
	return l.w.Flush()
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	if l.f == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.f.Close()
}
