// Package discord implements C7: batching finals into sentence-aligned,
// multilingual Discord messages and delivering them through a webhook.
// Grounded on MrWong99-glyphoxa/internal/discord's discordgo session usage,
// adapted from slash-command responses to webhook-only delivery.
package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/lokutor-ai/esperanto-captions/pkg/telemetry"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

const hardSizeCap = 2000 // Discord's own message content limit

// maxHoldMultiple bounds how long a batch with no sentence terminator is
// held past flushInterval before it is flushed anyway, per spec.md §8's
// "held until idle timeout, then posted" boundary case.
const maxHoldMultiple = 3

// Batcher is C7. Add is safe to call concurrently; flushing happens on a
// single internal worker goroutine.
type Batcher struct {
	webhookID    string
	webhookToken string
	flushInterval time.Duration
	maxChars      int
	langLabels    map[transcript.Language]string

	session *discordgo.Session
	logger  telemetry.Logger
	metrics *telemetry.Metrics

	mu           sync.Mutex
	lines        []string
	translated   map[transcript.Language][]string
	firstAddedAt time.Time
	sawBoundary  bool

	flushNow chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a Batcher. An empty webhookURL-derived id/token pair disables
// it: Start launches no worker, and with an empty id Add is a no-op
// (mirrors C4's disabled mode).
func New(webhookID, webhookToken string, flushInterval time.Duration, maxChars int, langLabels map[transcript.Language]string, logger telemetry.Logger, metrics *telemetry.Metrics) (*Batcher, error) {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 350
	}

	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	return &Batcher{
		webhookID:     webhookID,
		webhookToken:  webhookToken,
		flushInterval: flushInterval,
		maxChars:      maxChars,
		langLabels:    langLabels,
		session:       session,
		logger:        logger,
		metrics:       metrics,
		translated:    make(map[transcript.Language][]string),
		flushNow:      make(chan struct{}, 1),
	}, nil
}

// Start launches the flush-timer worker. A no-op when disabled.
func (b *Batcher) Start(ctx context.Context) {
	if b.webhookID == "" || b.webhookToken == "" {
		return
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.run()
}

// Close flushes any remaining batch and stops the worker.
func (b *Batcher) Close() {
	if b.cancel == nil {
		return
	}
	b.flushAndDeliver()
	b.cancel()
	b.wg.Wait()
}

// Add appends an enriched final to the current batch.
func (b *Batcher) Add(final transcript.EnrichedFinal) {
	if b.webhookID == "" {
		return
	}
	b.mu.Lock()
	if len(b.lines) == 0 && len(b.translated) == 0 {
		b.firstAddedAt = time.Now()
	}
	b.lines = append(b.lines, final.Text)
	for lang, text := range final.Translations {
		b.translated[lang] = append(b.translated[lang], text)
	}
	if hasSentenceBoundary(final.Text) {
		b.sawBoundary = true
	}
	size := b.batchSizeLocked()
	b.mu.Unlock()

	if size >= b.maxChars {
		b.requestFlush()
	}
}

func (b *Batcher) requestFlush() {
	select {
	case b.flushNow <- struct{}{}:
	default:
	}
}

func (b *Batcher) run() {
	defer b.wg.Done()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			b.flushAndDeliver()
			return
		case <-b.flushNow:
			b.flushAndDeliver()
		case <-ticker.C:
			if b.dueLocked() {
				b.flushAndDeliver()
			}
		}
	}
}

// dueLocked reports whether the pending batch should flush: either it has
// a sentence terminator and flushInterval has elapsed, or it has been held
// for flushInterval*maxHoldMultiple regardless of terminator, per spec.md
// §8's "held until idle timeout, then posted" boundary case.
func (b *Batcher) dueLocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.firstAddedAt.IsZero() {
		return false
	}
	elapsed := time.Since(b.firstAddedAt)
	return (elapsed >= b.flushInterval && b.sawBoundary) || elapsed >= b.flushInterval*maxHoldMultiple
}

func (b *Batcher) batchSizeLocked() int {
	return utf8.RuneCountInString(b.formatLocked())
}

func (b *Batcher) flushAndDeliver() {
	b.mu.Lock()
	if len(b.lines) == 0 {
		b.mu.Unlock()
		return
	}
	body := b.formatLocked()
	b.lines = nil
	b.translated = make(map[transcript.Language][]string)
	b.firstAddedAt = time.Time{}
	b.sawBoundary = false
	b.mu.Unlock()

	for _, chunk := range splitToCap(body, hardSizeCap) {
		b.deliverWithRetry(chunk)
	}
}

// formatLocked renders the pending batch; caller must hold b.mu.
func (b *Batcher) formatLocked() string {
	var sb strings.Builder
	sb.WriteString("Esperanto:\n")
	for _, line := range b.lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	for lang, lines := range b.translated {
		label := b.langLabels[lang]
		if label == "" {
			label = string(lang)
		}
		sb.WriteString(label)
		sb.WriteString(":\n")
		for _, line := range lines {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Batcher) deliverWithRetry(content string) {
	backoff := time.Second
	const maxBackoff = 10 * time.Second

	for attempt := 1; attempt <= 5; attempt++ {
		_, err := b.session.WebhookExecute(b.webhookID, b.webhookToken, false, &discordgo.WebhookParams{Content: content})
		if err == nil {
			b.metrics.WebhookFlushes.Add(context.Background(), 1)
			return
		}

		b.logger.Warn("discord: webhook post failed", "attempt", attempt, "error", err)
		b.metrics.WebhookFailed.Add(context.Background(), 1)

		if attempt == 5 {
			b.logger.Error("discord: dropping batch after 5 consecutive failures")
			return
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func hasSentenceBoundary(s string) bool {
	s = strings.TrimRight(strings.TrimSpace(s), "　 \t")
	if s == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	switch r {
	case '.', '?', '!', '。', '？', '！':
		return true
	default:
		return false
	}
}

// splitToCap splits body into chunks no longer than max runes, preferring
// to break on newlines so a sequence of posts preserves line order.
func splitToCap(body string, max int) []string {
	if utf8.RuneCountInString(body) <= max {
		return []string{body}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	for _, line := range strings.Split(body, "\n") {
		lineLen := utf8.RuneCountInString(line) + 1
		if curLen > 0 && curLen+lineLen > max {
			chunks = append(chunks, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			curLen = 0
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		curLen += lineLen
	}
	if cur.Len() > 0 {
		chunks = append(chunks, strings.TrimRight(cur.String(), "\n"))
	}
	return chunks
}
