// Package caption implements C4: delivering final captions to an external
// HTTP endpoint (e.g. a Zoom Closed Caption URL) with at-most-one-in-flight
// posting, coalescing, minimum-interval throttling, and a monotonic
// sequence number. Grounded on the teacher's resty-based HTTP provider
// idiom (pkg/providers/stt/*.go) adapted to a queued single-worker poster.
package caption

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lokutor-ai/esperanto-captions/pkg/telemetry"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

// Poster is C4. Submit is safe to call concurrently; delivery happens on a
// single internal worker goroutine.
type Poster struct {
	url         string
	minInterval time.Duration
	http        *resty.Client
	logger      telemetry.Logger
	metrics     *telemetry.Metrics

	seq transcript.CaptionSequence

	mu      sync.Mutex
	pending []string

	queued chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Poster. If url is empty, Submit becomes a no-op (spec.md
// §4.4's disabled mode) and Start/Stop are harmless no-ops too.
func New(url string, minInterval time.Duration, logger telemetry.Logger, metrics *telemetry.Metrics) *Poster {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &Poster{
		url:         url,
		minInterval: minInterval,
		http:        resty.New().SetTimeout(10 * time.Second),
		logger:      logger,
		metrics:     metrics,
		queued:      make(chan struct{}, 1),
	}
}

// Start launches the delivery worker. A no-op when the Poster is disabled.
func (p *Poster) Start(ctx context.Context) {
	if p.url == "" {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run()
}

// Stop cancels the worker and waits for it to exit. Items still queued are
// not posted, and an in-flight POST or backoff wait is cut short.
func (p *Poster) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
}

// Submit enqueues text for delivery. A no-op if the Poster is disabled.
func (p *Poster) Submit(text string) {
	if p.url == "" || text == "" {
		return
	}
	p.mu.Lock()
	p.pending = append(p.pending, text)
	p.mu.Unlock()

	select {
	case p.queued <- struct{}{}:
	default:
	}
}

func (p *Poster) run() {
	defer p.wg.Done()
	var lastPostAt time.Time

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.queued:
		}

		for {
			batch := p.drain()
			if batch == "" {
				break
			}

			if wait := p.minInterval - time.Since(lastPostAt); wait > 0 {
				select {
				case <-p.ctx.Done():
					return
				case <-time.After(wait):
				}
			}

			p.postWithRetry(batch)
			lastPostAt = time.Now()
		}
	}
}

// drain coalesces everything queued since the last post into one body,
// joined with "\n" per spec.md §4.4.
func (p *Poster) drain() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return ""
	}
	text := strings.Join(p.pending, "\n")
	p.pending = nil
	return text
}

func (p *Poster) postWithRetry(body string) {
	backoff := time.Second
	const maxBackoff = 15 * time.Second

	for attempt := 1; attempt <= 5; attempt++ {
		seq := p.seq.Next()
		ok, err := p.postOnce(seq, body)
		if ok {
			p.seq.Advance()
			p.metrics.CaptionPostsOK.Add(p.ctx, 1)
			return
		}

		p.logger.Warn("caption: post failed", "seq", seq, "attempt", attempt, "error", err)
		p.metrics.CaptionPostsFailed.Add(p.ctx, 1)

		if attempt == 5 {
			p.logger.Error("caption: dropping item after 5 consecutive failures", "body_preview", preview(body))
			return
		}

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (p *Poster) postOnce(seq uint64, body string) (bool, error) {
	resp, err := p.http.R().
		SetContext(p.ctx).
		SetQueryParam("seq", fmt.Sprint(seq)).
		SetHeader("Content-Type", "text/plain; charset=utf-8").
		SetBody(body).
		Post(p.url)
	if err != nil {
		return false, err
	}
	if resp.IsError() {
		return false, fmt.Errorf("status %d: %s", resp.StatusCode(), preview(string(resp.Body())))
	}
	return true, nil
}

func preview(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
