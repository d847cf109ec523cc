// Package pipeline implements C8: wiring C1 through C7 together, owning
// startup order, the per-event dispatch loop, and bounded shutdown.
// Grounded on ManagedStream's per-session cancel/mutex fields and
// cmd/agent/main.go's top-level signal handling.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/esperanto-captions/pkg/audio"
	"github.com/lokutor-ai/esperanto-captions/pkg/caption"
	"github.com/lokutor-ai/esperanto-captions/pkg/discord"
	"github.com/lokutor-ai/esperanto-captions/pkg/recognizer"
	"github.com/lokutor-ai/esperanto-captions/pkg/telemetry"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcriptlog"
	"github.com/lokutor-ai/esperanto-captions/pkg/translation"
	"github.com/lokutor-ai/esperanto-captions/pkg/webboard"
)

// shutdownGrace is the hard deadline for shutdown, covering both the
// event-loop drain and the sink Close/Stop calls, per spec.md §4.8.
const shutdownGrace = 10 * time.Second

// eventQueueStallThreshold is how long the C2->C8 handoff may block before
// it is logged and recorded as a stall, per spec.md §5.
const eventQueueStallThreshold = 2 * time.Second

// Pipeline is C8. Build one with New, then call Run.
type Pipeline struct {
	source     *audio.Source
	backend    recognizer.Backend
	translator *translation.Service
	poster     *caption.Poster
	log        *transcriptlog.Log
	board      *webboard.Broadcaster
	discord    *discord.Batcher

	logger  telemetry.Logger
	metrics *telemetry.Metrics

	boardAddr string
}

// Components bundles every constructed C1-C7 implementation the Pipeline
// orchestrates. translator may be nil (translation disabled); the sinks
// are never nil but can be individually configured into their own
// disabled/no-op mode.
type Components struct {
	Source     *audio.Source
	Backend    recognizer.Backend
	Translator *translation.Service
	Poster     *caption.Poster
	Log        *transcriptlog.Log
	Board      *webboard.Broadcaster
	BoardAddr  string
	Discord    *discord.Batcher
}

// New builds a Pipeline from already-constructed components.
func New(c Components, logger telemetry.Logger, metrics *telemetry.Metrics) *Pipeline {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	return &Pipeline{
		source:     c.Source,
		backend:    c.Backend,
		translator: c.Translator,
		poster:     c.Poster,
		log:        c.Log,
		board:      c.Board,
		discord:    c.Discord,
		boardAddr:  c.BoardAddr,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run starts every component in spec.md §4.8's order, drives the event
// loop, and blocks until ctx is cancelled, the recognizer backend returns,
// or the web broadcaster stops. Shutdown is bounded by
// shutdownGrace: components that have not drained by then are abandoned.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.source == nil || p.backend == nil || p.poster == nil || p.log == nil || p.board == nil || p.discord == nil {
		return fmt.Errorf("%w: pipeline requires source, backend, poster, log, board, and discord components", ErrConfig)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	boardErrCh := make(chan error, 1)
	go func() { boardErrCh <- p.board.Run(runCtx, p.boardAddr) }()

	p.poster.Start(runCtx)
	p.discord.Start(runCtx)

	sessionID := uuid.NewString()
	if err := p.source.Start(runCtx, sessionID); err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrDevice, err)
	}

	rawEvents := make(chan transcript.TranscriptEvent, 256)
	backendDone := make(chan error, 1)
	go func() { backendDone <- p.backend.Run(runCtx, p.source.Frames(), rawEvents) }()

	events := make(chan transcript.TranscriptEvent, 256)
	go p.pumpEvents(runCtx, rawEvents, events)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		p.eventLoop(runCtx, events)
	}()

	var fatalErr error
	select {
	case <-ctx.Done():
	case err := <-backendDone:
		if isFatalBackendErr(err) {
			p.logger.Error("pipeline: recognizer backend exited with a fatal error, terminating", "error", err)
			fatalErr = err
		} else if err != nil {
			p.logger.Warn("pipeline: recognizer backend exited", "error", err)
		}
	case err := <-boardErrCh:
		if err != nil {
			p.logger.Error("pipeline: web broadcaster exited", "error", err)
			fatalErr = err
		}
	}

	if err := p.shutdown(cancel, loopDone); err != nil && fatalErr == nil {
		fatalErr = err
	}
	return fatalErr
}

// isFatalBackendErr reports whether err is a genuine recognizer failure
// rather than the expected ctx.Err() a Backend.Run returns on cancellation.
func isFatalBackendErr(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (p *Pipeline) shutdown(cancel context.CancelFunc, loopDone <-chan struct{}) error {
	graceCtx, cancelGrace := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelGrace()

	p.source.Stop()
	cancel()

	select {
	case <-loopDone:
	case <-graceCtx.Done():
		p.logger.Warn("pipeline: event loop did not drain within shutdown grace")
	}

	sinksDone := make(chan error, 1)
	go func() {
		p.discord.Close()
		var sinkErr error
		if err := p.log.Close(); err != nil {
			p.logger.Warn("pipeline: transcript log close failed", "error", err)
			sinkErr = fmt.Errorf("%w: transcript log close: %w", ErrSink, err)
		}
		p.poster.Stop()
		if closer, ok := p.backend.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				p.logger.Warn("pipeline: recognizer backend close failed", "error", err)
			}
		}
		sinksDone <- sinkErr
	}()

	select {
	case err := <-sinksDone:
		return err
	case <-graceCtx.Done():
		p.logger.Warn("pipeline: sinks did not close within shutdown grace, abandoning them")
		return nil
	}
}

// pumpEvents relays recognizer events from in to out, the C2->C8 handoff.
// A send that blocks past eventQueueStallThreshold (eventLoop busy fanning
// out a prior Final) is logged and recorded, then waited out rather than
// dropped: spec.md §5 only asks that a stall be observed, not that events
// be lost.
func (p *Pipeline) pumpEvents(ctx context.Context, in <-chan transcript.TranscriptEvent, out chan<- transcript.TranscriptEvent) {
	defer close(out)
	for ev := range in {
		select {
		case out <- ev:
			continue
		case <-time.After(eventQueueStallThreshold):
		}

		p.logger.Warn("pipeline: event queue stalled", "threshold", eventQueueStallThreshold)
		p.metrics.EventQueueStalls.Add(ctx, 1)
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// eventLoop dispatches partials to C6 only, and finals to C3 then C4/C5/C6/C7
// concurrently, per spec.md §4.8. It returns when events closes.
func (p *Pipeline) eventLoop(ctx context.Context, events <-chan transcript.TranscriptEvent) {
	for ev := range events {
		switch ev.Type {
		case transcript.EventPartial:
			p.board.BroadcastPartial(ev)
		case transcript.EventFinal:
			p.handleFinal(ctx, ev)
		}
	}
}

func (p *Pipeline) handleFinal(ctx context.Context, ev transcript.TranscriptEvent) {
	if strings.TrimSpace(ev.Text) == "" {
		return
	}
	if ev.UtteranceID == "" {
		ev.UtteranceID = uuid.NewString()
	}
	if !ev.EndedAt.IsZero() {
		p.metrics.RecognizerLatency.Record(ctx, time.Since(ev.EndedAt).Seconds())
	}

	var enriched transcript.EnrichedFinal
	if p.translator != nil {
		enriched = p.translator.Enrich(ctx, ev)
	} else {
		enriched = transcript.EnrichedFinal{TranscriptEvent: ev, Translations: map[transcript.Language]string{}}
	}

	// Dispatched concurrently per spec.md §4.8; each sink owns its own
	// delivery guarantees. Relative order among finals within a sink is
	// preserved because this loop waits for all four before the next event.
	var g errgroup.Group
	g.Go(func() error { p.poster.Submit(enriched.Text); return nil })
	g.Go(func() error {
		if err := p.log.Append(enriched.TranscriptEvent); err != nil {
			p.logger.Warn("pipeline: transcript log append failed", "error", err)
		}
		return nil
	})
	g.Go(func() error { p.board.BroadcastFinal(enriched); return nil })
	g.Go(func() error { p.discord.Add(enriched); return nil })
	_ = g.Wait()
}
