// Package webboard implements C6: the caption-board HTTP surface and
// per-client WebSocket fan-out, grounded on the gin routing idiom used
// across the pack and the non-blocking-send/disconnect-slow-client pattern
// from other_examples' broadcast server.
package webboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/lokutor-ai/esperanto-captions/pkg/telemetry"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

// Config carries the static content served at /config.
type Config struct {
	Targets           []string        `json:"targets"`
	DefaultVisibility map[string]bool `json:"defaultVisibility"`
}

// OutboundMessage is the wire shape for both partial and final broadcasts.
type OutboundMessage struct {
	Type         string            `json:"type"`
	Text         string            `json:"text"`
	Speaker      string            `json:"speaker,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
}

const clientQueueSize = 32

type client struct {
	id     uint64
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.closed) })
}

// Broadcaster is C6. Call ServeHTTP's engine via Run, and push events with
// BroadcastPartial/BroadcastFinal.
type Broadcaster struct {
	cfg     Config
	assets  http.FileSystem
	logger  telemetry.Logger
	metrics *telemetry.Metrics

	mu       sync.Mutex
	clients  map[uint64]*client
	nextID   uint64

	engine *gin.Engine
	srv    *http.Server
}

// New builds a Broadcaster serving the given static asset filesystem (the
// caption board's HTML/CSS/JS, an external collaborator per spec.md §1).
func New(cfg Config, assets http.FileSystem, logger telemetry.Logger, metrics *telemetry.Metrics) *Broadcaster {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	gin.SetMode(gin.ReleaseMode)
	b := &Broadcaster{
		cfg:     cfg,
		assets:  assets,
		logger:  logger,
		metrics: metrics,
		clients: make(map[uint64]*client),
	}
	b.engine = b.buildEngine()
	return b
}

func (b *Broadcaster) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if b.assets != nil {
		r.StaticFS("/assets", b.assets)
		r.GET("/", func(c *gin.Context) {
			f, err := b.assets.Open("index.html")
			if err != nil {
				c.String(http.StatusNotFound, "caption board assets not found")
				return
			}
			defer f.Close()
			c.DataFromReader(http.StatusOK, -1, "text/html; charset=utf-8", f, nil)
		})
	}

	r.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, b.cfg)
	})

	r.GET("/ws", b.handleWS)

	return r
}

// Run binds to addr and serves until ctx is cancelled. If the port is
// already in use, it returns a clear error immediately (spec.md §4.6).
func (b *Broadcaster) Run(ctx context.Context, addr string) error {
	ln, err := newListener(addr)
	if err != nil {
		return fmt.Errorf("webboard: bind %s: %w (release the port and retry)", addr, err)
	}

	b.srv = &http.Server{Handler: b.engine}
	errCh := make(chan error, 1)
	go func() { errCh <- b.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return b.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("webboard: serve: %w", err)
		}
		return nil
	}
}

func (b *Broadcaster) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Warn("webboard: upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	b.nextID++
	cl := &client{id: b.nextID, send: make(chan []byte, clientQueueSize), closed: make(chan struct{})}
	b.clients[cl.id] = cl
	b.metrics.ConnectedClients.Add(context.Background(), 1)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, cl.id)
		b.metrics.ConnectedClients.Add(context.Background(), -1)
		b.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-cl.closed:
			return
		case payload, ok := <-cl.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				b.logger.Warn("webboard: client write failed, disconnecting", "client_id", cl.id, "error", err)
				return
			}
		}
	}
}

// BroadcastPartial fans out a partial hypothesis. Never blocks the caller.
func (b *Broadcaster) BroadcastPartial(ev transcript.TranscriptEvent) {
	b.broadcast(OutboundMessage{Type: "partial", Text: ev.Text, Speaker: ev.Speaker})
}

// BroadcastFinal fans out a final with its translations. Never blocks the
// caller.
func (b *Broadcaster) BroadcastFinal(final transcript.EnrichedFinal) {
	translations := make(map[string]string, len(final.Translations))
	for lang, text := range final.Translations {
		translations[string(lang)] = text
	}
	b.broadcast(OutboundMessage{Type: "final", Text: final.Text, Speaker: final.Speaker, Translations: translations})
}

func (b *Broadcaster) broadcast(msg OutboundMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn("webboard: marshal broadcast", "error", err)
		return
	}

	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for _, cl := range b.clients {
		targets = append(targets, cl)
	}
	b.mu.Unlock()

	for _, cl := range targets {
		select {
		case cl.send <- payload:
		default:
			// Drop the oldest queued message to make room, per spec.md §4.6.
			select {
			case <-cl.send:
				b.metrics.ClientDrops.Add(context.Background(), 1)
			default:
			}
			select {
			case cl.send <- payload:
			default:
				b.metrics.ClientDrops.Add(context.Background(), 1)
				cl.close()
			}
		}
	}
}
