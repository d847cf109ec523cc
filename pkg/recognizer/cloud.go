package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-resty/resty/v2"

	"github.com/lokutor-ai/esperanto-captions/pkg/telemetry"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

type cloudState int

const (
	stateIdle cloudState = iota
	stateTokenExchange
	stateConnecting
	stateStarting
	stateStreaming
	stateBackoff
	stateDraining
)

func (s cloudState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateTokenExchange:
		return "TokenExchange"
	case stateConnecting:
		return "Connecting"
	case stateStarting:
		return "Starting"
	case stateStreaming:
		return "Streaming"
	case stateBackoff:
		return "Backoff"
	case stateDraining:
		return "Draining"
	default:
		return "Unknown"
	}
}

// Cloud is the streaming WebSocket RecognizerBackend with a token-exchange
// handshake, grounded on the teacher's LokutorTTS websocket client and
// ManagedStream's mutex-guarded session state.
type Cloud struct {
	apiKey      string
	connectURL  string
	language    string
	authURL     string
	logger      telemetry.Logger
	metrics     *telemetry.Metrics
	http        *resty.Client
	replayBytes int // replay ring size in bytes; 0 disables replay

	mu    sync.Mutex
	state cloudState
}

// NewCloud builds a Cloud backend. connectURL is the streaming endpoint;
// authURL is the token-exchange endpoint. replayWindow bounds the
// post-reconnect replay ring (0 disables it).
func NewCloud(apiKey, connectURL, authURL, language string, replayWindow time.Duration, sampleRate int, logger telemetry.Logger, metrics *telemetry.Metrics) *Cloud {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	replayBytes := 0
	if replayWindow > 0 {
		replayBytes = int(replayWindow.Seconds() * float64(sampleRate) * 2)
	}
	return &Cloud{
		apiKey:      apiKey,
		connectURL:  connectURL,
		authURL:     authURL,
		language:    language,
		logger:      logger,
		metrics:     metrics,
		http:        resty.New().SetRetryCount(2).SetRetryWaitTime(300 * time.Millisecond),
		replayBytes: replayBytes,
		state:       stateIdle,
	}
}

func (c *Cloud) Name() string { return "cloud" }

func (c *Cloud) setState(s cloudState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run drives the Idle -> TokenExchange -> Connecting -> Starting ->
// Streaming -> Backoff -> Draining state machine until ctx is cancelled or
// in closes.
func (c *Cloud) Run(ctx context.Context, in <-chan transcript.AudioFrame, out chan<- transcript.TranscriptEvent) error {
	defer close(out)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	var replay []byte
	c.setState(stateIdle)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.setState(stateTokenExchange)
		bearer, err := c.exchangeToken(ctx)
		if err != nil {
			if errors.Is(err, ErrFatal) {
				c.logger.Error("cloud recognizer: token exchange permanently rejected, terminating", "error", err)
				c.setState(stateIdle)
				return err
			}
			c.logger.Warn("cloud recognizer: token exchange failed", "error", err)
			if !c.sleepBackoff(ctx, &backoff, maxBackoff) {
				return ctx.Err()
			}
			continue
		}

		c.setState(stateConnecting)
		conn, err := c.connect(ctx, bearer)
		if err != nil {
			c.logger.Warn("cloud recognizer: connect failed", "error", err)
			if !c.sleepBackoff(ctx, &backoff, maxBackoff) {
				return ctx.Err()
			}
			continue
		}

		c.setState(stateStarting)
		if err := c.sendStart(ctx, conn); err != nil {
			conn.Close(websocket.StatusAbnormalClosure, "start handshake failed")
			if errors.Is(err, ErrFatal) {
				c.logger.Error("cloud recognizer: start handshake incompatible, terminating", "error", err)
				c.setState(stateIdle)
				return err
			}
			c.logger.Warn("cloud recognizer: start handshake failed", "error", err)
			if !c.sleepBackoff(ctx, &backoff, maxBackoff) {
				return ctx.Err()
			}
			continue
		}

		backoff = time.Second // reset on a successful (re)start
		c.setState(stateStreaming)

		if replay != nil {
			_ = conn.Write(ctx, websocket.MessageBinary, replay)
			replay = nil
		}

		drained, streamErr := c.stream(ctx, conn, in, out, &replay)
		conn.Close(websocket.StatusNormalClosure, "")

		if drained {
			c.setState(stateIdle)
			return nil
		}
		if streamErr != nil {
			c.logger.Warn("cloud recognizer: stream disconnected", "error", streamErr)
		}

		c.setState(stateBackoff)
		if !c.sleepBackoff(ctx, &backoff, maxBackoff) {
			return ctx.Err()
		}
	}
}

func (c *Cloud) sleepBackoff(ctx context.Context, backoff *time.Duration, max time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(*backoff) / 2))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff + jitter):
	}
	*backoff *= 2
	if *backoff > max {
		*backoff = max
	}
	return true
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (c *Cloud) exchangeToken(ctx context.Context) (string, error) {
	if c.authURL == "" {
		return c.apiKey, nil
	}
	var tok tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetResult(&tok).
		Post(c.authURL)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange request: %v", ErrTransient, err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return "", fmt.Errorf("%w: token exchange rejected with status %d", ErrFatal, resp.StatusCode())
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: token exchange status %d", ErrTransient, resp.StatusCode())
	}
	return tok.AccessToken, nil
}

func (c *Cloud) connect(ctx context.Context, bearer string) (*websocket.Conn, error) {
	u, err := url.Parse(c.connectURL)
	if err != nil {
		return nil, fmt.Errorf("recognizer: invalid connect url: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Authorization": {"Bearer " + bearer}},
	})
	if err != nil {
		return nil, fmt.Errorf("recognizer: dial: %w", err)
	}
	return conn, nil
}

type startMessage struct {
	Language        string `json:"language"`
	EnablePartials  bool   `json:"enable_partials"`
	Diarization     bool   `json:"diarization"`
}

type serverEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Speaker   string `json:"speaker"`
	Utterance string `json:"utterance_id"`
}

func (c *Cloud) sendStart(ctx context.Context, conn *websocket.Conn) error {
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := wsjson.Write(startCtx, conn, startMessage{Language: c.language, EnablePartials: true}); err != nil {
		return fmt.Errorf("%w: send start: %v", ErrTransient, err)
	}

	var ev serverEvent
	if err := wsjson.Read(startCtx, conn, &ev); err != nil {
		return fmt.Errorf("%w: await RecognitionStarted: %v", ErrTransient, err)
	}
	if ev.Type != "RecognitionStarted" {
		return fmt.Errorf("%w: %w: expected RecognitionStarted, got %q", ErrFatal, ErrProtocol, ev.Type)
	}
	return nil
}

// stream forwards frames and relays server events until disconnect, ctx
// cancellation, or in closing (the drain path). It returns drained=true
// only when in closed and Draining completed, meaning Run should exit.
func (c *Cloud) stream(ctx context.Context, conn *websocket.Conn, in <-chan transcript.AudioFrame, out chan<- transcript.TranscriptEvent, replay *[]byte) (drained bool, err error) {
	eventsDone := make(chan error, 1)
	go func() {
		eventsDone <- c.relayEvents(ctx, conn, out)
	}()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case err := <-eventsDone:
			return false, err
		case frame, ok := <-in:
			if !ok {
				c.setState(stateDraining)
				drainCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = conn.Write(drainCtx, websocket.MessageText, []byte(`{"type":"EndOfStream"}`))
				select {
				case <-eventsDone:
				case <-drainCtx.Done():
				}
				return true, nil
			}
			if err := conn.Write(ctx, websocket.MessageBinary, frame.PCM); err != nil {
				return false, fmt.Errorf("recognizer: write frame: %w", err)
			}
			if c.replayBytes > 0 {
				*replay = appendBounded(*replay, frame.PCM, c.replayBytes)
			}
		}
	}
}

func (c *Cloud) relayEvents(ctx context.Context, conn *websocket.Conn, out chan<- transcript.TranscriptEvent) error {
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("recognizer: read: %w", err)
		}
		var ev serverEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn("cloud recognizer: malformed server event", "error", err)
			continue
		}

		switch ev.Type {
		case "Partial":
			out <- transcript.TranscriptEvent{Type: transcript.EventPartial, Text: ev.Text, Speaker: ev.Speaker}
		case "Final":
			if ev.Text == "" {
				continue
			}
			now := time.Now()
			out <- transcript.TranscriptEvent{
				Type:        transcript.EventFinal,
				Text:        ev.Text,
				Speaker:     ev.Speaker,
				UtteranceID: ev.Utterance,
				StartedAt:   now,
				EndedAt:     now,
			}
		}
	}
}

func appendBounded(buf, add []byte, max int) []byte {
	buf = append(buf, add...)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}
