// Package audio implements C1: a malgo-backed capture source producing
// fixed-duration PCM16 mono frames, with hot device re-binding and
// stream-health recovery. Grounded on cmd/agent/main.go's malgo wiring and
// other_examples' loopback-capture Recorder (device-change tolerant,
// drop-on-full channel pump).
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/lokutor-ai/esperanto-captions/pkg/telemetry"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

// Config configures an AudioSource. Fields mirror spec.md §6's AUDIO_* keys.
type Config struct {
	// DeviceIndex pins a fixed capture device; empty means use the platform
	// default input (or, if DeviceNameSubstr is set, resolve by name).
	DeviceIndex string
	// DeviceNameSubstr pins a device by case-insensitive name substring when
	// DeviceIndex is empty.
	DeviceNameSubstr string
	// Loopback captures the platform's render (output) device instead of a
	// microphone, for meeting-audio capture.
	Loopback bool

	SampleRate       int
	DeviceSampleRate int
	Channels         int
	ChunkDuration    time.Duration
	CheckInterval    time.Duration

	// DeadStreamTimeout is how long the source tolerates silence from a
	// bound stream before concluding it is dead and scheduling a re-bind.
	DeadStreamTimeout time.Duration
	// BindGrace is the minimum time after a successful bind before the
	// health check starts counting silence against it.
	BindGrace time.Duration
	// QueueSize bounds the emitted frame channel; oldest frames are dropped
	// on overflow.
	QueueSize int
}

// DefaultConfig applies spec.md §4.1's defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		DeviceSampleRate:  16000,
		Channels:          1,
		ChunkDuration:      500 * time.Millisecond,
		CheckInterval:      2 * time.Second,
		DeadStreamTimeout:  5 * time.Second,
		BindGrace:          1500 * time.Millisecond,
		QueueSize:          32,
	}
}

// Source is C1: a single-active-stream capture device with hot re-bind.
type Source struct {
	cfg     Config
	logger  telemetry.Logger
	metrics *telemetry.Metrics

	mctx *malgo.AllocatedContext

	bindMu        sync.Mutex
	device        *malgo.Device
	boundDeviceID *malgo.DeviceID
	boundAt       time.Time
	lastFrameAt   time.Time
	streamDead    bool

	sessionID   string
	frameIndex  uint64
	frameIdxMu  sync.Mutex

	frames    chan transcript.AudioFrame
	overflows uint64

	resampler *resampler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Source. Call Start to begin capture.
func New(cfg Config, logger telemetry.Logger, metrics *telemetry.Metrics) (*Source, error) {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo log", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("audio: init malgo context: %w", err)
	}

	return &Source{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		mctx:      mctx,
		frames:    make(chan transcript.AudioFrame, cfg.QueueSize),
		resampler: newResampler(cfg.DeviceSampleRate, cfg.SampleRate, cfg.Channels),
	}, nil
}

// Frames yields captured frames in order. The channel is bounded; on
// overflow the oldest frame is dropped (see OverflowCount).
func (s *Source) Frames() <-chan transcript.AudioFrame { return s.frames }

// OverflowCount returns the number of frames dropped so far due to a full
// queue.
func (s *Source) OverflowCount() uint64 {
	s.frameIdxMu.Lock()
	defer s.frameIdxMu.Unlock()
	return s.overflows
}

// Start begins capture and the re-bind supervisor. sessionID identifies the
// capture session for downstream frame tagging; FrameIndex resets to 0 each
// time Start is called.
func (s *Source) Start(ctx context.Context, sessionID string) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.sessionID = sessionID
	s.frameIndex = 0

	if err := s.bindWithRetry(s.ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.superviseLoop()
	return nil
}

// Stop releases the device and terminates the frame stream.
func (s *Source) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.bindMu.Lock()
	s.unbindLocked()
	s.bindMu.Unlock()

	s.mctx.Uninit()
}

func (s *Source) superviseLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.needsRebind() {
				if err := s.bindWithRetry(s.ctx); err != nil && s.ctx.Err() == nil {
					s.logger.Warn("audio: rebind failed, will retry next interval", "error", err)
				}
			}
		}
	}
}

func (s *Source) needsRebind() bool {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	if s.streamDead {
		return true
	}
	if time.Since(s.boundAt) < s.cfg.BindGrace {
		return false
	}
	if s.cfg.DeviceIndex == "" && s.cfg.DeviceNameSubstr == "" {
		// No pinned device: re-bind whenever the platform default changes.
		current, err := s.resolveDefaultDevice()
		if err == nil && s.boundDeviceID != nil && *current != *s.boundDeviceID {
			return true
		}
	}
	if time.Since(s.lastFrameAt) > s.cfg.DeadStreamTimeout && !s.boundAt.IsZero() {
		return true
	}
	return false
}

// bindWithRetry tears down any current stream and attempts to bind the
// preferred device, retrying with exponential backoff (0.5s..5s) across the
// deterministic enumeration order until ctx is cancelled.
func (s *Source) bindWithRetry(ctx context.Context) error {
	backoff := 500 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		err := s.bindOnce()
		if err == nil {
			return nil
		}
		s.logger.Warn("audio: device bind failed, retrying", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Source) bindOnce() error {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	s.unbindLocked()

	ids, err := s.enumerationOrder()
	if err != nil {
		return fmt.Errorf("audio: enumerate devices: %w", err)
	}
	if len(ids) == 0 {
		return errors.New("audio: no capture devices available")
	}

	var lastErr error
	for _, id := range ids {
		dev, err := s.openDevice(id)
		if err != nil {
			lastErr = err
			continue
		}
		s.device = dev
		s.boundDeviceID = id
		s.boundAt = time.Now()
		s.lastFrameAt = time.Now()
		s.streamDead = false
		return nil
	}
	return fmt.Errorf("audio: all candidate devices failed to open: %w", lastErr)
}

func (s *Source) unbindLocked() {
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
}

// enumerationOrder returns the deterministic candidate device list: the
// pinned index or name match first (if configured), then the platform
// default, then every remaining capture device in enumeration order.
func (s *Source) enumerationOrder() ([]*malgo.DeviceID, error) {
	infos, err := s.mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}

	var preferred *malgo.DeviceID
	if s.cfg.DeviceIndex != "" {
		if idx, err := parseDeviceIndex(s.cfg.DeviceIndex); err == nil && idx >= 0 && idx < len(infos) {
			preferred = &infos[idx].ID
		}
	} else if s.cfg.DeviceNameSubstr != "" {
		for i := range infos {
			if strings.Contains(strings.ToLower(infos[i].Name()), strings.ToLower(s.cfg.DeviceNameSubstr)) {
				preferred = &infos[i].ID
				break
			}
		}
	}

	var ordered []*malgo.DeviceID
	if preferred != nil {
		ordered = append(ordered, preferred)
	}
	for i := range infos {
		if infos[i].IsDefault != 0 && (preferred == nil || infos[i].ID != *preferred) {
			ordered = append(ordered, &infos[i].ID)
		}
	}
	for i := range infos {
		if infos[i].IsDefault != 0 || (preferred != nil && infos[i].ID == *preferred) {
			continue
		}
		ordered = append(ordered, &infos[i].ID)
	}
	return ordered, nil
}

func (s *Source) resolveDefaultDevice() (*malgo.DeviceID, error) {
	infos, err := s.mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].IsDefault != 0 {
			return &infos[i].ID, nil
		}
	}
	if len(infos) > 0 {
		return &infos[0].ID, nil
	}
	return nil, errors.New("audio: no devices enumerated")
}

func (s *Source) openDevice(id *malgo.DeviceID) (*malgo.Device, error) {
	deviceType := malgo.Capture
	if s.cfg.Loopback {
		deviceType = malgo.Loopback
	}

	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.cfg.Channels)
	deviceConfig.SampleRate = uint32(s.cfg.DeviceSampleRate)
	deviceConfig.Capture.DeviceID = id
	deviceConfig.PeriodSizeInMilliseconds = uint32(s.cfg.ChunkDuration.Milliseconds())

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			s.onSamples(pInput)
		},
		Stop: func() {
			s.bindMu.Lock()
			s.streamDead = true
			s.bindMu.Unlock()
		},
	}

	dev, err := malgo.InitDevice(s.mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, err
	}
	return dev, nil
}

func (s *Source) onSamples(pInput []byte) {
	if len(pInput) == 0 {
		return
	}

	s.bindMu.Lock()
	s.lastFrameAt = time.Now()
	s.bindMu.Unlock()

	pcm := s.resampler.process(pInput)
	if len(pcm) == 0 {
		return
	}

	s.frameIdxMu.Lock()
	idx := s.frameIndex
	s.frameIndex++
	s.frameIdxMu.Unlock()

	frame := transcript.AudioFrame{
		PCM:        pcm,
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
		FrameIndex: idx,
		CapturedAt: time.Now(),
		SessionID:  s.sessionID,
	}

	select {
	case s.frames <- frame:
	default:
		// Drop the oldest queued frame to make room, per spec.md §4.1.
		select {
		case <-s.frames:
		default:
		}
		select {
		case s.frames <- frame:
		default:
		}
		s.frameIdxMu.Lock()
		s.overflows++
		s.frameIdxMu.Unlock()
		s.metrics.FramesDropped.Add(context.Background(), 1)
	}
}

func parseDeviceIndex(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
