package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/lokutor-ai/esperanto-captions/pkg/audio"
	"github.com/lokutor-ai/esperanto-captions/pkg/telemetry"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

// LocalOffline is the embedded lightweight RecognizerBackend, backed by
// whisper.cpp CGO bindings, grounded on MrWong99-glyphoxa's NativeProvider:
// silence-triggered buffering, one fresh inference context per flush, the
// shared model loaded once at startup. Silence detection itself is the
// teacher's RMS-hysteresis VAD, generalized into pkg/audio.
type LocalOffline struct {
	model    whisperlib.Model
	language string
	logger   telemetry.Logger
	metrics  *telemetry.Metrics

	sampleRate          int
	maxBufferDurationMs int
	vad                 *audio.VAD
}

// NewLocalOffline loads a whisper.cpp model from modelPath. Close releases
// it when the backend is no longer needed.
func NewLocalOffline(modelPath, language string, sampleRate int, logger telemetry.Logger, metrics *telemetry.Metrics) (*LocalOffline, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: local_offline requires a model path", ErrBackendUnavailable)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load whisper model %q: %v", ErrBackendUnavailable, modelPath, err)
	}
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	return &LocalOffline{
		model:               model,
		language:            language,
		logger:              logger,
		metrics:             metrics,
		sampleRate:          sampleRate,
		maxBufferDurationMs: 10000,
		vad:                 audio.NewVAD(0.02, 500*time.Millisecond),
	}, nil
}

func (l *LocalOffline) Name() string { return "local_offline" }

// Close releases the underlying whisper model.
func (l *LocalOffline) Close() error { return l.model.Close() }

func (l *LocalOffline) Run(ctx context.Context, in <-chan transcript.AudioFrame, out chan<- transcript.TranscriptEvent) error {
	defer close(out)

	var buffer []byte
	bytesPerMs := l.sampleRate * 2 / 1000
	maxBufferBytes := l.maxBufferDurationMs * bytesPerMs

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		text, err := l.infer(buffer)
		buffer = nil
		l.vad.Reset()
		if err != nil {
			l.logger.Warn("local_offline recognizer: inference failed", "error", err)
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		now := time.Now()
		out <- transcript.TranscriptEvent{
			Type:      transcript.EventFinal,
			Text:      text,
			StartedAt: now,
			EndedAt:   now,
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case frame, ok := <-in:
			if !ok {
				flush()
				return nil
			}
			buffer = append(buffer, frame.PCM...)

			if l.vad.Process(frame.PCM) {
				flush()
			}

			if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
				flush()
			}
		}
	}
}

func (l *LocalOffline) infer(pcm []byte) (string, error) {
	samples := pcmToFloat32Mono(pcm)

	wctx, err := l.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("local_offline: create context: %w", err)
	}
	if err := wctx.SetLanguage(l.language); err != nil {
		l.logger.Warn("local_offline recognizer: failed to set language, using default", "language", l.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("local_offline: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("local_offline: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func pcmToFloat32Mono(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		samples[i] = float32(v) / 32768.0
	}
	return samples
}
