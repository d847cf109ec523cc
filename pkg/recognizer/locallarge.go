package recognizer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lokutor-ai/esperanto-captions/pkg/telemetry"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// LocalLarge is the windowed RecognizerBackend backed by a larger ONNX
// acoustic model, grounded on nupi-ai-plugin-vad-local-silero's
// onnxruntime_go session setup: shared-library init, fixed-shape reusable
// tensors, greedy CTC decode over a vocabulary.
type LocalLarge struct {
	session *ort.AdvancedSession

	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]

	windowSamples int
	vocab         []string
	blankIndex    int

	logger  telemetry.Logger
	metrics *telemetry.Metrics
}

// LocalLargeOptions configures window size and vocabulary for the ONNX
// acoustic model. Vocab lists the output tokens, where slice index == output
// class index; index 0 is always treated as the CTC blank.
type LocalLargeOptions struct {
	SharedLibraryPath string
	ModelPath         string
	Vocab             []string
	WindowSamples     int
}

// NewLocalLarge loads the shared ONNX Runtime library (once process-wide)
// and builds a session from the model at ModelPath.
func NewLocalLarge(opts LocalLargeOptions, logger telemetry.Logger, metrics *telemetry.Metrics) (*LocalLarge, error) {
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("%w: local_large requires a model path", ErrBackendUnavailable)
	}
	if len(opts.Vocab) == 0 {
		return nil, fmt.Errorf("%w: local_large requires a non-empty vocabulary", ErrBackendUnavailable)
	}
	if opts.WindowSamples <= 0 {
		opts.WindowSamples = 16000 * 4 // 4s windows at 16kHz by default
	}
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}

	ortInitOnce.Do(func() {
		if opts.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(opts.SharedLibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("%w: initialize onnxruntime: %v", ErrBackendUnavailable, ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(opts.WindowSamples)))
	if err != nil {
		return nil, fmt.Errorf("local_large: create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(opts.WindowSamples/320), int64(len(opts.Vocab))))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("local_large: create output tensor: %w", err)
	}

	modelData, err := os.ReadFile(opts.ModelPath)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("%w: read model %q: %v", ErrBackendUnavailable, opts.ModelPath, err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		modelData,
		[]string{"audio"},
		[]string{"logits"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("local_large: create session: %w", err)
	}

	return &LocalLarge{
		session:       session,
		inputTensor:   inputTensor,
		outputTensor:  outputTensor,
		windowSamples: opts.WindowSamples,
		vocab:         opts.Vocab,
		blankIndex:    0,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

func (l *LocalLarge) Name() string { return "local_large" }

// Close releases the session and its tensors.
func (l *LocalLarge) Close() error {
	err := l.session.Destroy()
	l.inputTensor.Destroy()
	l.outputTensor.Destroy()
	return err
}

func (l *LocalLarge) Run(ctx context.Context, in <-chan transcript.AudioFrame, out chan<- transcript.TranscriptEvent) error {
	defer close(out)

	var buf []float32
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-in:
			if !ok {
				if len(buf) > 0 {
					l.emitWindow(buf, out)
				}
				return nil
			}
			buf = append(buf, pcmToFloat32Mono(frame.PCM)...)
			for len(buf) >= l.windowSamples {
				window := buf[:l.windowSamples]
				buf = buf[l.windowSamples:]
				l.emitWindow(window, out)
			}
		}
	}
}

func (l *LocalLarge) emitWindow(samples []float32, out chan<- transcript.TranscriptEvent) {
	text, err := l.infer(samples)
	if err != nil {
		l.logger.Warn("local_large recognizer: inference failed", "error", err)
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

// infer runs one ONNX forward pass over exactly windowSamples samples and
// greedily CTC-decodes the resulting logits. Only one inference may be
// in-flight at a time since the session's tensors are reused.
func (l *LocalLarge) infer(samples []float32) (string, error) {
	if len(samples) != l.windowSamples {
		padded := make([]float32, l.windowSamples)
		copy(padded, samples)
		samples = padded
	}
	copy(l.inputTensor.GetData(), samples)

	if err := l.session.Run(); err != nil {
		return "", fmt.Errorf("local_large: run session: %w", err)
	}

	logits := l.outputTensor.GetData()
	vocabSize := len(l.vocab)
	steps := len(logits) / vocabSize

	var tokens []string
	prev := -1
	for t := 0; t < steps; t++ {
		row := logits[t*vocabSize : (t+1)*vocabSize]
		best, bestScore := 0, row[0]
		for i, v := range row {
			if v > bestScore {
				best, bestScore = i, v
			}
		}
		if best != l.blankIndex && best != prev {
			tokens = append(tokens, l.vocab[best])
		}
		prev = best
	}
	return strings.Join(tokens, ""), nil
}
