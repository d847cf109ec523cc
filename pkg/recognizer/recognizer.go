// Package recognizer implements C2: the RecognizerBackend abstraction and
// its three interchangeable implementations (cloud streaming, local
// offline whisper.cpp, local large onnxruntime), grounded on the teacher's
// STTProvider/StreamingSTTProvider interfaces and ManagedStream's
// mutex-guarded per-session state machine.
package recognizer

import (
	"context"

	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
)

// Backend runs one recognition session: it consumes audio frames from in
// and emits partial/final transcript events to out until ctx is cancelled
// or in is closed, at which point it closes out and returns.
//
// Implementations must never emit a Final event with empty text (callers
// drop those per spec.md §8), and must keep emitting frames/events in
// capture order. Transient failures are retried inside the backend and
// not returned. Any returned error other than ctx cancellation (typically
// one wrapping ErrFatal) terminates the pipeline (exit code 3); the
// backend is not restarted.
type Backend interface {
	Run(ctx context.Context, in <-chan transcript.AudioFrame, out chan<- transcript.TranscriptEvent) error
	Name() string
}
