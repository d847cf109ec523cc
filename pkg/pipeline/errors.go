package pipeline

import "errors"

var (
	// ErrConfig marks a startup failure caused by invalid or missing
	// configuration: Run never reaches the event loop.
	ErrConfig = errors.New("pipeline: configuration error")

	// ErrDevice marks a capture-device failure (no device enumerated, bind
	// failed) that prevented the audio source from starting.
	ErrDevice = errors.New("pipeline: audio device error")

	// ErrSink marks a failure in one of the output sinks (transcript log,
	// caption poster, Discord batcher, web broadcaster) during shutdown.
	ErrSink = errors.New("pipeline: sink error")
)
