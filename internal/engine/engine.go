package engine

import (
	"context"
	"errors"

	"github.com/jgbrblmd/seed-vc/internal/audio"
)

var (
	// ErrCapacityExceeded indicates a conversion was rejected before reaching
	// the engine because its estimated sequence length does not fit the
	// engine's fixed decode caches.
	ErrCapacityExceeded = errors.New("estimated sequence length exceeds engine capacity")

	// ErrProtocol indicates the engine backend violated the streaming
	// protocol, for example by sending events after the terminal frame.
	ErrProtocol = errors.New("engine protocol violation")

	// ErrNoResult indicates the engine finished without delivering a final
	// result, meaning no audio was generated.
	ErrNoResult = errors.New("engine produced no final result")
)

// EventKind identifies the type of a conversion stream event
type EventKind int

const (
	// EventChunk carries a transport-encoded partial render of the output
	EventChunk EventKind = iota
	// EventFinal carries the complete converted audio and ends the stream
	EventFinal
)

// StreamEvent is a single event produced during a conversion. Chunk is set
// for EventChunk events, Final for EventFinal events.
type StreamEvent struct {
	Kind  EventKind
	Chunk []byte
	Final *audio.SampleBuffer
}

// Stream delivers conversion events in arrival order. Recv returns io.EOF
// once the terminal event has been delivered. Close releases underlying
// resources and is safe to call more than once.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// Params controls a single conversion
type Params struct {
	DiffusionSteps     int
	LengthAdjust       float64
	IntelligibilityCFG float64
	SimilarityCFG      float64
	TopP               float64
	Temperature        float64
	RepetitionPenalty  float64
	ConvertStyle       bool
	AnonymizationOnly  bool
}

// PrepareParams sizes the engine's decode caches at startup
type PrepareParams struct {
	MaxBatch  int    `json:"max_batch"`
	MaxSeqLen int    `json:"max_seq_len"`
	Precision string `json:"precision"`
}

// Status reports engine readiness
type Status struct {
	Ready   bool   `json:"ready"`
	Backend string `json:"backend"`
}

// Engine runs voice conversions against a model runner
type Engine interface {
	// Prepare allocates the engine's fixed decode caches. It must complete
	// successfully before any Convert call.
	Prepare(ctx context.Context, params PrepareParams) error

	// Convert starts converting the source recording toward the target voice
	// and returns a stream of partial chunks followed by one final result.
	Convert(ctx context.Context, sourcePath, targetPath string, params Params) (Stream, error)

	// Ready reports whether the engine can accept conversions
	Ready(ctx context.Context) (*Status, error)

	// Backend names the compute backend the engine runs on
	Backend() string
}
