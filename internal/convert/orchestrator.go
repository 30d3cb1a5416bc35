package convert

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jgbrblmd/seed-vc/internal/artifacts"
	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/engine"
	"github.com/jgbrblmd/seed-vc/internal/metrics"
)

// StreamFormat is the fixed transport codec for partial output. The engine
// emits chunks already encoded in it; the user-selected format applies only
// to the full output.
const StreamFormat = audio.FormatMP3

// Orchestrator drives a conversion end to end: admission, input resolution,
// the gated engine stream, output encoding and artifact handling. Run never
// returns an error; every failure is folded into the outcome.
type Orchestrator struct {
	gate      *engine.Gate
	resolver  *Resolver
	encoder   *audio.Encoder
	admission *Admission
	registry  *artifacts.Registry
	outputDir string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewOrchestrator assembles an orchestrator. Admission, registry and metrics
// may be nil, disabling backpressure, artifact retention and instrumentation
// respectively.
func NewOrchestrator(gate *engine.Gate, resolver *Resolver, encoder *audio.Encoder,
	admission *Admission, registry *artifacts.Registry, outputDir string,
	logger *slog.Logger, m *metrics.Metrics) *Orchestrator {

	return &Orchestrator{
		gate:      gate,
		resolver:  resolver,
		encoder:   encoder,
		admission: admission,
		registry:  registry,
		outputDir: outputDir,
		logger:    logger,
		metrics:   m,
	}
}

// Run executes one conversion request and always produces an outcome
func (o *Orchestrator) Run(ctx context.Context, req Request) *Outcome {
	started := time.Now()
	if o.metrics != nil {
		o.metrics.RecordConversionStarted()
	}

	outcome := o.run(ctx, req)
	outcome.ProcessingTimeMs = time.Since(started).Milliseconds()
	if outcome.RequestedFormat == "" {
		outcome.RequestedFormat = req.OutputFormat
	}

	if o.metrics != nil {
		if outcome.Success {
			o.metrics.RecordConversionSucceeded(time.Since(started).Seconds())
		} else {
			o.metrics.RecordConversionFailed(string(outcome.FailureKind), time.Since(started).Seconds())
		}
	}

	if outcome.Success {
		o.logger.Info("Conversion completed",
			slog.String("output_format", outcome.OutputFormat),
			slog.Int64("processing_time_ms", outcome.ProcessingTimeMs))
	} else {
		o.logger.Warn("Conversion failed",
			slog.String("failure_kind", string(outcome.FailureKind)),
			slog.String("message", outcome.Message),
			slog.Int64("processing_time_ms", outcome.ProcessingTimeMs))
	}

	return outcome
}

func (o *Orchestrator) run(ctx context.Context, req Request) *Outcome {
	// Request shape and ranges, before any resource is touched
	if err := req.Validate(); err != nil {
		return failure(FailValidation, err.Error())
	}

	release, err := o.admit(ctx)
	if err != nil {
		if errors.Is(err, ErrOverloaded) {
			return failure(FailOverloaded, err.Error())
		}
		return failure(FailInternal, err.Error())
	}
	defer release()

	tracker := NewTracker(o.logger)
	defer func() {
		if req.CleanupTempFiles {
			tracker.ReleaseAll()
		}
	}()

	// Resolve both inputs concurrently. Either failure short-circuits; the
	// deferred cleanup covers whatever the other side already materialized.
	var (
		wg                   sync.WaitGroup
		source, target       *Resolved
		sourceErr, targetErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		source, sourceErr = o.resolver.Resolve(ctx, req.SourceSpec(), tracker)
	}()
	go func() {
		defer wg.Done()
		target, targetErr = o.resolver.Resolve(ctx, req.TargetSpec(), tracker)
	}()
	wg.Wait()

	if sourceErr != nil {
		return failure(classifyResolve(sourceErr), fmt.Sprintf("source audio: %v", sourceErr))
	}
	if targetErr != nil {
		return failure(classifyResolve(targetErr), fmt.Sprintf("target audio: %v", targetErr))
	}

	info := &InputPair{Source: source.Info, Target: target.Info}

	// Capacity check and exclusive engine access happen inside the gate
	stream, err := o.gate.Convert(ctx,
		engine.Input{Path: source.Path, Duration: source.Info.Duration},
		engine.Input{Path: target.Path, Duration: target.Info.Duration},
		req.EngineParams())
	if err != nil {
		kind, message := classifyEngine(err)
		return failure(kind, message)
	}

	// Drain the stream keeping only the latest partial chunk and the final
	// buffer. Close is idempotent and also covers early exits.
	var lastChunk []byte
	var final *audio.SampleBuffer
	for {
		event, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			stream.Close()
			kind, message := classifyEngine(recvErr)
			return failure(kind, message)
		}
		switch event.Kind {
		case engine.EventChunk:
			lastChunk = event.Chunk
		case engine.EventFinal:
			final = event.Final
		}
	}
	stream.Close()

	if final == nil {
		return failure(FailEngine, "No audio was generated")
	}

	// Encode the full output in the requested format; the effective format
	// may differ when the encoder fell back
	encodeStart := time.Now()
	encoded, err := o.encoder.Encode(ctx, final, req.OutputFormat)
	if err != nil {
		return failure(FailEncoding, fmt.Sprintf("failed to encode output: %v", err))
	}
	if o.metrics != nil {
		o.metrics.RecordEncodeDuration(time.Since(encodeStart).Seconds())
		if encoded.Format != req.OutputFormat {
			o.metrics.RecordEncodeFallback()
		}
	}

	fullPath := filepath.Join(o.outputDir, "vc_full_"+uuid.NewString()+audio.Extension(encoded.Format))
	if err := os.WriteFile(fullPath, encoded.Data, 0644); err != nil {
		return failure(FailIO, fmt.Sprintf("failed to write output file: %v", err))
	}
	tracker.Track(fullPath)

	var streamingPath string
	if len(lastChunk) > 0 {
		streamingPath = filepath.Join(o.outputDir, "vc_stream_"+uuid.NewString()+audio.Extension(StreamFormat))
		if err := os.WriteFile(streamingPath, lastChunk, 0644); err != nil {
			return failure(FailIO, fmt.Sprintf("failed to write streaming output file: %v", err))
		}
		tracker.Track(streamingPath)
	}

	outcome := &Outcome{
		Success:         true,
		Message:         "Voice conversion completed successfully",
		OutputFormat:    encoded.Format,
		RequestedFormat: req.OutputFormat,
		InputInfo:       info,
	}

	if req.ReturnBase64 {
		outcome.FullBase64 = base64.StdEncoding.EncodeToString(encoded.Data)
		if len(lastChunk) > 0 {
			outcome.StreamingBase64 = base64.StdEncoding.EncodeToString(lastChunk)
		}
		if req.CleanupTempFiles {
			tracker.Release(fullPath)
			if streamingPath != "" {
				tracker.Release(streamingPath)
			}
		}
		return outcome
	}

	// Path delivery: ownership of the files moves out of the request scope,
	// to the artifact registry when one is configured
	outcome.FullPath = fullPath
	tracker.Transfer(fullPath)
	outcome.FullToken = o.register(fullPath, encoded.Format)

	if streamingPath != "" {
		outcome.StreamingPath = streamingPath
		tracker.Transfer(streamingPath)
		outcome.StreamingToken = o.register(streamingPath, StreamFormat)
	}

	return outcome
}

func (o *Orchestrator) admit(ctx context.Context) (func(), error) {
	if o.admission == nil {
		return func() {}, nil
	}
	return o.admission.Acquire(ctx)
}

func (o *Orchestrator) register(path, format string) string {
	if o.registry == nil {
		return ""
	}
	token, err := o.registry.Put(path, format)
	if err != nil {
		o.logger.Warn("Failed to register artifact",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return ""
	}
	return token
}

func classifyResolve(err error) FailureKind {
	switch {
	case errors.Is(err, ErrNotFound):
		return FailNotFound
	case errors.Is(err, ErrBadPayload):
		return FailDecode
	case errors.Is(err, audio.ErrUnsupportedAudio):
		return FailInvalidAudio
	default:
		return FailIO
	}
}

func classifyEngine(err error) (FailureKind, string) {
	switch {
	case errors.Is(err, engine.ErrCapacityExceeded):
		return FailCapacity, err.Error()
	case errors.Is(err, engine.ErrNoResult):
		return FailEngine, "No audio was generated"
	default:
		return FailEngine, fmt.Sprintf("Voice conversion failed: %v", err)
	}
}
