package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jgbrblmd/seed-vc/internal/metrics"
)

// Input describes one side of a conversion submitted to the gate
type Input struct {
	Path     string
	Duration float64 // seconds
}

// GateConfig contains engine gate configuration
type GateConfig struct {
	MaxSeqLen       int
	TokensPerSecond float64
}

// GateStats represents gate activity counters
type GateStats struct {
	Busy              bool   `json:"busy"`
	QueueDepth        int    `json:"queue_depth"`
	TotalAdmitted     uint64 `json:"total_admitted"`
	CapacityRejected  uint64 `json:"capacity_rejected"`
	AbandonedWaits    uint64 `json:"abandoned_waits"`
	LongestQueueDepth int    `json:"longest_queue_depth"`
}

// Gate serializes access to a single-instance engine. Conversions acquire
// the gate in arrival order and hold it until their stream delivers the
// terminal event or is closed. Requests whose estimated sequence length
// cannot fit the engine's decode caches are rejected before queueing.
type Gate struct {
	engine  Engine
	config  GateConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}

	// Statistics
	totalAdmitted     uint64
	capacityRejected  uint64
	abandonedWaits    uint64
	longestQueueDepth int
}

// NewGate creates a gate around the given engine
func NewGate(eng Engine, config GateConfig, logger *slog.Logger, m *metrics.Metrics) *Gate {
	if config.MaxSeqLen <= 0 {
		config.MaxSeqLen = 32768
	}
	if config.TokensPerSecond <= 0 {
		config.TokensPerSecond = 87
	}

	return &Gate{
		engine:  eng,
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// Convert checks capacity, waits for exclusive engine access in FIFO order
// and starts the conversion. The returned stream releases the gate when the
// terminal event is delivered or the stream is closed, whichever comes first.
func (g *Gate) Convert(ctx context.Context, source, target Input, params Params) (Stream, error) {
	tokens := EstimateTokens(source.Duration, target.Duration, params.LengthAdjust, g.config.TokensPerSecond)
	if tokens > g.config.MaxSeqLen {
		g.incrementCapacityRejected()
		g.logger.Warn("Conversion rejected by capacity pre-check",
			slog.Int("estimated_tokens", tokens),
			slog.Int("max_seq_len", g.config.MaxSeqLen),
			slog.Float64("source_duration", source.Duration),
			slog.Float64("target_duration", target.Duration),
			slog.Float64("length_adjust", params.LengthAdjust))
		return nil, fmt.Errorf("%w: estimated %d tokens, limit %d", ErrCapacityExceeded, tokens, g.config.MaxSeqLen)
	}

	waitStart := time.Now()
	if err := g.acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for engine: %w", err)
	}

	waited := time.Since(waitStart)
	if g.metrics != nil {
		g.metrics.RecordGateWait(waited.Seconds())
	}
	if waited > time.Second {
		g.logger.Debug("Conversion waited for engine",
			slog.Float64("wait_seconds", waited.Seconds()))
	}

	stream, err := g.engine.Convert(ctx, source.Path, target.Path, params)
	if err != nil {
		g.release()
		return nil, err
	}

	return &gatedStream{
		inner:   stream,
		gate:    g,
		started: time.Now(),
	}, nil
}

// Ready reports readiness of the underlying engine
func (g *Gate) Ready(ctx context.Context) (*Status, error) {
	return g.engine.Ready(ctx)
}

// Backend names the underlying engine's compute backend
func (g *Gate) Backend() string {
	return g.engine.Backend()
}

// acquire blocks until the caller owns the gate or the context is done.
// Ownership is granted strictly in arrival order.
func (g *Gate) acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.busy && len(g.waiters) == 0 {
		g.busy = true
		g.totalAdmitted++
		g.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	g.waiters = append(g.waiters, ready)
	if len(g.waiters) > g.longestQueueDepth {
		g.longestQueueDepth = len(g.waiters)
	}
	g.mu.Unlock()

	select {
	case <-ready:
		g.mu.Lock()
		g.totalAdmitted++
		g.mu.Unlock()
		return nil
	case <-ctx.Done():
		g.abandon(ready)
		return ctx.Err()
	}
}

// abandon removes a waiting ticket after context cancellation. If ownership
// was granted concurrently with the cancellation, it is handed straight to
// the next waiter.
func (g *Gate) abandon(ready chan struct{}) {
	g.mu.Lock()
	for i, w := range g.waiters {
		if w == ready {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			g.abandonedWaits++
			g.mu.Unlock()
			return
		}
	}
	g.abandonedWaits++
	g.mu.Unlock()

	// Not in the queue anymore: release already granted us the gate.
	g.release()
}

// release passes the gate to the next waiter or marks it free
func (g *Gate) release() {
	g.mu.Lock()
	if len(g.waiters) > 0 {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		close(next)
		return
	}
	g.busy = false
	g.mu.Unlock()
}

func (g *Gate) incrementCapacityRejected() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.capacityRejected++
}

// GetStats returns current gate statistics
func (g *Gate) GetStats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	return GateStats{
		Busy:              g.busy,
		QueueDepth:        len(g.waiters),
		TotalAdmitted:     g.totalAdmitted,
		CapacityRejected:  g.capacityRejected,
		AbandonedWaits:    g.abandonedWaits,
		LongestQueueDepth: g.longestQueueDepth,
	}
}

// gatedStream wraps an engine stream and releases the gate exactly once,
// on the terminal event, a receive error or Close.
type gatedStream struct {
	inner   Stream
	gate    *Gate
	started time.Time
	once    sync.Once
}

func (s *gatedStream) Recv() (StreamEvent, error) {
	event, err := s.inner.Recv()
	if err != nil {
		s.unlock()
		return event, err
	}
	if event.Kind == EventFinal {
		s.unlock()
	}
	return event, nil
}

func (s *gatedStream) Close() error {
	err := s.inner.Close()
	s.unlock()
	return err
}

func (s *gatedStream) unlock() {
	s.once.Do(func() {
		held := time.Since(s.started)
		s.gate.release()
		if s.gate.metrics != nil {
			s.gate.metrics.RecordGateHold(held.Seconds())
		}
	})
}
