package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jgbrblmd/seed-vc/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeEngine records conversion calls and tracks how many streams are open
// at the same time
type fakeEngine struct {
	delay      time.Duration
	streamErr  error // returned by the stream instead of a final event
	convertErr error // returned by Convert itself

	mu        sync.Mutex
	active    int
	maxActive int
	calls     []string
}

func (e *fakeEngine) Prepare(ctx context.Context, params PrepareParams) error { return nil }

func (e *fakeEngine) Ready(ctx context.Context) (*Status, error) {
	return &Status{Ready: true, Backend: "fake"}, nil
}

func (e *fakeEngine) Backend() string { return "fake" }

func (e *fakeEngine) Convert(ctx context.Context, sourcePath, targetPath string, params Params) (Stream, error) {
	e.mu.Lock()
	e.calls = append(e.calls, sourcePath)
	if e.convertErr != nil {
		e.mu.Unlock()
		return nil, e.convertErr
	}
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	e.mu.Unlock()

	return &fakeConvertStream{engine: e, delay: e.delay, fail: e.streamErr}, nil
}

func (e *fakeEngine) finish() {
	e.mu.Lock()
	e.active--
	e.mu.Unlock()
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// fakeConvertStream delivers one final event after an optional delay
type fakeConvertStream struct {
	engine *fakeEngine
	delay  time.Duration
	fail   error
	done   bool
}

func (s *fakeConvertStream) Recv() (StreamEvent, error) {
	if s.done {
		return StreamEvent{}, io.EOF
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.done = true
	s.engine.finish()
	if s.fail != nil {
		return StreamEvent{}, s.fail
	}
	return StreamEvent{
		Kind:  EventFinal,
		Final: audio.NewSampleBuffer(make([]int16, 16), 16000),
	}, nil
}

func (s *fakeConvertStream) Close() error {
	if !s.done {
		s.done = true
		s.engine.finish()
	}
	return nil
}

func shortInput(path string) Input {
	return Input{Path: path, Duration: 1.0}
}

func defaultParams() Params {
	return Params{
		DiffusionSteps:    30,
		LengthAdjust:      1.0,
		TopP:              0.9,
		Temperature:       1.0,
		RepetitionPenalty: 1.0,
	}
}

func waitForQueueDepth(t *testing.T, gate *Gate, depth int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if gate.GetStats().QueueDepth >= depth {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queue never reached depth %d", depth)
}

func TestGateSingleConversion(t *testing.T) {
	eng := &fakeEngine{}
	gate := NewGate(eng, GateConfig{}, testLogger(), nil)

	stream, err := gate.Convert(context.Background(), shortInput("source.wav"), shortInput("target.wav"), defaultParams())
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	event, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if event.Kind != EventFinal {
		t.Errorf("expected final event, got kind %d", event.Kind)
	}
	if event.Final == nil {
		t.Fatal("final event has no buffer")
	}

	// After the terminal event the stream reports EOF and the gate is free
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("expected io.EOF after final event, got %v", err)
	}

	stats := gate.GetStats()
	if stats.Busy {
		t.Error("gate should be free after the terminal event")
	}
	if stats.TotalAdmitted != 1 {
		t.Errorf("expected 1 admitted conversion, got %d", stats.TotalAdmitted)
	}

	// Close after completion is a harmless no-op
	if err := stream.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestGateExclusive(t *testing.T) {
	eng := &fakeEngine{delay: 10 * time.Millisecond}
	gate := NewGate(eng, GateConfig{}, testLogger(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			stream, err := gate.Convert(context.Background(),
				shortInput(fmt.Sprintf("source-%d.wav", id)), shortInput("target.wav"), defaultParams())
			if err != nil {
				t.Errorf("conversion %d failed: %v", id, err)
				return
			}
			for {
				if _, err := stream.Recv(); err != nil {
					break
				}
			}
			stream.Close()
		}(i)
	}
	wg.Wait()

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.maxActive != 1 {
		t.Errorf("engine saw %d concurrent conversions, want 1", eng.maxActive)
	}
	if len(eng.calls) != 5 {
		t.Errorf("expected 5 conversions, got %d", len(eng.calls))
	}
}

func TestGateFIFOOrder(t *testing.T) {
	eng := &fakeEngine{}
	gate := NewGate(eng, GateConfig{}, testLogger(), nil)

	holder, err := gate.Convert(context.Background(), shortInput("holder.wav"), shortInput("target.wav"), defaultParams())
	if err != nil {
		t.Fatalf("holder conversion failed: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// Enqueue waiters one at a time so arrival order is deterministic
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			stream, err := gate.Convert(context.Background(),
				shortInput(fmt.Sprintf("waiter-%d.wav", id)), shortInput("target.wav"), defaultParams())
			if err != nil {
				t.Errorf("waiter %d failed: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			stream.Close()
		}(i)
		waitForQueueDepth(t, gate, i+1)
	}

	holder.Close()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 4 {
		t.Fatalf("expected 4 completed waiters, got %d", len(order))
	}
	for i, id := range order {
		if id != i {
			t.Fatalf("expected FIFO grant order, got %v", order)
		}
	}

	stats := gate.GetStats()
	if stats.Busy {
		t.Error("gate should be free after all conversions")
	}
	if stats.LongestQueueDepth != 4 {
		t.Errorf("expected longest queue depth 4, got %d", stats.LongestQueueDepth)
	}
}

func TestGateCapacityRejection(t *testing.T) {
	eng := &fakeEngine{}
	gate := NewGate(eng, GateConfig{MaxSeqLen: 500, TokensPerSecond: 87}, testLogger(), nil)

	// 3s source plus 5s target at 87 tokens/s estimates to 696 tokens
	_, err := gate.Convert(context.Background(),
		Input{Path: "long.wav", Duration: 3.0}, Input{Path: "voice.wav", Duration: 5.0}, defaultParams())
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if eng.callCount() != 0 {
		t.Error("oversized conversion must not reach the engine")
	}

	stats := gate.GetStats()
	if stats.CapacityRejected != 1 {
		t.Errorf("expected 1 capacity rejection, got %d", stats.CapacityRejected)
	}
	if stats.Busy {
		t.Error("rejection must not occupy the gate")
	}

	// A short conversion still fits
	stream, err := gate.Convert(context.Background(),
		Input{Path: "short.wav", Duration: 1.0}, Input{Path: "voice.wav", Duration: 1.0}, defaultParams())
	if err != nil {
		t.Fatalf("short conversion failed: %v", err)
	}
	stream.Close()
}

func TestGateCapacityAccountsForLengthAdjust(t *testing.T) {
	eng := &fakeEngine{}
	gate := NewGate(eng, GateConfig{MaxSeqLen: 1000, TokensPerSecond: 87}, testLogger(), nil)

	params := defaultParams()
	params.LengthAdjust = 2.0

	// 4s source stretched by 2.0 plus 4s target exceeds 1000 tokens
	_, err := gate.Convert(context.Background(),
		Input{Path: "source.wav", Duration: 4.0}, Input{Path: "target.wav", Duration: 4.0}, params)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	// The same inputs without stretching fit
	params.LengthAdjust = 1.0
	stream, err := gate.Convert(context.Background(),
		Input{Path: "source.wav", Duration: 4.0}, Input{Path: "target.wav", Duration: 4.0}, params)
	if err != nil {
		t.Fatalf("unstretched conversion failed: %v", err)
	}
	stream.Close()
}

func TestGateReleasedOnConvertError(t *testing.T) {
	eng := &fakeEngine{convertErr: errors.New("engine offline")}
	gate := NewGate(eng, GateConfig{}, testLogger(), nil)

	_, err := gate.Convert(context.Background(), shortInput("source.wav"), shortInput("target.wav"), defaultParams())
	if err == nil {
		t.Fatal("expected conversion error")
	}
	if gate.GetStats().Busy {
		t.Error("gate should be released after a failed start")
	}

	eng.mu.Lock()
	eng.convertErr = nil
	eng.mu.Unlock()

	stream, err := gate.Convert(context.Background(), shortInput("source.wav"), shortInput("target.wav"), defaultParams())
	if err != nil {
		t.Fatalf("gate unusable after failed start: %v", err)
	}
	stream.Close()
}

func TestGateReleasedOnStreamError(t *testing.T) {
	eng := &fakeEngine{streamErr: errors.New("decode failed")}
	gate := NewGate(eng, GateConfig{}, testLogger(), nil)

	stream, err := gate.Convert(context.Background(), shortInput("source.wav"), shortInput("target.wav"), defaultParams())
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	if _, err := stream.Recv(); err == nil {
		t.Fatal("expected stream error")
	}
	if gate.GetStats().Busy {
		t.Error("gate should be released after a stream error")
	}
}

func TestGateAbandonedWaiter(t *testing.T) {
	eng := &fakeEngine{}
	gate := NewGate(eng, GateConfig{}, testLogger(), nil)

	holder, err := gate.Convert(context.Background(), shortInput("holder.wav"), shortInput("target.wav"), defaultParams())
	if err != nil {
		t.Fatalf("holder conversion failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := gate.Convert(ctx, shortInput("waiter.wav"), shortInput("target.wav"), defaultParams())
		errCh <- err
	}()

	waitForQueueDepth(t, gate, 1)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not observe cancellation")
	}

	stats := gate.GetStats()
	if stats.QueueDepth != 0 {
		t.Errorf("expected empty queue after abandonment, got depth %d", stats.QueueDepth)
	}
	if stats.AbandonedWaits != 1 {
		t.Errorf("expected 1 abandoned wait, got %d", stats.AbandonedWaits)
	}

	holder.Close()

	// The gate must remain usable after an abandoned waiter
	stream, err := gate.Convert(context.Background(), shortInput("late.wav"), shortInput("target.wav"), defaultParams())
	if err != nil {
		t.Fatalf("gate unusable after abandoned waiter: %v", err)
	}
	stream.Close()

	if gate.GetStats().Busy {
		t.Error("gate should be free at the end")
	}
}

func TestGatePassthrough(t *testing.T) {
	eng := &fakeEngine{}
	gate := NewGate(eng, GateConfig{}, testLogger(), nil)

	status, err := gate.Ready(context.Background())
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if !status.Ready {
		t.Error("expected ready status")
	}
	if gate.Backend() != "fake" {
		t.Errorf("expected backend 'fake', got %q", gate.Backend())
	}
}
