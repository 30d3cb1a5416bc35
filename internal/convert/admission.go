package convert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jgbrblmd/seed-vc/internal/metrics"
)

// ErrOverloaded indicates the request was rejected without any processing,
// either because the admission queue was full or the queue wait expired
var ErrOverloaded = errors.New("service overloaded, admission queue is full")

// AdmissionConfig bounds in-flight conversions
type AdmissionConfig struct {
	MaxConcurrent int
	QueueDepth    int
	QueueWait     time.Duration // 0 waits until the caller gives up
}

// AdmissionStats represents admission counters
type AdmissionStats struct {
	Active        int    `json:"active"`
	Queued        int    `json:"queued"`
	TotalAdmitted uint64 `json:"total_admitted"`
	TotalRejected uint64 `json:"total_rejected"`
}

// Admission is the backpressure policy in front of the engine gate: a fixed
// number of conversions may be in flight, a bounded FIFO queue absorbs
// bursts, and anything beyond that is rejected immediately. The gate is a
// correctness mechanism; this is purely a queueing policy.
type Admission struct {
	config  AdmissionConfig
	metrics *metrics.Metrics

	mu      sync.Mutex
	active  int
	waiters []chan struct{}

	totalAdmitted uint64
	totalRejected uint64
}

// NewAdmission creates an admission controller
func NewAdmission(config AdmissionConfig, m *metrics.Metrics) *Admission {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.QueueDepth < 0 {
		config.QueueDepth = 0
	}
	return &Admission{
		config:  config,
		metrics: m,
	}
}

// Acquire admits the caller, waits in FIFO order up to the configured queue
// wait, or fails with ErrOverloaded when the queue is full or the wait
// expires. The returned release function is safe to call more than once.
func (a *Admission) Acquire(ctx context.Context) (func(), error) {
	a.mu.Lock()
	if a.active < a.config.MaxConcurrent && len(a.waiters) == 0 {
		a.active++
		a.totalAdmitted++
		a.updateGauges()
		a.mu.Unlock()
		return a.releaseFunc(), nil
	}

	if len(a.waiters) >= a.config.QueueDepth {
		a.totalRejected++
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.RecordAdmissionRejected()
		}
		return nil, ErrOverloaded
	}

	ready := make(chan struct{})
	a.waiters = append(a.waiters, ready)
	a.updateGauges()
	a.mu.Unlock()

	var timeout <-chan time.Time
	if a.config.QueueWait > 0 {
		timer := time.NewTimer(a.config.QueueWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ready:
		return a.releaseFunc(), nil
	case <-timeout:
		a.abandon(ready)
		a.mu.Lock()
		a.totalRejected++
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.RecordAdmissionRejected()
		}
		return nil, fmt.Errorf("admission wait exceeded %s: %w", a.config.QueueWait, ErrOverloaded)
	case <-ctx.Done():
		a.abandon(ready)
		return nil, ctx.Err()
	}
}

// GetStats returns current admission counters
func (a *Admission) GetStats() AdmissionStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AdmissionStats{
		Active:        a.active,
		Queued:        len(a.waiters),
		TotalAdmitted: a.totalAdmitted,
		TotalRejected: a.totalRejected,
	}
}

func (a *Admission) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(a.release)
	}
}

// release hands the slot to the next waiter or frees it
func (a *Admission) release() {
	a.mu.Lock()
	if len(a.waiters) > 0 {
		next := a.waiters[0]
		a.waiters = a.waiters[1:]
		a.totalAdmitted++
		a.updateGauges()
		a.mu.Unlock()
		close(next)
		return
	}
	a.active--
	a.updateGauges()
	a.mu.Unlock()
}

// abandon removes a waiting ticket after cancellation. If the slot was
// granted concurrently, it is passed straight to the next waiter.
func (a *Admission) abandon(ready chan struct{}) {
	a.mu.Lock()
	for i, w := range a.waiters {
		if w == ready {
			a.waiters = append(a.waiters[:i], a.waiters[i+1:]...)
			a.updateGauges()
			a.mu.Unlock()
			return
		}
	}
	a.mu.Unlock()

	a.release()
}

func (a *Admission) updateGauges() {
	if a.metrics == nil {
		return
	}
	a.metrics.SetAdmissionActive(a.active)
	a.metrics.SetAdmissionQueued(len(a.waiters))
}
