package artifacts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jgbrblmd/seed-vc/internal/metrics"
)

// ErrNotFound indicates no artifact exists for the given token
var ErrNotFound = errors.New("artifact not found")

// Entry describes one retained output artifact
type Entry struct {
	Token     string    `json:"token"`
	Path      string    `json:"path"`
	Format    string    `json:"format"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// RegistryConfig controls artifact retention
type RegistryConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxEntries    int
}

// RegistryStats represents registry counters
type RegistryStats struct {
	Stored     int    `json:"stored"`
	TotalBytes int64  `json:"total_bytes"`
	Swept      uint64 `json:"swept"`
}

// Registry retains conversion outputs under opaque tokens. A file handed to
// the registry is owned by it until the artifact is deleted, expires, is
// evicted to make room, or the registry stops.
type Registry struct {
	config  RegistryConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	entries map[string]*Entry
	swept   uint64
	mu      sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewRegistry creates a registry and starts its sweep routine
func NewRegistry(config RegistryConfig, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 256
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		config:  config,
		logger:  logger,
		metrics: m,
		entries: make(map[string]*Entry),
		ctx:     ctx,
		cancel:  cancel,
		cleanup: make(chan struct{}),
	}

	go r.startSweepRoutine()

	return r
}

// Put takes ownership of the file at path and returns its retrieval token
func (r *Registry) Put(path, format string) (string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	entry := &Entry{
		Token:     uuid.NewString(),
		Path:      path,
		Format:    format,
		Size:      stat.Size(),
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	evicted := r.evictLocked()
	r.entries[entry.Token] = entry
	r.updateGaugeLocked()
	r.mu.Unlock()

	for _, old := range evicted {
		r.removeFile(old)
	}

	return entry.Token, nil
}

// Open returns a readable handle and metadata for a retained artifact
func (r *Registry) Open(token string) (io.ReadSeekCloser, *Entry, error) {
	r.mu.RLock()
	entry, ok := r.entries[token]
	r.mu.RUnlock()

	if !ok {
		return nil, nil, ErrNotFound
	}

	file, err := os.Open(entry.Path)
	if err != nil {
		return nil, nil, err
	}
	return file, entry, nil
}

// Delete removes a retained artifact and its file
func (r *Registry) Delete(token string) error {
	r.mu.Lock()
	entry, ok := r.entries[token]
	if ok {
		delete(r.entries, token)
		r.updateGaugeLocked()
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	r.removeFile(entry)
	return nil
}

// Count returns the number of retained artifacts
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// GetStats returns current registry counters
func (r *Registry) GetStats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, entry := range r.entries {
		total += entry.Size
	}
	return RegistryStats{
		Stored:     len(r.entries),
		TotalBytes: total,
		Swept:      r.swept,
	}
}

// Stop halts the sweep routine and removes all retained artifacts. Tokens
// die with the process, so files left behind would be unreachable.
func (r *Registry) Stop() {
	r.cancel()
	<-r.cleanup

	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.entries = make(map[string]*Entry)
	r.updateGaugeLocked()
	r.mu.Unlock()

	for _, entry := range entries {
		r.removeFile(entry)
	}

	r.logger.Info("Artifact registry stopped",
		slog.Int("removed_artifacts", len(entries)))
}

func (r *Registry) startSweepRoutine() {
	defer close(r.cleanup)

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

// sweepExpired removes artifacts older than the configured TTL
func (r *Registry) sweepExpired() {
	cutoff := time.Now().Add(-r.config.TTL)

	r.mu.Lock()
	var expired []*Entry
	for token, entry := range r.entries {
		if entry.CreatedAt.Before(cutoff) {
			expired = append(expired, entry)
			delete(r.entries, token)
		}
	}
	if len(expired) > 0 {
		r.swept += uint64(len(expired))
		r.updateGaugeLocked()
	}
	r.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	for _, entry := range expired {
		r.removeFile(entry)
		if r.metrics != nil {
			r.metrics.RecordArtifactSwept()
		}
	}

	r.logger.Info("Swept expired artifacts",
		slog.Int("count", len(expired)))
}

// evictLocked makes room for one more entry, oldest first
func (r *Registry) evictLocked() []*Entry {
	var evicted []*Entry
	for len(r.entries) >= r.config.MaxEntries {
		var oldest *Entry
		for _, entry := range r.entries {
			if oldest == nil || entry.CreatedAt.Before(oldest.CreatedAt) {
				oldest = entry
			}
		}
		if oldest == nil {
			break
		}
		delete(r.entries, oldest.Token)
		evicted = append(evicted, oldest)
		r.swept++
	}
	return evicted
}

func (r *Registry) updateGaugeLocked() {
	if r.metrics != nil {
		r.metrics.SetArtifactsStored(len(r.entries))
	}
}

func (r *Registry) removeFile(entry *Entry) {
	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("Failed to remove artifact file",
			slog.String("token", entry.Token),
			slog.String("path", entry.Path),
			slog.String("error", err.Error()))
	}
}
