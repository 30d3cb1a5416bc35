package convert

import (
	"log/slog"
	"os"
	"sync"
)

// Tracker owns the temporary files created for one conversion request.
// Every path is released at most once; releasing an untracked path is a
// no-op. Removal failures are logged and never surfaced, cleanup stays
// best-effort on every exit path.
type Tracker struct {
	logger *slog.Logger

	mu    sync.Mutex
	paths map[string]struct{}
}

// NewTracker creates an empty tracker
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		paths:  make(map[string]struct{}),
	}
}

// Track takes ownership of a file
func (t *Tracker) Track(path string) {
	if path == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths[path] = struct{}{}
}

// Release deletes a tracked file and forgets it
func (t *Tracker) Release(path string) {
	t.mu.Lock()
	_, tracked := t.paths[path]
	delete(t.paths, path)
	t.mu.Unlock()

	if tracked {
		t.remove(path)
	}
}

// Transfer forgets a tracked file without deleting it, handing ownership
// to the caller
func (t *Tracker) Transfer(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.paths, path)
}

// ReleaseAll deletes every tracked file
func (t *Tracker) ReleaseAll() {
	t.mu.Lock()
	paths := make([]string, 0, len(t.paths))
	for path := range t.paths {
		paths = append(paths, path)
	}
	t.paths = make(map[string]struct{})
	t.mu.Unlock()

	for _, path := range paths {
		t.remove(path)
	}
}

// Count returns the number of tracked files
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.paths)
}

func (t *Tracker) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("Failed to remove temporary file",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}
