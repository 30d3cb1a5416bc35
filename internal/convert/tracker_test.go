package convert

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func createTempFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("audio"), 0600); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestTrackerRelease(t *testing.T) {
	tracker := NewTracker(testLogger())
	path := createTempFile(t, t.TempDir(), "input.wav")

	tracker.Track(path)
	if tracker.Count() != 1 {
		t.Fatalf("Expected 1 tracked file, got %d", tracker.Count())
	}

	tracker.Release(path)
	if fileExists(path) {
		t.Error("Expected released file to be deleted")
	}
	if tracker.Count() != 0 {
		t.Errorf("Expected 0 tracked files, got %d", tracker.Count())
	}

	// A second release of the same path must be a no-op
	recreated := createTempFile(t, filepath.Dir(path), "input.wav")
	tracker.Release(recreated)
	if !fileExists(recreated) {
		t.Error("Expected untracked file to survive a release")
	}
}

func TestTrackerReleaseUntracked(t *testing.T) {
	tracker := NewTracker(testLogger())
	path := createTempFile(t, t.TempDir(), "other.wav")

	tracker.Release(path)
	if !fileExists(path) {
		t.Error("Expected untracked file to survive a release")
	}
}

func TestTrackerTransfer(t *testing.T) {
	tracker := NewTracker(testLogger())
	path := createTempFile(t, t.TempDir(), "output.wav")

	tracker.Track(path)
	tracker.Transfer(path)

	if tracker.Count() != 0 {
		t.Errorf("Expected 0 tracked files after transfer, got %d", tracker.Count())
	}
	if !fileExists(path) {
		t.Error("Expected transferred file to survive")
	}

	// Transfer removed ownership, so ReleaseAll must not touch the file
	tracker.ReleaseAll()
	if !fileExists(path) {
		t.Error("Expected transferred file to survive ReleaseAll")
	}
}

func TestTrackerReleaseAll(t *testing.T) {
	tracker := NewTracker(testLogger())
	dir := t.TempDir()

	paths := []string{
		createTempFile(t, dir, "a.wav"),
		createTempFile(t, dir, "b.wav"),
		createTempFile(t, dir, "c.mp3"),
	}
	for _, path := range paths {
		tracker.Track(path)
	}

	tracker.ReleaseAll()

	for _, path := range paths {
		if fileExists(path) {
			t.Errorf("Expected %s to be deleted", path)
		}
	}
	if tracker.Count() != 0 {
		t.Errorf("Expected 0 tracked files, got %d", tracker.Count())
	}

	// Idempotent on an empty tracker
	tracker.ReleaseAll()
}

func TestTrackerIgnoresEmptyPath(t *testing.T) {
	tracker := NewTracker(testLogger())

	tracker.Track("")
	if tracker.Count() != 0 {
		t.Errorf("Expected empty path to be ignored, got %d tracked", tracker.Count())
	}
}

func TestTrackerMissingFileNotFatal(t *testing.T) {
	tracker := NewTracker(testLogger())
	path := filepath.Join(t.TempDir(), "gone.wav")

	// Tracked but never created; release must not panic or error
	tracker.Track(path)
	tracker.Release(path)

	if tracker.Count() != 0 {
		t.Errorf("Expected 0 tracked files, got %d", tracker.Count())
	}
}
