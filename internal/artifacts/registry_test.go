package artifacts

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testRegistry(t *testing.T, config RegistryConfig) *Registry {
	t.Helper()
	r := NewRegistry(config, testLogger(), nil)
	t.Cleanup(r.Stop)
	return r
}

func putFile(t *testing.T, r *Registry, dir, name, content string) (string, string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write artifact file: %v", err)
	}
	token, err := r.Put(path, "wav")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	return token, path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRegistryPutOpen(t *testing.T) {
	r := testRegistry(t, RegistryConfig{})
	token, path := putFile(t, r, t.TempDir(), "out.wav", "audio-bytes")

	if token == "" {
		t.Fatal("Expected a non-empty token")
	}

	file, entry, err := r.Open(token)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer file.Close()

	if entry.Format != "wav" {
		t.Errorf("Expected format wav, got %s", entry.Format)
	}
	if entry.Path != path {
		t.Errorf("Expected path %s, got %s", path, entry.Path)
	}
	if entry.Size != int64(len("audio-bytes")) {
		t.Errorf("Expected size %d, got %d", len("audio-bytes"), entry.Size)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("Failed to read artifact: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("Expected artifact content, got %q", data)
	}

	if r.Count() != 1 {
		t.Errorf("Expected 1 artifact, got %d", r.Count())
	}
}

func TestRegistryOpenUnknownToken(t *testing.T) {
	r := testRegistry(t, RegistryConfig{})

	_, _, err := r.Open("no-such-token")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestRegistryDelete(t *testing.T) {
	r := testRegistry(t, RegistryConfig{})
	token, path := putFile(t, r, t.TempDir(), "out.wav", "audio")

	if err := r.Delete(token); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if fileExists(path) {
		t.Error("Expected artifact file to be removed")
	}
	if r.Count() != 0 {
		t.Errorf("Expected 0 artifacts, got %d", r.Count())
	}

	if err := r.Delete(token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRegistryPutMissingFile(t *testing.T) {
	r := testRegistry(t, RegistryConfig{})

	_, err := r.Put(filepath.Join(t.TempDir(), "missing.wav"), "wav")
	if err == nil {
		t.Fatal("Expected error for missing file, got nil")
	}
}

func TestRegistrySweepExpired(t *testing.T) {
	r := testRegistry(t, RegistryConfig{
		TTL:           50 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})
	token, path := putFile(t, r, t.TempDir(), "out.wav", "audio")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Count() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if r.Count() != 0 {
		t.Fatal("Expected artifact to expire")
	}
	if fileExists(path) {
		t.Error("Expected expired artifact file to be removed")
	}
	if _, _, err := r.Open(token); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after expiry, got %v", err)
	}
	if stats := r.GetStats(); stats.Swept != 1 {
		t.Errorf("Expected 1 swept artifact, got %d", stats.Swept)
	}
}

func TestRegistryEvictsOldest(t *testing.T) {
	r := testRegistry(t, RegistryConfig{MaxEntries: 2})
	dir := t.TempDir()

	token1, path1 := putFile(t, r, dir, "a.wav", "first")
	time.Sleep(2 * time.Millisecond)
	token2, path2 := putFile(t, r, dir, "b.wav", "second")
	time.Sleep(2 * time.Millisecond)
	token3, path3 := putFile(t, r, dir, "c.wav", "third")

	if r.Count() != 2 {
		t.Fatalf("Expected 2 artifacts after eviction, got %d", r.Count())
	}

	if _, _, err := r.Open(token1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected oldest artifact evicted, got %v", err)
	}
	if fileExists(path1) {
		t.Error("Expected evicted artifact file to be removed")
	}

	for _, tc := range []struct {
		token string
		path  string
	}{{token2, path2}, {token3, path3}} {
		file, _, err := r.Open(tc.token)
		if err != nil {
			t.Errorf("Expected artifact %s to survive: %v", tc.path, err)
			continue
		}
		file.Close()
	}

	if stats := r.GetStats(); stats.Swept != 1 {
		t.Errorf("Expected 1 evicted artifact in stats, got %d", stats.Swept)
	}
}

func TestRegistryStopRemovesFiles(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, testLogger(), nil)
	dir := t.TempDir()

	_, path1 := putFile(t, r, dir, "a.wav", "first")
	_, path2 := putFile(t, r, dir, "b.wav", "second")

	r.Stop()

	if fileExists(path1) || fileExists(path2) {
		t.Error("Expected all artifact files removed on stop")
	}
	if r.Count() != 0 {
		t.Errorf("Expected 0 artifacts after stop, got %d", r.Count())
	}
}

func TestRegistryStats(t *testing.T) {
	r := testRegistry(t, RegistryConfig{})
	dir := t.TempDir()

	putFile(t, r, dir, "a.wav", "12345")
	putFile(t, r, dir, "b.wav", "123")

	stats := r.GetStats()
	if stats.Stored != 2 {
		t.Errorf("Expected 2 stored, got %d", stats.Stored)
	}
	if stats.TotalBytes != 8 {
		t.Errorf("Expected 8 total bytes, got %d", stats.TotalBytes)
	}
}
