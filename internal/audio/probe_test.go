package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTestWAV(t *testing.T, dir string, samples []int16, sampleRate int) string {
	t.Helper()

	data, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	path := filepath.Join(dir, "probe_test.wav")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write test WAV: %v", err)
	}
	return path
}

func TestProbeWAV(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWAV(t, dir, make([]int16, 16000), 16000)

	prober := NewProber("ffprobe")
	info, err := prober.Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	if info.Format != "wav" {
		t.Errorf("Expected format wav, got %s", info.Format)
	}

	if info.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.Duration != 1.0 {
		t.Errorf("Expected duration 1.0, got %f", info.Duration)
	}

	if info.ByteSize != 44+32000 {
		t.Errorf("Expected byte size %d, got %d", 44+32000, info.ByteSize)
	}
}

func TestProbeMissingFile(t *testing.T) {
	prober := NewProber("ffprobe")

	_, err := prober.Probe(context.Background(), "/nonexistent/audio.wav")
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestProbeTooShort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	prober := NewProber("ffprobe")
	_, err := prober.Probe(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedAudio) {
		t.Errorf("Expected ErrUnsupportedAudio, got %v", err)
	}
}

func TestProbeCorruptWAV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.wav")

	// Valid RIFF/WAVE magic but no fmt or data chunks
	data := append([]byte("RIFF\xff\x00\x00\x00WAVE"), make([]byte, 32)...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	prober := NewProber("ffprobe")
	_, err := prober.Probe(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedAudio) {
		t.Errorf("Expected ErrUnsupportedAudio, got %v", err)
	}
}
