package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Output formats accepted by the encoder
const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
	FormatOgg = "ogg"
)

// ErrEncodeFailed marks an encode whose fallback chain was exhausted
var ErrEncodeFailed = errors.New("audio encoding failed")

// Encoded carries encoded audio plus the format actually produced, which
// differs from the requested format when a fallback fired.
type Encoded struct {
	Data   []byte
	Format string
}

// EncoderConfig contains output encoding parameters
type EncoderConfig struct {
	FFmpegPath    string
	MP3Bitrate    string
	OggCodec      string
	NormalizePeak float64
	Timeout       time.Duration
}

// Encoder serializes sample buffers into wav, mp3 or ogg. Lossy formats are
// produced by an ffmpeg subprocess fed raw PCM over stdin; wav is written
// natively. Ogg encoding falls back from the preferred codec to the container
// default and finally to mp3.
type Encoder struct {
	config EncoderConfig
	logger *slog.Logger

	// Subprocess runner, replaceable in tests
	runFFmpeg func(ctx context.Context, stdin []byte, args ...string) ([]byte, error)
}

// NewEncoder creates an audio encoder
func NewEncoder(config EncoderConfig, logger *slog.Logger) *Encoder {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.MP3Bitrate == "" {
		config.MP3Bitrate = "192k"
	}
	if config.OggCodec == "" {
		config.OggCodec = "libvorbis"
	}
	if config.NormalizePeak <= 0 || config.NormalizePeak > 1 {
		config.NormalizePeak = 0.95
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	e := &Encoder{
		config: config,
		logger: logger.With(slog.String("component", "encoder")),
	}
	e.runFFmpeg = e.execFFmpeg
	return e
}

// Encode serializes the buffer into the requested format. The peak is
// normalized before encoding so every format sees the same headroom. The
// returned Encoded reports the format actually produced.
func (e *Encoder) Encode(ctx context.Context, buf *SampleBuffer, format string) (*Encoded, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return nil, fmt.Errorf("%w: no samples to encode", ErrEncodeFailed)
	}

	normalized := buf.Clone()
	normalized.Normalize(e.config.NormalizePeak)

	switch format {
	case FormatWAV:
		data, err := EncodeWAV(normalized.Samples, normalized.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: wav: %s", ErrEncodeFailed, err)
		}
		return &Encoded{Data: data, Format: FormatWAV}, nil

	case FormatMP3:
		data, err := e.encodeMP3(ctx, normalized)
		if err != nil {
			return nil, err
		}
		return &Encoded{Data: data, Format: FormatMP3}, nil

	case FormatOgg:
		return e.encodeOgg(ctx, normalized)

	default:
		return nil, fmt.Errorf("%w: unknown output format '%s'", ErrEncodeFailed, format)
	}
}

func (e *Encoder) encodeMP3(ctx context.Context, buf *SampleBuffer) ([]byte, error) {
	args := append(e.inputArgs(buf), "-b:a", e.config.MP3Bitrate, "-f", "mp3", "pipe:1")
	data, err := e.runFFmpeg(ctx, SamplesToBytes(buf.Samples), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %s", ErrEncodeFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: mp3: produced empty output", ErrEncodeFailed)
	}
	return data, nil
}

func (e *Encoder) encodeOgg(ctx context.Context, buf *SampleBuffer) (*Encoded, error) {
	stdin := SamplesToBytes(buf.Samples)

	data, err := e.runFFmpeg(ctx, stdin,
		append(e.inputArgs(buf), "-c:a", e.config.OggCodec, "-q:a", "6", "-f", "ogg", "pipe:1")...)
	if err == nil && len(data) > 0 {
		return &Encoded{Data: data, Format: FormatOgg}, nil
	}
	lastErr := err
	if lastErr == nil {
		lastErr = errors.New("produced empty output")
	}
	e.logger.Warn("ogg encode with preferred codec failed, trying container default",
		slog.String("codec", e.config.OggCodec),
		slog.String("error", lastErr.Error()))

	data, err = e.runFFmpeg(ctx, stdin,
		append(e.inputArgs(buf), "-f", "ogg", "pipe:1")...)
	if err == nil && len(data) > 0 {
		return &Encoded{Data: data, Format: FormatOgg}, nil
	}
	lastErr = err
	if lastErr == nil {
		lastErr = errors.New("produced empty output")
	}
	e.logger.Warn("ogg encode with default codec failed, falling back to mp3",
		slog.String("error", lastErr.Error()))

	data, err = e.runFFmpeg(ctx, stdin,
		append(e.inputArgs(buf), "-b:a", e.config.MP3Bitrate, "-f", "mp3", "pipe:1")...)
	if err == nil && len(data) > 0 {
		return &Encoded{Data: data, Format: FormatMP3}, nil
	}
	if err != nil {
		lastErr = err
	} else {
		lastErr = errors.New("produced empty output")
	}

	return nil, fmt.Errorf("%w: ogg fallbacks exhausted: %s", ErrEncodeFailed, lastErr)
}

func (e *Encoder) inputArgs(buf *SampleBuffer) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(buf.SampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	}
}

func (e *Encoder) execFFmpeg(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	full := append([]string{"-hide_banner", "-loglevel", "error"}, args...)
	cmd := exec.CommandContext(runCtx, e.config.FFmpegPath, full...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg: %s", msg)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	return stdout.Bytes(), nil
}

// Extension returns the file extension for an output format
func Extension(format string) string {
	switch format {
	case FormatWAV:
		return ".wav"
	case FormatMP3:
		return ".mp3"
	case FormatOgg:
		return ".ogg"
	default:
		return ".bin"
	}
}

// ValidFormat reports whether format is one of the supported output formats
func ValidFormat(format string) bool {
	switch format {
	case FormatWAV, FormatMP3, FormatOgg:
		return true
	}
	return false
}
