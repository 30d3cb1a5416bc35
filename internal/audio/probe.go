package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrUnsupportedAudio marks an input that could not be parsed as audio
var ErrUnsupportedAudio = errors.New("unsupported or corrupt audio input")

// Info describes a probed audio input
type Info struct {
	Format     string  `json:"format"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	ByteSize   int64   `json:"byte_size"`
}

// Prober inspects audio files and reports container metadata. WAV files are
// parsed natively; every other container goes through ffprobe.
type Prober struct {
	ffprobePath string
}

// NewProber creates a prober using the given ffprobe binary
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// Probe inspects the audio file at path
func (p *Prober) Probe(ctx context.Context, path string) (*Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat audio file: %w", err)
	}

	header := make([]byte, 12)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	n, err := io.ReadFull(f, header)
	f.Close()
	if err != nil && n < 12 {
		return nil, fmt.Errorf("%w: file too short (%d bytes)", ErrUnsupportedAudio, stat.Size())
	}

	if string(header[0:4]) == "RIFF" && string(header[8:12]) == "WAVE" {
		return p.probeWAV(path, stat.Size())
	}

	return p.probeExternal(ctx, path, stat.Size())
}

func (p *Prober) probeWAV(path string, size int64) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	info, err := GetWAVInfo(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAudio, err)
	}

	return &Info{
		Format:     "wav",
		Duration:   info.Duration,
		SampleRate: int(info.SampleRate),
		Channels:   int(info.Channels),
		ByteSize:   size,
	}, nil
}

// ffprobe JSON output, reduced to the fields consumed here
type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Duration   string `json:"duration"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

func (p *Prober) probeExternal(ctx context.Context, path string, size int64) (*Info, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// ffprobe ran and rejected the file
			return nil, fmt.Errorf("%w: ffprobe: %s", ErrUnsupportedAudio, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("failed to run ffprobe: %w", err)
	}

	var result ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var stream *ffprobeStream
	for i := range result.Streams {
		if result.Streams[i].CodecType == "audio" {
			stream = &result.Streams[i]
			break
		}
	}
	if stream == nil {
		return nil, fmt.Errorf("%w: no audio stream found", ErrUnsupportedAudio)
	}

	sampleRate, err := strconv.Atoi(stream.SampleRate)
	if err != nil || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate '%s'", ErrUnsupportedAudio, stream.SampleRate)
	}

	duration, err := strconv.ParseFloat(result.Format.Duration, 64)
	if err != nil {
		// Some containers only report duration on the stream
		duration, err = strconv.ParseFloat(stream.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: no duration reported", ErrUnsupportedAudio)
		}
	}

	// format_name can be a list like "mov,mp4,m4a"; the first entry is the
	// demuxer that actually matched
	formatName := result.Format.FormatName
	if idx := strings.Index(formatName, ","); idx >= 0 {
		formatName = formatName[:idx]
	}

	return &Info{
		Format:     formatName,
		Duration:   duration,
		SampleRate: sampleRate,
		Channels:   stream.Channels,
		ByteSize:   size,
	}, nil
}
