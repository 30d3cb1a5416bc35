package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader represents the canonical 44-byte header written for PCM output
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// wavFormat holds the fields of a parsed "fmt " chunk plus the location of
// the "data" chunk payload within the file.
type wavFormat struct {
	audioFormat   uint16
	numChannels   uint16
	sampleRate    uint32
	bitsPerSample uint16
	dataOffset    int
	dataSize      uint32
}

// parseWAV walks the RIFF chunk list. Real-world files carry extra chunks
// (LIST, fact, cue) between fmt and data, so fixed offsets are not enough.
func parseWAV(data []byte) (*wavFormat, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var format wavFormat
	haveFmt := false
	haveData := false

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		payload := pos + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || payload+16 > len(data) {
				return nil, fmt.Errorf("invalid WAV file: truncated fmt chunk")
			}
			format.audioFormat = binary.LittleEndian.Uint16(data[payload : payload+2])
			format.numChannels = binary.LittleEndian.Uint16(data[payload+2 : payload+4])
			format.sampleRate = binary.LittleEndian.Uint32(data[payload+4 : payload+8])
			format.bitsPerSample = binary.LittleEndian.Uint16(data[payload+14 : payload+16])
			haveFmt = true
		case "data":
			format.dataOffset = payload
			format.dataSize = chunkSize
			if payload+int(chunkSize) > len(data) {
				// Tolerate an over-declared data size from streamed writers
				format.dataSize = uint32(len(data) - payload)
			}
			haveData = true
		}

		if haveFmt && haveData {
			break
		}

		// Chunks are word-aligned
		pos = payload + int(chunkSize)
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if !haveData {
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if format.numChannels == 0 {
		return nil, fmt.Errorf("invalid WAV file: zero channels")
	}

	if format.sampleRate == 0 {
		return nil, fmt.Errorf("invalid WAV file: zero sample rate")
	}

	return &format, nil
}

// DecodeWAV decodes mono PCM-16 WAV data back to samples and the sample rate
func DecodeWAV(data []byte) ([]int16, int, error) {
	format, err := parseWAV(data)
	if err != nil {
		return nil, 0, err
	}

	if format.audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format.audioFormat)
	}

	if format.bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", format.bitsPerSample)
	}

	if format.numChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", format.numChannels)
	}

	numSamples := int(format.dataSize) / 2
	if numSamples <= 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples, err := BytesToSamples(data[format.dataOffset : format.dataOffset+numSamples*2])
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, int(format.sampleRate), nil
}

// WAVInfo describes a WAV file without decoding its audio data
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
}

// GetWAVInfo extracts metadata from a WAV file. Unlike DecodeWAV it accepts
// any channel count and bit depth, since probing must describe inputs the
// decoder itself would reject.
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	format, err := parseWAV(data)
	if err != nil {
		return nil, err
	}

	blockAlign := uint32(format.numChannels) * uint32(format.bitsPerSample) / 8
	if blockAlign == 0 {
		return nil, fmt.Errorf("invalid WAV file: zero block alignment")
	}

	numFrames := format.dataSize / blockAlign
	duration := float64(numFrames) / float64(format.sampleRate)

	return &WAVInfo{
		SampleRate:    format.sampleRate,
		Channels:      format.numChannels,
		BitsPerSample: format.bitsPerSample,
		Duration:      duration,
		DataSize:      format.dataSize,
		NumFrames:     numFrames,
	}, nil
}
