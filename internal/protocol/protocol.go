package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame types carried on an engine conversion stream
const (
	// FrameChunk carries a transport-encoded partial audio fragment
	FrameChunk = 0x01
	// FrameFinal carries the complete result as raw PCM; terminal
	FrameFinal = 0x02
	// FrameError carries a UTF-8 failure message; terminal
	FrameError = 0x03

	// Frame structure sizes
	// Layout: [Type:1][PayloadLen:4][Payload:N]
	FrameHeaderSize = 5
	// FinalPayload layout: [SampleRate:4][PCM s16le:N]
	FinalHeaderSize = 4

	// MaxPayloadSize bounds a single frame payload. The largest legitimate
	// payload is a full-length PCM result, which stays far below this.
	MaxPayloadSize = 64 << 20
)

// Frame represents one parsed stream frame
type Frame struct {
	Type    uint8
	Payload []byte
}

// IsTerminal reports whether the frame ends the stream
func (f *Frame) IsTerminal() bool {
	return f.Type == FrameFinal || f.Type == FrameError
}

// FinalPayload represents the decoded payload of a FrameFinal frame.
// Data is raw little-endian PCM-16; only the header fields use network order.
type FinalPayload struct {
	SampleRate int
	Data       []byte
}

// IsValidFrameType checks if the frame type is valid
func IsValidFrameType(frameType uint8) bool {
	return frameType == FrameChunk || frameType == FrameFinal || frameType == FrameError
}

// ReadFrame reads one frame from r. A clean io.EOF at a frame boundary is
// returned as io.EOF; a partial frame is an error.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("truncated frame header: %w", err)
	}

	frameType := header[0]
	if !IsValidFrameType(frameType) {
		return nil, fmt.Errorf("unknown frame type: 0x%02x", frameType)
	}

	payloadLen := binary.BigEndian.Uint32(header[1:5])
	if payloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("frame payload too large: %d bytes (maximum %d)", payloadLen, MaxPayloadSize)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("truncated frame payload: expected %d bytes: %w", payloadLen, err)
	}

	return &Frame{Type: frameType, Payload: payload}, nil
}

// WriteFrame writes one frame to w
func WriteFrame(w io.Writer, frameType uint8, payload []byte) error {
	if !IsValidFrameType(frameType) {
		return fmt.Errorf("unknown frame type: 0x%02x", frameType)
	}

	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("frame payload too large: %d bytes (maximum %d)", len(payload), MaxPayloadSize)
	}

	header := make([]byte, FrameHeaderSize)
	header[0] = frameType
	binary.BigEndian.PutUint32(header[1:5], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}

	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("failed to write frame payload: %w", err)
		}
	}

	return nil
}

// WriteChunk writes a partial audio fragment frame
func WriteChunk(w io.Writer, data []byte) error {
	return WriteFrame(w, FrameChunk, data)
}

// WriteFinal writes the terminal result frame carrying raw PCM-16 data
func WriteFinal(w io.Writer, sampleRate int, pcm []byte) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if len(pcm)%2 != 0 {
		return fmt.Errorf("PCM data length must be even, got %d", len(pcm))
	}

	payload := make([]byte, FinalHeaderSize+len(pcm))
	binary.BigEndian.PutUint32(payload[0:4], uint32(sampleRate))
	copy(payload[FinalHeaderSize:], pcm)

	return WriteFrame(w, FrameFinal, payload)
}

// WriteError writes a terminal error frame
func WriteError(w io.Writer, message string) error {
	return WriteFrame(w, FrameError, []byte(message))
}

// ParseFinalPayload parses a FrameFinal payload
func ParseFinalPayload(data []byte) (*FinalPayload, error) {
	if len(data) < FinalHeaderSize {
		return nil, fmt.Errorf("final payload too short: expected at least %d bytes, got %d",
			FinalHeaderSize, len(data))
	}

	sampleRate := binary.BigEndian.Uint32(data[0:FinalHeaderSize])
	if sampleRate == 0 {
		return nil, fmt.Errorf("final payload has zero sample rate")
	}

	pcm := data[FinalHeaderSize:]
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("final payload PCM length must be even, got %d", len(pcm))
	}

	payload := &FinalPayload{
		SampleRate: int(sampleRate),
		Data:       make([]byte, len(pcm)),
	}
	copy(payload.Data, pcm)

	return payload, nil
}

// FrameTypeName returns a human-readable name for the frame type
func FrameTypeName(frameType uint8) string {
	switch frameType {
	case FrameChunk:
		return "Chunk"
	case FrameFinal:
		return "Final"
	case FrameError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", frameType)
	}
}

// String returns a human-readable representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Type:%s, PayloadLen:%d}", FrameTypeName(f.Type), len(f.Payload))
}
