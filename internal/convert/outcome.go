package convert

import "github.com/jgbrblmd/seed-vc/internal/audio"

// FailureKind classifies why a conversion failed, so callers can decide
// whether a retry makes sense
type FailureKind string

const (
	FailValidation   FailureKind = "validation"
	FailNotFound     FailureKind = "not_found"
	FailIO           FailureKind = "io"
	FailDecode       FailureKind = "decode"
	FailInvalidAudio FailureKind = "invalid_audio"
	FailCapacity     FailureKind = "capacity"
	FailEngine       FailureKind = "engine"
	FailEncoding     FailureKind = "encoding"
	FailOverloaded   FailureKind = "overloaded"
	FailInternal     FailureKind = "internal"
)

// InputPair groups probe metadata for both sides of a conversion
type InputPair struct {
	Source *audio.Info `json:"source,omitempty"`
	Target *audio.Info `json:"target,omitempty"`
}

// Outcome is the result of one conversion request. Exactly one of the path
// and base64 fields is populated per artifact, depending on the requested
// delivery mode. OutputFormat is the format actually produced, which differs
// from RequestedFormat when the encoder had to fall back.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	StreamingPath   string `json:"streaming_output_path,omitempty"`
	FullPath        string `json:"full_output_path,omitempty"`
	StreamingBase64 string `json:"streaming_output_base64,omitempty"`
	FullBase64      string `json:"full_output_base64,omitempty"`
	StreamingToken  string `json:"streaming_output_token,omitempty"`
	FullToken       string `json:"full_output_token,omitempty"`

	ProcessingTimeMs int64  `json:"processing_time_ms"`
	OutputFormat     string `json:"output_format,omitempty"`
	RequestedFormat  string `json:"requested_format,omitempty"`

	InputInfo   *InputPair  `json:"input_info,omitempty"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
}

func failure(kind FailureKind, message string) *Outcome {
	return &Outcome{
		Success:     false,
		Message:     message,
		FailureKind: kind,
	}
}
