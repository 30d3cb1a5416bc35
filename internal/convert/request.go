package convert

import (
	"fmt"
	"io"

	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/engine"
)

// GenerationParams are the model sampling knobs for one conversion. The
// fields marshal flat into the request payload.
type GenerationParams struct {
	DiffusionSteps     int     `json:"diffusion_steps"`
	LengthAdjust       float64 `json:"length_adjust"`
	IntelligibilityCFG float64 `json:"intelligibility_cfg_rate"`
	SimilarityCFG      float64 `json:"similarity_cfg_rate"`
	TopP               float64 `json:"top_p"`
	Temperature        float64 `json:"temperature"`
	RepetitionPenalty  float64 `json:"repetition_penalty"`
}

// Validate checks all sampling parameters against their allowed ranges
func (p *GenerationParams) Validate() error {
	if p.DiffusionSteps < 1 || p.DiffusionSteps > 200 {
		return fmt.Errorf("diffusion_steps must be between 1 and 200, got %d", p.DiffusionSteps)
	}
	if p.LengthAdjust < 0.5 || p.LengthAdjust > 2.0 {
		return fmt.Errorf("length_adjust must be between 0.5 and 2.0, got %g", p.LengthAdjust)
	}
	if p.IntelligibilityCFG < 0.0 || p.IntelligibilityCFG > 1.0 {
		return fmt.Errorf("intelligibility_cfg_rate must be between 0.0 and 1.0, got %g", p.IntelligibilityCFG)
	}
	if p.SimilarityCFG < 0.0 || p.SimilarityCFG > 1.0 {
		return fmt.Errorf("similarity_cfg_rate must be between 0.0 and 1.0, got %g", p.SimilarityCFG)
	}
	if p.TopP < 0.1 || p.TopP > 1.0 {
		return fmt.Errorf("top_p must be between 0.1 and 1.0, got %g", p.TopP)
	}
	if p.Temperature < 0.1 || p.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.1 and 2.0, got %g", p.Temperature)
	}
	if p.RepetitionPenalty < 1.0 || p.RepetitionPenalty > 3.0 {
		return fmt.Errorf("repetition_penalty must be between 1.0 and 3.0, got %g", p.RepetitionPenalty)
	}
	return nil
}

// Request describes one voice conversion. Each input side must be supplied
// exactly one way: a filesystem path, a base64 payload or an upload stream.
// Decode JSON payloads into DefaultRequest() so absent fields keep their
// documented defaults.
type Request struct {
	SourcePath   string `json:"source_audio_path,omitempty"`
	TargetPath   string `json:"target_audio_path,omitempty"`
	SourceBase64 string `json:"source_audio_base64,omitempty"`
	TargetBase64 string `json:"target_audio_base64,omitempty"`

	// Upload streams are set by the multipart endpoint instead of the JSON fields
	SourceUpload io.Reader `json:"-"`
	SourceName   string    `json:"-"`
	TargetUpload io.Reader `json:"-"`
	TargetName   string    `json:"-"`

	GenerationParams

	ConvertStyle      bool   `json:"convert_style"`
	AnonymizationOnly bool   `json:"anonymization_only"`
	OutputFormat      string `json:"output_format"`
	ReturnBase64      bool   `json:"return_base64"`
	CleanupTempFiles  bool   `json:"cleanup_temp_files"`
}

// DefaultRequest returns a request with all defaults applied
func DefaultRequest() Request {
	return Request{
		GenerationParams: GenerationParams{
			DiffusionSteps:     30,
			LengthAdjust:       1.0,
			IntelligibilityCFG: 0.5,
			SimilarityCFG:      0.5,
			TopP:               0.9,
			Temperature:        1.0,
			RepetitionPenalty:  1.0,
		},
		OutputFormat:     audio.FormatWAV,
		CleanupTempFiles: true,
	}
}

// Validate checks request shape and parameter ranges. It runs before any
// resource is touched.
func (r *Request) Validate() error {
	if err := validateSide("source", r.SourcePath, r.SourceBase64, r.SourceUpload); err != nil {
		return err
	}
	if err := validateSide("target", r.TargetPath, r.TargetBase64, r.TargetUpload); err != nil {
		return err
	}
	if err := r.GenerationParams.Validate(); err != nil {
		return err
	}
	if !audio.ValidFormat(r.OutputFormat) {
		return fmt.Errorf("output_format must be one of wav, mp3, ogg, got %q", r.OutputFormat)
	}
	return nil
}

func validateSide(side, path, payload string, upload io.Reader) error {
	count := 0
	if path != "" {
		count++
	}
	if payload != "" {
		count++
	}
	if upload != nil {
		count++
	}
	if count == 0 {
		return fmt.Errorf("%s audio is required: provide a path, a base64 payload or an upload", side)
	}
	if count > 1 {
		return fmt.Errorf("%s audio must be provided exactly one way, got %d", side, count)
	}
	return nil
}

// SourceSpec returns the source side in normalized form
func (r *Request) SourceSpec() InputSpec {
	return InputSpec{Path: r.SourcePath, Base64: r.SourceBase64, Upload: r.SourceUpload, Name: r.SourceName}
}

// TargetSpec returns the target side in normalized form
func (r *Request) TargetSpec() InputSpec {
	return InputSpec{Path: r.TargetPath, Base64: r.TargetBase64, Upload: r.TargetUpload, Name: r.TargetName}
}

// EngineParams maps the request onto the engine parameter set
func (r *Request) EngineParams() engine.Params {
	return engine.Params{
		DiffusionSteps:     r.DiffusionSteps,
		LengthAdjust:       r.LengthAdjust,
		IntelligibilityCFG: r.IntelligibilityCFG,
		SimilarityCFG:      r.SimilarityCFG,
		TopP:               r.TopP,
		Temperature:        r.Temperature,
		RepetitionPenalty:  r.RepetitionPenalty,
		ConvertStyle:       r.ConvertStyle,
		AnonymizationOnly:  r.AnonymizationOnly,
	}
}
