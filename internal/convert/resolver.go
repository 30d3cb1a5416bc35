package convert

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jgbrblmd/seed-vc/internal/audio"
)

var (
	// ErrNotFound indicates a referenced input file does not exist
	ErrNotFound = errors.New("input file not found")

	// ErrBadPayload indicates an embedded payload could not be decoded
	ErrBadPayload = errors.New("invalid base64 payload")
)

// InputSpec is one side of a conversion request in normalized form.
// Exactly one of Path, Base64 and Upload is set.
type InputSpec struct {
	Path   string
	Base64 string
	Upload io.Reader
	Name   string // original filename of an upload, used as an extension hint
}

// Resolved is an input recording materialized on disk and probed
type Resolved struct {
	Path string
	Info *audio.Info
}

// Resolver turns request inputs into probed files on disk. Files it creates
// are registered with the request's tracker before anything else can fail.
type Resolver struct {
	prober  *audio.Prober
	tempDir string
}

// NewResolver creates a resolver writing temporary files under tempDir
func NewResolver(prober *audio.Prober, tempDir string) *Resolver {
	return &Resolver{
		prober:  prober,
		tempDir: tempDir,
	}
}

// Resolve materializes one input side and probes it
func (r *Resolver) Resolve(ctx context.Context, spec InputSpec, tracker *Tracker) (*Resolved, error) {
	var path string

	switch {
	case spec.Path != "":
		if _, err := os.Stat(spec.Path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, spec.Path)
			}
			return nil, fmt.Errorf("failed to access input file %s: %w", spec.Path, err)
		}
		path = spec.Path

	case spec.Base64 != "":
		data, err := base64.StdEncoding.DecodeString(spec.Base64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		path = r.tempPath(spec.Name)
		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, fmt.Errorf("failed to write decoded audio: %w", err)
		}
		tracker.Track(path)

	case spec.Upload != nil:
		path = r.tempPath(spec.Name)
		file, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create upload file: %w", err)
		}
		tracker.Track(path)
		if _, err := io.Copy(file, spec.Upload); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to store upload: %w", err)
		}
		if err := file.Close(); err != nil {
			return nil, fmt.Errorf("failed to store upload: %w", err)
		}

	default:
		return nil, fmt.Errorf("no input provided")
	}

	info, err := r.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	return &Resolved{Path: path, Info: info}, nil
}

func (r *Resolver) tempPath(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".wav"
	}
	return filepath.Join(r.tempDir, "vc_input_"+uuid.NewString()+ext)
}
