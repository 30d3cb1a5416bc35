package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/metrics"
	"github.com/jgbrblmd/seed-vc/internal/protocol"
)

const (
	userAgent = "seed-vc-service/1.0"

	// controlTimeout bounds prepare and health calls. Conversions use the
	// configured conversion timeout instead.
	controlTimeout = 30 * time.Second

	maxBackoff = 30 * time.Second
)

var errStreamClosed = errors.New("engine stream closed")

// RemoteConfig contains model runner client configuration
type RemoteConfig struct {
	Endpoint      string
	Timeout       time.Duration // end-to-end budget for one conversion
	MaxRetries    int           // applies to prepare and health calls only
	MaxConcurrent int
}

// RemoteStats represents client statistics
type RemoteStats struct {
	TotalRequests     uint64  `json:"total_requests"`
	SuccessRequests   uint64  `json:"success_requests"`
	FailedRequests    uint64  `json:"failed_requests"`
	SuccessRate       float64 `json:"success_rate"`
	TotalRetries      uint64  `json:"total_retries"`
	ActiveConversions int     `json:"active_conversions"`
}

// Remote is an HTTP client for the model runner process. Prepare and Ready
// are retried with exponential backoff; Convert is never retried because a
// conversion is not idempotent once the engine has started decoding.
type Remote struct {
	config     RemoteConfig
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	semaphore  chan struct{}

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64

	backend string

	mu sync.RWMutex
}

// NewRemote creates a new model runner client
func NewRemote(config RemoteConfig, logger *slog.Logger, m *metrics.Metrics) (*Remote, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}

	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	// No client-level timeout: conversion responses stream for as long as
	// the engine decodes. Deadlines come from per-call contexts.
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Remote{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Prepare asks the model runner to allocate its decode caches
func (c *Remote) Prepare(ctx context.Context, params PrepareParams) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode prepare parameters: %w", err)
	}

	err = c.withRetry(ctx, "prepare", func(callCtx context.Context) error {
		status, err := c.doControl(callCtx, http.MethodPost, "/v1/prepare", payload)
		if err != nil {
			return err
		}
		if !status.Ready {
			return fmt.Errorf("engine reported not ready after prepare")
		}
		c.setBackend(status.Backend)
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("Engine prepared",
		slog.Int("max_batch", params.MaxBatch),
		slog.Int("max_seq_len", params.MaxSeqLen),
		slog.String("precision", params.Precision),
		slog.String("backend", c.Backend()))

	return nil
}

// Ready queries the model runner's health endpoint
func (c *Remote) Ready(ctx context.Context) (*Status, error) {
	var status *Status

	err := c.withRetry(ctx, "health check", func(callCtx context.Context) error {
		s, err := c.doControl(callCtx, http.MethodGet, "/v1/health", nil)
		if err != nil {
			return err
		}
		status = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.setBackend(status.Backend)
	return status, nil
}

// Backend returns the compute backend reported by the model runner, or an
// empty string before the first successful control call
func (c *Remote) Backend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

// Convert uploads both recordings and starts a conversion. The returned
// stream yields partial chunks followed by exactly one final result.
func (c *Remote) Convert(ctx context.Context, sourcePath, targetPath string, params Params) (Stream, error) {
	select {
	case c.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-c.semaphore }

	c.incrementTotalRequests()
	if c.metrics != nil {
		c.metrics.RecordEngineRequest()
	}

	fail := func(err error) (Stream, error) {
		release()
		c.incrementFailedRequests()
		if c.metrics != nil {
			c.metrics.RecordEngineFailure()
		}
		return nil, err
	}

	body, contentType, err := c.createConvertRequest(sourcePath, targetPath, params)
	if err != nil {
		return fail(fmt.Errorf("failed to create conversion request: %w", err))
	}

	convertCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)

	httpReq, err := http.NewRequestWithContext(convertCtx, http.MethodPost, c.config.Endpoint+"/v1/convert", body)
	if err != nil {
		cancel()
		return fail(fmt.Errorf("failed to create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/octet-stream")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return fail(fmt.Errorf("engine request failed: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return fail(fmt.Errorf("engine HTTP error %d: %s", resp.StatusCode, string(respBody)))
	}

	return &remoteStream{
		client:  c,
		body:    resp.Body,
		cancel:  cancel,
		release: release,
	}, nil
}

// createConvertRequest builds the multipart request body
func (c *Remote) createConvertRequest(sourcePath, targetPath string, params Params) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writeAudioPart(writer, "source_audio", sourcePath); err != nil {
		return nil, "", err
	}
	if err := writeAudioPart(writer, "target_audio", targetPath); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"diffusion_steps":          strconv.Itoa(params.DiffusionSteps),
		"length_adjust":            fmt.Sprintf("%.3f", params.LengthAdjust),
		"intelligibility_cfg_rate": fmt.Sprintf("%.3f", params.IntelligibilityCFG),
		"similarity_cfg_rate":      fmt.Sprintf("%.3f", params.SimilarityCFG),
		"top_p":                    fmt.Sprintf("%.3f", params.TopP),
		"temperature":              fmt.Sprintf("%.3f", params.Temperature),
		"repetition_penalty":       fmt.Sprintf("%.3f", params.RepetitionPenalty),
		"convert_style":            strconv.FormatBool(params.ConvertStyle),
		"anonymization_only":       strconv.FormatBool(params.AnonymizationOnly),
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func writeAudioPart(writer *multipart.Writer, field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", field, err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file %s: %w", field, err)
	}

	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to write %s: %w", field, err)
	}

	return nil
}

// doControl performs a single JSON request against a control endpoint
func (c *Remote) doControl(ctx context.Context, method, path string, body []byte) (*Status, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.Endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var status Status
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &status, nil
}

// withRetry runs fn with exponential backoff for retryable failures
func (c *Remote) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			if c.metrics != nil {
				c.metrics.RecordEngineRetry()
			}

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > maxBackoff {
				backoffTime = maxBackoff
			}

			c.logger.Warn("Engine control call failed, retrying",
				slog.String("operation", operation),
				slog.Int("attempt", attempt+1),
				slog.String("error", lastErr.Error()))

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		c.incrementTotalRequests()
		if c.metrics != nil {
			c.metrics.RecordEngineRequest()
		}

		callCtx, cancel := context.WithTimeout(ctx, controlTimeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			c.incrementSuccessRequests()
			return nil
		}

		c.incrementFailedRequests()
		if c.metrics != nil {
			c.metrics.RecordEngineFailure()
		}
		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, c.config.MaxRetries+1, lastErr)
}

// isRetryableError determines if a control call error is worth retrying
func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	errStr := err.Error()

	// 5xx server errors and rate limiting are retryable
	if strings.Contains(errStr, "HTTP error 5") || strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	// Network/connection errors are typically transient
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused") {
		return true
	}

	return false
}

// Statistics methods
func (c *Remote) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Remote) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Remote) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Remote) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Remote) setBackend(backend string) {
	if backend == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = backend
}

// GetStats returns current client statistics
func (c *Remote) GetStats() RemoteStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return RemoteStats{
		TotalRequests:     c.totalRequests,
		SuccessRequests:   c.successRequests,
		FailedRequests:    c.failedRequests,
		SuccessRate:       successRate,
		TotalRetries:      c.totalRetries,
		ActiveConversions: len(c.semaphore),
	}
}

// Close waits for all active conversions to finish
func (c *Remote) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}

// remoteStream decodes protocol frames from a streamed conversion response
type remoteStream struct {
	client  *Remote
	body    io.ReadCloser
	cancel  context.CancelFunc
	release func()

	finalSeen bool
	err       error
	closeOnce sync.Once
}

func (s *remoteStream) Recv() (StreamEvent, error) {
	if s.err != nil {
		return StreamEvent{}, s.err
	}

	frame, err := protocol.ReadFrame(s.body)
	if err != nil {
		if err == io.EOF {
			if s.finalSeen {
				return StreamEvent{}, s.terminate(io.EOF)
			}
			return StreamEvent{}, s.fail(ErrNoResult)
		}
		return StreamEvent{}, s.fail(fmt.Errorf("reading engine stream: %w", err))
	}

	if s.finalSeen {
		return StreamEvent{}, s.fail(fmt.Errorf("%w: %s frame after final result", ErrProtocol, protocol.FrameTypeName(frame.Type)))
	}

	switch frame.Type {
	case protocol.FrameChunk:
		if s.client.metrics != nil {
			s.client.metrics.RecordStreamChunk()
		}
		return StreamEvent{Kind: EventChunk, Chunk: frame.Payload}, nil

	case protocol.FrameFinal:
		payload, err := protocol.ParseFinalPayload(frame.Payload)
		if err != nil {
			return StreamEvent{}, s.fail(fmt.Errorf("%w: %v", ErrProtocol, err))
		}
		samples, err := audio.BytesToSamples(payload.Data)
		if err != nil {
			return StreamEvent{}, s.fail(fmt.Errorf("%w: %v", ErrProtocol, err))
		}
		s.finalSeen = true
		s.client.incrementSuccessRequests()
		return StreamEvent{
			Kind:  EventFinal,
			Final: audio.NewSampleBuffer(samples, payload.SampleRate),
		}, nil

	case protocol.FrameError:
		return StreamEvent{}, s.fail(fmt.Errorf("engine error: %s", string(frame.Payload)))

	default:
		return StreamEvent{}, s.fail(fmt.Errorf("%w: unknown frame type 0x%02x", ErrProtocol, frame.Type))
	}
}

func (s *remoteStream) Close() error {
	if s.err == nil {
		s.err = errStreamClosed
	}
	s.finalize()
	return nil
}

// terminate ends the stream without failure accounting
func (s *remoteStream) terminate(err error) error {
	s.err = err
	s.finalize()
	return err
}

// fail ends the stream and records the failure
func (s *remoteStream) fail(err error) error {
	s.client.incrementFailedRequests()
	if s.client.metrics != nil {
		s.client.metrics.RecordEngineFailure()
	}
	return s.terminate(err)
}

func (s *remoteStream) finalize() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.body.Close()
		s.release()
	})
}

// Compile-time interface check
var _ Engine = (*Remote)(nil)
