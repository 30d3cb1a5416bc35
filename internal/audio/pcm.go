package audio

import (
	"fmt"
	"math"
)

// SampleBuffer holds decoded mono PCM-16 audio together with its sample rate.
// It is the currency between the engine's final result and the output encoder.
type SampleBuffer struct {
	Samples    []int16
	SampleRate int
}

// NewSampleBuffer creates a sample buffer; the slice is not copied
func NewSampleBuffer(samples []int16, sampleRate int) *SampleBuffer {
	return &SampleBuffer{
		Samples:    samples,
		SampleRate: sampleRate,
	}
}

// Duration returns the buffer length in seconds
func (b *SampleBuffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Peak returns the largest absolute sample value
func (b *SampleBuffer) Peak() int {
	peak := 0
	for _, s := range b.Samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Clone returns a deep copy of the buffer
func (b *SampleBuffer) Clone() *SampleBuffer {
	samples := make([]int16, len(b.Samples))
	copy(samples, b.Samples)
	return &SampleBuffer{
		Samples:    samples,
		SampleRate: b.SampleRate,
	}
}

// Normalize rescales the buffer so its peak sits at target of full scale
// (target 0.95 leaves ~5% headroom before clipping). Silent buffers are
// left untouched.
func (b *SampleBuffer) Normalize(target float64) {
	peak := b.Peak()
	if peak == 0 {
		return
	}

	gain := target * math.MaxInt16 / float64(peak)
	for i, s := range b.Samples {
		v := math.Round(float64(s) * gain)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		b.Samples[i] = int16(v)
	}
}

// SamplesToBytes converts PCM-16 samples to little-endian bytes
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// BytesToSamples converts little-endian bytes to PCM-16 samples
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}
