package session

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when the buffer exceeds its maximum size
var ErrBufferFull = errors.New("audio buffer full")

// AudioBuffer accumulates 16 kHz samples until a turn consumes them
type AudioBuffer struct {
	samples    []float32
	maxSamples int
	mu         sync.Mutex
}

// NewAudioBuffer creates a buffer holding at most maxSamples samples
func NewAudioBuffer(maxSamples int) *AudioBuffer {
	return &AudioBuffer{maxSamples: maxSamples}
}

// MaxSamples returns the maximum buffer size
func (ab *AudioBuffer) MaxSamples() int {
	return ab.maxSamples
}

// Append adds samples to the buffer.
// Returns ErrBufferFull, leaving the buffer unchanged, if they do not fit.
func (ab *AudioBuffer) Append(samples []float32) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if len(ab.samples)+len(samples) > ab.maxSamples {
		return ErrBufferFull
	}
	ab.samples = append(ab.samples, samples...)
	return nil
}

// Drain returns every buffered sample and leaves the buffer empty
func (ab *AudioBuffer) Drain() []float32 {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	out := ab.samples
	ab.samples = nil
	return out
}

// Clear empties the buffer without returning data
func (ab *AudioBuffer) Clear() {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.samples = nil
}

// Len returns the number of buffered samples
func (ab *AudioBuffer) Len() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.samples)
}
