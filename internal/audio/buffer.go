// Package audio buffers raw µ-law call audio and renders it to a WAV
// container for the detection backends.
//
// Telephony media arrives as mono 8-bit µ-law PCM at 8 kHz: one byte is
// one sample, so buffered byte count maps directly to duration.
package audio

import (
	"sync"
	"time"
)

// DefaultSampleRate is the telephony narrowband rate.
const DefaultSampleRate = 8000

// Buffer accumulates µ-law frames for a single call.
//
// Frames are appended by exactly one writer (the media stream read loop);
// the mutex exists because the analysis goroutine snapshots the buffer
// while ingestion continues.
type Buffer struct {
	mu         sync.Mutex
	data       []byte
	sampleRate int
	minReached bool
}

// NewBuffer creates a buffer for the given sample rate.
// A non-positive rate falls back to DefaultSampleRate.
func NewBuffer(sampleRate int) *Buffer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Buffer{sampleRate: sampleRate}
}

// AddChunk appends one media frame.
func (b *Buffer) AddChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.mu.Lock()
	b.data = append(b.data, chunk...)
	b.mu.Unlock()
}

// Size returns the number of buffered µ-law bytes.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Duration returns the buffered audio duration (1 byte = 1 sample).
func (b *Buffer) Duration() time.Duration {
	b.mu.Lock()
	n := len(b.data)
	rate := b.sampleRate
	b.mu.Unlock()
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// HasMinimumDuration reports whether at least min audio is buffered.
// The answer is monotonic: once true for a session it stays true, even
// if the threshold queried later is larger. Sessions only ever query a
// single strategy-specific threshold, so the latch keeps the analysis
// trigger from firing twice.
func (b *Buffer) HasMinimumDuration(min time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.minReached {
		return true
	}
	d := time.Duration(len(b.data)) * time.Second / time.Duration(b.sampleRate)
	if d >= min {
		b.minReached = true
	}
	return b.minReached
}

// Snapshot returns a copy of the buffered µ-law bytes.
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// WAV renders the buffered audio as a 16-bit linear PCM WAV file.
// Output length is always 44 + 2×Size().
func (b *Buffer) WAV() []byte {
	b.mu.Lock()
	mulaw := make([]byte, len(b.data))
	copy(mulaw, b.data)
	rate := b.sampleRate
	b.mu.Unlock()
	return MuLawToWAV(mulaw, rate)
}

// SampleRate returns the configured sample rate.
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}
