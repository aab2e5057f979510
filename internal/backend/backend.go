// Package backend implements the pluggable AMD detection backends.
//
// Every backend honors the same contract: Analyze always returns a
// usable DetectionResult and never an error. Network failures, auth
// problems, and malformed responses are recovered internally and
// surface only as a low-confidence human verdict with fallback
// metadata — the product rule is that ambiguity must never risk
// disconnecting a live caller.
package backend

import (
	"context"

	"github.com/dialtone-ai/sentra/internal/model"
)

// Snapshot is the audio state handed to a backend for one analysis
// attempt: the rendered WAV container plus timing and link metadata.
type Snapshot struct {
	WAV        []byte // 44-byte header + 16-bit PCM
	MuLawBytes int    // raw buffered length before rendering
	SampleRate int
	Meta       model.CallMetadata
}

// Backend analyzes one audio snapshot and produces a detection verdict.
// Implementations must be safe for concurrent use; one instance is
// shared across all sessions with the same strategy.
type Backend interface {
	Strategy() model.Strategy
	Analyze(ctx context.Context, snap Snapshot) model.DetectionResult
}

// fallbackResult builds the safety-default result used whenever a
// backend cannot produce a real verdict.
func fallbackResult(confidence float64, rationale string, meta map[string]any) model.DetectionResult {
	if meta == nil {
		meta = map[string]any{}
	}
	meta[MetaFallback] = true
	return model.DetectionResult{
		Detection:  model.DetectionHuman,
		Confidence: Clamp(confidence),
		Rationale:  rationale,
		Metadata:   meta,
	}
}

// Clamp bounds a confidence value to [0,1].
func Clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
