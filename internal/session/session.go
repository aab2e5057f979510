// Package session holds the per-call AMD state machine, the concurrent
// session registry, and the decision finalizer.
//
// One call maps to one session. Transitions are effect-free: they
// return a list of Effects (persist, hangup, discard) that the caller
// executes, so the decision logic stays unit-testable without storage
// or telephony in the loop.
package session

import (
	"sync"
	"time"

	"github.com/dialtone-ai/sentra/internal/audio"
	"github.com/dialtone-ai/sentra/internal/model"
)

// State is the session's position in the detection lifecycle.
// Transitions are unidirectional; there are no cycles.
type State int

const (
	StateAwaitingAudio State = iota
	StateAnalyzing
	StatePreliminary
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateAwaitingAudio:
		return "awaiting_audio"
	case StateAnalyzing:
		return "analyzing"
	case StatePreliminary:
		return "preliminary"
	case StateFinalized:
		return "finalized"
	}
	return "unknown"
}

// hangupConfidence is the minimum preliminary confidence for the live
// machine-hangup action, and equally the floor below which a machine
// verdict may not be finalized as machine.
const hangupConfidence = 0.70

// finalizeFloor is the minimum confidence assigned when a low-confidence
// machine verdict is overridden to human at finalization.
const finalizeFloor = 0.55

// Session binds one call's audio buffer, strategy, and timing.
// All methods are safe for concurrent use; media ingestion itself is
// single-producer (one stream connection per call).
type Session struct {
	StreamSID string
	CallSID   string
	Strategy  model.Strategy
	Audio     *audio.Buffer

	mu               sync.Mutex
	state            State
	preliminary      *model.DetectionResult
	startedAt        time.Time
	minAudio         time.Duration
	analysisInFlight bool
	hangupIssued     bool
}

// New creates a session in the awaiting_audio state. minAudio is the
// strategy-specific buffered duration that triggers the first analysis.
func New(streamSID, callSID string, strategy model.Strategy, sampleRate int, minAudio time.Duration, now time.Time) *Session {
	return &Session{
		StreamSID: streamSID,
		CallSID:   callSID,
		Strategy:  strategy,
		Audio:     audio.NewBuffer(sampleRate),
		state:     StateAwaitingAudio,
		startedAt: now,
		minAudio:  minAudio,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns the session creation time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Preliminary returns the in-call verdict, if one exists.
func (s *Session) Preliminary() *model.DetectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preliminary
}

// Elapsed returns time since session start.
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.startedAt)
}

// IngestMedia appends one decoded media frame and reports whether the
// caller should launch an analysis: true exactly once, when the
// strategy's minimum duration is first crossed. While an analysis is in
// flight further triggers are suppressed; late audio is still buffered.
func (s *Session) IngestMedia(chunk []byte) bool {
	s.Audio.AddChunk(chunk)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingAudio || s.analysisInFlight {
		return false
	}
	if !s.Audio.HasMinimumDuration(s.minAudio) {
		return false
	}
	s.state = StateAnalyzing
	s.analysisInFlight = true
	return true
}

// BeginFlush claims an immediate analysis of whatever audio is buffered,
// used on stream stop when no verdict exists yet. Returns false when a
// result already exists, an analysis is in flight, the session is
// finalized, or there is nothing to analyze.
func (s *Session) BeginFlush() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinalized || s.state == StatePreliminary || s.analysisInFlight {
		return false
	}
	if s.Audio.Size() == 0 {
		return false
	}
	s.state = StateAnalyzing
	s.analysisInFlight = true
	return true
}

// CompleteAnalysis records the backend's verdict and emits the effects
// of the analyzing→preliminary transition: an upsert of the live
// placeholder event and, for a confident machine verdict, a single
// hangup command guarded for the session's lifetime.
//
// A result arriving after finalization is dropped — the finalizer has
// already reconciled and persisted.
func (s *Session) CompleteAnalysis(res model.DetectionResult, now time.Time) []Effect {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.analysisInFlight = false
	if s.state == StateFinalized {
		return nil
	}
	s.preliminary = &res
	s.state = StatePreliminary

	meta := map[string]any{
		"preliminary_detection":  string(res.Detection),
		"preliminary_confidence": res.Confidence,
		"call_in_progress":       true,
	}
	for k, v := range res.Metadata {
		meta[k] = v
	}
	if res.Rationale != "" {
		meta["rationale"] = res.Rationale
	}

	effects := []Effect{PersistEffect{Event: model.AMDEvent{
		CallSID:    s.CallSID,
		Strategy:   s.Strategy,
		Detection:  model.DetectionAnalyzing,
		Confidence: res.Confidence,
		LatencyMs:  res.LatencyMs,
		Metadata:   meta,
	}}}

	if res.Detection == model.DetectionMachine && res.Confidence >= hangupConfidence && !s.hangupIssued {
		s.hangupIssued = true
		effects = append(effects, HangupEffect{CallSID: s.CallSID})
	}
	return effects
}

// Finalize runs the terminal reconciliation once the call lifecycle
// ends. It is idempotent: a second call (duplicate webhook) is a no-op.
func (s *Session) Finalize(callDuration time.Duration, now time.Time) []Effect {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateFinalized {
		return nil
	}
	s.state = StateFinalized

	detection, confidence, meta := Resolve(s.preliminary, callDuration)
	var latency int64
	if s.preliminary != nil {
		latency = s.preliminary.LatencyMs
		if s.preliminary.Rationale != "" {
			meta["rationale"] = s.preliminary.Rationale
		}
	}
	meta["final_call_duration_seconds"] = int(callDuration.Seconds())
	meta["finalized_at"] = now.UTC().Format(time.RFC3339)

	return []Effect{
		PersistEffect{Event: model.AMDEvent{
			CallSID:    s.CallSID,
			Strategy:   s.Strategy,
			Detection:  detection,
			Confidence: confidence,
			LatencyMs:  latency,
			Metadata:   meta,
		}},
		DiscardEffect{StreamSID: s.StreamSID},
	}
}
