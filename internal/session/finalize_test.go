package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dialtone-ai/sentra/internal/model"
)

func TestResolveCarriesConfidentVerdictsForward(t *testing.T) {
	tests := []struct {
		name           string
		prelim         model.DetectionResult
		wantDetection  model.Detection
		wantConfidence float64
	}{
		{"confident human", model.DetectionResult{Detection: model.DetectionHuman, Confidence: 0.92}, model.DetectionHuman, 0.92},
		{"weak human", model.DetectionResult{Detection: model.DetectionHuman, Confidence: 0.40}, model.DetectionHuman, 0.40},
		{"confident machine", model.DetectionResult{Detection: model.DetectionMachine, Confidence: 0.85}, model.DetectionMachine, 0.85},
		{"machine at the bar", model.DetectionResult{Detection: model.DetectionMachine, Confidence: 0.70}, model.DetectionMachine, 0.70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detection, confidence, meta := Resolve(&tt.prelim, 10*time.Second)
			assert.Equal(t, tt.wantDetection, detection)
			assert.InDelta(t, tt.wantConfidence, confidence, 1e-9)
			assert.Equal(t, false, meta["call_in_progress"])
			assert.Nil(t, meta["safety_override"])
		})
	}
}

func TestResolveOverridesWeakMachineVerdict(t *testing.T) {
	// Nobody hung up on this call, so a sub-bar machine verdict cannot
	// stand: if it was a person, they stayed on the line.
	detection, confidence, meta := Resolve(&model.DetectionResult{
		Detection:  model.DetectionMachine,
		Confidence: 0.65,
	}, 10*time.Second)
	assert.Equal(t, model.DetectionHuman, detection)
	assert.InDelta(t, 0.65, confidence, 1e-9)
	assert.Equal(t, true, meta["safety_override"])
	assert.Equal(t, "machine", meta["overridden_detection"])
	assert.Equal(t, "machine", meta["preliminary_detection"])

	// The override never leaves confidence below the floor.
	_, confidence, _ = Resolve(&model.DetectionResult{
		Detection:  model.DetectionMachine,
		Confidence: 0.30,
	}, 10*time.Second)
	assert.InDelta(t, 0.55, confidence, 1e-9)
}

func TestResolveWithoutPreliminaryUsesCallDuration(t *testing.T) {
	tests := []struct {
		name           string
		duration       time.Duration
		wantDetection  model.Detection
		wantConfidence float64
		wantReason     string
	}{
		{"never answered", 2 * time.Second, model.DetectionHuman, 0.55, "timeout"},
		{"voicemail drop", 4 * time.Second, model.DetectionMachine, 0.60, "quick_hangup"},
		{"long call", 30 * time.Second, model.DetectionHuman, 0.70, "fallback_to_human"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detection, confidence, meta := Resolve(nil, tt.duration)
			assert.Equal(t, tt.wantDetection, detection)
			assert.InDelta(t, tt.wantConfidence, confidence, 1e-9)
			assert.Equal(t, true, meta["fallback"])
			assert.Equal(t, tt.wantReason, meta["fallback_reason"])
		})
	}
}

func TestResolveFromEventReconstructsPreliminary(t *testing.T) {
	ev := &model.AMDEvent{
		CallSID:   "CA1",
		Detection: model.DetectionAnalyzing,
		Metadata: map[string]any{
			"preliminary_detection":  "machine",
			"preliminary_confidence": 0.85,
		},
	}
	detection, confidence, _ := ResolveFromEvent(ev, 10*time.Second)
	assert.Equal(t, model.DetectionMachine, detection)
	assert.InDelta(t, 0.85, confidence, 1e-9)

	// Weak machine still gets the override on this path.
	ev.Metadata["preliminary_confidence"] = 0.60
	detection, confidence, meta := ResolveFromEvent(ev, 10*time.Second)
	assert.Equal(t, model.DetectionHuman, detection)
	assert.InDelta(t, 0.60, confidence, 1e-9)
	assert.Equal(t, true, meta["safety_override"])
}

func TestResolveFromEventWithoutUsableMetadata(t *testing.T) {
	// JSONB round-trips confidences as float64; a missing or foreign
	// detection value falls back to the duration ladder.
	ev := &model.AMDEvent{Metadata: map[string]any{"preliminary_detection": "analyzing"}}
	detection, confidence, meta := ResolveFromEvent(ev, 4*time.Second)
	assert.Equal(t, model.DetectionMachine, detection)
	assert.InDelta(t, 0.60, confidence, 1e-9)
	assert.Equal(t, true, meta["fallback"])

	detection, _, _ = ResolveFromEvent(nil, 30*time.Second)
	assert.Equal(t, model.DetectionHuman, detection)
}
