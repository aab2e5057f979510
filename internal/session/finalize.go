package session

import (
	"time"

	"github.com/dialtone-ai/sentra/internal/backend"
	"github.com/dialtone-ai/sentra/internal/model"
)

// Resolve computes the terminal verdict from an optional preliminary
// result and the call's total duration.
//
// Two rules apply, in order:
//
//  1. A preliminary verdict carries forward, except that a machine
//     verdict below the hangup confidence bar is overridden to human —
//     the call was never hung up on, so the person (if it was one)
//     stayed on the line. The override never lowers confidence below
//     the finalization floor.
//  2. With no preliminary verdict at all, the call-duration ladder
//     decides: very short calls read as unanswered humans, mid-length
//     calls as voicemail drops, longer calls as humans who talked.
//
// Resolve is shared by the in-memory session finalizer and the webhook
// path that reconciles a call whose session is already gone; it is a
// pure function so both paths cannot drift.
func Resolve(prelim *model.DetectionResult, callDuration time.Duration) (model.Detection, float64, map[string]any) {
	meta := map[string]any{"call_in_progress": false}

	if prelim != nil {
		detection := prelim.Detection
		confidence := prelim.Confidence
		if detection == model.DetectionMachine && confidence < hangupConfidence {
			detection = model.DetectionHuman
			if confidence < finalizeFloor {
				confidence = finalizeFloor
			}
			meta["safety_override"] = true
			meta["overridden_detection"] = string(model.DetectionMachine)
		}
		meta["preliminary_detection"] = string(prelim.Detection)
		meta["preliminary_confidence"] = prelim.Confidence
		return detection, confidence, meta
	}

	rung := backend.Evaluate(backend.CallDurationLadder, callDuration)
	meta["fallback"] = true
	meta["fallback_reason"] = rung.Label
	return rung.Detection, rung.Confidence, meta
}

// ResolveFromEvent is the session-less variant of Resolve: it
// reconstructs the preliminary verdict from a persisted live event's
// metadata. Used when the terminal webhook arrives after the stream
// teardown already dropped the in-memory session.
func ResolveFromEvent(ev *model.AMDEvent, callDuration time.Duration) (model.Detection, float64, map[string]any) {
	if ev == nil {
		return Resolve(nil, callDuration)
	}
	prelim := &model.DetectionResult{
		Detection:  model.Detection(stringMeta(ev.Metadata, "preliminary_detection")),
		Confidence: floatMeta(ev.Metadata, "preliminary_confidence"),
		LatencyMs:  ev.LatencyMs,
	}
	if prelim.Detection != model.DetectionHuman && prelim.Detection != model.DetectionMachine {
		return Resolve(nil, callDuration)
	}
	return Resolve(prelim, callDuration)
}

func stringMeta(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func floatMeta(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
