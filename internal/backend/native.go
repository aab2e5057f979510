package backend

import (
	"context"
	"strings"
	"time"

	"github.com/dialtone-ai/sentra/internal/model"
)

// NativeBackend derives a verdict from the telephony provider's own
// answered-by classification and its detection-duration timing. It
// never touches the audio: the provider already listened to the call.
//
// Priority order:
//  1. a strong answered-by tag is trusted directly,
//  2. else the detection-duration ladder,
//  3. else the call-duration ladder,
//  4. else human 0.50.
type NativeBackend struct{}

// NewNativeBackend constructs the provider-tag heuristic backend.
func NewNativeBackend() *NativeBackend {
	return &NativeBackend{}
}

func (b *NativeBackend) Strategy() model.Strategy { return model.StrategyNative }

func (b *NativeBackend) Analyze(_ context.Context, snap Snapshot) model.DetectionResult {
	start := time.Now()
	meta := map[string]any{
		MetaAudioBytes: snap.MuLawBytes,
		MetaAnsweredBy: snap.Meta.AnsweredBy,
		MetaDetectMs:   snap.Meta.DetectionDuration.Milliseconds(),
		MetaCallSecs:   int(snap.Meta.CallDuration.Seconds()),
	}

	detection, confidence, rationale := classifyAnsweredBy(snap.Meta.AnsweredBy)
	if detection != "" {
		meta[MetaMethod] = "provider_tag"
		return model.DetectionResult{
			Detection:  detection,
			Confidence: confidence,
			LatencyMs:  time.Since(start).Milliseconds(),
			Rationale:  rationale,
			Metadata:   meta,
		}
	}

	if snap.Meta.DetectionDuration > 0 {
		rung := Evaluate(DetectionDurationLadder, snap.Meta.DetectionDuration)
		meta[MetaMethod] = "detection_duration"
		return model.DetectionResult{
			Detection:  rung.Detection,
			Confidence: rung.Confidence,
			LatencyMs:  time.Since(start).Milliseconds(),
			Rationale:  "detection duration " + snap.Meta.DetectionDuration.String() + ": " + rung.Label,
			Metadata:   meta,
		}
	}

	if snap.Meta.CallDuration > 0 {
		rung := Evaluate(CallDurationLadder, snap.Meta.CallDuration)
		meta[MetaMethod] = "call_duration"
		return model.DetectionResult{
			Detection:  rung.Detection,
			Confidence: rung.Confidence,
			LatencyMs:  time.Since(start).Milliseconds(),
			Rationale:  "call duration " + snap.Meta.CallDuration.String() + ": " + rung.Label,
			Metadata:   meta,
		}
	}

	meta[MetaMethod] = "no_signal"
	res := fallbackResult(0.50, "no provider signal and no timing data", meta)
	res.LatencyMs = time.Since(start).Milliseconds()
	return res
}

// classifyAnsweredBy maps the provider's answered-by tag to a verdict.
// An empty detection means the tag carried no usable signal.
func classifyAnsweredBy(tag string) (model.Detection, float64, string) {
	switch {
	case tag == "human":
		return model.DetectionHuman, 0.95, "provider classified pickup as human"
	case strings.HasPrefix(tag, "machine"):
		// machine_start, machine_end_beep, machine_end_silence.
		return model.DetectionMachine, 0.90, "provider classified pickup as machine (" + tag + ")"
	case tag == "fax":
		return model.DetectionMachine, 0.85, "provider classified pickup as fax"
	}
	return "", 0, ""
}
