package backend

import (
	"time"

	"github.com/dialtone-ai/sentra/internal/model"
)

// Fixed metadata keys persisted by every backend. Vendor-specific
// extras may appear alongside these, but tests and the dashboard only
// rely on this core set.
const (
	MetaFallback   = "fallback"
	MetaError      = "error"
	MetaRationale  = "rationale"
	MetaAudioBytes = "audio_bytes"
	MetaScores     = "scores"
	MetaAnsweredBy = "answered_by"
	MetaMethod     = "analysis_method"
	MetaDetectMs   = "detection_duration_ms"
	MetaCallSecs   = "call_duration_seconds"
)

// Rung is one row of an ordered duration policy ladder: the first rung
// whose Below bound exceeds the measured duration wins. A zero Below
// means "no upper bound" and always matches.
type Rung struct {
	Below      time.Duration
	Detection  model.Detection
	Confidence float64
	Label      string
}

// Evaluate walks the ladder top-down and returns the first matching rung.
// The last rung is expected to be unbounded; if the ladder is empty or
// exhausted the absolute fallback (human 0.50) is returned.
func Evaluate(ladder []Rung, d time.Duration) Rung {
	for _, r := range ladder {
		if r.Below == 0 || d < r.Below {
			return r
		}
	}
	return Rung{Detection: model.DetectionHuman, Confidence: 0.50, Label: "absolute_fallback"}
}

// DetectionDurationLadder maps the provider's answer-to-AMD-result
// timing to a verdict. Short detection windows mean the callee spoke
// immediately (human); long windows mean the provider kept listening
// through a greeting (machine).
var DetectionDurationLadder = []Rung{
	{Below: 1500 * time.Millisecond, Detection: model.DetectionHuman, Confidence: 0.80, Label: "instant_pickup"},
	{Below: 3 * time.Second, Detection: model.DetectionHuman, Confidence: 0.75, Label: "quick_detection"},
	{Below: 5 * time.Second, Detection: model.DetectionMachine, Confidence: 0.65, Label: "delayed_detection"},
	{Below: 8 * time.Second, Detection: model.DetectionMachine, Confidence: 0.80, Label: "long_greeting"},
	{Detection: model.DetectionMachine, Confidence: 0.90, Label: "very_long_greeting"},
}

// CallDurationLadder is the last-resort tier, used when no provider
// detection timing exists: only total elapsed call time is available.
var CallDurationLadder = []Rung{
	{Below: 3 * time.Second, Detection: model.DetectionHuman, Confidence: 0.55, Label: "timeout"},
	{Below: 5 * time.Second, Detection: model.DetectionMachine, Confidence: 0.60, Label: "quick_hangup"},
	{Detection: model.DetectionHuman, Confidence: 0.70, Label: "fallback_to_human"},
}
