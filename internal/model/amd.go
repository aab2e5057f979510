package model

import (
	"time"

	"github.com/google/uuid"
)

// Strategy selects which detection backend handles a call.
type Strategy string

const (
	StrategyNative Strategy = "native-heuristic"
	StrategySIP    Strategy = "sip-heuristic"
	StrategyML     Strategy = "ml-inference"
	StrategyLLM    Strategy = "llm-reasoning"
)

// ParseStrategy maps a strategy tag from the originating call request
// to a known strategy. Unknown tags fall back to the LLM backend.
func ParseStrategy(tag string) Strategy {
	switch Strategy(tag) {
	case StrategyNative, StrategySIP, StrategyML, StrategyLLM:
		return Strategy(tag)
	}
	return StrategyLLM
}

// Detection is an AMD verdict.
type Detection string

const (
	DetectionHuman   Detection = "human"
	DetectionMachine Detection = "machine"

	// DetectionAnalyzing is the live-analysis placeholder persisted on an
	// AMD event while the call is still in progress. It must never survive
	// finalization.
	DetectionAnalyzing Detection = "analyzing"
)

// DetectionResult is what a backend produces for one analysis attempt.
// Detection is always human or machine; ambiguity resolves to human
// before a result leaves the backend.
type DetectionResult struct {
	Detection  Detection      `json:"detection"`
	Confidence float64        `json:"confidence"` // clamped to [0,1]
	LatencyMs  int64          `json:"latency_ms"`
	Rationale  string         `json:"rationale"`
	Metadata   map[string]any `json:"metadata"`
}

// AMDEvent is the persisted record of a detection, one row per
// (call, strategy), upserted as analysis progresses.
type AMDEvent struct {
	ID         uuid.UUID      `json:"id"`
	CallSID    string         `json:"call_sid"`
	Strategy   Strategy       `json:"strategy"`
	Detection  Detection      `json:"detection"`
	Confidence float64        `json:"confidence"`
	LatencyMs  int64          `json:"latency_ms"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
