package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"

	"github.com/dialtone-ai/sentra/internal/model"
)

// cannedGenerator returns a fixed response or error for every call.
type cannedGenerator struct {
	text string
	err  error
}

func (g *cannedGenerator) GenerateContent(_ context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: g.text}}},
		}},
	}, nil
}

func llmBackendWith(text string, err error) *LLMBackend {
	return &LLMBackend{generator: &cannedGenerator{text: text, err: err}, model: "test-model"}
}

func TestLLMParsesStrictJSON(t *testing.T) {
	b := llmBackendWith(`{"decision": "machine", "confidence": 0.88, "reasoning": "scripted greeting with beep instruction", "greeting_duration_seconds": 7.5, "estimated_word_count": 18}`, nil)

	res := b.Analyze(context.Background(), Snapshot{MuLawBytes: 24000})
	assert.Equal(t, model.DetectionMachine, res.Detection)
	assert.InDelta(t, 0.88, res.Confidence, 1e-9)
	assert.Equal(t, "scripted greeting with beep instruction", res.Rationale)
	assert.Equal(t, 7.5, res.Metadata["greeting_duration_seconds"])
}

func TestLLMParsesFencedJSON(t *testing.T) {
	b := llmBackendWith("```json\n{\"decision\": \"human\", \"confidence\": 0.9, \"reasoning\": \"short hello\"}\n```", nil)

	res := b.Analyze(context.Background(), Snapshot{MuLawBytes: 8000})
	assert.Equal(t, model.DetectionHuman, res.Detection)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestLLMCoercesUnknownDecisionToHuman(t *testing.T) {
	b := llmBackendWith(`{"decision": "unknown", "confidence": 0.3}`, nil)

	res := b.Analyze(context.Background(), Snapshot{})
	assert.Equal(t, model.DetectionHuman, res.Detection)
	assert.InDelta(t, 0.55, res.Confidence, 1e-9)
	assert.Equal(t, "unknown", res.Metadata["original_decision"])
}

func TestLLMKeywordFallbackOnProse(t *testing.T) {
	b := llmBackendWith("This is clearly a voicemail greeting asking the caller to leave a message.", nil)

	res := b.Analyze(context.Background(), Snapshot{})
	assert.Equal(t, model.DetectionMachine, res.Detection)
	assert.InDelta(t, 0.65, res.Confidence, 1e-9)
	assert.Equal(t, true, res.Metadata[MetaFallback])
}

func TestLLMNoSignalDefaultsToHuman(t *testing.T) {
	b := llmBackendWith("I cannot tell.", nil)

	res := b.Analyze(context.Background(), Snapshot{})
	assert.Equal(t, model.DetectionHuman, res.Detection)
	assert.InDelta(t, 0.55, res.Confidence, 1e-9)
	assert.Equal(t, true, res.Metadata[MetaFallback])
}

func TestLLMAPIErrorUsesSizeHeuristic(t *testing.T) {
	b := llmBackendWith("", errors.New("rate limited"))

	large := b.Analyze(context.Background(), Snapshot{MuLawBytes: 50000})
	assert.Equal(t, model.DetectionMachine, large.Detection)
	assert.InDelta(t, 0.60, large.Confidence, 1e-9)

	small := b.Analyze(context.Background(), Snapshot{MuLawBytes: 8000})
	assert.Equal(t, model.DetectionHuman, small.Detection)
	assert.InDelta(t, 0.65, small.Confidence, 1e-9)

	medium := b.Analyze(context.Background(), Snapshot{MuLawBytes: 20000})
	assert.Equal(t, model.DetectionHuman, medium.Detection)
	assert.InDelta(t, 0.55, medium.Confidence, 1e-9)
	assert.Equal(t, "rate limited", medium.Metadata[MetaError])
}

func TestLLMUnconfiguredBackend(t *testing.T) {
	b := NewUnconfiguredLLMBackend()

	res := b.Analyze(context.Background(), Snapshot{MuLawBytes: 8000})
	assert.Equal(t, model.DetectionHuman, res.Detection)
	assert.Equal(t, true, res.Metadata[MetaFallback])
	assert.Equal(t, "no API client configured", res.Metadata[MetaError])
}

func TestParseLLMVerdictZeroConfidenceGetsFloor(t *testing.T) {
	res := parseLLMVerdict(`{"decision": "human"}`, map[string]any{})
	assert.Equal(t, model.DetectionHuman, res.Detection)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
}
