package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/dialtone-ai/sentra/internal/model"
)

// llmPrompt instructs the multimodal model to classify the pickup and
// answer in strict JSON. The rules encode the product's greeting-length
// heuristics and the never-return-unknown safety requirement.
const llmPrompt = `Analyze this call audio and decide whether it was answered by a HUMAN or a VOICEMAIL MACHINE.

Rules:
1. Short greeting (under 2 seconds, e.g. "Hello?", "Yes?") = human, confidence 0.85-0.95.
2. Long greeting (over 5 seconds or more than 5 words, e.g. "you've reached...", "leave a message", "after the beep") = machine, confidence 0.80-0.95.
3. Silence of 3+ seconds = treat as human, confidence 0.50-0.60.
4. Medium greeting (2-5 seconds): natural phrasing ("Hello, this is John") = human 0.70-0.80; formal recorded phrasing ("Thank you for calling") = machine 0.65-0.75.

Respond with only a JSON object:
{"decision": "human" | "machine", "confidence": 0.0-1.0, "reasoning": "brief explanation", "greeting_duration_seconds": <number>, "estimated_word_count": <number>}

Never answer "unknown". If uncertain, choose "human".`

// audio-size fallback bounds, in µ-law bytes (1 byte = 125 µs of audio).
const (
	llmLargeAudio = 40000 // ~5 s of speech: long greeting territory
	llmSmallAudio = 15000 // under ~2 s: quick pickup territory
)

// contentGenerator is the slice of the genai client the backend uses,
// extracted so tests can substitute a canned model.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// LLMBackend ships the rendered audio plus a structured prompt to a
// multimodal reasoning model and parses the JSON verdict. Parse
// failures degrade to keyword scanning of the raw text, then to the
// audio-size heuristic, and finally to the human safety default.
type LLMBackend struct {
	generator contentGenerator
	model     string
}

// NewLLMBackend dials the Gemini API. The returned backend shares one
// client across every session.
func NewLLMBackend(ctx context.Context, apiKey, modelName string) (*LLMBackend, error) {
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create client: %w", err)
	}
	return &LLMBackend{generator: client.Models, model: modelName}, nil
}

// NewUnconfiguredLLMBackend returns a backend with no API client that
// answers from the audio-size heuristic alone. Used when no API key is
// configured so the pipeline still has a default backend.
func NewUnconfiguredLLMBackend() *LLMBackend {
	return &LLMBackend{model: "none"}
}

func (b *LLMBackend) Strategy() model.Strategy { return model.StrategyLLM }

func (b *LLMBackend) Analyze(ctx context.Context, snap Snapshot) model.DetectionResult {
	start := time.Now()
	meta := map[string]any{
		MetaAudioBytes: snap.MuLawBytes,
		MetaMethod:     "llm_reasoning",
		"model":        b.model,
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(snap.WAV, "audio/wav"),
			genai.NewPartFromText(llmPrompt),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.1),
		MaxOutputTokens: 256,
	}

	if b.generator == nil {
		meta[MetaError] = "no API client configured"
		res := sizeHeuristic(snap.MuLawBytes, meta)
		res.LatencyMs = time.Since(start).Milliseconds()
		return res
	}

	resp, err := b.generator.GenerateContent(ctx, b.model, contents, cfg)
	if err != nil {
		meta[MetaError] = err.Error()
		res := sizeHeuristic(snap.MuLawBytes, meta)
		res.LatencyMs = time.Since(start).Milliseconds()
		return res
	}

	res := parseLLMVerdict(resp.Text(), meta)
	res.LatencyMs = time.Since(start).Milliseconds()
	return res
}

// llmVerdict is the JSON shape the prompt demands.
type llmVerdict struct {
	Decision        string  `json:"decision"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
	GreetingSeconds float64 `json:"greeting_duration_seconds"`
	WordCount       int     `json:"estimated_word_count"`
}

// parseLLMVerdict extracts a verdict from the model's raw text. The
// JSON object may be wrapped in markdown fences or prose; parse failure
// falls back to keyword scanning, then to the human safety default.
func parseLLMVerdict(text string, meta map[string]any) model.DetectionResult {
	if v, ok := extractJSONVerdict(text); ok {
		detection := model.DetectionHuman
		confidence := Clamp(v.Confidence)
		switch v.Decision {
		case "machine":
			detection = model.DetectionMachine
		case "human":
		default:
			// unknown/uncertain is coerced to human with a floor.
			if confidence < 0.55 {
				confidence = 0.55
			}
			meta["original_decision"] = v.Decision
		}
		if confidence == 0 {
			confidence = 0.5
		}
		meta["greeting_duration_seconds"] = v.GreetingSeconds
		meta["estimated_word_count"] = v.WordCount
		return model.DetectionResult{
			Detection:  detection,
			Confidence: confidence,
			Rationale:  v.Reasoning,
			Metadata:   meta,
		}
	}

	// Keyword fallback on unparsable output.
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "machine", "voicemail", "answering"):
		meta[MetaFallback] = true
		return model.DetectionResult{
			Detection:  model.DetectionMachine,
			Confidence: 0.65,
			Rationale:  "unparsable response, machine keywords present",
			Metadata:   meta,
		}
	case containsAny(lower, "human", "person", "live"):
		meta[MetaFallback] = true
		return model.DetectionResult{
			Detection:  model.DetectionHuman,
			Confidence: 0.70,
			Rationale:  "unparsable response, human keywords present",
			Metadata:   meta,
		}
	}
	return fallbackResult(0.55, "unparsable response with no keyword signal, defaulting to human", meta)
}

// extractJSONVerdict finds the first {...} block in the text and
// unmarshals it.
func extractJSONVerdict(text string) (llmVerdict, bool) {
	open := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if open < 0 || end <= open {
		return llmVerdict{}, false
	}
	var v llmVerdict
	if err := json.Unmarshal([]byte(text[open:end+1]), &v); err != nil {
		return llmVerdict{}, false
	}
	if v.Decision == "" {
		return llmVerdict{}, false
	}
	return v, true
}

// sizeHeuristic guesses from buffered audio length when the API call
// itself fails: a long buffer means a long greeting was being recited.
func sizeHeuristic(mulawBytes int, meta map[string]any) model.DetectionResult {
	meta[MetaFallback] = true
	switch {
	case mulawBytes > llmLargeAudio:
		return model.DetectionResult{
			Detection:  model.DetectionMachine,
			Confidence: 0.60,
			Rationale:  fmt.Sprintf("api error; large audio (%d bytes) suggests long greeting", mulawBytes),
			Metadata:   meta,
		}
	case mulawBytes < llmSmallAudio:
		return model.DetectionResult{
			Detection:  model.DetectionHuman,
			Confidence: 0.65,
			Rationale:  fmt.Sprintf("api error; small audio (%d bytes) suggests quick pickup", mulawBytes),
			Metadata:   meta,
		}
	}
	return model.DetectionResult{
		Detection:  model.DetectionHuman,
		Confidence: 0.55,
		Rationale:  fmt.Sprintf("api error; medium audio (%d bytes), defaulting to human", mulawBytes),
		Metadata:   meta,
	}
}
