package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dialtone-ai/sentra/internal/model"
)

// MLBackend sends the rendered WAV to a remote audio-classification
// service and folds the returned class scores into human/machine/silence
// buckets. Silence dominance or sub-threshold scores resolve to human.
type MLBackend struct {
	baseURL    string
	modelType  string
	threshold  float64
	httpClient *http.Client
}

// NewMLBackend creates a client for the classifier service. A
// non-positive threshold uses the 0.7 default; timeout bounds each
// analysis attempt (there are no retries — a late answer is useless
// mid-call).
func NewMLBackend(baseURL, modelType string, threshold float64, timeout time.Duration) *MLBackend {
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}
	if modelType == "" {
		modelType = "ensemble"
	}
	if threshold <= 0 {
		threshold = 0.7
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &MLBackend{
		baseURL:   baseURL,
		modelType: modelType,
		threshold: threshold,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (b *MLBackend) Strategy() model.Strategy { return model.StrategyML }

type mlAnalyzeRequest struct {
	AudioData  string `json:"audio_data"` // base64 WAV
	SampleRate int    `json:"sample_rate"`
	ModelType  string `json:"model_type"`
}

type mlAnalyzeResponse struct {
	Detection  string             `json:"detection"`
	Confidence float64            `json:"confidence"`
	LatencyMs  int64              `json:"latency_ms"`
	ModelUsed  string             `json:"model_used"`
	Reasoning  string             `json:"reasoning"`
	Scores     []mlLabelScore     `json:"scores"`
	Buckets    map[string]float64 `json:"detection_scores"`
}

type mlLabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (b *MLBackend) Analyze(ctx context.Context, snap Snapshot) model.DetectionResult {
	start := time.Now()
	meta := map[string]any{
		MetaAudioBytes: snap.MuLawBytes,
		MetaMethod:     "ml_inference",
		"model_type":   b.modelType,
	}

	resp, err := b.classify(ctx, snap)
	if err != nil {
		meta[MetaError] = err.Error()
		res := fallbackResult(0.55, "classifier unavailable, defaulting to human", meta)
		res.LatencyMs = time.Since(start).Milliseconds()
		return res
	}

	human, machine, silence := bucketScores(resp)
	meta[MetaScores] = map[string]float64{"human": human, "machine": machine, "silence": silence}
	meta["model_used"] = resp.ModelUsed
	latency := time.Since(start).Milliseconds()

	// Dominant silence means nobody has spoken yet; treat as human and
	// let the call continue rather than guessing machine.
	if silence > 0.5 {
		res := fallbackResult(0.55, fmt.Sprintf("silence dominates (%.2f), defaulting to human", silence), meta)
		res.LatencyMs = latency
		return res
	}

	switch {
	case human >= b.threshold && human > machine:
		return model.DetectionResult{
			Detection:  model.DetectionHuman,
			Confidence: Clamp(human),
			LatencyMs:  latency,
			Rationale:  fmt.Sprintf("human bucket %.2f over threshold %.2f", human, b.threshold),
			Metadata:   meta,
		}
	case machine >= b.threshold && machine > human:
		return model.DetectionResult{
			Detection:  model.DetectionMachine,
			Confidence: Clamp(machine),
			LatencyMs:  latency,
			Rationale:  fmt.Sprintf("machine bucket %.2f over threshold %.2f", machine, b.threshold),
			Metadata:   meta,
		}
	}

	res := fallbackResult(0.55, fmt.Sprintf("no bucket over threshold (human %.2f, machine %.2f)", human, machine), meta)
	res.LatencyMs = latency
	return res
}

// classify posts the audio to the service's /analyze endpoint.
func (b *MLBackend) classify(ctx context.Context, snap Snapshot) (*mlAnalyzeResponse, error) {
	reqBody, err := json.Marshal(mlAnalyzeRequest{
		AudioData:  base64.StdEncoding.EncodeToString(snap.WAV),
		SampleRate: snap.SampleRate,
		ModelType:  b.modelType,
	})
	if err != nil {
		return nil, fmt.Errorf("ml: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/analyze", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ml: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ml: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ml: status %d: %s", resp.StatusCode, string(body))
	}

	var result mlAnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ml: decode response: %w", err)
	}
	return &result, nil
}

// bucketScores normalizes the classifier's labels into the three AMD
// buckets. Services that already bucket (detection_scores) are trusted;
// otherwise labels are matched by vocabulary.
func bucketScores(resp *mlAnalyzeResponse) (human, machine, silence float64) {
	if len(resp.Buckets) > 0 {
		return resp.Buckets["human"], resp.Buckets["machine"], resp.Buckets["silence"]
	}

	for _, ls := range resp.Scores {
		label := strings.ToLower(ls.Label)
		switch {
		case containsAny(label, "human", "person", "voice", "speech"):
			human += ls.Score
		case containsAny(label, "machine", "robot", "automated", "voicemail", "recording"):
			machine += ls.Score
		default:
			silence += ls.Score
		}
	}
	total := human + machine + silence

	// A bare top-level detection with no label scores still counts.
	if total == 0 && resp.Detection != "" {
		switch resp.Detection {
		case "human":
			return Clamp(resp.Confidence), 0, 0
		case "machine":
			return 0, Clamp(resp.Confidence), 0
		default:
			return 0, 0, 1
		}
	}
	if total > 0 {
		human /= total
		machine /= total
		silence /= total
	}
	return human, machine, silence
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
