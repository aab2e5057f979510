package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dialtone-ai/sentra/internal/backend"
	"github.com/dialtone-ai/sentra/internal/model"
	"github.com/dialtone-ai/sentra/internal/session"
	"github.com/dialtone-ai/sentra/internal/storage"
)

// CallLoader reads call records for backend context.
type CallLoader interface {
	GetCallBySID(ctx context.Context, callSID string) (model.Call, error)
}

// Analyzer runs one detection pass for a session: snapshot the buffered
// audio, hand it to the session's backend, and apply the resulting
// effects. Backends never return errors so a pass always produces a
// verdict; the timeout surfaces inside the backend as a fallback
// result instead.
type Analyzer struct {
	Dispatcher *backend.Dispatcher
	Executor   *Executor
	Calls      CallLoader
	Logger     *slog.Logger

	// Timeout bounds a single backend pass. Defaults to 10s.
	Timeout time.Duration
}

// Run executes a detection pass. Callers hold the session's analysis
// claim (IngestMedia or BeginFlush returned true) before calling.
func (a *Analyzer) Run(ctx context.Context, s *session.Session) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := a.Dispatcher.Resolve(string(s.Strategy))
	snap := a.snapshot(ctx, s)

	start := time.Now()
	res := b.Analyze(ctx, snap)
	res.LatencyMs = time.Since(start).Milliseconds()

	a.Logger.Info("analysis complete",
		"call_sid", s.CallSID,
		"strategy", b.Strategy(),
		"detection", res.Detection,
		"confidence", res.Confidence,
		"latency_ms", res.LatencyMs,
		"audio_bytes", snap.MuLawBytes)

	effects := s.CompleteAnalysis(res, time.Now())
	a.Executor.Apply(ctx, effects)
}

// snapshot freezes the session's current audio and call context for a
// backend pass. A missing call record is not an error: detection still
// runs on audio alone.
func (a *Analyzer) snapshot(ctx context.Context, s *session.Session) backend.Snapshot {
	now := time.Now()
	meta := model.CallMetadata{
		CallSID:      s.CallSID,
		CallDuration: s.Elapsed(now),
	}
	if a.Calls != nil {
		call, err := a.Calls.GetCallBySID(ctx, s.CallSID)
		switch {
		case err == nil:
			meta.AnsweredBy = call.AnsweredBy
			meta.DetectionDuration = time.Duration(call.DetectionDurationMs) * time.Millisecond
		case !errors.Is(err, storage.ErrNotFound):
			a.Logger.Warn("load call for analysis", "call_sid", s.CallSID, "error", err)
		}
	}
	return backend.Snapshot{
		WAV:        s.Audio.WAV(),
		MuLawBytes: s.Audio.Size(),
		SampleRate: s.Audio.SampleRate(),
		Meta:       meta,
	}
}
