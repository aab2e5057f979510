package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dialtone-ai/sentra/internal/model"
	"github.com/dialtone-ai/sentra/internal/session"
	"github.com/dialtone-ai/sentra/internal/storage"
	"github.com/dialtone-ai/sentra/internal/stream"
)

// Store is the storage surface the HTTP handlers need.
type Store interface {
	GetCallBySID(ctx context.Context, callSID string) (model.Call, error)
	UpdateCallStatus(ctx context.Context, callSID string, status model.CallStatus, durationSeconds int) error
	RecordProviderAMD(ctx context.Context, callSID, answeredBy string, detectionDurationMs int) error
	UpsertAMDEvent(ctx context.Context, ev model.AMDEvent) (model.AMDEvent, error)
	ListAMDEvents(ctx context.Context, callSID string) ([]model.AMDEvent, error)
	Ping(ctx context.Context) error
}

// HandlersDeps holds dependencies for creating Handlers.
type HandlersDeps struct {
	Store           Store
	Registry        *session.Registry
	Analyzer        *stream.Analyzer
	Executor        *stream.Executor
	Logger          *slog.Logger
	DefaultStrategy model.Strategy
	Version         string
}

// Handlers implements the webhook and query endpoints.
type Handlers struct {
	store           Store
	registry        *session.Registry
	analyzer        *stream.Analyzer
	executor        *stream.Executor
	logger          *slog.Logger
	defaultStrategy model.Strategy
	version         string
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:           deps.Store,
		registry:        deps.Registry,
		analyzer:        deps.Analyzer,
		executor:        deps.Executor,
		logger:          deps.Logger,
		defaultStrategy: deps.DefaultStrategy,
		version:         deps.Version,
	}
}

// HandleCallStatus processes the provider's call lifecycle webhook.
// Status callbacks are form-encoded. A terminal status triggers
// decision finalization for the call's session; an unknown call is
// acknowledged and logged, never errored, so the provider does not
// retry forever.
func (h *Handlers) HandleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed form body")
		return
	}
	callSID := r.PostFormValue("CallSid")
	if callSID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "CallSid is required")
		return
	}
	status := parseCallStatus(r.PostFormValue("CallStatus"))
	durationSeconds, _ := strconv.Atoi(r.PostFormValue("CallDuration"))

	err := h.store.UpdateCallStatus(r.Context(), callSID, status, durationSeconds)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.logger.Warn("status callback for unknown call", "call_sid", callSID, "status", status)
	case err != nil:
		h.logger.Error("update call status", "call_sid", callSID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to update call")
		return
	}

	if status.Terminal() {
		h.finalizeCall(r.Context(), callSID, time.Duration(durationSeconds)*time.Second)
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"received": true})
}

// finalizeCall runs decision finalization for a call that just reached
// a terminal status. The live session is preferred; if stream teardown
// already dropped it, the persisted placeholder events are reconciled
// instead, and a call with no detection at all gets a duration-based
// fallback verdict.
func (h *Handlers) finalizeCall(ctx context.Context, callSID string, callDuration time.Duration) {
	if sess, ok := h.registry.ByCall(callSID); ok {
		h.executor.Apply(ctx, sess.Finalize(callDuration, time.Now()))
		return
	}

	events, err := h.store.ListAMDEvents(ctx, callSID)
	if err != nil {
		h.logger.Error("list AMD events for finalization", "call_sid", callSID, "error", err)
		return
	}

	reconciled := false
	for i := range events {
		ev := &events[i]
		if ev.Detection != model.DetectionAnalyzing {
			reconciled = true // already finalized
			continue
		}
		detection, confidence, meta := session.ResolveFromEvent(ev, callDuration)
		meta["final_call_duration_seconds"] = int(callDuration.Seconds())
		meta["finalized_at"] = time.Now().UTC().Format(time.RFC3339)
		if _, err := h.store.UpsertAMDEvent(ctx, model.AMDEvent{
			CallSID:    callSID,
			Strategy:   ev.Strategy,
			Detection:  detection,
			Confidence: confidence,
			LatencyMs:  ev.LatencyMs,
			Metadata:   meta,
		}); err != nil {
			h.logger.Error("finalize AMD event", "call_sid", callSID, "strategy", ev.Strategy, "error", err)
			continue
		}
		reconciled = true
	}
	if reconciled {
		return
	}

	// No detection ever ran (e.g. the call was never answered). Record
	// a duration-based verdict so every terminal call has one.
	detection, confidence, meta := session.Resolve(nil, callDuration)
	meta["final_call_duration_seconds"] = int(callDuration.Seconds())
	meta["finalized_at"] = time.Now().UTC().Format(time.RFC3339)
	if _, err := h.store.UpsertAMDEvent(ctx, model.AMDEvent{
		CallSID:    callSID,
		Strategy:   h.defaultStrategy,
		Detection:  detection,
		Confidence: confidence,
		Metadata:   meta,
	}); err != nil {
		h.logger.Error("record fallback AMD event", "call_sid", callSID, "error", err)
	}
}

// HandleProviderAMD processes the provider's own answering-machine
// detection callback. The verdict is stored on the call record and, for
// a live session on the native strategy, immediately triggers an
// analysis pass so the provider signal reaches the pipeline while the
// call is still up.
func (h *Handlers) HandleProviderAMD(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed form body")
		return
	}
	callSID := r.PostFormValue("CallSid")
	if callSID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "CallSid is required")
		return
	}
	answeredBy := r.PostFormValue("AnsweredBy")
	detectionMs, _ := strconv.Atoi(r.PostFormValue("MachineDetectionDuration"))

	err := h.store.RecordProviderAMD(r.Context(), callSID, answeredBy, detectionMs)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.logger.Warn("AMD callback for unknown call", "call_sid", callSID, "answered_by", answeredBy)
	case err != nil:
		h.logger.Error("record provider AMD", "call_sid", callSID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to record AMD result")
		return
	}

	if sess, ok := h.registry.ByCall(callSID); ok && sess.Strategy == model.StrategyNative {
		if sess.BeginFlush() {
			go h.analyzer.Run(context.WithoutCancel(r.Context()), sess)
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"received": true})
}

// HandleListAMDEvents returns all detection events for a call.
func (h *Handlers) HandleListAMDEvents(w http.ResponseWriter, r *http.Request) {
	callSID := r.PathValue("call_sid")
	if callSID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "call_sid is required")
		return
	}
	events, err := h.store.ListAMDEvents(r.Context(), callSID)
	if err != nil {
		h.logger.Error("list AMD events", "call_sid", callSID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.AMDEvent{}
	}
	writeJSON(w, r, http.StatusOK, events)
}

// HandleGetCall returns the call record for a call SID.
func (h *Handlers) HandleGetCall(w http.ResponseWriter, r *http.Request) {
	callSID := r.PathValue("call_sid")
	call, err := h.store.GetCallBySID(r.Context(), callSID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "call not found")
			return
		}
		h.logger.Error("get call", "call_sid", callSID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to get call")
		return
	}
	writeJSON(w, r, http.StatusOK, call)
}

// HandleHealth reports service and database health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "database unreachable")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       h.version,
		"live_sessions": h.registry.Len(),
	})
}

// parseCallStatus maps provider status strings onto the call lifecycle.
func parseCallStatus(s string) model.CallStatus {
	switch s {
	case "queued", "initiated":
		return model.StatusInitiated
	case "ringing":
		return model.StatusRinging
	case "in-progress", "answered":
		return model.StatusAnswered
	case "completed":
		return model.StatusCompleted
	case "busy":
		return model.StatusBusy
	case "no-answer":
		return model.StatusNoAnswer
	case "failed":
		return model.StatusFailed
	case "canceled":
		return model.StatusCanceled
	}
	return model.CallStatus(s)
}
