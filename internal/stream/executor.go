// Package stream handles the realtime media leg: the websocket endpoint
// that receives call audio frames, the analysis runner that feeds
// buffered audio to a detection backend, and the executor that applies
// the effects emitted by session transitions.
package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/dialtone-ai/sentra/internal/model"
	"github.com/dialtone-ai/sentra/internal/session"
)

// EventStore persists detection events.
type EventStore interface {
	UpsertAMDEvent(ctx context.Context, ev model.AMDEvent) (model.AMDEvent, error)
}

// CallControl terminates calls at the telephony provider.
type CallControl interface {
	Hangup(ctx context.Context, callSID string) error
	Configured() bool
}

// Executor applies session effects against storage, telephony, and the
// registry. Hangups are fire-and-forget: a provider failure is logged,
// never propagated back into the decision path.
type Executor struct {
	Store     EventStore
	Telephony CallControl
	Registry  *session.Registry
	Logger    *slog.Logger

	// HangupTimeout bounds the provider hangup call. Defaults to 5s.
	HangupTimeout time.Duration
}

// Apply executes each effect in order. Persistence failures are logged
// and skipped; the in-memory decision state is already authoritative
// for the rest of the call.
func (e *Executor) Apply(ctx context.Context, effects []session.Effect) {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case session.PersistEffect:
			if _, err := e.Store.UpsertAMDEvent(ctx, eff.Event); err != nil {
				e.Logger.Error("persist AMD event",
					"call_sid", eff.Event.CallSID,
					"strategy", eff.Event.Strategy,
					"error", err)
			}
		case session.HangupEffect:
			e.hangup(eff.CallSID)
		case session.DiscardEffect:
			e.Registry.Remove(eff.StreamSID)
		}
	}
}

func (e *Executor) hangup(callSID string) {
	if e.Telephony == nil || !e.Telephony.Configured() {
		e.Logger.Warn("machine detected but telephony not configured, skipping hangup", "call_sid", callSID)
		return
	}
	timeout := e.HangupTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := e.Telephony.Hangup(ctx, callSID); err != nil {
			e.Logger.Error("hangup call", "call_sid", callSID, "error", err)
			return
		}
		e.Logger.Info("call hung up after machine detection", "call_sid", callSID)
	}()
}
