package session

import "github.com/dialtone-ai/sentra/internal/model"

// Effect is a side effect requested by a state transition. The state
// machine never touches storage or telephony itself; it hands these
// back to the caller for execution.
type Effect interface {
	isEffect()
}

// PersistEffect upserts an AMD event row for the session's call and
// strategy.
type PersistEffect struct {
	Event model.AMDEvent
}

// HangupEffect terminates the call at the telephony provider. Emitted
// at most once per session.
type HangupEffect struct {
	CallSID string
}

// DiscardEffect releases the session's buffered audio and registry
// entry.
type DiscardEffect struct {
	StreamSID string
}

func (PersistEffect) isEffect() {}
func (HangupEffect) isEffect()  {}
func (DiscardEffect) isEffect() {}
