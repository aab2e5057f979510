// Package model defines the core domain types shared across packages:
// calls, detection strategies, detection results, and persisted AMD events.
package model

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the telephony provider's lifecycle status for a call.
type CallStatus string

const (
	StatusInitiated CallStatus = "initiated"
	StatusRinging   CallStatus = "ringing"
	StatusAnswered  CallStatus = "answered"
	StatusCompleted CallStatus = "completed"
	StatusFailed    CallStatus = "failed"
	StatusNoAnswer  CallStatus = "no-answer"
	StatusBusy      CallStatus = "busy"
	StatusCanceled  CallStatus = "canceled"
)

// Terminal reports whether the status ends the call lifecycle.
// A terminal status is the single trigger for decision finalization.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusCanceled:
		return true
	}
	return false
}

// Call mirrors the provider-owned call record. The AMD pipeline only
// reads status/duration transitions and the provider's answered-by tag;
// the full lifecycle (placement, billing, history) belongs to the
// telephony collaborator.
type Call struct {
	ID                  uuid.UUID  `json:"id"`
	CallSID             string     `json:"call_sid"`
	Status              CallStatus `json:"status"`
	DurationSeconds     int        `json:"duration_seconds"`
	AnsweredBy          string     `json:"answered_by,omitempty"`
	DetectionDurationMs int        `json:"detection_duration_ms,omitempty"`
	StartedAt           time.Time  `json:"started_at"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// SIPMetrics carries connection-quality signals observed on the media leg.
// Zero values mean "not measured".
type SIPMetrics struct {
	PacketLoss float64 `json:"packet_loss"` // fraction in [0,1]
	JitterMs   float64 `json:"jitter_ms"`
}

// CallMetadata is the per-call context handed to a detection backend
// alongside the audio snapshot.
type CallMetadata struct {
	CallSID           string
	AnsweredBy        string
	DetectionDuration time.Duration // provider answer-to-AMD-result timing
	CallDuration      time.Duration // elapsed since session start
	SIP               SIPMetrics
}
