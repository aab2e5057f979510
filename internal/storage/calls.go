package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dialtone-ai/sentra/internal/model"
)

// CreateCall inserts a new call record and returns it.
func (db *DB) CreateCall(ctx context.Context, callSID string, status model.CallStatus) (model.Call, error) {
	call := model.Call{
		ID:        uuid.New(),
		CallSID:   callSID,
		Status:    status,
		StartedAt: time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO calls (id, call_sid, status, started_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		call.ID, call.CallSID, string(call.Status), call.StartedAt, call.CreatedAt,
	)
	if err != nil {
		return model.Call{}, fmt.Errorf("storage: create call: %w", err)
	}
	return call, nil
}

// EnsureCall inserts a call record for the SID if none exists yet.
// The media stream often reaches us before any status callback does,
// so the first observer of a call creates its row.
func (db *DB) EnsureCall(ctx context.Context, callSID string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO calls (id, call_sid, status, started_at, created_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (call_sid) DO NOTHING`,
		uuid.New(), callSID, string(model.StatusAnswered), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: ensure call: %w", err)
	}
	return nil
}

// GetCallBySID retrieves a call by its provider call SID.
func (db *DB) GetCallBySID(ctx context.Context, callSID string) (model.Call, error) {
	var c model.Call
	err := db.pool.QueryRow(ctx,
		`SELECT id, call_sid, status, duration_seconds, answered_by, detection_duration_ms, started_at, ended_at, created_at
		 FROM calls WHERE call_sid = $1`, callSID,
	).Scan(
		&c.ID, &c.CallSID, &c.Status, &c.DurationSeconds, &c.AnsweredBy,
		&c.DetectionDurationMs, &c.StartedAt, &c.EndedAt, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Call{}, ErrNotFound
		}
		return model.Call{}, fmt.Errorf("storage: get call: %w", err)
	}
	return c, nil
}

// UpdateCallStatus records a lifecycle transition reported by the
// telephony provider. Duration is only stored for terminal statuses;
// ended_at is stamped the first time a terminal status lands.
func (db *DB) UpdateCallStatus(ctx context.Context, callSID string, status model.CallStatus, durationSeconds int) error {
	var ended *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		ended = &now
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE calls
		 SET status = $1,
		     duration_seconds = CASE WHEN $2 > 0 THEN $2 ELSE duration_seconds END,
		     ended_at = COALESCE(ended_at, $3)
		 WHERE call_sid = $4`,
		string(status), durationSeconds, ended, callSID,
	)
	if err != nil {
		return fmt.Errorf("storage: update call status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordProviderAMD stores the telephony provider's own answered-by
// verdict and how long its detection took.
func (db *DB) RecordProviderAMD(ctx context.Context, callSID, answeredBy string, detectionDurationMs int) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE calls SET answered_by = $1, detection_duration_ms = $2 WHERE call_sid = $3`,
		answeredBy, detectionDurationMs, callSID,
	)
	if err != nil {
		return fmt.Errorf("storage: record provider AMD: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
