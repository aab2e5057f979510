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

// UpsertAMDEvent inserts or updates the detection event for a
// (call, strategy) pair. A call accumulates at most one row per
// strategy: the live placeholder written mid-call and the finalized
// verdict land on the same row.
func (db *DB) UpsertAMDEvent(ctx context.Context, ev model.AMDEvent) (model.AMDEvent, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	now := time.Now().UTC()

	// Finalization and a late analysis result can race on the same row;
	// retry transient conflicts instead of surfacing them. The update
	// predicate fences the live placeholder: once a final verdict is on
	// the row, an analyzing write arriving afterwards must not
	// resurrect it.
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.pool.QueryRow(ctx,
			`INSERT INTO amd_events (id, call_sid, strategy, detection, confidence, latency_ms, metadata, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			 ON CONFLICT (call_sid, strategy) DO UPDATE
			 SET detection = EXCLUDED.detection,
			     confidence = EXCLUDED.confidence,
			     latency_ms = EXCLUDED.latency_ms,
			     metadata = EXCLUDED.metadata,
			     updated_at = EXCLUDED.updated_at
			 WHERE amd_events.detection = $9 OR EXCLUDED.detection <> $9
			 RETURNING id, created_at, updated_at`,
			ev.ID, ev.CallSID, string(ev.Strategy), string(ev.Detection),
			ev.Confidence, ev.LatencyMs, ev.Metadata, now,
			string(model.DetectionAnalyzing),
		).Scan(&ev.ID, &ev.CreatedAt, &ev.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// The placeholder lost the race to finalization; the final
		// verdict on the row stands.
		return db.GetAMDEvent(ctx, ev.CallSID, ev.Strategy)
	}
	if err != nil {
		return model.AMDEvent{}, fmt.Errorf("storage: upsert AMD event: %w", err)
	}
	return ev, nil
}

// GetAMDEvent retrieves the event for a (call, strategy) pair.
func (db *DB) GetAMDEvent(ctx context.Context, callSID string, strategy model.Strategy) (model.AMDEvent, error) {
	var ev model.AMDEvent
	err := db.pool.QueryRow(ctx,
		`SELECT id, call_sid, strategy, detection, confidence, latency_ms, metadata, created_at, updated_at
		 FROM amd_events WHERE call_sid = $1 AND strategy = $2`,
		callSID, string(strategy),
	).Scan(
		&ev.ID, &ev.CallSID, &ev.Strategy, &ev.Detection,
		&ev.Confidence, &ev.LatencyMs, &ev.Metadata, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AMDEvent{}, ErrNotFound
		}
		return model.AMDEvent{}, fmt.Errorf("storage: get AMD event: %w", err)
	}
	return ev, nil
}

// ListAMDEvents returns all detection events for a call, newest first.
func (db *DB) ListAMDEvents(ctx context.Context, callSID string) ([]model.AMDEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, call_sid, strategy, detection, confidence, latency_ms, metadata, created_at, updated_at
		 FROM amd_events WHERE call_sid = $1
		 ORDER BY updated_at DESC`, callSID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list AMD events: %w", err)
	}
	defer rows.Close()

	var events []model.AMDEvent
	for rows.Next() {
		var ev model.AMDEvent
		if err := rows.Scan(
			&ev.ID, &ev.CallSID, &ev.Strategy, &ev.Detection,
			&ev.Confidence, &ev.LatencyMs, &ev.Metadata, &ev.CreatedAt, &ev.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan AMD event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
