package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialtone-ai/sentra/internal/model"
	"github.com/dialtone-ai/sentra/internal/storage"
	"github.com/dialtone-ai/sentra/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	if os.Getenv("SENTRA_SKIP_DB_TESTS") != "" {
		os.Exit(0)
	}
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage_test: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func newCallSID(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("CA-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestEnsureCallIsIdempotent(t *testing.T) {
	ctx := context.Background()
	callSID := newCallSID(t)

	require.NoError(t, testDB.EnsureCall(ctx, callSID))
	require.NoError(t, testDB.EnsureCall(ctx, callSID))

	call, err := testDB.GetCallBySID(ctx, callSID)
	require.NoError(t, err)
	assert.Equal(t, callSID, call.CallSID)
	assert.Equal(t, model.StatusAnswered, call.Status)
	assert.Nil(t, call.EndedAt)
}

func TestGetCallBySIDNotFound(t *testing.T) {
	_, err := testDB.GetCallBySID(context.Background(), "CA-missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateCallStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	callSID := newCallSID(t)
	_, err := testDB.CreateCall(ctx, callSID, model.StatusInitiated)
	require.NoError(t, err)

	// Non-terminal transition: no duration, no ended_at.
	require.NoError(t, testDB.UpdateCallStatus(ctx, callSID, model.StatusAnswered, 0))
	call, err := testDB.GetCallBySID(ctx, callSID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAnswered, call.Status)
	assert.Zero(t, call.DurationSeconds)
	assert.Nil(t, call.EndedAt)

	// Terminal transition stamps ended_at and stores the duration.
	require.NoError(t, testDB.UpdateCallStatus(ctx, callSID, model.StatusCompleted, 42))
	call, err = testDB.GetCallBySID(ctx, callSID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, call.Status)
	assert.Equal(t, 42, call.DurationSeconds)
	require.NotNil(t, call.EndedAt)
	firstEnded := *call.EndedAt

	// A duplicate terminal callback keeps the original ended_at.
	require.NoError(t, testDB.UpdateCallStatus(ctx, callSID, model.StatusCompleted, 42))
	call, err = testDB.GetCallBySID(ctx, callSID)
	require.NoError(t, err)
	require.NotNil(t, call.EndedAt)
	assert.Equal(t, firstEnded, *call.EndedAt)

	assert.ErrorIs(t, testDB.UpdateCallStatus(ctx, "CA-missing", model.StatusCompleted, 1), storage.ErrNotFound)
}

func TestRecordProviderAMD(t *testing.T) {
	ctx := context.Background()
	callSID := newCallSID(t)
	require.NoError(t, testDB.EnsureCall(ctx, callSID))

	require.NoError(t, testDB.RecordProviderAMD(ctx, callSID, "machine_end_beep", 4200))
	call, err := testDB.GetCallBySID(ctx, callSID)
	require.NoError(t, err)
	assert.Equal(t, "machine_end_beep", call.AnsweredBy)
	assert.Equal(t, 4200, call.DetectionDurationMs)

	assert.ErrorIs(t, testDB.RecordProviderAMD(ctx, "CA-missing", "human", 100), storage.ErrNotFound)
}

func TestUpsertAMDEventOverwritesSameRow(t *testing.T) {
	ctx := context.Background()
	callSID := newCallSID(t)

	first, err := testDB.UpsertAMDEvent(ctx, model.AMDEvent{
		CallSID:    callSID,
		Strategy:   model.StrategyLLM,
		Detection:  model.DetectionAnalyzing,
		Confidence: 0.85,
		LatencyMs:  900,
		Metadata: map[string]any{
			"preliminary_detection":  "machine",
			"preliminary_confidence": 0.85,
			"call_in_progress":       true,
		},
	})
	require.NoError(t, err)

	second, err := testDB.UpsertAMDEvent(ctx, model.AMDEvent{
		CallSID:    callSID,
		Strategy:   model.StrategyLLM,
		Detection:  model.DetectionMachine,
		Confidence: 0.85,
		LatencyMs:  900,
		Metadata:   map[string]any{"call_in_progress": false},
	})
	require.NoError(t, err)

	// Finalization landed on the placeholder's row, not a new one.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))

	events, err := testDB.ListAMDEvents(ctx, callSID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.DetectionMachine, events[0].Detection)
	assert.Equal(t, false, events[0].Metadata["call_in_progress"])
}

func TestUpsertAMDEventPlaceholderCannotOverwriteFinalVerdict(t *testing.T) {
	ctx := context.Background()
	callSID := newCallSID(t)

	final, err := testDB.UpsertAMDEvent(ctx, model.AMDEvent{
		CallSID:    callSID,
		Strategy:   model.StrategyLLM,
		Detection:  model.DetectionHuman,
		Confidence: 0.92,
		Metadata:   map[string]any{"call_in_progress": false},
	})
	require.NoError(t, err)

	// A slow analysis goroutine persisting its placeholder after the
	// terminal webhook finalized must not resurrect the analyzing state.
	got, err := testDB.UpsertAMDEvent(ctx, model.AMDEvent{
		CallSID:    callSID,
		Strategy:   model.StrategyLLM,
		Detection:  model.DetectionAnalyzing,
		Confidence: 0.95,
		Metadata:   map[string]any{"call_in_progress": true},
	})
	require.NoError(t, err)
	assert.Equal(t, final.ID, got.ID)
	assert.Equal(t, model.DetectionHuman, got.Detection)

	ev, err := testDB.GetAMDEvent(ctx, callSID, model.StrategyLLM)
	require.NoError(t, err)
	assert.Equal(t, model.DetectionHuman, ev.Detection)
	assert.Equal(t, 0.92, ev.Confidence)
	assert.Equal(t, false, ev.Metadata["call_in_progress"])

	// A placeholder refreshing a still-live row keeps working.
	callSID2 := newCallSID(t)
	_, err = testDB.UpsertAMDEvent(ctx, model.AMDEvent{
		CallSID:   callSID2,
		Strategy:  model.StrategyLLM,
		Detection: model.DetectionAnalyzing,
	})
	require.NoError(t, err)
	_, err = testDB.UpsertAMDEvent(ctx, model.AMDEvent{
		CallSID:    callSID2,
		Strategy:   model.StrategyLLM,
		Detection:  model.DetectionAnalyzing,
		Confidence: 0.8,
	})
	require.NoError(t, err)
	ev2, err := testDB.GetAMDEvent(ctx, callSID2, model.StrategyLLM)
	require.NoError(t, err)
	assert.Equal(t, model.DetectionAnalyzing, ev2.Detection)
	assert.Equal(t, 0.8, ev2.Confidence)
}

func TestGetAMDEvent(t *testing.T) {
	ctx := context.Background()
	callSID := newCallSID(t)

	_, err := testDB.UpsertAMDEvent(ctx, model.AMDEvent{
		CallSID:    callSID,
		Strategy:   model.StrategySIP,
		Detection:  model.DetectionHuman,
		Confidence: 0.9,
	})
	require.NoError(t, err)

	ev, err := testDB.GetAMDEvent(ctx, callSID, model.StrategySIP)
	require.NoError(t, err)
	assert.Equal(t, model.DetectionHuman, ev.Detection)
	assert.Equal(t, 0.9, ev.Confidence)

	_, err = testDB.GetAMDEvent(ctx, callSID, model.StrategyML)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListAMDEventsNewestFirst(t *testing.T) {
	ctx := context.Background()
	callSID := newCallSID(t)

	strategies := []model.Strategy{model.StrategyNative, model.StrategySIP, model.StrategyLLM}
	for _, s := range strategies {
		_, err := testDB.UpsertAMDEvent(ctx, model.AMDEvent{
			CallSID:    callSID,
			Strategy:   s,
			Detection:  model.DetectionHuman,
			Confidence: 0.8,
		})
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	events, err := testDB.ListAMDEvents(ctx, callSID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, model.StrategyLLM, events[0].Strategy)
	assert.Equal(t, model.StrategyNative, events[2].Strategy)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].UpdatedAt.After(events[i-1].UpdatedAt))
	}
}

func TestPing(t *testing.T) {
	assert.NoError(t, testDB.Ping(context.Background()))
}
