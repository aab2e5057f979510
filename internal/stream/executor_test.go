package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialtone-ai/sentra/internal/model"
	"github.com/dialtone-ai/sentra/internal/session"
	"github.com/dialtone-ai/sentra/internal/testutil"
)

type fakeEventStore struct {
	mu     sync.Mutex
	events []model.AMDEvent
	err    error
}

func (f *fakeEventStore) UpsertAMDEvent(_ context.Context, ev model.AMDEvent) (model.AMDEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.AMDEvent{}, f.err
	}
	f.events = append(f.events, ev)
	return ev, nil
}

func (f *fakeEventStore) all() []model.AMDEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AMDEvent(nil), f.events...)
}

type fakeTelephony struct {
	mu         sync.Mutex
	configured bool
	err        error
	hangups    []string
	done       chan struct{}
}

func (f *fakeTelephony) Configured() bool { return f.configured }

func (f *fakeTelephony) Hangup(_ context.Context, callSID string) error {
	f.mu.Lock()
	f.hangups = append(f.hangups, callSID)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return f.err
}

func (f *fakeTelephony) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hangups...)
}

func newTestExecutor(store *fakeEventStore, tel *fakeTelephony) (*Executor, *session.Registry) {
	reg := session.NewRegistry()
	return &Executor{
		Store:     store,
		Telephony: tel,
		Registry:  reg,
		Logger:    testutil.TestLogger(),
	}, reg
}

func TestExecutorPersistsEvents(t *testing.T) {
	store := &fakeEventStore{}
	exec, _ := newTestExecutor(store, nil)

	exec.Apply(context.Background(), []session.Effect{
		session.PersistEffect{Event: model.AMDEvent{CallSID: "CA1", Strategy: model.StrategyLLM, Detection: model.DetectionAnalyzing}},
	})
	events := store.all()
	require.Len(t, events, 1)
	assert.Equal(t, "CA1", events[0].CallSID)
}

func TestExecutorPersistFailureDoesNotAbort(t *testing.T) {
	store := &fakeEventStore{err: errors.New("connection reset")}
	exec, reg := newTestExecutor(store, nil)
	sess := session.New("MZ1", "CA1", model.StrategyLLM, 8000, time.Second, time.Now())
	reg.Put(sess)

	exec.Apply(context.Background(), []session.Effect{
		session.PersistEffect{Event: model.AMDEvent{CallSID: "CA1"}},
		session.DiscardEffect{StreamSID: "MZ1"},
	})

	// The discard still ran even though the persist failed.
	_, ok := reg.ByStream("MZ1")
	assert.False(t, ok)
}

func TestExecutorHangsUpThroughProvider(t *testing.T) {
	tel := &fakeTelephony{configured: true, done: make(chan struct{})}
	exec, _ := newTestExecutor(&fakeEventStore{}, tel)

	exec.Apply(context.Background(), []session.Effect{session.HangupEffect{CallSID: "CA1"}})

	select {
	case <-tel.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hangup never reached the provider")
	}
	assert.Equal(t, []string{"CA1"}, tel.calls())
}

func TestExecutorSkipsHangupWhenUnconfigured(t *testing.T) {
	tel := &fakeTelephony{configured: false}
	exec, _ := newTestExecutor(&fakeEventStore{}, tel)

	exec.Apply(context.Background(), []session.Effect{session.HangupEffect{CallSID: "CA1"}})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, tel.calls())

	// Nil telephony is equally tolerated.
	exec.Telephony = nil
	exec.Apply(context.Background(), []session.Effect{session.HangupEffect{CallSID: "CA1"}})
}

func TestExecutorDiscardRemovesSession(t *testing.T) {
	exec, reg := newTestExecutor(&fakeEventStore{}, nil)
	sess := session.New("MZ1", "CA1", model.StrategyLLM, 8000, time.Second, time.Now())
	reg.Put(sess)

	exec.Apply(context.Background(), []session.Effect{session.DiscardEffect{StreamSID: "MZ1"}})
	assert.Equal(t, 0, reg.Len())
}
