package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonepilot/phonepilot/internal/device"
	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
	"github.com/phonepilot/phonepilot/internal/infrastructure/resilience"
	"github.com/phonepilot/phonepilot/internal/model"
)

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) add(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestLoop(backend *fakeBackend, mdl Completer, cfg LoopConfig) (*Loop, *Session, *eventSink) {
	session := NewSession("dev-1", "test task")
	builder := model.NewBuilder("test task", "SYSTEM", 5, false)
	sink := &eventSink{}
	loop := NewLoop(backend, mdl, builder, session, cfg, logging.NewNop(), nil, nil, sink.add)
	return loop, session, sink
}

func TestLoopFinishes(t *testing.T) {
	backend := newFakeBackend()
	mdl := &fakeModel{responses: []string{
		`do(action="Tap", element=[500, 320])`,
		`finish(message="done shopping")`,
	}}
	loop, session, sink := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10})

	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, StatusFinished, session.Status())
	assert.Equal(t, 2, session.StepCount())
	assert.Equal(t, "done shopping", session.Snapshot().Message)

	// Grid [500, 320] on a 1000x2000 frame.
	calls := backend.callList()
	assert.Contains(t, calls, "tap 500 640")

	steps := sink.byType(EventStep)
	require.Len(t, steps, 2)
	statuses := sink.byType(EventStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, StatusFinished, statuses[0].Status)
}

func TestLoopStepCountMatchesTurns(t *testing.T) {
	backend := newFakeBackend()
	mdl := &fakeModel{responses: []string{
		`do(action="Swipe", start=[500, 800], end=[500, 200])`,
		`do(action="Type", text="milk")`,
		`finish(message="ok")`,
	}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10})

	require.NoError(t, loop.Run(context.Background()))
	view := session.Snapshot()
	assert.Equal(t, len(view.Steps), view.StepCount)
	assert.Equal(t, 3, view.StepCount)
	for i, step := range view.Steps {
		assert.Equal(t, i+1, step.Index)
	}
}

func TestLoopStepLimitExact(t *testing.T) {
	backend := newFakeBackend()
	mdl := &fakeModel{responses: []string{`do(action="Tap", element=[10, 10])`}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 3, LoopWindow: 50})

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Equal(t, StatusFailed, session.Status())
	assert.Equal(t, 3, session.StepCount())
}

func TestLoopDecodeRetry(t *testing.T) {
	backend := newFakeBackend()
	mdl := &fakeModel{responses: []string{
		"sorry, I cannot parse this screen",
		"still thinking out loud",
		`finish(message="recovered")`,
	}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10, DecodeRetries: 2})

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, StatusFinished, session.Status())
	assert.Equal(t, 3, mdl.calls)
	// The retries happened within one turn.
	assert.Equal(t, 1, session.StepCount())
}

func TestLoopDecodeRetryExhausted(t *testing.T) {
	backend := newFakeBackend()
	mdl := &fakeModel{responses: []string{"gibberish"}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10, DecodeRetries: 1})

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no decodable action")
	assert.Equal(t, StatusFailed, session.Status())
	assert.Equal(t, 2, mdl.calls)
}

func TestLoopModelUnavailable(t *testing.T) {
	backend := newFakeBackend()
	mdl := &fakeModel{err: model.ErrUnavailable}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10})

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, model.ErrUnavailable)
	assert.Equal(t, StatusFailed, session.Status())
}

func TestLoopStuckScreen(t *testing.T) {
	backend := newFakeBackend()
	backend.staticPNG = []byte("frozen frame")
	mdl := &fakeModel{responses: []string{`do(action="Back")`}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 50, StuckScreens: 3, LoopWindow: 50})

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck")
	assert.Equal(t, StatusFailed, session.Status())
}

func TestLoopRepetitionDetected(t *testing.T) {
	backend := newFakeBackend()
	mdl := &fakeModel{responses: []string{`do(action="Tap", element=[100, 100])`}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 50, LoopWindow: 4})

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeating")
	assert.Equal(t, StatusFailed, session.Status())
	assert.Equal(t, 4, session.StepCount())
}

func TestLoopAlternationDetected(t *testing.T) {
	backend := newFakeBackend()
	mdl := &fakeModel{responses: []string{
		`do(action="Back")`,
		`do(action="Home")`,
		`do(action="Back")`,
		`do(action="Home")`,
	}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 50, LoopWindow: 4})

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, session.Status())
	assert.Equal(t, 4, session.StepCount())
}

func TestLoopCancellation(t *testing.T) {
	backend := newFakeBackend()
	mdl := &fakeModel{responses: []string{`do(action="Back")`}, block: make(chan struct{})}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not unwind after cancellation")
	}
	assert.Equal(t, StatusCancelled, session.Status())
}

func TestLoopCaptureRetriesTransientFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.shotFails = 2
	backend.shotErr = errors.New("adb: broken pipe")
	mdl := &fakeModel{responses: []string{`finish(message="ok")`}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10})
	loop.retry = resilience.Retry{MaxAttempts: 3, BaseDelay: time.Millisecond}

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, StatusFinished, session.Status())
}

func TestLoopCaptureExhaustsRetries(t *testing.T) {
	backend := newFakeBackend()
	backend.shotFails = 10
	backend.shotErr = errors.New("adb: broken pipe")
	mdl := &fakeModel{responses: []string{`finish(message="ok")`}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10})
	loop.retry = resilience.Retry{MaxAttempts: 2, BaseDelay: time.Millisecond}

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "screen capture failed")
	assert.Equal(t, StatusFailed, session.Status())
}

func TestLoopCaptureUnsupportedNotRetried(t *testing.T) {
	backend := newFakeBackend()
	backend.shotFails = 10
	backend.shotErr = device.ErrUnsupported
	mdl := &fakeModel{responses: []string{`finish(message="ok")`}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10})
	loop.retry = resilience.Retry{MaxAttempts: 3, BaseDelay: time.Millisecond}

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, device.ErrUnsupported)
	assert.Equal(t, StatusFailed, session.Status())
	// One capture call only: the error was treated as permanent.
	assert.Equal(t, []string{"screenshot"}, backend.callList())
}

func TestLoopExecuteRetriesThenFailsSession(t *testing.T) {
	backend := newFakeBackend()
	backend.failWith = device.ErrUnavailable
	mdl := &fakeModel{responses: []string{`do(action="Tap", element=[100, 100])`}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10})
	loop.retry = resilience.Retry{MaxAttempts: 2, BaseDelay: time.Millisecond}

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, device.ErrUnavailable)
	assert.Equal(t, StatusFailed, session.Status())
	// The transient failure was retried before giving up, and the failed
	// turn is still recorded with its error.
	assert.Equal(t, []string{"screenshot", "tap 100 200", "tap 100 200"}, backend.callList())
	view := session.Snapshot()
	require.Equal(t, 1, view.StepCount)
	assert.NotEmpty(t, view.Steps[0].Error)
}

func TestLoopExecuteUnsupportedNotRetried(t *testing.T) {
	backend := newFakeBackend()
	backend.failWith = device.ErrUnsupported
	mdl := &fakeModel{responses: []string{`do(action="Back")`}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10})
	loop.retry = resilience.Retry{MaxAttempts: 3, BaseDelay: time.Millisecond}

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, device.ErrUnsupported)
	assert.Equal(t, StatusFailed, session.Status())
	assert.Equal(t, []string{"screenshot", "key BACK"}, backend.callList())
}

func TestLoopFailAction(t *testing.T) {
	backend := newFakeBackend()
	mdl := &fakeModel{responses: []string{`fail(message="cannot complete, app crashed")`}}
	loop, session, _ := newTestLoop(backend, mdl, LoopConfig{MaxSteps: 10})

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, StatusFailed, session.Status())
	assert.Equal(t, "cannot complete, app crashed", session.Snapshot().Message)
}

func TestRepetitive(t *testing.T) {
	assert.True(t, repetitive([]string{"a", "a", "a", "a"}, 4))
	assert.True(t, repetitive([]string{"a", "b", "a", "b"}, 4))
	assert.False(t, repetitive([]string{"a", "b", "c", "a"}, 4))
	assert.False(t, repetitive([]string{"a", "a", "a"}, 4))
	assert.False(t, repetitive([]string{"a", "a", "b", "b"}, 4))
}
