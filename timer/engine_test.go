package timer

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *ManualClock) {
	t.Helper()
	clock := NewManualClock(time.Now())
	e := NewEngine(logs.GetLoggerFromLevel(slog.LevelDebug), WithClock(clock))
	t.Cleanup(e.Deactivate)
	return e, clock
}

// ticks delivers n ticks of the current generation, as the ticker would.
func ticks(e *Engine, n int) {
	for i := 0; i < n; i++ {
		e.tick(e.generation())
	}
}

func TestEngine_ExpiresExactlyOnce(t *testing.T) {
	req := require.New(t)
	e, _ := newTestEngine(t)
	var fired atomic.Int32

	// Given a timer of 3 seconds
	e.Activate(3, func() { fired.Add(1) })
	gen := e.generation()

	// When it runs to completion
	ticks(e, 3)
	<-e.Done()

	// And spurious ticks keep arriving, from the old and the current generation
	for i := 0; i < 5; i++ {
		e.tick(gen)
		e.tick(e.generation())
	}

	// Then the callback ran exactly once
	req.Eventually(func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	req.Equal(int32(1), fired.Load())

	snapshot := e.Snapshot()
	req.Equal(0, snapshot.Remaining)
	req.Equal(Expired, snapshot.State)
	req.True(snapshot.HasFired)
}

func TestEngine_PauseResumeContinuesFromRemaining(t *testing.T) {
	req := require.New(t)
	e, _ := newTestEngine(t)
	var fired atomic.Int32

	// Given a running timer of 10 seconds paused after 3 ticks
	e.Activate(10, func() { fired.Add(1) })
	ticks(e, 3)
	e.Pause()
	req.Equal(Paused, e.Snapshot().State)

	// When ticks arrive while paused
	ticks(e, 4)
	req.Equal(7, e.Snapshot().Remaining)

	// And the timer resumes
	e.Resume()
	ticks(e, 6)
	req.Equal(1, e.Snapshot().Remaining)
	req.Equal(int32(0), fired.Load())

	// Then the 7th tick after resume expires it
	ticks(e, 1)
	req.Eventually(func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	req.Equal(Expired, e.Snapshot().State)
}

func TestEngine_ResumeAfterExpirationIsNoop(t *testing.T) {
	req := require.New(t)
	e, _ := newTestEngine(t)

	e.Activate(1, nil)
	ticks(e, 1)

	e.Resume()
	e.Pause()
	e.Resume()

	snapshot := e.Snapshot()
	req.Equal(0, snapshot.Remaining)
	req.True(snapshot.HasFired)
	req.Equal(Expired, snapshot.State)
}

func TestEngine_ResetStartsNewLifecycle(t *testing.T) {
	req := require.New(t)
	e, _ := newTestEngine(t)
	var fired atomic.Int32
	callback := func() { fired.Add(1) }

	// Given an expired timer
	e.Activate(2, callback)
	ticks(e, 2)
	req.Eventually(func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	// When it is reset from Expired
	e.Reset(5)
	snapshot := e.Snapshot()
	req.Equal(Idle, snapshot.State)
	req.Equal(5, snapshot.Remaining)
	req.False(snapshot.HasFired)

	// Then a new activation fires again, once
	e.Activate(2, callback)
	ticks(e, 2)
	req.Eventually(func() bool { return fired.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestEngine_ResetWhileRunningRestarts(t *testing.T) {
	req := require.New(t)
	e, _ := newTestEngine(t)

	e.Activate(10, nil)
	ticks(e, 4)
	stale := e.generation()

	e.Reset(20)
	e.tick(stale)

	snapshot := e.Snapshot()
	req.Equal(Running, snapshot.State)
	req.Equal(20, snapshot.Remaining)
	req.Equal(20, snapshot.Total)
}

func TestEngine_ActivateWhileRunningIsIgnored(t *testing.T) {
	req := require.New(t)
	e, _ := newTestEngine(t)

	e.Activate(10, nil)
	ticks(e, 2)
	e.Activate(30, nil)
	e.Activate(0, nil)

	snapshot := e.Snapshot()
	req.Equal(8, snapshot.Remaining)
	req.Equal(10, snapshot.Total)
}

func TestEngine_DeactivateDropsCallback(t *testing.T) {
	req := require.New(t)
	e, clock := newTestEngine(t)
	var fired atomic.Int32

	e.Activate(1, func() { fired.Add(1) })
	gen := e.generation()
	e.Deactivate()
	e.tick(gen)
	clock.Advance(time.Second)

	time.Sleep(20 * time.Millisecond)
	req.Equal(int32(0), fired.Load())
	req.Equal(Idle, e.Snapshot().State)
	req.Equal(0, clock.Live())
}

func TestEngine_DeactivateAfterExpiryDropsCallback(t *testing.T) {
	req := require.New(t)
	clock := NewManualClock(time.Now())
	entered, release := make(chan struct{}), make(chan struct{})
	e := NewEngine(logs.GetLoggerFromLevel(slog.LevelDebug), WithClock(clock), WithExpiredHook(func() {
		close(entered)
		<-release
	}))
	t.Cleanup(e.Deactivate)
	var fired atomic.Int32

	// Given a timer that expired, its callback not started yet
	e.Activate(1, func() { fired.Add(1) })
	ticks(e, 1)
	<-entered

	// When it is deactivated before the callback starts
	e.Deactivate()
	close(release)

	// Then the callback never runs
	time.Sleep(20 * time.Millisecond)
	req.Equal(int32(0), fired.Load())
	req.Equal(Idle, e.Snapshot().State)
}

func TestEngine_DrivenByClock(t *testing.T) {
	req := require.New(t)
	e, clock := newTestEngine(t)
	var fired atomic.Int32

	e.Activate(3, func() { fired.Add(1) })
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
	}

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		req.Fail("timer did not expire")
	}
	// Ticker is released once expired, later advances reach nobody
	req.Eventually(func() bool { return clock.Live() == 0 }, time.Second, 5*time.Millisecond)
	clock.Advance(time.Second)
	req.Eventually(func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEngine_SystemClock(t *testing.T) {
	req := require.New(t)
	e := NewEngine(logs.GetLoggerFromLevel(slog.LevelDebug), WithUnit(5*time.Millisecond))
	defer e.Deactivate()
	done := make(chan struct{})

	e.Activate(3, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.Fail("expiration callback not invoked")
	}
	req.True(e.Snapshot().HasFired)
}

func TestEngine_ChangesKeepsLatestSnapshot(t *testing.T) {
	req := require.New(t)
	e, _ := newTestEngine(t)

	e.Activate(5, nil)
	ticks(e, 2)

	latest := <-e.Changes()
	req.Equal(3, latest.Remaining)
	req.Equal("00:03", latest.Formatted())
}
