// Package timer implements the countdown state machine used by quiz sessions.
//
// States are Idle, Running, Paused and Expired. "Has fired" is the Expired
// state itself: the expiration callback runs exactly once per activation
// lifecycle, on its own goroutine, after the state transition completed,
// unless the lifecycle was torn down or restarted before it started.
// Every lifecycle change bumps a generation number so a tick scheduled by a
// previous ticker is recognized and dropped.
package timer

import (
	"log/slog"
	"sync"
	"time"
)

type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithUnit sets the duration of one countdown step. Defaults to one second.
func WithUnit(unit time.Duration) Option {
	return func(e *Engine) { e.unit = unit }
}

// WithExpiredHook registers a hook called after each expiration, next to the
// activation callback. Used for metrics.
func WithExpiredHook(hook func()) Option {
	return func(e *Engine) { e.expiredHook = hook }
}

type Engine struct {
	mu          sync.Mutex
	log         *slog.Logger
	clock       Clock
	unit        time.Duration
	expiredHook func()

	state     State
	remaining int
	total     int
	onExpire  func()
	gen       uint64
	stopTick  func()
	expired   chan struct{}
	changes   chan Snapshot
}

func NewEngine(log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		log:     log,
		clock:   SystemClock{},
		unit:    time.Second,
		expired: make(chan struct{}),
		changes: make(chan Snapshot, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Activate starts a fresh lifecycle of totalSeconds from Idle, Paused or
// Expired. Activating a running timer or with a non positive duration is a
// no-op.
func (e *Engine) Activate(totalSeconds int, onExpire func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if totalSeconds <= 0 {
		e.log.Debug("Ignoring timer activation", "total_seconds", totalSeconds)
		return
	}
	if e.state == Running {
		e.log.Debug("Timer already running, activation ignored")
		return
	}
	e.onExpire = onExpire
	e.startLifecycleLocked(totalSeconds)
}

// Pause stops decrementing a running timer.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running {
		return
	}
	e.stopTickerLocked()
	e.state = Paused
	e.notifyLocked()
}

// Resume continues a paused timer. A timer with nothing left never resumes.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Paused || e.remaining <= 0 {
		return
	}
	e.state = Running
	e.startTickerLocked()
	e.notifyLocked()
}

// Reset reinitializes the lifecycle with totalSeconds (the previous total
// when not positive). A running timer restarts right away, any other
// state goes back to Idle.
func (e *Engine) Reset(totalSeconds int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if totalSeconds <= 0 {
		totalSeconds = e.total
	}
	if e.state == Running && totalSeconds > 0 {
		e.startLifecycleLocked(totalSeconds)
		return
	}
	e.stopTickerLocked()
	e.state = Idle
	e.total = totalSeconds
	e.remaining = totalSeconds
	e.expired = make(chan struct{})
	e.notifyLocked()
}

// Deactivate tears the timer down and stops the ticker. An expiration
// callback that has not started yet is dropped; one already running is
// left to complete.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTickerLocked()
	e.onExpire = nil
	e.state = Idle
	e.remaining = e.total
	e.expired = make(chan struct{})
	e.notifyLocked()
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Done is closed when the current lifecycle expires.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expired
}

// Changes delivers the latest snapshot after every transition or tick.
// Intermediate snapshots are dropped when the reader lags behind.
func (e *Engine) Changes() <-chan Snapshot {
	return e.changes
}

func (e *Engine) startLifecycleLocked(totalSeconds int) {
	e.total = totalSeconds
	e.remaining = totalSeconds
	e.state = Running
	e.expired = make(chan struct{})
	e.startTickerLocked()
	e.notifyLocked()
}

func (e *Engine) startTickerLocked() {
	e.stopTickerLocked()
	gen := e.gen
	ticker := e.clock.NewTicker(e.unit)
	stop := make(chan struct{})
	e.stopTick = func() {
		ticker.Stop()
		close(stop)
	}
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				e.tick(gen)
			}
		}
	}()
}

// stopTickerLocked also moves to the next generation, which turns every
// tick already in flight into a no-op.
func (e *Engine) stopTickerLocked() {
	e.gen++
	if e.stopTick != nil {
		e.stopTick()
		e.stopTick = nil
	}
}

// tick decrements a running timer of generation gen. Ticks of another
// generation, or observed once the timer expired, are ignored.
func (e *Engine) tick(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.state != Running {
		e.mu.Unlock()
		return
	}
	if e.remaining > 0 {
		e.remaining--
	}
	if e.remaining > 0 {
		e.notifyLocked()
		e.mu.Unlock()
		return
	}
	e.state = Expired
	e.stopTickerLocked()
	e.notifyLocked()
	callback, hook, done, fired := e.onExpire, e.expiredHook, e.expired, e.gen
	e.mu.Unlock()

	close(done)
	e.log.Debug("Timer expired")
	go func() {
		if hook != nil {
			hook()
		}
		if callback == nil || e.generation() != fired {
			return
		}
		callback()
	}()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Remaining: e.remaining,
		Total:     e.total,
		State:     e.state,
		HasFired:  e.state == Expired,
	}
}

func (e *Engine) notifyLocked() {
	snapshot := e.snapshotLocked()
	select {
	case <-e.changes:
	default:
	}
	select {
	case e.changes <- snapshot:
	default:
	}
}

// generation is the tick generation accepted right now.
func (e *Engine) generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}
