package presence

import (
	"sync"
	"time"
)

// TypingTracker turns raw keystrokes into typing transitions: it publishes
// IsTyping=true on the first keystroke and IsTyping=false once idle elapsed
// without any. While typing, the state is re-published often enough that
// the registry TTL never expires it.
type TypingTracker struct {
	mu        sync.Mutex
	handle    *Handle
	idle      time.Duration
	heartbeat time.Duration
	typing    bool
	gen       uint64
	timer     *time.Timer
	session   uint64
	beat      *time.Timer
}

func NewTypingTracker(handle *Handle, idle time.Duration) *TypingTracker {
	return &TypingTracker{handle: handle, idle: idle, heartbeat: handle.registry.ttl / 3}
}

func (t *TypingTracker) Keystroke() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, func() { t.expire(gen) })
	if !t.typing {
		t.typing = true
		t.handle.Publish(State{IsTyping: true})
		t.scheduleBeatLocked()
	}
}

// Stop publishes IsTyping=false if needed and cancels the idle timer.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.stopTypingLocked()
}

func (t *TypingTracker) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// expire ignores a timer superseded by a later keystroke.
func (t *TypingTracker) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	t.stopTypingLocked()
}

func (t *TypingTracker) scheduleBeatLocked() {
	if t.heartbeat <= 0 {
		return
	}
	session := t.session
	t.beat = time.AfterFunc(t.heartbeat, func() { t.refresh(session) })
}

// refresh re-publishes a typing state still current for session.
func (t *TypingTracker) refresh(session uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.typing || session != t.session {
		return
	}
	t.handle.Publish(State{IsTyping: true})
	t.scheduleBeatLocked()
}

func (t *TypingTracker) stopTypingLocked() {
	if !t.typing {
		return
	}
	t.typing = false
	t.session++
	if t.beat != nil {
		t.beat.Stop()
		t.beat = nil
	}
	t.handle.Publish(State{IsTyping: false})
}
