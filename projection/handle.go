package projection

import "sync"

// Handle is one observer of a store. Every view produced by the store after
// the handle subscribed is delivered, in order, on the handle's own
// goroutine.
type Handle[V any] struct {
	mu       sync.Mutex
	id       uint64
	onChange func(V)
	pending  []V
	closed   bool
	signal   chan struct{}
	quit     chan struct{}
	done     chan struct{}
	release  func(*Handle[V])
}

func newHandle[V any](id uint64, onChange func(V), release func(*Handle[V])) *Handle[V] {
	h := &Handle[V]{
		id:       id,
		onChange: onChange,
		signal:   make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		release:  release,
	}
	go h.run()
	return h
}

// Teardown releases the subscription and drops the views still queued.
// It never waits, so it is safe to call from inside onChange, and more than
// once. A call already in progress on the delivery goroutine when Teardown
// runs from elsewhere completes; no other starts. Wait on Done to know the
// last one returned.
func (h *Handle[V]) Teardown() {
	if !h.close() {
		return
	}
	h.release(h)
}

// Done is closed once the delivery goroutine exited.
func (h *Handle[V]) Done() <-chan struct{} {
	return h.done
}

// close reports whether this call closed the handle.
func (h *Handle[V]) close() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	h.pending = nil
	close(h.quit)
	return true
}

func (h *Handle[V]) enqueue(view V) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.pending = append(h.pending, view)
	h.mu.Unlock()

	select {
	case h.signal <- struct{}{}:
	default:
	}
}

func (h *Handle[V]) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			return
		case <-h.signal:
		}
		for {
			view, ok, closed := h.next()
			if closed {
				return
			}
			if !ok {
				break
			}
			h.onChange(view)
		}
	}
}

// next pops the oldest pending view. The closed flag is read under the same
// lock Teardown takes, right before the invocation starts.
func (h *Handle[V]) next() (view V, ok bool, closed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return view, false, true
	}
	if len(h.pending) == 0 {
		return view, false, false
	}
	view = h.pending[0]
	h.pending = h.pending[1:]
	return view, true, false
}
