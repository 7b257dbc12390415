package api

// Sink hands values produced by a store or presence callback over to the
// HTTP handler streaming them. Only the latest value matters: when the
// handler lags behind, the older pending value is replaced.
type Sink[T any] struct {
	Values chan T
}

func NewSink[T any]() *Sink[T] {
	return &Sink[T]{Values: make(chan T, 1)}
}

// Consume never blocks, it runs on the delivery goroutine of the store.
func (s *Sink[T]) Consume(v T) {
	select {
	case s.Values <- v:
		return
	default:
	}
	select {
	case <-s.Values:
	default:
	}
	select {
	case s.Values <- v:
	default:
	}
}
