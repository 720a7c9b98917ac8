package session

import (
	"context"
	"io"
	"sync"
)

// UpdateStream is the finite, pull-based sequence of updates produced by one
// prompt turn.
//
// The consumer drives iteration with Next; ceasing to pull simply stops
// delivery of buffered events and, once the buffer fills, exerts
// backpressure on the producing transport. Closing the stream releases the
// producer: it observes Done and stops without side effects.
//
// A stream is not restartable. After the terminal update (turn end,
// cancellation, or error) Next returns io.EOF, or the recorded production
// error if the turn failed.
type UpdateStream struct {
	updates chan Update

	// done closes when the consumer abandons the stream via Close.
	done chan struct{}

	// finished closes when the producer ends the stream via Finish. The
	// updates channel itself is never closed, so a producer racing Send
	// against another goroutine's Finish stays safe.
	finished chan struct{}

	closeOnce  sync.Once
	finishOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewUpdateStream creates a stream with the given buffer capacity. Transport
// implementations produce into it with Send and Finish; callers normally
// receive streams from Session.Prompt rather than constructing them.
func NewUpdateStream(buffer int) *UpdateStream {
	if buffer < 0 {
		buffer = 0
	}
	return &UpdateStream{
		updates:  make(chan Update, buffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Next blocks until the next update arrives, the stream ends, or ctx is
// cancelled. It returns io.EOF after the final update of a completed or
// cancelled turn, and the producer's error for a failed turn.
func (s *UpdateStream) Next(ctx context.Context) (Update, error) {
	// Buffered updates outrank the finish signal so nothing produced
	// before Finish is lost.
	select {
	case update := <-s.updates:
		return update, nil
	default:
	}

	select {
	case update := <-s.updates:
		return update, nil
	case <-s.finished:
		select {
		case update := <-s.updates:
			return update, nil
		default:
			return Update{}, s.finalErr()
		}
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
}

// Drain consumes the remainder of the stream and returns all updates up to
// its end. Convenience for callers that want the whole turn at once.
func (s *UpdateStream) Drain(ctx context.Context) ([]Update, error) {
	var out []Update
	for {
		update, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, update)
	}
}

// Close abandons the stream from the consumer side. The producer observes
// Done and stops delivering; buffered updates are discarded. Close is
// idempotent and safe to call concurrently with Next.
func (s *UpdateStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done returns a channel closed when the consumer has abandoned the stream.
// Producer-side use only.
func (s *UpdateStream) Done() <-chan struct{} { return s.done }

// Send delivers one update to the consumer, blocking while the buffer is
// full. It returns false once the stream has been closed or finished or ctx
// is cancelled, signalling the producer to stop. Producer-side use only.
func (s *UpdateStream) Send(ctx context.Context, update Update) bool {
	select {
	case <-s.done:
		return false
	case <-s.finished:
		return false
	default:
	}

	select {
	case s.updates <- update:
		return true
	case <-s.done:
		return false
	case <-s.finished:
		return false
	case <-ctx.Done():
		return false
	}
}

// Finish ends the stream. A nil err marks normal termination (Next returns
// io.EOF once drained); a non-nil err is surfaced by Next after the buffered
// updates. Finish is idempotent; only the first call's error is kept.
// Producer-side use only.
func (s *UpdateStream) Finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.finished)
	})
}

func (s *UpdateStream) finalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return io.EOF
}
