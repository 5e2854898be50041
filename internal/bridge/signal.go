package bridge

import (
	"sync"
	"time"

	"gisbridge/internal/model"
)

// Signal is the single-slot completion primitive correlating one submitted
// command with the one caller waiting on it. Arm replaces the result channel
// and bumps a generation counter, so a completion from a superseded command
// (one whose caller already timed out and moved on) is dropped instead of
// cross-delivering to a later waiter.
type Signal struct {
	mu  sync.Mutex
	gen uint64
	ch  chan model.Result
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan model.Result, 1)}
}

// Arm clears any signaled state and returns a token bound to the new
// generation. Must be called before the command is submitted.
func (s *Signal) Arm() *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.ch = make(chan model.Result, 1)
	return &Token{signal: s, gen: s.gen}
}

// Wait blocks until the armed command completes or the timeout elapses.
// The boolean is false on timeout; the Result must not be read in that case.
func (s *Signal) Wait(timeout time.Duration) (model.Result, bool) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res, true
	case <-timer.C:
		return model.Result{}, false
	}
}

// Token identifies one armed command. The executor-side closure completes
// through it; a stale token (superseded by a later Arm) is a no-op.
type Token struct {
	signal *Signal
	gen    uint64
}

// Complete writes the Result Cell and wakes the waiter. The channel is
// buffered, so completing before the waiter reaches Wait is not a lost
// wakeup. Returns false if the completion was dropped as stale or duplicate.
func (t *Token) Complete(res model.Result) bool {
	s := t.signal
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.gen != s.gen {
		return false
	}
	select {
	case s.ch <- res:
		return true
	default:
		return false
	}
}
