// Package control holds the shared pause/cancel flags read by the download
// worker at its suspension points and written by the control thread.
package control

import (
	"sync/atomic"
	"time"
)

const pollInterval = 100 * time.Millisecond

// State is safe for one writer per flag and any number of readers.
type State struct {
	paused   atomic.Bool
	canceled atomic.Bool
}

func New() *State {
	return &State{}
}

func (s *State) Pause() {
	s.paused.Store(true)
}

func (s *State) Resume() {
	s.paused.Store(false)
}

// Cancel is monotone within a run: once set it is never cleared.
func (s *State) Cancel() {
	s.canceled.Store(true)
}

func (s *State) Paused() bool {
	return s.paused.Load()
}

func (s *State) Canceled() bool {
	return s.canceled.Load()
}

// WaitWhilePaused blocks while the pause flag is set, polling at a fixed
// interval. It returns false if the run was canceled while waiting.
func (s *State) WaitWhilePaused() bool {
	for s.Paused() {
		if s.Canceled() {
			return false
		}

		time.Sleep(pollInterval)
	}

	return !s.Canceled()
}

// Sleep waits for d, waking early if the run is canceled. It returns false
// on cancellation, true after a full sleep.
func (s *State) Sleep(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if s.Canceled() {
			return false
		}

		remaining := time.Until(deadline)
		if remaining > pollInterval {
			remaining = pollInterval
		}

		time.Sleep(remaining)
	}

	return !s.Canceled()
}
