package history

import (
	"github.com/ethereum/go-ethereum/core/types"
)

// session is the state of one fetch: the frozen target, the cursor and the
// logs gathered so far. Transitions:
//
//	Scanning --success, more blocks--> Scanning
//	Scanning --success, target reached--> Done
//	Scanning --failure--> Retrying --budget left, delay--> Scanning
//	Scanning --failure--> Retrying --budget exhausted--> Aborted
type session struct {
	origin uint64
	target uint64
	cursor uint64

	maxRange   uint64
	maxRetries int

	state    State
	failures int
	windows  int
	queries  int
	lastErr  error
	logs     []types.Log
}

func newSession(origin, target uint64, cfg *Config) *session {
	s := &session{
		origin:     origin,
		target:     target,
		cursor:     origin,
		maxRange:   cfg.MaxRange,
		maxRetries: cfg.MaxRetries,
		state:      StateScanning,
	}
	// origin beyond the head: nothing to scan
	if origin > target {
		s.state = StateDone
	}
	return s
}

// window returns the sub-range the next query covers
func (s *session) window() Window {
	end := s.target
	if s.target-s.cursor > s.maxRange {
		end = s.cursor + s.maxRange
	}
	return Window{Start: s.cursor, End: end}
}

// delayBeforeQuery reports whether the inter-window delay applies to the next query.
// It applies once per window, after the first successful one, and never to retries.
func (s *session) delayBeforeQuery() bool {
	return s.state == StateScanning && s.windows > 0 && s.failures == 0
}

func (s *session) succeed(w Window, logs []types.Log) {
	s.queries++
	s.windows++
	s.failures = 0
	s.lastErr = nil
	s.logs = append(s.logs, logs...)

	if w.End >= s.target {
		s.cursor = s.target + 1
		s.state = StateDone
		return
	}
	s.cursor = w.End + 1
	s.state = StateScanning
}

func (s *session) fail(err error) {
	s.queries++
	s.failures++
	s.lastErr = err
	s.state = StateRetrying
}

// exhausted reports whether the current window used up its retry budget
func (s *session) exhausted() bool {
	return s.failures >= s.maxRetries
}

// resume moves a retrying session back to scanning the same window
func (s *session) resume() {
	if s.state == StateRetrying {
		s.state = StateScanning
	}
}

// abort stops the session wherever it is
func (s *session) abort(err error) {
	s.lastErr = err
	s.state = StateAborted
}

func (s *session) complete() bool {
	return s.state == StateDone
}
