package history

import (
	"context"
	"sync"
)

// Token identifies one fetch session started through a Tracker
type Token uint64

// Tracker hands out session tokens. Starting a session cancels the one before
// it, and only the newest session may publish its result.
type Tracker struct {
	mu      sync.Mutex
	current Token
	cancel  context.CancelFunc
}

// NewTracker creates a new Tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin starts a new session, cancelling the previous one
func (t *Tracker) Begin(parent context.Context) (context.Context, Token) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	t.current++
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	return ctx, t.current
}

// Current returns the token of the newest session
func (t *Tracker) Current() Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// IsCurrent reports whether tok belongs to the newest session
func (t *Tracker) IsCurrent(tok Token) bool {
	return t.Current() == tok
}

// Commit runs fn only if tok is still the newest session and reports whether it ran.
// No session can begin while fn runs.
func (t *Tracker) Commit(tok Token, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tok != t.current {
		return false
	}
	fn()
	return true
}

// End releases the context of tok if it is still the newest session
func (t *Tracker) End(tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tok == t.current && t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Stop cancels whatever session is running
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
