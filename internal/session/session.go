// Package session carries the auth collaborator's signal: which workbase the
// signed-in agent works in, and when they sign out.
package session

import (
	"strings"
	"sync"

	"github.com/stwalsh4118/atlas/fieldsync/internal/observe"
)

// Signal holds the active workbase. Listeners run synchronously on the
// caller of SetWorkbase or Logout.
type Signal struct {
	mu       sync.Mutex
	workbase string

	changes observe.Feed[string]
	logouts observe.Feed[struct{}]
}

// NewSignal returns a signal with no active workbase.
func NewSignal() *Signal {
	return &Signal{}
}

// Workbase returns the active workbase, or "" when signed out.
func (s *Signal) Workbase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workbase
}

// SetWorkbase switches the active workbase. Setting the current value again
// is a no-op and reports false.
func (s *Signal) SetWorkbase(workbase string) bool {
	workbase = strings.TrimSpace(workbase)

	s.mu.Lock()
	if workbase == s.workbase {
		s.mu.Unlock()
		return false
	}
	s.workbase = workbase
	s.mu.Unlock()

	s.changes.Publish(workbase)
	return true
}

// Logout clears the active workbase and notifies logout listeners.
func (s *Signal) Logout() {
	s.mu.Lock()
	s.workbase = ""
	s.mu.Unlock()

	s.logouts.Publish(struct{}{})
}

// OnWorkbaseChange registers fn for workbase switches.
func (s *Signal) OnWorkbaseChange(fn func(workbase string)) (cancel func()) {
	return s.changes.Subscribe(fn)
}

// OnLogout registers fn for sign-out.
func (s *Signal) OnLogout(fn func()) (cancel func()) {
	return s.logouts.Subscribe(func(struct{}) { fn() })
}
