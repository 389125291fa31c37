package session

import (
	"context"
	"sync"
)

// LoginState is the shared "a login is running" flag. Intake rejects uploads while it is
// raised and the submission upload step waits for it to drop.
type LoginState struct {
	mu     sync.Mutex
	active int
	idle   chan struct{}
	subs   map[chan bool]struct{}
}

// NewLoginState creates an idle LoginState
func NewLoginState() *LoginState {
	idle := make(chan struct{})
	close(idle)
	return &LoginState{idle: idle, subs: make(map[chan bool]struct{})}
}

// InProgress reports whether a login is running
func (s *LoginState) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active > 0
}

// WaitIdle blocks until no login is running or ctx is done
func (s *LoginState) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Changes subscribes to transitions. The channel receives true when a login starts and
// false when the last one ends. Slow subscribers miss transitions rather than block logins.
func (s *LoginState) Changes() (<-chan bool, func()) {
	ch := make(chan bool, 4)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func (s *LoginState) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active++
	if s.active == 1 {
		s.idle = make(chan struct{})
		s.publish(true)
	}
}

func (s *LoginState) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 {
		return
	}
	s.active--
	if s.active == 0 {
		close(s.idle)
		s.publish(false)
	}
}

// publish requires s.mu
func (s *LoginState) publish(inProgress bool) {
	for ch := range s.subs {
		select {
		case ch <- inProgress:
		default:
		}
	}
}
