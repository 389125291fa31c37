package session

import (
	"time"

	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
)

// Session is one logged-in browser owned by exactly one worker slot
type Session struct {
	Browser       interfaces.Browser
	Authenticated bool
	CreatedAt     time.Time
	LastActivity  time.Time
	Proxy         *models.Proxy
	UserAgent     string
	OwnerWorker   int
}

// Page returns the session's main page
func (s *Session) Page() interfaces.Page {
	return s.Browser.Page()
}

// Age returns how long the session has existed
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Slot is the per-worker context handed to every pipeline step. Nothing outside the
// owning worker reads or replaces its session.
type Slot struct {
	WorkerID int
	session  *Session
}

// NewSlot creates an empty slot for workerID
func NewSlot(workerID int) *Slot {
	return &Slot{WorkerID: workerID}
}

// Session returns the current session, nil before the first Acquire or after Teardown
func (s *Slot) Session() *Session {
	return s.session
}
