package auth

import (
	"context"
	"fmt"
	"sync"
)

// Logger is the logging surface used by auth components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type entry struct {
	username string
	email    string
	status   SessionStatus
}

// Counts summarises the registry for metrics.
type Counts struct {
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// Registry is the in-memory view of who is logged in, keyed by user id.
//
// Entries only ever hold SessionActive or SessionExpired. The lock guards
// the map alone; callers never hold it across storage calls.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]entry
	logger  Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[int64]entry),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger used for bootstrap diagnostics.
func (r *Registry) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// IsLoggedIn reports whether id has an Active entry.
func (r *Registry) IsLoggedIn(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.status == SessionActive
}

// Status returns the cached status for id.
func (r *Registry) Status(id int64) (SessionStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.status, ok
}

// Login marks u Active, inserting an entry if none exists.
func (r *Registry) Login(u *User) {
	r.set(u, SessionActive)
}

// Logout marks u Expired, inserting an entry if none exists.
func (r *Registry) Logout(u *User) {
	r.set(u, SessionExpired)
}

func (r *Registry) set(u *User, status SessionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[u.ID]
	if !ok {
		e = entry{username: u.Username, email: u.Email}
	}
	e.status = status
	r.entries[u.ID] = e
}

// Remove drops id's entry. Removing an absent id is a no-op.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot counts entries by status.
func (r *Registry) Snapshot() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var c Counts
	for _, e := range r.entries {
		if e.status == SessionActive {
			c.Active++
		} else {
			c.Expired++
		}
	}
	return c
}

// Bootstrap seeds the registry with every user as Expired and then
// overlays persisted session statuses.
//
// Sessions are fetched before the lock is taken. A persisted row whose
// user is not in users is logged and skipped; the next sweep deletes it.
func (r *Registry) Bootstrap(ctx context.Context, users []User, sessions SessionLister) error {
	states, err := sessions.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("bootstrapping registry: %w", err)
	}

	var orphans []int64

	r.mu.Lock()
	for _, u := range users {
		r.entries[u.ID] = entry{username: u.Username, email: u.Email, status: SessionExpired}
	}
	for _, s := range states {
		e, ok := r.entries[s.UserID]
		if !ok {
			orphans = append(orphans, s.UserID)
			continue
		}
		if s.Status == SessionActive {
			e.status = SessionActive
		} else {
			e.status = SessionExpired
		}
		r.entries[s.UserID] = e
	}
	r.mu.Unlock()

	for _, id := range orphans {
		r.logger.Warn("session row for unknown user left for sweep", "user_id", id)
	}
	r.logger.Info("session registry bootstrapped", "users", len(users), "sessions", len(states))
	return nil
}
