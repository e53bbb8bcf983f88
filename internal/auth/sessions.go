package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventKind names a session transition.
type EventKind string

const (
	EventOpened    EventKind = "opened"
	EventExtended  EventKind = "extended"
	EventClosed    EventKind = "closed"
	EventExpired   EventKind = "expired"
	EventForgotten EventKind = "forgotten"
)

// SessionEvent describes one transition. Fingerprint is a digest prefix,
// never the token itself.
type SessionEvent struct {
	Kind        EventKind `json:"event"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	Fingerprint string    `json:"token_fingerprint,omitempty"`
	At          time.Time `json:"timestamp"`
}

// Observer receives session events. Implementations must not block.
type Observer interface {
	SessionEvent(ev SessionEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(SessionEvent)

// SessionEvent calls f(ev).
func (f ObserverFunc) SessionEvent(ev SessionEvent) { f(ev) }

// Observers fans an event out to every member. Nil members are skipped.
type Observers []Observer

// SessionEvent delivers ev to each observer in order.
func (o Observers) SessionEvent(ev SessionEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.SessionEvent(ev)
		}
	}
}

// Sessions drives session transitions. The store is always written
// before the registry so a reader of the registry never sees a session
// the store does not hold.
type Sessions struct {
	store    SessionRepository
	registry *Registry
	observer Observer
	now      func() time.Time
}

// NewSessions creates the session lifecycle over store and registry.
// observer may be nil.
func NewSessions(store SessionRepository, registry *Registry, observer Observer) *Sessions {
	if observer == nil {
		observer = Observers(nil)
	}
	return &Sessions{store: store, registry: registry, observer: observer, now: time.Now}
}

// Registry returns the registry the lifecycle writes to.
func (s *Sessions) Registry() *Registry {
	return s.registry
}

// Status derives userID's status from the stored expiry. A missing row
// is Expired.
func (s *Sessions) Status(ctx context.Context, userID int64) (SessionStatus, error) {
	expiry, err := s.store.FetchExpiry(ctx, userID)
	if err != nil {
		return SessionExpired, fmt.Errorf("checking session status: %w", err)
	}
	if expiry.IsZero() || expiry.Before(s.now()) {
		return SessionExpired, nil
	}
	return SessionActive, nil
}

// Open issues a new token for u.
func (s *Sessions) Open(ctx context.Context, u *User) (string, error) {
	token, err := GenerateSessionToken()
	if err != nil {
		return "", fmt.Errorf("opening session: %w", err)
	}
	if err := s.store.Upsert(ctx, u.ID, token); err != nil {
		return "", fmt.Errorf("opening session: %w", err)
	}
	s.registry.Login(u)
	s.emit(EventOpened, u.ID, u.Username, token)
	return token, nil
}

// Extend refreshes u's existing session and returns its unchanged token.
func (s *Sessions) Extend(ctx context.Context, u *User) (string, error) {
	if err := s.store.Touch(ctx, u.ID); err != nil {
		return "", fmt.Errorf("extending session: %w", err)
	}
	s.registry.Login(u)
	token, err := s.store.FetchToken(ctx, u.ID)
	if err != nil {
		return "", fmt.Errorf("extending session: %w", err)
	}
	s.emit(EventExtended, u.ID, u.Username, token)
	return token, nil
}

// Login extends an Active session or opens a new one. extended reports
// which path was taken.
func (s *Sessions) Login(ctx context.Context, u *User) (token string, extended bool, err error) {
	status, err := s.Status(ctx, u.ID)
	if err != nil {
		return "", false, err
	}
	if status == SessionActive {
		token, err = s.Extend(ctx, u)
		// The row can disappear between the status read and the touch
		if !errors.Is(err, ErrSessionNotFound) {
			return token, err == nil, err
		}
	}
	token, err = s.Open(ctx, u)
	return token, false, err
}

// Close removes u's session and marks the entry Expired. Closing twice
// leaves the same state as closing once.
func (s *Sessions) Close(ctx context.Context, u *User) error {
	if err := s.store.Delete(ctx, u.ID); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	s.registry.Logout(u)
	s.emit(EventClosed, u.ID, u.Username, "")
	return nil
}

// Forget removes userID's session and registry entry. Used once the
// account itself is gone.
func (s *Sessions) Forget(ctx context.Context, userID int64) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("forgetting session: %w", err)
	}
	s.registry.Remove(userID)
	s.emit(EventForgotten, userID, "", "")
	return nil
}

func (s *Sessions) emit(kind EventKind, userID int64, username, token string) {
	s.observer.SessionEvent(SessionEvent{
		Kind:        kind,
		UserID:      userID,
		Username:    username,
		Fingerprint: Fingerprint(token),
		At:          s.now().UTC(),
	})
}
