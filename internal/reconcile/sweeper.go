// Package reconcile keeps the session registry consistent with the
// session table on a fixed period.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/shutdown"
)

// DefaultInterval is the period between sweeps.
const DefaultInterval = 60 * time.Second

// SessionStore is the part of the session repository a sweep uses.
// DeleteIfExpired re-checks the row so a login racing the sweep keeps
// its fresh session.
type SessionStore interface {
	FetchAll(ctx context.Context) ([]auth.SessionState, error)
	Delete(ctx context.Context, userID int64) error
	DeleteIfExpired(ctx context.Context, userID int64) (bool, error)
}

// Result summarises one sweep.
type Result struct {
	Rows       int
	Deleted    int // expired or erroneous rows removed
	Orphans    int // rows whose user no longer exists
	Reaffirmed int // active rows confirmed in the registry
	Failures   int
	Duration   time.Duration
	Err        error // set when the rows could not be listed
	At         time.Time
}

// SweepObserver receives the result of every sweep.
type SweepObserver interface {
	SweepCompleted(r Result)
}

// SweepObservers fans results out to several observers.
type SweepObservers []SweepObserver

// SweepCompleted delivers r to each non-nil observer.
func (o SweepObservers) SweepCompleted(r Result) {
	for _, obs := range o {
		if obs != nil {
			obs.SweepCompleted(r)
		}
	}
}

// Sweeper removes dead session rows and refreshes the registry.
type Sweeper struct {
	sessions SessionStore
	users    auth.UserLookup
	registry *auth.Registry
	interval time.Duration

	events  auth.Observer
	results SweepObserver
	logger  auth.Logger
	now     func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets the sweep period. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithEventObserver receives an expired event for every row the sweep
// deletes on behalf of a live account.
func WithEventObserver(o auth.Observer) Option {
	return func(s *Sweeper) { s.events = o }
}

// WithSweepObserver receives every Result.
func WithSweepObserver(o SweepObserver) Option {
	return func(s *Sweeper) { s.results = o }
}

// WithLogger sets the logger.
func WithLogger(l auth.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a sweeper.
func New(sessions SessionStore, users auth.UserLookup, registry *auth.Registry, opts ...Option) *Sweeper {
	s := &Sweeper{
		sessions: sessions,
		users:    users,
		registry: registry,
		interval: DefaultInterval,
		events:   auth.Observers(nil),
		results:  SweepObservers(nil),
		logger:   discard{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the sweep period.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Sweep reconciles every persisted row once. Storage calls run on a
// context detached from ctx's cancellation so a sweep always finishes.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	ctx = context.WithoutCancel(ctx)
	start := s.now()
	res := Result{At: start.UTC()}

	states, err := s.sessions.FetchAll(ctx)
	if err != nil {
		s.logger.Error("sweep could not list sessions", "error", err)
		res.Err = err
		res.Duration = s.now().Sub(start)
		s.results.SweepCompleted(res)
		return res
	}
	res.Rows = len(states)

	for _, st := range states {
		if err := s.reconcile(ctx, st, &res); err != nil {
			res.Failures++
			s.logger.Error("sweep skipped session row", "user_id", st.UserID, "error", err)
		}
	}

	res.Duration = s.now().Sub(start)
	s.logger.Debug("sweep completed",
		"rows", res.Rows,
		"deleted", res.Deleted,
		"orphans", res.Orphans,
		"failures", res.Failures,
	)
	s.results.SweepCompleted(res)
	return res
}

func (s *Sweeper) reconcile(ctx context.Context, st auth.SessionState, res *Result) error {
	u, err := s.users.GetByID(ctx, st.UserID)
	if errors.Is(err, auth.ErrUserNotFound) {
		if err := s.sessions.Delete(ctx, st.UserID); err != nil {
			return err
		}
		s.registry.Remove(st.UserID)
		res.Orphans++
		s.logger.Info("removed session of missing user", "user_id", st.UserID)
		return nil
	}
	if err != nil {
		return err
	}

	switch st.Status {
	case auth.SessionActive:
		s.registry.Login(u)
		res.Reaffirmed++
	default:
		deleted, err := s.sessions.DeleteIfExpired(ctx, u.ID)
		if err != nil {
			return err
		}
		if !deleted {
			s.logger.Debug("session refreshed since listing, kept", "user_id", u.ID)
			return nil
		}
		s.registry.Logout(u)
		res.Deleted++
		s.events.SessionEvent(auth.SessionEvent{
			Kind:     auth.EventExpired,
			UserID:   u.ID,
			Username: u.Username,
			At:       s.now().UTC(),
		})
	}
	return nil
}

// Run sweeps immediately and then every interval until a stop arrives on
// stop, stop is closed, or ctx is done. It returns only after any sweep in
// progress has finished.
func (s *Sweeper) Run(ctx context.Context, stop <-chan shutdown.Mode) error {
	quit := make(chan struct{})
	finished := make(chan struct{})

	go s.loop(ctx, quit, finished)

	var reason string
	select {
	case mode, ok := <-stop:
		reason = shutdown.Receive(mode, ok).String()
	case <-ctx.Done():
		reason = "context"
	}

	s.logger.Info("sweeper stopping", "reason", reason)
	close(quit)
	<-finished
	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) loop(ctx context.Context, quit <-chan struct{}, finished chan<- struct{}) {
	defer close(finished)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			// A tick and a quit can be ready together; quit wins.
			select {
			case <-quit:
				return
			default:
			}
			s.Sweep(ctx)
		}
	}
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
