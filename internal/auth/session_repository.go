package auth

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultSessionTTL is the lifetime of a session from its last refresh.
const DefaultSessionTTL = 30 * time.Minute

// SessionRepository persists one session row per user.
type SessionRepository interface {
	Upsert(ctx context.Context, userID int64, token string) error
	Touch(ctx context.Context, userID int64) error
	Delete(ctx context.Context, userID int64) error
	FetchToken(ctx context.Context, userID int64) (string, error)
	FetchExpiry(ctx context.Context, userID int64) (time.Time, error)
	FetchAll(ctx context.Context) ([]SessionState, error)
	TokenMatches(ctx context.Context, userID int64, candidate string) (bool, error)
}

// SessionLister is the part of SessionRepository needed to enumerate rows.
type SessionLister interface {
	FetchAll(ctx context.Context) ([]SessionState, error)
}

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSessionRepository creates a session repository with the given TTL.
// A non-positive ttl selects DefaultSessionTTL.
func NewSessionRepository(db *sql.DB, ttl time.Duration) *SQLiteSessionRepository {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SQLiteSessionRepository{db: db, ttl: ttl, now: time.Now}
}

// SetClock replaces the time source. Tests use it to age sessions.
func (r *SQLiteSessionRepository) SetClock(now func() time.Time) {
	r.now = now
}

// TTL returns the configured session lifetime.
func (r *SQLiteSessionRepository) TTL() time.Duration {
	return r.ttl
}

func (r *SQLiteSessionRepository) window() (creation, expiry string) {
	now := r.now().UTC()
	return now.Format(time.RFC3339Nano), now.Add(r.ttl).Format(time.RFC3339Nano)
}

// Upsert stores token for userID with a fresh creation and expiry,
// replacing any existing row.
func (r *SQLiteSessionRepository) Upsert(ctx context.Context, userID int64, token string) error {
	creation, expiry := r.window()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, token, creation, expiry) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET token = excluded.token, creation = excluded.creation, expiry = excluded.expiry`,
		userID, token, creation, expiry,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// Touch refreshes creation and expiry and keeps the token.
func (r *SQLiteSessionRepository) Touch(ctx context.Context, userID int64) error {
	creation, expiry := r.window()
	result, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET creation = ?, expiry = ? WHERE user_id = ?",
		creation, expiry, userID,
	)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes userID's row. Deleting a missing row is not an error.
func (r *SQLiteSessionRepository) Delete(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteIfExpired removes userID's row only if it is still expired or
// erroneous when re-read inside the transaction. A row refreshed by a
// login since it was listed survives. It reports whether a row was
// removed.
func (r *SQLiteSessionRepository) DeleteIfExpired(ctx context.Context, userID int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting session delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	var creation, expiry string
	err = tx.QueryRowContext(ctx, "SELECT creation, expiry FROM sessions WHERE user_id = ?", userID).Scan(&creation, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("re-reading session: %w", err)
	}
	if deriveStatus(creation, expiry, r.now()) == SessionActive {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID); err != nil {
		return false, fmt.Errorf("deleting session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing session delete: %w", err)
	}
	return true, nil
}

// FetchToken returns the stored token for userID.
func (r *SQLiteSessionRepository) FetchToken(ctx context.Context, userID int64) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, "SELECT token FROM sessions WHERE user_id = ?", userID).Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("fetching session token: %w", err)
	}
	return token, nil
}

// FetchExpiry returns the stored expiry for userID, or the zero time when
// no row exists.
func (r *SQLiteSessionRepository) FetchExpiry(ctx context.Context, userID int64) (time.Time, error) {
	var expiry string
	err := r.db.QueryRowContext(ctx, "SELECT expiry FROM sessions WHERE user_id = ?", userID).Scan(&expiry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("fetching session expiry: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, expiry)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing session expiry %q: %w", expiry, err)
	}
	return t, nil
}

// FetchAll returns every row with its derived status.
func (r *SQLiteSessionRepository) FetchAll(ctx context.Context) ([]SessionState, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT user_id, creation, expiry FROM sessions ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	now := r.now()
	states := []SessionState{}
	for rows.Next() {
		var (
			userID           int64
			creation, expiry string
		)
		if err := rows.Scan(&userID, &creation, &expiry); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		states = append(states, SessionState{UserID: userID, Status: deriveStatus(creation, expiry, now)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return states, nil
}

// TokenMatches reports whether candidate equals userID's stored token
// byte for byte. A missing row never matches.
func (r *SQLiteSessionRepository) TokenMatches(ctx context.Context, userID int64, candidate string) (bool, error) {
	stored, err := r.FetchToken(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1, nil
}

// deriveStatus classifies a row. Unparseable timestamps count as an error.
func deriveStatus(creation, expiry string, now time.Time) SessionStatus {
	c, err := time.Parse(time.RFC3339Nano, creation)
	if err != nil {
		return SessionError
	}
	e, err := time.Parse(time.RFC3339Nano, expiry)
	if err != nil {
		return SessionError
	}
	switch {
	case c.After(now):
		return SessionError
	case e.Before(now):
		return SessionExpired
	default:
		return SessionActive
	}
}
