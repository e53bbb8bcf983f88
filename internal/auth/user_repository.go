package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gatekeeper/internal/infrastructure/database"
)

// UserRepository defines the interface for user account persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Resolve(ctx context.Context, ref UserRef) (*User, error)
	UsernameAvailable(ctx context.Context, username string) (bool, error)
	List(ctx context.Context) ([]User, error)
	SoftDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, ref UserRef) (bool, error)
	UpdateLevel(ctx context.Context, id int64, level Level) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	Exists(ctx context.Context, id int64) (bool, error)
}

// UserLookup is the read side the gate and the sweeper need.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db, now: time.Now}
}

const userColumns = "id, username, email, level, password_hash, created_at, updated_at, deleted_at"

// Create inserts a new account. When user.ID is zero the id is allocated
// as one more than the highest id ever issued, soft-deleted rows included,
// in the same statement as the insert.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	now := r.now().UTC().Truncate(time.Second)
	stamp := now.Format(time.RFC3339)

	var (
		result sql.Result
		err    error
	)
	if user.ID > 0 {
		result, err = r.db.ExecContext(ctx,
			`INSERT INTO users (id, username, email, level, password_hash, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			user.ID, user.Username, user.Email, user.Level, user.PasswordHash, stamp, stamp,
		)
	} else {
		result, err = r.db.ExecContext(ctx,
			`INSERT INTO users (id, username, email, level, password_hash, created_at, updated_at)
			 SELECT COALESCE(MAX(id), 0) + 1, ?, ?, ?, ?, ?, ? FROM users`,
			user.Username, user.Email, user.Level, user.PasswordHash, stamp, stamp,
		)
	}
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}

	if user.ID == 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading new user id: %w", err)
		}
		user.ID = id
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	user.DeletedAt = nil
	return nil
}

// GetByID retrieves an active user by id.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ? AND deleted_at IS NULL", id)
}

// GetByUsername retrieves an active user by username.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = ? AND deleted_at IS NULL", username)
}

// Resolve looks up an active user from a reference. When both fields are
// set the id wins the lookup and the username must match it.
func (r *SQLiteUserRepository) Resolve(ctx context.Context, ref UserRef) (*User, error) {
	switch {
	case ref.HasID():
		u, err := r.GetByID(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if ref.HasUsername() && u.Username != ref.Username {
			return nil, ErrUserMismatch
		}
		return u, nil
	case ref.HasUsername():
		return r.GetByUsername(ctx, ref.Username)
	default:
		return nil, ErrUserNotFound
	}
}

// UsernameAvailable reports whether no row, deleted or not, holds username.
func (r *SQLiteUserRepository) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count); err != nil {
		return false, fmt.Errorf("checking username availability: %w", err)
	}
	return count == 0, nil
}

// List returns all active users ordered by id.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE deleted_at IS NULL ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUserFrom(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// SoftDelete marks an active account deleted. The row and its username
// stay reserved.
func (r *SQLiteUserRepository) SoftDelete(ctx context.Context, id int64) error {
	stamp := r.now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"UPDATE users SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		stamp, stamp, id,
	)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return requireAffected(result)
}

// Restore clears deleted_at on the referenced row. It reports whether a
// row was restored; restoring an active account affects nothing.
func (r *SQLiteUserRepository) Restore(ctx context.Context, ref UserRef) (bool, error) {
	var (
		query = "UPDATE users SET deleted_at = NULL, updated_at = ? WHERE deleted_at IS NOT NULL"
		args  = []any{r.now().UTC().Format(time.RFC3339)}
	)
	if ref.IsZero() {
		return false, ErrUserNotFound
	}
	if ref.HasID() {
		query += " AND id = ?"
		args = append(args, ref.ID)
	}
	if ref.HasUsername() {
		query += " AND username = ?"
		args = append(args, ref.Username)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("restoring user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("restoring user: %w", err)
	}
	return n > 0, nil
}

// UpdateLevel changes an active user's privilege level.
func (r *SQLiteUserRepository) UpdateLevel(ctx context.Context, id int64, level Level) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE users SET level = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		level, r.now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating user level: %w", err)
	}
	return requireAffected(result)
}

// UpdatePassword replaces an active user's password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		passwordHash, r.now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return requireAffected(result)
}

// Exists reports whether any row, deleted or not, has the id.
func (r *SQLiteUserRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("checking user existence: %w", err)
	}
	return count > 0, nil
}

func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	return scanUserFrom(r.db.QueryRowContext(ctx, query, args...))
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanUserFrom(s scanner) (*User, error) {
	var u User
	var createdAt, updatedAt string
	var deletedAt sql.NullString

	err := s.Scan(&u.ID, &u.Username, &u.Email, &u.Level, &u.PasswordHash,
		&createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339, deletedAt.String) //nolint:errcheck // format is controlled
		u.DeletedAt = &t
	}
	return &u, nil
}

func requireAffected(result sql.Result) error {
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}
