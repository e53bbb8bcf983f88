// Package audit records account and session activity in the audit_logs
// table and serves it back for the internal audit endpoint.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// AuditLog is one recorded action.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows List by exact match on each non-empty field.
type Filter struct {
	Action     string // login, logout, create, delete, restore, change_level, change_password, stop
	EntityType string // user, session, service
	EntityID   string
	UserID     string // acting user
	Limit      int    // default 50, max 200
	Offset     int
}

// Entity types written by the service.
const (
	EntityUser    = "user"
	EntitySession = "session"
	EntityService = "service"
)

// timestampLayout is fixed width so created_at sorts lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

const (
	defaultLimit = 50
	maxLimit     = 200
)

// ListResult is one page of entries plus the total match count.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository stores and lists audit entries.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository is the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create stores entry, assigning a ULID id and a UTC timestamp when
// they are unset. ULIDs keep same-instant entries in creation order.
func (r *SQLiteRepository) Create(ctx context.Context, entry *AuditLog) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	details, err := encodeDetails(entry.Details)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.EntityType,
		nullIfEmpty(entry.EntityID), nullIfEmpty(entry.UserID),
		entry.Source, details,
		entry.CreatedAt.UTC().Format(timestampLayout),
	); err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// columns is the audit_logs column order shared by insert and select.
const columns = "id, action, entity_type, entity_id, user_id, source, details, created_at"

func encodeDetails(details map[string]any) (sql.NullString, error) {
	if details == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling audit details: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// normalize clamps paging to [1, maxLimit] and a non-negative offset.
func (f Filter) normalize() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultLimit
	case f.Limit > maxLimit:
		f.Limit = maxLimit
	}
	f.Offset = max(f.Offset, 0)
	return f
}

// where renders the equality conditions of f with their arguments.
func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		if value != "" {
			conds = append(conds, column+" = ?")
			args = append(args, value)
		}
	}
	add("action", f.Action)
	add("entity_type", f.EntityType)
	add("entity_id", f.EntityID)
	add("user_id", f.UserID)

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of matching entries, newest first, with the
// total match count.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = filter.normalize()
	where, args := filter.where()

	result := &ListResult{Logs: []AuditLog{}, Limit: filter.Limit, Offset: filter.Offset}
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_logs"+where, args...,
	).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+columns+" FROM audit_logs"+where+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result.Logs = append(result.Logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}
	return result, nil
}

func scanEntry(rows *sql.Rows) (AuditLog, error) {
	var (
		entry                     AuditLog
		entityID, userID, details sql.NullString
		createdAt                 string
	)
	if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType,
		&entityID, &userID, &entry.Source, &details, &createdAt); err != nil {
		return AuditLog{}, fmt.Errorf("scanning audit log: %w", err)
	}
	entry.EntityID = entityID.String
	entry.UserID = userID.String

	// Undecodable details are dropped rather than failing the page.
	if details.Valid && details.String != "" {
		_ = json.Unmarshal([]byte(details.String), &entry.Details)
	}

	t, err := time.Parse(timestampLayout, createdAt)
	if err != nil {
		return AuditLog{}, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
	}
	entry.CreatedAt = t
	return entry, nil
}
