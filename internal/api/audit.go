package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped to avoid back-pressure on requests.
const auditChanSize = 256

// Audit actions written by the handlers.
const (
	actionLogin          = "login"
	actionLogout         = "logout"
	actionCreate         = "create"
	actionDelete         = "delete"
	actionRestore        = "restore"
	actionChangeLevel    = "change_level"
	actionChangePassword = "change_password"
	actionStop           = "stop"
)

// auditLog enqueues an audit log entry for asynchronous write.
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) auditLog(action, entityType, entityID string, actor *auth.User, details map[string]any) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}

	entry := &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     "api",
		Details:    details,
	}
	if actor != nil {
		entry.UserID = strconv.FormatInt(actor.ID, 10)
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// drainAuditLog writes entries from the audit channel one at a time.
// It runs until ctx is cancelled, writes whatever is still buffered,
// then closes auditDone.
func (s *Server) drainAuditLog(ctx context.Context) {
	defer close(s.auditDone)

	write := func(entry *audit.AuditLog) {
		if err := s.auditRepo.Create(context.Background(), entry); err != nil {
			s.logger.Error("audit log write failed",
				"action", entry.Action,
				"entity_type", entry.EntityType,
				"error", err,
			)
		}
	}

	for {
		select {
		case entry := <-s.auditCh:
			write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					write(entry)
				default:
					return
				}
			}
		}
	}
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: login, logout, create, delete, restore, change_level, change_password, stop
//   - entity_type: user, session, service
//   - entity_id: id of the affected account
//   - user_id: id of the acting account
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
