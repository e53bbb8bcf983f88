package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
)

// targetRequest names the account a privileged operation acts on.
type targetRequest struct {
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

func (t targetRequest) ref() auth.UserRef {
	return auth.UserRef{ID: t.UserID, Username: t.Username}
}

type changeLevelRequest struct {
	targetRequest
	Level *auth.Level `json:"level"`
}

const (
	msgNoTarget       = "User id and username not received in request"
	msgCannotDelete   = "User does not have permission to delete this account"
	msgLacksPrivilege = "User lacks privileges to perform required operation"
)

// resolveTarget looks up the referenced account and writes a 400 or 500
// when it cannot. It reports whether a user was returned.
func (s *Server) resolveTarget(w http.ResponseWriter, r *http.Request, ref auth.UserRef) (*auth.User, bool) {
	if ref.IsZero() {
		writeBadRequest(w, msgNoTarget)
		return nil, false
	}

	target, err := s.users.Resolve(r.Context(), ref)
	switch {
	case err == nil:
		return target, true
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, auth.ErrUserMismatch):
		writeBadRequest(w, invalidTargetMessage(ref, err))
	default:
		s.logger.Error("resolving target user", "user_id", ref.ID, "username", ref.Username, "error", err)
		writeInternalError(w, "Failed to fetch user data")
	}
	return nil, false
}

func invalidTargetMessage(ref auth.UserRef, err error) string {
	switch {
	case errors.Is(err, auth.ErrUserMismatch), ref.HasID() && ref.HasUsername():
		return "Invalid user id and username"
	case ref.HasID():
		return "Invalid user id"
	default:
		return "Invalid username"
	}
}

// handleDeleteUser soft-deletes another account. The target must sit
// strictly below caller.OneLevelBelow().
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())

	var req targetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSON)
		return
	}

	target, ok := s.resolveTarget(w, r, req.ref())
	if !ok {
		return
	}
	if caller.Level.OneLevelBelow() <= target.Level {
		writeUnauthorized(w, msgCannotDelete)
		return
	}

	ctx := r.Context()
	if err := s.users.SoftDelete(ctx, target.ID); err != nil {
		s.logger.Error("delete user: soft delete", "user_id", target.ID, "error", err)
		writeInternalError(w, "Error deleting user account")
		return
	}
	if err := s.sessions.Forget(ctx, target.ID); err != nil {
		s.logger.Warn("delete user: forgetting session", "user_id", target.ID, "error", err)
	}

	s.logger.Info("user deleted", "user_id", target.ID, "by", caller.ID)
	s.auditLog(actionDelete, audit.EntityUser, idString(target.ID), caller, map[string]any{"username": target.Username})

	w.WriteHeader(http.StatusNoContent)
}

// handleUndoDeleteUser clears the deletion mark on an account.
func (s *Server) handleUndoDeleteUser(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())

	var req targetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSON)
		return
	}
	ref := req.ref()
	if ref.IsZero() {
		writeBadRequest(w, msgNoTarget)
		return
	}

	restored, err := s.users.Restore(r.Context(), ref)
	if err != nil {
		s.logger.Error("undo delete user", "user_id", ref.ID, "username", ref.Username, "error", err)
		writeInternalError(w, "Error restoring user account")
		return
	}
	if !restored {
		writeInternalError(w, "User account not restored")
		return
	}

	var entityID string
	if ref.HasID() {
		entityID = idString(ref.ID)
	}
	s.auditLog(actionRestore, audit.EntityUser, entityID, caller, map[string]any{"username": ref.Username})
	writeText(w, http.StatusOK, "User restored")
}

// handleChangeUserLevel moves another account to a new level. The caller
// may grant at most one level below their own and may only change
// accounts that rank below them.
func (s *Server) handleChangeUserLevel(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())

	var req changeLevelRequest
	if err := decodeJSON(r, &req); err != nil || req.Level == nil {
		writeBadRequest(w, msgInvalidJSON)
		return
	}
	level := *req.Level

	if caller.Level.OneLevelBelow() < level {
		writeForbidden(w, msgLacksPrivilege)
		return
	}

	target, ok := s.resolveTarget(w, r, req.ref())
	if !ok {
		return
	}
	if target.Level >= caller.Level {
		writeForbidden(w, msgLacksPrivilege)
		return
	}

	if err := s.users.UpdateLevel(r.Context(), target.ID, level); err != nil {
		s.logger.Error("change user level", "user_id", target.ID, "error", err)
		writeInternalError(w, "Error changing user level")
		return
	}

	s.logger.Info("user level changed",
		"user_id", target.ID,
		"from", target.Level.String(),
		"to", level.String(),
		"by", caller.ID,
	)
	s.auditLog(actionChangeLevel, audit.EntityUser, idString(target.ID), caller, map[string]any{
		"from": target.Level.String(),
		"to":   level.String(),
	})

	w.WriteHeader(http.StatusOK)
}
