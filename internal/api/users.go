package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/metrics"
)

// ─── Request/Response Types ────────────────────────────────────────

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createUserRequest struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Email    string      `json:"email"`
	Level    *auth.Level `json:"level,omitempty"`
}

type createUserResponse struct {
	UserID       int64  `json:"user_id"`
	SessionToken string `json:"session_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type checkPasswordRequest struct {
	Password string `json:"password"`
}

const (
	msgBadLogin         = "Invalid username or password"
	msgInvalidJSON      = "invalid JSON body"
	msgLevelTooHigh     = "User level must be at least one level below the requesting account's"
	msgUsernameTaken    = "Username not available"
	msgOldPasswordWrong = "Old password is incorrect"
)

// ─── Handlers ──────────────────────────────────────────────────────

// handleLogin verifies a username and password and returns the session
// token as plain text. An Active session is extended and keeps its token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSON)
		return
	}

	ctx := r.Context()
	user, err := s.users.GetByUsername(ctx, req.Username)
	if errors.Is(err, auth.ErrUserNotFound) {
		s.recordLogin(metrics.LoginUnknownUser)
		writeBadRequest(w, msgBadLogin)
		return
	}
	if err != nil {
		s.logger.Error("login: fetching user", "error", err)
		s.recordLogin(metrics.LoginError)
		writeInternalError(w, "Error logging in")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("login: verifying password", "user_id", user.ID, "error", err)
		s.recordLogin(metrics.LoginError)
		writeInternalError(w, "Error logging in")
		return
	}
	if !ok {
		s.recordLogin(metrics.LoginBadPassword)
		writeUnauthorized(w, msgBadLogin)
		return
	}

	token, extended, err := s.sessions.Login(ctx, user)
	if err != nil {
		s.logger.Error("login: opening session", "user_id", user.ID, "error", err)
		s.recordLogin(metrics.LoginError)
		writeInternalError(w, "Error logging in")
		return
	}

	result := metrics.LoginOpened
	if extended {
		result = metrics.LoginExtended
	}
	s.recordLogin(result)
	s.auditLog(actionLogin, audit.EntitySession, idString(user.ID), user, map[string]any{"result": result})

	writeText(w, http.StatusOK, token)
}

// handleLogout closes the caller's session. Any authentication failure
// other than a storage error is reported as 401.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, fail := s.authenticate(r, auth.LevelView)
	if fail != nil {
		s.recordGate(fail.outcome)
		if fail.internal() {
			writeInternalError(w, fail.message)
			return
		}
		writeUnauthorized(w, msgInvalidCredentials)
		return
	}
	s.recordGate(metrics.OutcomeAllowed)

	ctx := r.Context()
	status, err := s.sessions.Status(ctx, user.ID)
	if err != nil {
		s.logger.Error("logout: checking session", "user_id", user.ID, "error", err)
		writeInternalError(w, "Error logging out")
		return
	}
	if status != auth.SessionActive {
		writeUnauthorized(w, "Session expired")
		return
	}

	if err := s.sessions.Close(ctx, user); err != nil {
		s.logger.Error("logout: closing session", "user_id", user.ID, "error", err)
		writeInternalError(w, "Error logging out")
		return
	}
	s.auditLog(actionLogout, audit.EntitySession, idString(user.ID), user, nil)

	writeText(w, http.StatusOK, "Successfully logged out")
}

// handlePublicCreateUser registers an account. Without credentials the
// account is Low; with both headers the caller is authenticated and the
// account is created on their behalf.
func (s *Server) handlePublicCreateUser(w http.ResponseWriter, r *http.Request) {
	var caller *auth.User
	if hasCredentials(r) {
		user, fail := s.authenticate(r, auth.LevelView)
		if fail != nil {
			s.writeGateFailure(w, r, fail)
			return
		}
		s.recordGate(metrics.OutcomeAllowed)
		caller = user
	}
	s.createUser(w, r, caller)
}

// handleInternalCreateUser registers an account on behalf of a High caller.
func (s *Server) handleInternalCreateUser(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())
	s.createUser(w, r, caller)
}

// createUser validates the request, creates the account and opens its
// first session. An authenticated caller may grant at most one level
// below their own, which is also the default.
func (s *Server) createUser(w http.ResponseWriter, r *http.Request, caller *auth.User) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSON)
		return
	}
	if req.Username == "" || !isVisibleASCII(req.Username) {
		writeValidationError(w, "Invalid username")
		return
	}

	ctx := r.Context()
	available, err := s.users.UsernameAvailable(ctx, req.Username)
	if err != nil {
		s.logger.Error("create user: checking username", "error", err)
		writeInternalError(w, "Error creating user")
		return
	}
	if !available {
		writeValidationError(w, msgUsernameTaken)
		return
	}

	if problems := auth.ValidatePasswordStrength(req.Password); len(problems) > 0 {
		writeValidationError(w, strings.Join(problems, "\n"))
		return
	}

	level := auth.LevelLow
	if caller != nil {
		ceiling := caller.Level.OneLevelBelow()
		switch {
		case req.Level == nil:
			level = ceiling
		case *req.Level > ceiling:
			writeValidationError(w, msgLevelTooHigh)
			return
		default:
			level = *req.Level
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("create user: hashing password", "error", err)
		writeInternalError(w, "Error creating user")
		return
	}

	user := &auth.User{
		Username:     req.Username,
		Email:        req.Email,
		Level:        level,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, auth.ErrUsernameExists) {
			writeValidationError(w, msgUsernameTaken)
			return
		}
		s.logger.Error("create user: inserting", "error", err)
		writeInternalError(w, "Error creating user")
		return
	}

	token, err := s.sessions.Open(ctx, user)
	if err != nil {
		s.logger.Error("create user: opening session", "user_id", user.ID, "error", err)
		writeInternalError(w, "Error creating user session")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "level", user.Level.String())
	s.auditLog(actionCreate, audit.EntityUser, idString(user.ID), caller, map[string]any{
		"username": user.Username,
		"level":    user.Level.String(),
	})

	writeJSON(w, http.StatusCreated, createUserResponse{UserID: user.ID, SessionToken: token})
}

// handleChangePassword replaces the caller's password after checking the
// old one.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSON)
		return
	}

	ok, err := auth.VerifyPassword(req.OldPassword, caller.PasswordHash)
	if err != nil {
		s.logger.Error("change password: verifying", "user_id", caller.ID, "error", err)
		writeInternalError(w, "Error changing password")
		return
	}
	if !ok {
		writeValidationError(w, msgOldPasswordWrong)
		return
	}

	if problems := auth.ValidatePasswordStrength(req.NewPassword); len(problems) > 0 {
		writeValidationError(w, strings.Join(problems, "\n"))
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.logger.Error("change password: hashing", "user_id", caller.ID, "error", err)
		writeInternalError(w, "Error changing password")
		return
	}
	if err := s.users.UpdatePassword(r.Context(), caller.ID, hash); err != nil {
		s.logger.Error("change password: updating", "user_id", caller.ID, "error", err)
		writeInternalError(w, "Error changing password")
		return
	}
	s.auditLog(actionChangePassword, audit.EntityUser, idString(caller.ID), caller, nil)

	w.WriteHeader(http.StatusOK)
}

// handleCheckPassword answers 200 when the supplied password matches the
// caller's and 400 when it does not. Neither response has a body.
func (s *Server) handleCheckPassword(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())

	var req checkPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, msgInvalidJSON)
		return
	}

	ok, err := auth.VerifyPassword(req.Password, caller.PasswordHash)
	if err != nil {
		s.logger.Error("check password: verifying", "user_id", caller.ID, "error", err)
		writeInternalError(w, "Error checking password")
		return
	}
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleDeleteSelf soft-deletes the caller's account and drops its session.
func (s *Server) handleDeleteSelf(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())
	ctx := r.Context()

	if err := s.users.SoftDelete(ctx, caller.ID); err != nil {
		s.logger.Error("delete self: soft delete", "user_id", caller.ID, "error", err)
		writeInternalError(w, "Error deleting user account")
		return
	}
	if err := s.sessions.Forget(ctx, caller.ID); err != nil {
		// The sweeper removes the row on its next pass
		s.logger.Warn("delete self: forgetting session", "user_id", caller.ID, "error", err)
	}
	s.auditLog(actionDelete, audit.EntityUser, idString(caller.ID), caller, map[string]any{"self": true})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recordLogin(result string) {
	if s.collector != nil {
		s.collector.Login(result)
	}
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
