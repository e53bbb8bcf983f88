package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/metrics"
)

// Credential headers carried on every authenticated request.
const (
	headerUsername = "username"
	headerToken    = "token"
)

// Gate failure messages shared with handlers that remap them.
const (
	msgInvalidCredentials = "Invalid username or session token"
	msgNotLoggedIn        = "User not logged in"
)

// gateFailure is a rejected authentication attempt.
type gateFailure struct {
	status  int
	message string
	outcome string
}

func (f *gateFailure) internal() bool {
	return f.status == http.StatusInternalServerError
}

func deny(status int, outcome, message string) *gateFailure {
	return &gateFailure{status: status, message: message, outcome: outcome}
}

// authenticate checks the username and token headers against the account
// store, the registry and the session store, in that order, and requires
// the caller to hold at least the given level.
//
// The token comparison runs last so a well-formed request for an unknown
// account and one with a wrong token produce the same response.
func (s *Server) authenticate(r *http.Request, required auth.Level) (*auth.User, *gateFailure) {
	ctx := r.Context()

	username := r.Header.Get(headerUsername)
	if username == "" {
		return nil, deny(http.StatusForbidden, metrics.OutcomeBadRequest, "No username provided or found")
	}
	if !isVisibleASCII(username) {
		return nil, deny(http.StatusForbidden, metrics.OutcomeBadRequest, "Invalid username")
	}

	token := r.Header.Get(headerToken)
	if token == "" {
		return nil, deny(http.StatusForbidden, metrics.OutcomeBadRequest, "No session token received")
	}
	if !auth.IsWellFormedToken(token) {
		return nil, deny(http.StatusForbidden, metrics.OutcomeBadRequest, "Invalid session token")
	}

	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, deny(http.StatusForbidden, metrics.OutcomeBadToken, msgInvalidCredentials)
	}
	if err != nil {
		s.logger.Error("gate: fetching user", "username", username, "error", err)
		return nil, deny(http.StatusInternalServerError, metrics.OutcomeError, "Failed to fetch user data")
	}

	if !s.registry.IsLoggedIn(user.ID) {
		return nil, deny(http.StatusUnauthorized, metrics.OutcomeNotLoggedIn, msgNotLoggedIn)
	}

	if !user.Level.AtLeast(required) {
		return nil, deny(http.StatusForbidden, metrics.OutcomeInsufficient, "User level below required privileges")
	}

	ok, err := s.store.TokenMatches(ctx, user.ID, token)
	if err != nil {
		s.logger.Error("gate: validating token", "user_id", user.ID, "error", err)
		return nil, deny(http.StatusInternalServerError, metrics.OutcomeError, "Failed to validate session token")
	}
	if !ok {
		return nil, deny(http.StatusForbidden, metrics.OutcomeBadToken, msgInvalidCredentials)
	}

	return user, nil
}

// writeGateFailure records and writes a rejection.
func (s *Server) writeGateFailure(w http.ResponseWriter, r *http.Request, f *gateFailure) {
	s.recordGate(f.outcome)
	s.logger.Debug("request denied",
		"path", r.URL.Path,
		"status", f.status,
		"reason", f.outcome,
		"request_id", requestID(r),
	)
	switch f.status {
	case http.StatusUnauthorized:
		writeUnauthorized(w, f.message)
	case http.StatusInternalServerError:
		writeInternalError(w, f.message)
	default:
		writeForbidden(w, f.message)
	}
}

func (s *Server) recordGate(outcome string) {
	if s.collector != nil {
		s.collector.GateDecision(outcome)
	}
}

// hasCredentials reports whether both credential headers are present.
func hasCredentials(r *http.Request) bool {
	return r.Header.Get(headerUsername) != "" && r.Header.Get(headerToken) != ""
}

// userFromContext returns the caller stored by requireLevel.
func userFromContext(ctx context.Context) (*auth.User, bool) {
	u, ok := ctx.Value(ctxKeyUser).(*auth.User)
	return u, ok && u != nil
}

// isVisibleASCII reports whether s holds only printable ASCII, space included.
func isVisibleASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
