package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/nerrad567/gatekeeper/internal/auth"
)

// wrongToken is well formed but never issued.
const wrongToken = "0000000000000000000000000000000000000000"

// failingUsers fails every username lookup.
type failingUsers struct {
	auth.UserRepository
}

func (failingUsers) GetByUsername(context.Context, string) (*auth.User, error) {
	return nil, errors.New("disk on fire")
}

// failingTokens fails every token comparison.
type failingTokens struct {
	auth.SessionRepository
}

func (failingTokens) TokenMatches(context.Context, int64, string) (bool, error) {
	return false, errors.New("disk on fire")
}

func TestGate_Order(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "dormant", auth.LevelHigh)
	_, low := env.seedLoggedIn(t, "low", auth.LevelLow)
	_, high := env.seedLoggedIn(t, "high", auth.LevelHigh)

	tests := []struct {
		name       string
		creds      *credentials
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "no headers",
			wantStatus: http.StatusForbidden,
			wantMsg:    "No username provided or found",
		},
		{
			name:       "username not printable",
			creds:      &credentials{username: "bad\x7fname", token: high.token},
			wantStatus: http.StatusForbidden,
			wantMsg:    "Invalid username",
		},
		{
			name:       "missing token",
			creds:      &credentials{username: "high"},
			wantStatus: http.StatusForbidden,
			wantMsg:    "No session token received",
		},
		{
			name:       "malformed token",
			creds:      &credentials{username: "high", token: "not-a-token"},
			wantStatus: http.StatusForbidden,
			wantMsg:    "Invalid session token",
		},
		{
			name:       "unknown user",
			creds:      &credentials{username: "ghost", token: wrongToken},
			wantStatus: http.StatusForbidden,
			wantMsg:    msgInvalidCredentials,
		},
		{
			name:       "never logged in",
			creds:      &credentials{username: "dormant", token: wrongToken},
			wantStatus: http.StatusUnauthorized,
			wantMsg:    msgNotLoggedIn,
		},
		{
			name:       "level below required",
			creds:      &low,
			wantStatus: http.StatusForbidden,
			wantMsg:    "User level below required privileges",
		},
		{
			name:       "wrong token",
			creds:      &credentials{username: "high", token: wrongToken},
			wantStatus: http.StatusForbidden,
			wantMsg:    msgInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/internal/alive", nil, tt.creds)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := errorMessage(t, rec); got != tt.wantMsg {
				t.Errorf("message = %q, want %q", got, tt.wantMsg)
			}
		})
	}

	t.Run("valid credentials", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/internal/alive", nil, &high)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
		}
	})
}

func TestGate_UnknownUserAndWrongTokenLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoggedIn(t, "high", auth.LevelHigh)

	unknown := env.do(t, http.MethodGet, "/api/internal/alive", nil, &credentials{username: "ghost", token: wrongToken})
	wrong := env.do(t, http.MethodGet, "/api/internal/alive", nil, &credentials{username: "high", token: wrongToken})

	if unknown.Code != wrong.Code || unknown.Body.String() != wrong.Body.String() {
		t.Errorf("responses differ: unknown = %d %s, wrong token = %d %s",
			unknown.Code, unknown.Body.String(), wrong.Code, wrong.Body.String())
	}
}

func TestGate_StorageFailures(t *testing.T) {
	env := newTestEnv(t)
	_, high := env.seedLoggedIn(t, "high", auth.LevelHigh)

	t.Run("user lookup", func(t *testing.T) {
		env.srv.users = failingUsers{env.users}
		t.Cleanup(func() { env.srv.users = env.users })

		rec := env.do(t, http.MethodGet, "/api/internal/alive", nil, &high)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
		if got := errorMessage(t, rec); got != "Failed to fetch user data" {
			t.Errorf("message = %q", got)
		}
	})

	t.Run("token comparison", func(t *testing.T) {
		env.srv.store = failingTokens{env.store}
		t.Cleanup(func() { env.srv.store = env.store })

		rec := env.do(t, http.MethodGet, "/api/internal/alive", nil, &high)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
		if got := errorMessage(t, rec); got != "Failed to validate session token" {
			t.Errorf("message = %q", got)
		}
	})
}

func TestGate_RecordsOutcomes(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "dormant", auth.LevelHigh)

	env.do(t, http.MethodGet, "/api/internal/alive", nil, &credentials{username: "dormant", token: wrongToken})

	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	want := `gatekeeper_gate_decisions_total{outcome="not_logged_in"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("exposition missing %q", want)
	}
}

func TestIsVisibleASCII(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"alice", true},
		{"alice smith", true},
		{"~!@#", true},
		{"tab\there", false},
		{"del\x7f", false},
		{"café", false},
	}
	for _, tt := range tests {
		if got := isVisibleASCII(tt.in); got != tt.want {
			t.Errorf("isVisibleASCII(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
