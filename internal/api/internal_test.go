package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
)

func TestDeleteUser_Permission(t *testing.T) {
	env := newTestEnv(t)
	_, high := env.seedLoggedIn(t, "boss", auth.LevelHigh)
	med := env.seedUser(t, "mid", auth.LevelMedium)
	low := env.seedUser(t, "low", auth.LevelLow)
	env.login(t, "low")

	// High may only delete accounts strictly below Medium
	rec := env.do(t, http.MethodPut, "/internal/delete_user", targetRequest{UserID: med.ID}, &high)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("delete Medium status = %d, want 401", rec.Code)
	}
	if got := errorMessage(t, rec); got != msgCannotDelete {
		t.Errorf("message = %q", got)
	}

	rec = env.do(t, http.MethodPut, "/internal/delete_user", targetRequest{Username: "low"}, &high)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete Low status = %d, want 204 (body %s)", rec.Code, rec.Body.String())
	}
	if _, ok := env.srv.registry.Status(low.ID); ok {
		t.Error("deleted account still has a registry entry")
	}
	if _, err := env.store.FetchToken(t.Context(), low.ID); err == nil {
		t.Error("deleted account still has a session row")
	}
}

func TestDeleteUser_TargetLookup(t *testing.T) {
	env := newTestEnv(t)
	_, high := env.seedLoggedIn(t, "boss", auth.LevelHigh)
	low := env.seedUser(t, "low", auth.LevelLow)

	tests := []struct {
		name    string
		body    targetRequest
		wantMsg string
	}{
		{name: "unknown id", body: targetRequest{UserID: 999}, wantMsg: "Invalid user id"},
		{name: "unknown username", body: targetRequest{Username: "ghost"}, wantMsg: "Invalid username"},
		{name: "mismatched pair", body: targetRequest{UserID: low.ID, Username: "boss"}, wantMsg: "Invalid user id and username"},
		{name: "empty", body: targetRequest{}, wantMsg: msgNoTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/internal/delete_user", tt.body, &high)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := errorMessage(t, rec); got != tt.wantMsg {
				t.Errorf("message = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestUndoDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	_, high := env.seedLoggedIn(t, "boss", auth.LevelHigh)
	low := env.seedUser(t, "low", auth.LevelLow)

	rec := env.do(t, http.MethodPut, "/internal/undo_delete_user", targetRequest{UserID: low.ID}, &high)
	if rec.Code != http.StatusInternalServerError || errorMessage(t, rec) != "User account not restored" {
		t.Fatalf("restore active account = %d %s", rec.Code, rec.Body.String())
	}

	if err := env.users.SoftDelete(t.Context(), low.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	rec = env.do(t, http.MethodPut, "/internal/undo_delete_user", targetRequest{Username: "low"}, &high)
	if rec.Code != http.StatusOK || rec.Body.String() != "User restored" {
		t.Fatalf("restore = %d %q", rec.Code, rec.Body.String())
	}
	if _, err := env.users.GetByID(t.Context(), low.ID); err != nil {
		t.Errorf("restored account not visible: %v", err)
	}

	rec = env.do(t, http.MethodPut, "/internal/undo_delete_user", targetRequest{}, &high)
	if rec.Code != http.StatusBadRequest || errorMessage(t, rec) != msgNoTarget {
		t.Errorf("empty target = %d %s", rec.Code, rec.Body.String())
	}
}

func TestChangeUserLevel(t *testing.T) {
	env := newTestEnv(t)
	_, high := env.seedLoggedIn(t, "boss", auth.LevelHigh)
	peer := env.seedUser(t, "peer", auth.LevelHigh)
	low := env.seedUser(t, "low", auth.LevelLow)

	tests := []struct {
		name       string
		body       changeLevelRequest
		wantStatus int
	}{
		{
			name:       "grant above ceiling",
			body:       changeLevelRequest{targetRequest: targetRequest{UserID: low.ID}, Level: levelPtr(auth.LevelHigh)},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "target at caller's level",
			body:       changeLevelRequest{targetRequest: targetRequest{UserID: peer.ID}, Level: levelPtr(auth.LevelLow)},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unknown target",
			body:       changeLevelRequest{targetRequest: targetRequest{Username: "ghost"}, Level: levelPtr(auth.LevelLow)},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing level",
			body:       changeLevelRequest{targetRequest: targetRequest{UserID: low.ID}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "promote to Medium",
			body:       changeLevelRequest{targetRequest: targetRequest{UserID: low.ID}, Level: levelPtr(auth.LevelMedium)},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/internal/change_user_level", tt.body, &high)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusForbidden {
				if got := errorMessage(t, rec); got != msgLacksPrivilege {
					t.Errorf("message = %q", got)
				}
			}
		})
	}

	u, err := env.users.GetByID(t.Context(), low.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if u.Level != auth.LevelMedium {
		t.Errorf("level = %v, want Medium", u.Level)
	}
}

func TestListAuditLogs(t *testing.T) {
	env := newTestEnv(t)
	_, high := env.seedLoggedIn(t, "boss", auth.LevelHigh)

	repo := audit.NewSQLiteRepository(env.db.DB)
	for _, action := range []string{actionLogin, actionDelete, actionDelete} {
		if err := repo.Create(t.Context(), &audit.AuditLog{
			Action:     action,
			EntityType: audit.EntityUser,
			Source:     "api",
		}); err != nil {
			t.Fatalf("seeding audit log: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/internal/audit?action=delete&limit=1", nil, &high)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var result audit.ListResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if result.Total != 2 || len(result.Logs) != 1 || result.Limit != 1 {
		t.Errorf("result = total %d, logs %d, limit %d; want 2, 1, 1", result.Total, len(result.Logs), result.Limit)
	}
}
