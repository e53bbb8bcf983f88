package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/shutdown"
)

func decodeString(t *testing.T, body []byte) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(body, &s); err != nil {
		t.Fatalf("decoding JSON string %q: %v", body, err)
	}
	return s
}

func TestAlive(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/alive", "/api/public/alive"} {
		rec := env.do(t, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
		msg := decodeString(t, rec.Body.Bytes())
		stamp, ok := strings.CutPrefix(msg, "Service is alive at: ")
		if !ok {
			t.Fatalf("%s message = %q", path, msg)
		}
		if _, err := time.ParseInLocation(aliveLayout, stamp, time.Local); err != nil {
			t.Errorf("%s timestamp %q: %v", path, stamp, err)
		}
	}

	env.coord.RequestStop(shutdown.Graceful)
	rec := env.do(t, http.MethodGet, "/api/alive", nil, nil)
	if got := decodeString(t, rec.Body.Bytes()); got != "Service is shutting down" {
		t.Errorf("alive while stopping = %q", got)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", nil, nil)
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if rec.Code != http.StatusOK || resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %d %+v", rec.Code, resp)
	}

	env.coord.RequestStop(shutdown.Graceful)
	rec = env.do(t, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health while stopping = %d, want 503", rec.Code)
	}
}

func TestStop(t *testing.T) {
	env := newTestEnv(t)
	_, high := env.seedLoggedIn(t, "boss", auth.LevelHigh)

	stop, unsubscribe := env.coord.Subscribe()
	defer unsubscribe()

	rec := env.do(t, http.MethodPut, "/api/internal/stop", nil, &high)
	if rec.Code != http.StatusOK || rec.Body.String() != "Service is stopping" {
		t.Fatalf("stop = %d %q", rec.Code, rec.Body.String())
	}

	select {
	case mode := <-stop:
		if mode != shutdown.Graceful {
			t.Errorf("mode = %v, want graceful", mode)
		}
	case <-time.After(time.Second):
		t.Fatal("no stop delivered")
	}
	if !env.coord.IsStopping() {
		t.Error("coordinator should be stopping")
	}
}

func TestStopNow_RequiresSuper(t *testing.T) {
	env := newTestEnv(t)
	_, high := env.seedLoggedIn(t, "boss", auth.LevelHigh)

	rec := env.do(t, http.MethodPut, "/api/internal/stop_now", nil, &high)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if got := errorMessage(t, rec); got != "User lacks the privileges to perform this operation" {
		t.Errorf("message = %q", got)
	}
	if env.coord.IsStopping() {
		t.Error("a rejected stop_now must not stop the service")
	}
}

func TestStopNow_Super(t *testing.T) {
	env := newTestEnv(t)
	_, super := env.seedLoggedIn(t, "root", auth.LevelSuper)

	stop, unsubscribe := env.coord.Subscribe()
	defer unsubscribe()

	rec := env.do(t, http.MethodPut, "/api/internal/stop_now", nil, &super)
	if rec.Code != http.StatusOK || rec.Body.String() != "Service is stopping immediately" {
		t.Fatalf("stop_now = %d %q", rec.Code, rec.Body.String())
	}
	if mode := <-stop; mode != shutdown.Immediate {
		t.Errorf("mode = %v, want immediate", mode)
	}
}

func TestInternalMetrics(t *testing.T) {
	env := newTestEnv(t)
	_, high := env.seedLoggedIn(t, "boss", auth.LevelHigh)

	rec := env.do(t, http.MethodGet, "/api/internal/metrics", nil, &high)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var m SystemMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if m.Sessions.Active != 1 || m.Sessions.Tracked != 1 {
		t.Errorf("sessions = %+v, want one active", m.Sessions)
	}
	if m.MQTT.Enabled || m.MQTT.Connected || m.MQTT.EventsDropped != 0 {
		t.Errorf("mqtt = %+v, want disabled", m.MQTT)
	}
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
}
