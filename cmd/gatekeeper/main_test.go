package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gatekeeper/internal/infrastructure/logging"
	"github.com/nerrad567/gatekeeper/internal/shutdown"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GATEKEEPER_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_ValidationFailure verifies run refuses a config that fails validation.
func TestRun_ValidationFailure(t *testing.T) {
	path := writeTestConfig(t, `
database:
  path: ""
`)
	t.Setenv("GATEKEEPER_CONFIG", path)

	if err := run(t.Context()); err == nil {
		t.Fatal("run() should fail with an empty database path")
	}
}

// TestRun_StartsAndStops boots the full service on a free port, waits for
// it to report healthy, then cancels the context and expects a clean exit.
func TestRun_StartsAndStops(t *testing.T) {
	port := freePort(t)
	path := writeTestConfig(t, fmt.Sprintf(`
service:
  id: "gatekeeper-test"
database:
  path: %q
  wal_mode: true
  busy_timeout: 5
api:
  host: "127.0.0.1"
  port: %d
  shutdown_timeout: 2
sessions:
  ttl_minutes: 30
  sweep_interval_seconds: 1
superuser:
  username: "super"
  email: "super@example.com"
  password: "Sup3r-Secret!"
logging:
  level: error
  format: text
`, filepath.Join(t.TempDir(), "gatekeeper.db"), port))
	t.Setenv("GATEKEEPER_CONFIG", path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("service never became healthy: %v", err)
		}
		select {
		case err := <-errCh:
			t.Fatalf("run() exited early: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v, want nil on requested stop", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestBridgeSignals_ContextRequestsGraceful(t *testing.T) {
	coord := shutdown.New()
	stop, unsubscribe := coord.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan struct{})
	returned := make(chan struct{})
	go func() {
		bridgeSignals(ctx, coord, serverDone, logging.Discard())
		close(returned)
	}()

	cancel()
	select {
	case mode := <-stop:
		if mode != shutdown.Graceful {
			t.Errorf("mode = %v, want graceful", mode)
		}
	case <-time.After(time.Second):
		t.Fatal("no stop request after context cancel")
	}

	close(serverDone)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("bridgeSignals did not return after the listener stopped")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GATEKEEPER_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("GATEKEEPER_CONFIG", "/etc/gatekeeper.yaml")
	if got := getConfigPath(); got != "/etc/gatekeeper.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding a free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
