package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/reconcile"
)

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.GateDecision(OutcomeAllowed)
	c.GateDecision(OutcomeAllowed)
	c.GateDecision(OutcomeNotLoggedIn)
	c.Login(LoginOpened)
	c.SessionEvent(auth.SessionEvent{Kind: auth.EventOpened})
	c.SessionEvent(auth.SessionEvent{Kind: auth.EventExpired})

	if got := testutil.ToFloat64(c.gateDecisions.WithLabelValues(OutcomeAllowed)); got != 2 {
		t.Errorf("gate allowed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.gateDecisions.WithLabelValues(OutcomeNotLoggedIn)); got != 1 {
		t.Errorf("gate not_logged_in = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.logins.WithLabelValues(LoginOpened)); got != 1 {
		t.Errorf("logins opened = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.sessionEvents.WithLabelValues("expired")); got != 1 {
		t.Errorf("session events expired = %v, want 1", got)
	}
}

func TestCollector_SweepCompleted(t *testing.T) {
	c := New()
	c.SweepCompleted(reconcile.Result{Rows: 4, Deleted: 2, Orphans: 1, Reaffirmed: 1, Duration: 3 * time.Millisecond})
	c.SweepCompleted(reconcile.Result{Failures: 1})

	if got := testutil.ToFloat64(c.sweeps); got != 2 {
		t.Errorf("sweeps = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.sweepRows.WithLabelValues("deleted")); got != 2 {
		t.Errorf("deleted rows = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.sweepRows.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed rows = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.sweepDuration); n != 1 {
		t.Errorf("duration histogram series = %d, want 1", n)
	}
}

func TestCollector_RegistryGauges(t *testing.T) {
	c := New()
	r := auth.NewRegistry()
	r.Login(&auth.User{ID: 1})
	r.Logout(&auth.User{ID: 2})
	r.Logout(&auth.User{ID: 3})

	c.ObserveRegistry(r)

	if got := testutil.ToFloat64(c.registryGauges.WithLabelValues("active")); got != 1 {
		t.Errorf("active gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.registryGauges.WithLabelValues("expired")); got != 2 {
		t.Errorf("expired gauge = %v, want 2", got)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.TrackRegistry(r, 5*time.Millisecond, stop)
		close(done)
	}()
	r.Login(&auth.User{ID: 2})
	time.Sleep(30 * time.Millisecond)
	close(stop)
	<-done

	if got := testutil.ToFloat64(c.registryGauges.WithLabelValues("active")); got != 2 {
		t.Errorf("tracked active gauge = %v, want 2", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.Login(LoginBadPassword)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`gatekeeper_logins_total{result="bad_password"} 1`,
		"# TYPE gatekeeper_sweep_duration_seconds histogram",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
