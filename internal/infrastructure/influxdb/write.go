package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/reconcile"
)

// Measurement names.
const (
	MeasurementSweep        = "session_sweep"
	MeasurementSessionEvent = "session_event"
)

// Values of the session_sweep outcome tag.
const (
	sweepOK         = "ok"
	sweepListFailed = "list_failed"
)

// SweepCompleted implements reconcile.SweepObserver with one
// session_sweep point per pass.
func (c *Client) SweepCompleted(r reconcile.Result) {
	c.write(sweepPoint(r))
}

// SessionEvent implements auth.Observer with one session_event point per
// transition.
func (c *Client) SessionEvent(ev auth.SessionEvent) {
	c.write(sessionEventPoint(ev))
}

func sweepPoint(r reconcile.Result) *write.Point {
	outcome := sweepOK
	if r.Err != nil {
		outcome = sweepListFailed
	}
	return write.NewPoint(
		MeasurementSweep,
		map[string]string{"outcome": outcome},
		map[string]interface{}{
			"rows":        r.Rows,
			"deleted":     r.Deleted,
			"orphans":     r.Orphans,
			"reaffirmed":  r.Reaffirmed,
			"failures":    r.Failures,
			"duration_ms": float64(r.Duration) / float64(time.Millisecond),
		},
		stamp(r.At),
	)
}

func sessionEventPoint(ev auth.SessionEvent) *write.Point {
	return write.NewPoint(
		MeasurementSessionEvent,
		map[string]string{"event": string(ev.Kind)},
		map[string]interface{}{"count": 1},
		stamp(ev.At),
	)
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
