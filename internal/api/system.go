package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/shutdown"
)

// aliveLayout is the timestamp format of the liveness response.
const aliveLayout = "2006-01-02 15:04:05"

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// handleHealth reports readiness. It returns 503 once a stop is requested
// so load balancers stop routing new logins here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.coordinator.IsStopping() {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "stopping", Version: s.version})
		return
	}
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			s.logger.Error("health check: database", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Version: s.version})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: s.version})
}

// handleAlive returns a JSON string describing whether the service is
// accepting work.
func (s *Server) handleAlive(w http.ResponseWriter, _ *http.Request) {
	if s.coordinator.IsStopping() {
		writeJSON(w, http.StatusOK, "Service is shutting down")
		return
	}
	writeJSON(w, http.StatusOK, "Service is alive at: "+time.Now().Format(aliveLayout))
}

// handleStop requests a graceful stop. In-flight requests, this one
// included, finish before the listener closes.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())
	s.logger.Info("graceful stop requested", "user_id", caller.ID)
	s.auditLog(actionStop, audit.EntityService, "", caller, map[string]any{"mode": shutdown.Graceful.String()})

	s.coordinator.RequestStop(shutdown.Graceful)
	writeText(w, http.StatusOK, "Service is stopping")
}

// handleStopNow requests an immediate stop. Only Super may ask for it.
// The response is flushed before the request is raised because the
// listener closes every connection on Immediate.
func (s *Server) handleStopNow(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())
	if caller.Level != auth.LevelSuper {
		writeForbidden(w, "User lacks the privileges to perform this operation")
		return
	}

	s.logger.Warn("immediate stop requested", "user_id", caller.ID)
	s.auditLog(actionStop, audit.EntityService, "", caller, map[string]any{"mode": shutdown.Immediate.String()})

	writeText(w, http.StatusOK, "Service is stopping immediately")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	s.coordinator.RequestStop(shutdown.Immediate)
}
