package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// healthCheckTimeout bounds each component check.
const healthCheckTimeout = 2 * time.Second

// criticalComponent is the check whose failure makes the service unhealthy.
const criticalComponent = "database"

// componentHealth is one entry in the health response.
type componentHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports the service and component status. A failing
// database answers 503; any other failing component only degrades the
// service.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	components := make([]componentHealth, 0, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()

		c := componentHealth{Name: name, Status: "ok"}
		if err != nil {
			c.Status = "error"
			c.Error = err.Error()
			if name == criticalComponent {
				status, code = "unhealthy", http.StatusServiceUnavailable
			} else if status == "ok" {
				status = "degraded"
			}
		}
		components = append(components, c)
	}

	writeJSON(w, code, map[string]any{
		"status":            status,
		"version":           s.version,
		"components":        components,
		"websocket_clients": s.hub.ClientCount(),
	})
}
