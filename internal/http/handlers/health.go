package handlers

import (
	"net/http"

	"genqueue/internal/worker"
)

// Health reports process health. With an attached worker it returns the full
// worker status snapshot, 503 when unhealthy so load balancers can react.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.Worker == nil {
		a.json(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status := a.Worker.Status()
	code := http.StatusOK
	if status.Health.Status == worker.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	a.json(w, code, status)
}
