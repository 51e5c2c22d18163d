package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"dexalign/internal/watchdog"
)

// WatchdogAPI serves the health monitor's HTTP surface.
type WatchdogAPI struct {
	monitor *watchdog.Monitor
	logger  zerolog.Logger
}

// NewWatchdogAPI builds the watchdog listener on the given address.
func NewWatchdogAPI(addr string, monitor *watchdog.Monitor, logger zerolog.Logger) *Server {
	api := &WatchdogAPI{
		monitor: monitor,
		logger:  logger.With().Str("component", "watchdog_api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", api.handleHealth)
	mux.HandleFunc("GET /status", api.handleStatus)
	mux.HandleFunc("GET /events", api.handleEvents)
	mux.HandleFunc("POST /restart/{service}", api.handleRestart)

	return newServer(addr, mux, api.logger)
}

func (a *WatchdogAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *WatchdogAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	events := a.monitor.Events()
	if len(events) > 20 {
		events = events[len(events)-20:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        a.monitor.Aggregate(),
		"services":      a.monitor.Snapshot(),
		"recent_events": events,
	})
}

func (a *WatchdogAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": a.monitor.Events()})
}

func (a *WatchdogAPI) handleRestart(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	if err := a.monitor.RestartByName(r.Context(), service); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "service": service})
}
