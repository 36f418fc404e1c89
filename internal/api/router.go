package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultWSPath is the relay endpoint when websocket.path is unset.
const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/token", s.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/device", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/params", s.handleGetDeviceParams)
				r.Put("/params", s.handleSetDeviceParams)
				r.Get("/state", s.handleGetDeviceState)
				r.Post("/reboot", s.handleRebootDevice)
				r.Post("/reset", s.handleResetDevice)
				r.Post("/renew-cert", s.handleRenewCert)
			})

			r.Get("/window", s.handleGetWindow)
			r.Post("/window", s.handleSetWindow)
			r.Get("/history", s.handleGetHistory)

			r.Get(s.wsPath(), s.handleWebSocket)
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return defaultWSPath
	}
	return s.wsCfg.Path
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Session       sessionSummary `json:"session"`
	WindowReady   bool           `json:"window_ready"`
	WSClients     int            `json:"websocket_clients"`
}

type sessionSummary struct {
	State             string `json:"state"`
	URL               string `json:"url"`
	Pending           int    `json:"pending"`
	ReconnectAttempt  int    `json:"reconnect_attempt"`
	RequestsSent      uint64 `json:"requests_sent"`
	ResponsesReceived uint64 `json:"responses_received"`
	Timeouts          uint64 `json:"timeouts"`
	MessagesReceived  uint64 `json:"messages_received"`
	ReconnectsTotal   uint64 `json:"reconnects_total"`
	LastActivity      string `json:"last_activity,omitempty"`
}

// handleHealth reports "ok" when the window is controllable and "degraded"
// otherwise. It always answers 200 so that monitoring can read the body.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.session.Stats()
	ready := s.window.Ready()

	summary := sessionSummary{
		State:             stats.State.String(),
		URL:               s.session.URL(),
		Pending:           stats.Pending,
		ReconnectAttempt:  stats.ReconnectAttempt,
		RequestsSent:      stats.RequestsSent,
		ResponsesReceived: stats.ResponsesReceived,
		Timeouts:          stats.Timeouts,
		MessagesReceived:  stats.MessagesReceived,
		ReconnectsTotal:   stats.ReconnectsTotal,
	}
	if !stats.LastActivity.IsZero() {
		summary.LastActivity = stats.LastActivity.UTC().Format(time.RFC3339)
	}

	status := "ok"
	if !ready {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Session:       summary,
		WindowReady:   ready,
		WSClients:     s.hub.ClientCount(),
	})
}
