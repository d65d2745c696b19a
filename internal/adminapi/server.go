// Package adminapi exposes the small HTTP administrative surface
// for operators (health, container lifecycle, terminal stats and
// force-disconnect), plus the websocket upgrade endpoint that hands a new
// connection to the broker.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/webshell/broker/internal/broker"
	"github.com/webshell/broker/internal/clientchannel"
	"github.com/webshell/broker/internal/containerpool"
	"github.com/webshell/broker/internal/logging"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var logger = logging.GetLogger("admin-api")

// idleTolerance is the "is active" cutoff used for the container stats
// endpoint's isActive field.
const idleTolerance = 5 * time.Minute

// containerView is the operator-facing shape of a container record,
// mirroring clientchannel.ContainerCreatedPayload and deliberately
// omitting Record.Password.
type containerView struct {
	ContainerID string    `json:"containerId"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Username    string    `json:"username"`
	CreatedAt   time.Time `json:"createdAt"`
	LastActive  time.Time `json:"lastActive"`
}

func newContainerView(rec containerpool.Record) containerView {
	return containerView{
		ContainerID: rec.ContainerID,
		Host:        rec.Host,
		Port:        rec.Port,
		Username:    rec.Username,
		CreatedAt:   rec.CreatedAt,
		LastActive:  rec.LastActive,
	}
}

func newContainerViews(recs []containerpool.Record) []containerView {
	views := make([]containerView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, newContainerView(rec))
	}

	return views
}

// Server exposes the administrative HTTP surface and the terminal
// websocket endpoint over one shared Broker and containerpool.Manager.
type Server struct {
	broker    *broker.Broker
	pool      *containerpool.Manager
	startedAt time.Time
}

// New constructs a Server bound to b and pool.
func New(b *broker.Broker, pool *containerpool.Manager) *Server {
	return &Server{broker: b, pool: pool, startedAt: time.Now()}
}

// Router builds the full mux, wrapped with CORS and Prometheus middleware.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/terminal", s.handleTerminalUpgrade)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/containers/create", s.handleContainerCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/containers/list", s.handleContainerList).Methods(http.MethodGet)
	r.HandleFunc("/api/containers/stats", s.handleContainerStats).Methods(http.MethodGet)
	r.HandleFunc("/api/containers/{id}", s.handleContainerDelete).Methods(http.MethodDelete)
	r.HandleFunc("/api/containers/end-session", s.handleEndSession).Methods(http.MethodPost)
	r.HandleFunc("/api/terminal-stats", s.handleTerminalStats).Methods(http.MethodGet)
	r.HandleFunc("/api/terminal-disconnect", s.handleTerminalDisconnect).Methods(http.MethodPost)
	r.HandleFunc("/api/terminal-health", s.handleTerminalHealth).Methods(http.MethodGet)

	return withCORS(wrapPrometheus(r))
}

func (s *Server) handleTerminalUpgrade(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}

	ch, err := clientchannel.Upgrade(w, r, id)
	if err != nil {
		logger.Warnf("terminal upgrade failed: %v", err)

		return
	}

	go s.broker.Attach(ch)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "container-service",
	})
}

func (s *Server) handleContainerCreate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	rec, err := s.pool.Create(ctx)
	if err != nil {
		metricsContainersCreateFailed.WithLabelValues().Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})

		return
	}

	metricsContainersCreated.WithLabelValues().Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "container": newContainerView(rec)})
}

func (s *Server) handleContainerList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"containers": newContainerViews(s.pool.List())})
}

func (s *Server) handleContainerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stats": s.pool.Stats(idleTolerance)})
}

func (s *Server) handleContainerDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := s.pool.Stop(ctx, id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "container stopped"})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "malformed request body"})

		return
	}

	found, cleaned := s.broker.EndSession(body.SessionID)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "containersCleanedUp": 0})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "containersCleanedUp": cleaned})
}

func (s *Server) handleTerminalStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":   s.broker.Snapshot(),
		"containers": s.pool.Stats(idleTolerance),
	})
}

func (s *Server) handleTerminalDisconnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SocketID string `json:"socketId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "malformed request body"})

		return
	}

	found := s.broker.ForceDisconnect(body.SocketID, clientchannel.ReasonForceDisconnect)
	writeJSON(w, http.StatusOK, map[string]any{"success": found, "containerStopped": false})
}

func (s *Server) handleTerminalHealth(w http.ResponseWriter, r *http.Request) {
	metricsActiveSessions.Set(float64(s.broker.SessionCount()))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         time.Since(s.startedAt).Seconds(),
		"activeSessions": s.broker.SessionCount(),
		"containerService": map[string]any{
			"containers": newContainerViews(s.pool.List()),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnf("write response: %v", err)
	}
}
