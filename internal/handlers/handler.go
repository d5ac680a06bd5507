package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ipnet-mesh/meshbot/internal/eventlog"
	"github.com/ipnet-mesh/meshbot/internal/knowledge"
	"github.com/ipnet-mesh/meshbot/internal/registry"
	"github.com/ipnet-mesh/meshbot/internal/store"
)

// Handler contains shared dependencies for all status API handlers. The
// API is read-only: it observes the agent, it never injects traffic.
type Handler struct {
	store     store.RecordStore
	registry  *registry.Registry
	events    *eventlog.Log
	knowledge *knowledge.Base
	startedAt time.Time
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(s store.RecordStore, r *registry.Registry, e *eventlog.Log, kb *knowledge.Base) *Handler {
	return &Handler{
		store:     s,
		registry:  r,
		events:    e,
		knowledge: kb,
		startedAt: time.Now(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
