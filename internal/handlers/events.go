package handlers

import (
	"net/http"
	"strconv"

	"github.com/ipnet-mesh/meshbot/internal/models"
)

// ListEvents handles the recent-events endpoint. Query parameters:
// limit=N, node=<identity fragment>.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n < 200 {
			limit = n
		} else {
			limit = 200
		}
	}

	var events []models.EventRecord
	var err error
	if node := r.URL.Query().Get("node"); node != "" {
		events, err = h.events.ByNode(r.Context(), node, 0, limit)
	} else {
		events, err = h.events.Recent(r.Context(), limit)
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}
