package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ipnet-mesh/meshbot/internal/models"
	"github.com/ipnet-mesh/meshbot/internal/store"
)

// NodeView is the API projection of a node record.
type NodeView struct {
	Identity     string  `json:"identity"`
	Name         string  `json:"name,omitempty"`
	IsOnline     bool    `json:"is_online"`
	FirstSeen    float64 `json:"first_seen"`
	LastSeen     float64 `json:"last_seen"`
	LastSeenAgo  string  `json:"last_seen_ago"`
	LastAdvert   float64 `json:"last_advert,omitempty"`
	TotalAdverts int     `json:"total_adverts"`
}

func nodeView(n models.NodeRecord) NodeView {
	return NodeView{
		Identity:     n.Identity,
		Name:         n.Name,
		IsOnline:     n.IsOnline,
		FirstSeen:    n.FirstSeen,
		LastSeen:     n.LastSeen,
		LastSeenAgo:  formatTimeAgo(n.LastSeen),
		LastAdvert:   n.LastAdvert,
		TotalAdverts: n.TotalAdverts,
	}
}

// ListNodes handles the node listing endpoint. Query parameters: online=1,
// named=1, limit=N.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	filter := store.NodeFilter{
		OnlineOnly: r.URL.Query().Get("online") == "1",
		NamedOnly:  r.URL.Query().Get("named") == "1",
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	nodes, err := h.registry.List(r.Context(), filter)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list nodes")
		return
	}
	views := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, nodeView(n))
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"nodes": views, "count": len(views)})
}

// GetNode handles the single-node endpoint. The id may be a full identity,
// an unambiguous identity prefix, or a display name.
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	node, err := h.registry.Get(ctx, id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load node")
		return
	}
	if node == nil {
		node, err = h.registry.ResolvePrefix(ctx, id)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to resolve node")
			return
		}
	}
	if node == nil {
		node, err = h.registry.ResolveName(ctx, id)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to resolve node")
			return
		}
	}
	if node == nil {
		h.Error(w, http.StatusNotFound, "node not found")
		return
	}

	prefs, err := h.registry.Prefs(ctx, node.Identity)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}
	events, err := h.events.ByNode(ctx, node.Identity, 0, 5)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"node":          nodeView(*node),
		"preferences":   prefs,
		"recent_events": events,
	})
}
