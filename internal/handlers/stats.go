package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ipnet-mesh/meshbot/internal/store"
)

// StatsResponse summarizes the agent's stored traffic and known network.
type StatsResponse struct {
	TotalMessages      int    `json:"total_messages"`
	TotalConversations int    `json:"total_conversations"`
	ChannelMessages    int    `json:"channel_messages"`
	DirectMessages     int    `json:"direct_messages"`
	NodesKnown         int    `json:"nodes_known"`
	NodesOnline        int    `json:"nodes_online"`
	LastActivity       string `json:"last_activity"`
}

// Stats handles the store statistics endpoint.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read store stats")
		return
	}

	all, err := h.registry.List(ctx, store.NodeFilter{})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list nodes")
		return
	}
	online := 0
	for _, n := range all {
		if n.IsOnline {
			online++
		}
	}

	lastActivity := "no activity yet"
	if len(all) > 0 {
		// Nodes come back last_seen descending.
		lastActivity = formatTimeAgo(all[0].LastSeen)
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalMessages:      stats.TotalMessages,
		TotalConversations: stats.TotalConversations,
		ChannelMessages:    stats.ChannelMessages,
		DirectMessages:     stats.DirectMessages,
		NodesKnown:         len(all),
		NodesOnline:        online,
		LastActivity:       lastActivity,
	})
}

// formatTimeAgo formats a unix-seconds timestamp as a human-readable
// "X ago" string.
func formatTimeAgo(ts float64) string {
	diff := time.Since(time.Unix(int64(ts), 0))

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}
