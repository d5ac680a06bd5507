package handlers

import (
	"net/http"
	"strconv"
)

// SearchHit is one message search result.
type SearchHit struct {
	ConversationID string  `json:"conversation_id"`
	Role           string  `json:"role"`
	Content        string  `json:"content"`
	Timestamp      float64 `json:"timestamp"`
	Age            string  `json:"age"`
}

// Search handles the global message search endpoint. Query parameters:
// q=<substring>, since=<unix seconds>, limit=N.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.Error(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	var since float64
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 {
			h.Error(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = parsed
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n < 100 {
			limit = n
		} else {
			limit = 100
		}
	}

	msgs, err := h.store.SearchMessages(r.Context(), query, since, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}

	hits := make([]SearchHit, 0, len(msgs))
	for _, m := range msgs {
		hits = append(hits, SearchHit{
			ConversationID: m.ConversationID,
			Role:           m.Role,
			Content:        m.Content,
			Timestamp:      m.Timestamp,
			Age:            formatTimeAgo(m.Timestamp),
		})
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"results": hits, "count": len(hits)})
}
