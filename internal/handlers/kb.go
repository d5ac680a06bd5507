package handlers

import "net/http"

// SearchKnowledge handles knowledge-base lookups. Query parameter: q.
func (h *Handler) SearchKnowledge(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.Error(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	if h.knowledge == nil {
		h.Error(w, http.StatusNotFound, "no knowledge base configured")
		return
	}
	hits := h.knowledge.Search(query, 5)
	h.JSON(w, http.StatusOK, map[string]interface{}{"results": hits, "count": len(hits)})
}
