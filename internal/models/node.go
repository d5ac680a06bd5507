package models

// NodeRecord represents a mesh network participant.
// Identity is the full public-key-like string; on-disk addressing may use a
// short prefix but the full identity is always kept in the record itself.
type NodeRecord struct {
	Identity     string  `json:"identity"`
	Name         string  `json:"name,omitempty"`
	IsOnline     bool    `json:"is_online"`
	FirstSeen    float64 `json:"first_seen"` // set once, immutable afterwards
	LastSeen     float64 `json:"last_seen"`
	LastAdvert   float64 `json:"last_advert,omitempty"`
	TotalAdverts int     `json:"total_adverts"`
}
