package models

// Network event types.
const (
	EventAdvertisement = "ADVERTISEMENT"
	EventTopology      = "TOPOLOGY"
	EventStatusReply   = "STATUS_REPLY"
)

// EventRecord represents one network event. Advertisement events also drive
// a node registry upsert; Inconsistent marks events whose registry update
// failed after the event itself was durably written.
type EventRecord struct {
	ID           string  `json:"id"` // ULID
	Timestamp    float64 `json:"ts"`
	EventType    string  `json:"event_type"`
	NodeID       string  `json:"node_id,omitempty"`
	NodeName     string  `json:"node_name,omitempty"`
	Details      string  `json:"details,omitempty"`
	Inconsistent bool    `json:"inconsistent,omitempty"`

	// Age is a read-time annotation ("3m ago"); never persisted.
	Age string `json:"age,omitempty"`
}
