package models

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message types.
const (
	TypeDirect    = "direct"
	TypeChannel   = "channel"
	TypeBroadcast = "broadcast"
)

// MessageRecord represents one stored conversation turn.
// ConversationID is either a channel number rendered as a decimal string
// or a node identity. Records are append-only and never mutated.
type MessageRecord struct {
	ID             string  `json:"id"` // ULID
	ConversationID string  `json:"conversation_id"`
	Role           string  `json:"role"`
	Content        string  `json:"content"`
	Timestamp      float64 `json:"ts"` // Unix seconds
	MessageType    string  `json:"message_type"`
	Sender         string  `json:"sender,omitempty"`
}

// ConversationStats summarizes one conversation.
type ConversationStats struct {
	TotalMessages int     `json:"total_messages"`
	FirstSeen     float64 `json:"first_seen,omitempty"`
	LastSeen      float64 `json:"last_seen,omitempty"`
}

// StoreStats summarizes the whole message store.
type StoreStats struct {
	TotalMessages      int `json:"total_messages"`
	TotalConversations int `json:"total_conversations"`
	ChannelMessages    int `json:"channel_messages"`
	DirectMessages     int `json:"direct_messages"`
}

// Turn is the projection of a message used as reasoning context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
