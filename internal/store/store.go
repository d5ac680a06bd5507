package store

import (
	"context"

	"github.com/ipnet-mesh/meshbot/internal/models"
)

// Default result caps applied by every backend when the caller passes
// limit <= 0. Shared here so the backends stay observably identical.
const (
	defaultSearchLimit       = 50
	defaultRecentEventsLimit = 10
	defaultEventsByNodeLimit = 50
)

// NodeFilter narrows ListNodes results.
type NodeFilter struct {
	OnlineOnly bool
	NamedOnly  bool
	Limit      int
}

// RecordStore is the durable store for the three record kinds: conversation
// messages, node identity/presence, and network events. FileStore,
// SQLiteStore and PostgresStore implement this interface with identical
// observable semantics; the contract test suite in store_test.go runs
// against each embedded backend.
type RecordStore interface {
	// Connection management
	Close() error
	Ping(ctx context.Context) error

	// Message operations. Appends assign an ID and timestamp when unset.
	// Conversation retrieval is in insertion order; search is global,
	// case-insensitive substring, newest first. ConversationMessages with
	// limit <= 0 returns everything after offset; SearchMessages with
	// limit <= 0 caps at defaultSearchLimit.
	AppendMessage(ctx context.Context, msg *models.MessageRecord) error
	ConversationMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.MessageRecord, error)
	ConversationTail(ctx context.Context, conversationID string, n int) ([]models.MessageRecord, error)
	SearchMessages(ctx context.Context, keyword string, since float64, limit int) ([]models.MessageRecord, error)
	ConversationStats(ctx context.Context, conversationID string) (models.ConversationStats, error)
	Stats(ctx context.Context) (models.StoreStats, error)
	PruneConversation(ctx context.Context, conversationID string, max int) error

	// Node operations. PutNode is a whole-record write; upsert rules
	// (first_seen immutability, name preservation) live in the registry.
	GetNode(ctx context.Context, identity string) (*models.NodeRecord, error)
	PutNode(ctx context.Context, node *models.NodeRecord) error
	ListNodes(ctx context.Context, filter NodeFilter) ([]models.NodeRecord, error)

	// Per-node preference table. Values are opaque text at this layer.
	SetNodePref(ctx context.Context, identity, key, value string) error
	GetNodePref(ctx context.Context, identity, key string) (string, bool, error)
	NodePrefs(ctx context.Context, identity string) (map[string]string, error)

	// Event operations. The log is append-only and time-ordered;
	// TrimEvents drops the oldest entries beyond max. Reads with
	// limit <= 0 cap at the default limits above.
	AppendEvent(ctx context.Context, evt *models.EventRecord) error
	RecentEvents(ctx context.Context, limit int) ([]models.EventRecord, error)
	EventsByNode(ctx context.Context, nodeID string, since float64, limit int) ([]models.EventRecord, error)
	TrimEvents(ctx context.Context, max int) error
}
