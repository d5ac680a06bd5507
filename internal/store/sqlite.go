package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ipnet-mesh/meshbot/internal/meshid"
	"github.com/ipnet-mesh/meshbot/internal/models"
)

// SQLiteStore is the embedded relational backend. Schema-equivalent to the
// file backend: messages, nodes, node_prefs and events tables with indexes
// on (conversation_id, timestamp) and on content.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database.
// If dbPath is empty, defaults to "./data/meshbot.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/meshbot.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		message_type TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		sender TEXT DEFAULT '',
		timestamp REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		identity TEXT PRIMARY KEY,
		display_name TEXT DEFAULT '',
		is_online INTEGER DEFAULT 0,
		first_seen REAL NOT NULL,
		last_seen REAL NOT NULL,
		last_advert REAL DEFAULT 0,
		total_adverts INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS node_prefs (
		identity TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at REAL NOT NULL,
		PRIMARY KEY (identity, key)
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		timestamp REAL NOT NULL,
		event_type TEXT NOT NULL,
		node_id TEXT DEFAULT '',
		node_name TEXT DEFAULT '',
		details TEXT DEFAULT '',
		inconsistent INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_content ON messages(content);
	CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen);
	CREATE INDEX IF NOT EXISTS idx_events_node ON events(node_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_time ON events(timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ========== Messages ==========

// AppendMessage inserts one conversation turn.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.MessageRecord) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	if msg.ID == "" {
		msg.ID = newRecordID()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, message_type, role, content, sender, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.MessageType, msg.Role, msg.Content, msg.Sender, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]models.MessageRecord, error) {
	defer rows.Close()
	var msgs []models.MessageRecord
	for rows.Next() {
		var m models.MessageRecord
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MessageType, &m.Role, &m.Content, &m.Sender, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ConversationMessages returns messages in insertion order (rowid), which
// tolerates out-of-order timestamps from the transport.
func (s *SQLiteStore) ConversationMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.MessageRecord, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, message_type, role, content, sender, timestamp
		FROM messages WHERE conversation_id = ?
		ORDER BY rowid ASC LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return scanMessages(rows)
}

// ConversationTail returns the newest n messages in insertion order.
func (s *SQLiteStore) ConversationTail(ctx context.Context, conversationID string, n int) ([]models.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, message_type, role, content, sender, timestamp FROM (
			SELECT rowid AS rid, id, conversation_id, message_type, role, content, sender, timestamp
			FROM messages WHERE conversation_id = ?
			ORDER BY rid DESC LIMIT ?
		) ORDER BY rid ASC
	`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("query conversation tail: %w", err)
	}
	return scanMessages(rows)
}

// SearchMessages performs a global case-insensitive substring search,
// newest first.
func (s *SQLiteStore) SearchMessages(ctx context.Context, keyword string, since float64, limit int) ([]models.MessageRecord, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	pattern := "%" + escapeLike(keyword) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, message_type, role, content, sender, timestamp
		FROM messages
		WHERE LOWER(content) LIKE LOWER(?) ESCAPE '\' AND timestamp >= ?
		ORDER BY timestamp DESC LIMIT ?
	`, pattern, since, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return scanMessages(rows)
}

// ConversationStats returns message count and first/last timestamps.
func (s *SQLiteStore) ConversationStats(ctx context.Context, conversationID string) (models.ConversationStats, error) {
	var stats models.ConversationStats
	var first, last sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&stats.TotalMessages, &first, &last)
	if err != nil {
		return stats, fmt.Errorf("conversation stats: %w", err)
	}
	stats.FirstSeen = first.Float64
	stats.LastSeen = last.Float64
	return stats, nil
}

// Stats aggregates counts across every conversation.
func (s *SQLiteStore) Stats(ctx context.Context) (models.StoreStats, error) {
	var stats models.StoreStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT conversation_id),
		       COALESCE(SUM(CASE WHEN message_type = 'channel' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN message_type = 'direct' THEN 1 ELSE 0 END), 0)
		FROM messages
	`).Scan(&stats.TotalMessages, &stats.TotalConversations, &stats.ChannelMessages, &stats.DirectMessages)
	if err != nil {
		return stats, fmt.Errorf("store stats: %w", err)
	}
	return stats, nil
}

// PruneConversation keeps only the newest max messages.
func (s *SQLiteStore) PruneConversation(ctx context.Context, conversationID string, max int) error {
	if max <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE conversation_id = ? AND rowid NOT IN (
			SELECT rowid FROM messages WHERE conversation_id = ?
			ORDER BY rowid DESC LIMIT ?
		)
	`, conversationID, conversationID, max)
	if err != nil {
		return fmt.Errorf("prune conversation: %w", err)
	}
	return nil
}

// ========== Nodes ==========

// GetNode returns a node by full identity, or (nil, nil) when unknown.
func (s *SQLiteStore) GetNode(ctx context.Context, identity string) (*models.NodeRecord, error) {
	node := &models.NodeRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT identity, display_name, is_online, first_seen, last_seen, last_advert, total_adverts
		FROM nodes WHERE identity = ?
	`, identity).Scan(
		&node.Identity, &node.Name, &node.IsOnline,
		&node.FirstSeen, &node.LastSeen, &node.LastAdvert, &node.TotalAdverts,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get node: %w", err)
	}
	return node, nil
}

// PutNode writes the whole node record.
func (s *SQLiteStore) PutNode(ctx context.Context, node *models.NodeRecord) error {
	if err := meshid.Validate(node.Identity); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (identity, display_name, is_online, first_seen, last_seen, last_advert, total_adverts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			display_name = excluded.display_name,
			is_online = excluded.is_online,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			last_advert = excluded.last_advert,
			total_adverts = excluded.total_adverts
	`, node.Identity, node.Name, node.IsOnline, node.FirstSeen, node.LastSeen, node.LastAdvert, node.TotalAdverts)
	if err != nil {
		return fmt.Errorf("put node: %w", err)
	}
	return nil
}

// ListNodes returns nodes ordered by last_seen descending.
func (s *SQLiteStore) ListNodes(ctx context.Context, filter NodeFilter) ([]models.NodeRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, display_name, is_online, first_seen, last_seen, last_advert, total_adverts
		FROM nodes
		WHERE (? = 0 OR is_online = 1)
		  AND (? = 0 OR display_name != '')
		ORDER BY last_seen DESC LIMIT ?
	`, boolInt(filter.OnlineOnly), boolInt(filter.NamedOnly), limit)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []models.NodeRecord
	for rows.Next() {
		var n models.NodeRecord
		if err := rows.Scan(&n.Identity, &n.Name, &n.IsOnline, &n.FirstSeen, &n.LastSeen, &n.LastAdvert, &n.TotalAdverts); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ========== Preferences ==========

// SetNodePref stores one preference key for a node. An empty value deletes
// the key.
func (s *SQLiteStore) SetNodePref(ctx context.Context, identity, key, value string) error {
	if value == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM node_prefs WHERE identity = ? AND key = ?`, identity, key)
		return err
	}
	now := float64(time.Now().UnixNano()) / 1e9
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_prefs (identity, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, identity, key, value, now)
	if err != nil {
		return fmt.Errorf("set pref: %w", err)
	}
	return nil
}

// GetNodePref returns one preference value and whether it was set.
func (s *SQLiteStore) GetNodePref(ctx context.Context, identity, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM node_prefs WHERE identity = ? AND key = ?
	`, identity, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get pref: %w", err)
	}
	return value, true, nil
}

// NodePrefs returns every preference stored for a node.
func (s *SQLiteStore) NodePrefs(ctx context.Context, identity string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM node_prefs WHERE identity = ?
	`, identity)
	if err != nil {
		return nil, fmt.Errorf("node prefs: %w", err)
	}
	defer rows.Close()

	prefs := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		prefs[k] = v
	}
	return prefs, rows.Err()
}

// ========== Events ==========

// AppendEvent inserts one event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, evt *models.EventRecord) error {
	if evt.Timestamp == 0 {
		evt.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	if evt.ID == "" {
		evt.ID = newRecordID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, timestamp, event_type, node_id, node_name, details, inconsistent)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, evt.ID, evt.Timestamp, evt.EventType, evt.NodeID, evt.NodeName, evt.Details, boolInt(evt.Inconsistent))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]models.EventRecord, error) {
	defer rows.Close()
	var events []models.EventRecord
	for rows.Next() {
		var e models.EventRecord
		var inconsistent int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.NodeID, &e.NodeName, &e.Details, &inconsistent); err != nil {
			return nil, err
		}
		e.Inconsistent = inconsistent == 1
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentEvents returns the newest events, most recent first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]models.EventRecord, error) {
	if limit <= 0 {
		limit = defaultRecentEventsLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, event_type, node_id, node_name, details, inconsistent
		FROM events ORDER BY rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return scanEvents(rows)
}

// EventsByNode filters events by node id substring and time lower bound,
// newest first.
func (s *SQLiteStore) EventsByNode(ctx context.Context, nodeID string, since float64, limit int) ([]models.EventRecord, error) {
	if limit <= 0 {
		limit = defaultEventsByNodeLimit
	}
	pattern := "%" + escapeLike(nodeID) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, event_type, node_id, node_name, details, inconsistent
		FROM events
		WHERE node_id LIKE ? ESCAPE '\' AND timestamp >= ?
		ORDER BY rowid DESC LIMIT ?
	`, pattern, since, limit)
	if err != nil {
		return nil, fmt.Errorf("events by node: %w", err)
	}
	return scanEvents(rows)
}

// TrimEvents drops the oldest entries so at most max remain.
func (s *SQLiteStore) TrimEvents(ctx context.Context, max int) error {
	if max <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE rowid NOT IN (
			SELECT rowid FROM events ORDER BY rowid DESC LIMIT ?
		)
	`, max)
	if err != nil {
		return fmt.Errorf("trim events: %w", err)
	}
	return nil
}

// ========== helpers ==========

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// escapeLike escapes LIKE wildcards so keywords are matched literally.
func escapeLike(s string) string {
	r := ""
	for _, c := range s {
		switch c {
		case '%', '_', '\\':
			r += `\` + string(c)
		default:
			r += string(c)
		}
	}
	return r
}
