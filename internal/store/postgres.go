package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ipnet-mesh/meshbot/internal/meshid"
	"github.com/ipnet-mesh/meshbot/internal/models"
)

// PostgresStore is a server-grade relational backend, schema-equivalent to
// SQLiteStore. Used for deployments where the agent's data directory is not
// local (shared dashboards, multiple bridge instances reading one store).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		seq BIGSERIAL,
		conversation_id TEXT NOT NULL,
		message_type TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		sender TEXT DEFAULT '',
		timestamp DOUBLE PRECISION NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		identity TEXT PRIMARY KEY,
		display_name TEXT DEFAULT '',
		is_online BOOLEAN DEFAULT FALSE,
		first_seen DOUBLE PRECISION NOT NULL,
		last_seen DOUBLE PRECISION NOT NULL,
		last_advert DOUBLE PRECISION DEFAULT 0,
		total_adverts INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS node_prefs (
		identity TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (identity, key)
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		seq BIGSERIAL,
		timestamp DOUBLE PRECISION NOT NULL,
		event_type TEXT NOT NULL,
		node_id TEXT DEFAULT '',
		node_name TEXT DEFAULT '',
		details TEXT DEFAULT '',
		inconsistent BOOLEAN DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_content ON messages(content);
	CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen);
	CREATE INDEX IF NOT EXISTS idx_events_node ON events(node_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_time ON events(timestamp);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ========== Messages ==========

// AppendMessage inserts one conversation turn.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.MessageRecord) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	if msg.ID == "" {
		msg.ID = newRecordID()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, message_type, role, content, sender, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ConversationID, msg.MessageType, msg.Role, msg.Content, msg.Sender, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanPgMessages(rows pgx.Rows) ([]models.MessageRecord, error) {
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

// ConversationMessages returns messages in insertion order.
func (s *PostgresStore) ConversationMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.MessageRecord, error) {
	if limit <= 0 {
		limit = 1<<31 - 1
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, message_type, role, content, sender, timestamp
		FROM messages WHERE conversation_id = $1
		ORDER BY seq ASC LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return scanPgMessages(rows)
}

// ConversationTail returns the newest n messages in insertion order.
func (s *PostgresStore) ConversationTail(ctx context.Context, conversationID string, n int) ([]models.MessageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, message_type, role, content, sender, timestamp FROM (
			SELECT seq, id, conversation_id, message_type, role, content, sender, timestamp
			FROM messages WHERE conversation_id = $1
			ORDER BY seq DESC LIMIT $2
		) tail ORDER BY seq ASC
	`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("query conversation tail: %w", err)
	}
	return scanPgMessages(rows)
}

// SearchMessages performs a global case-insensitive substring search,
// newest first.
func (s *PostgresStore) SearchMessages(ctx context.Context, keyword string, since float64, limit int) ([]models.MessageRecord, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	pattern := "%" + escapeLike(keyword) + "%"
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, message_type, role, content, sender, timestamp
		FROM messages
		WHERE content ILIKE $1 AND timestamp >= $2
		ORDER BY timestamp DESC LIMIT $3
	`, pattern, since, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return scanPgMessages(rows)
}

// ConversationStats returns message count and first/last timestamps.
func (s *PostgresStore) ConversationStats(ctx context.Context, conversationID string) (models.ConversationStats, error) {
	var stats models.ConversationStats
	var first, last *float64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM messages WHERE conversation_id = $1
	`, conversationID).Scan(&stats.TotalMessages, &first, &last)
	if err != nil {
		return stats, fmt.Errorf("conversation stats: %w", err)
	}
	if first != nil {
		stats.FirstSeen = *first
	}
	if last != nil {
		stats.LastSeen = *last
	}
	return stats, nil
}

// Stats aggregates counts across every conversation.
func (s *PostgresStore) Stats(ctx context.Context) (models.StoreStats, error) {
	var stats models.StoreStats
	err := s.pool.QueryRow(ctx, `
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
func (s *PostgresStore) PruneConversation(ctx context.Context, conversationID string, max int) error {
	if max <= 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE conversation_id = $1 AND seq NOT IN (
			SELECT seq FROM messages WHERE conversation_id = $1
			ORDER BY seq DESC LIMIT $2
		)
	`, conversationID, max)
	if err != nil {
		return fmt.Errorf("prune conversation: %w", err)
	}
	return nil
}

// ========== Nodes ==========

// GetNode returns a node by full identity, or (nil, nil) when unknown.
func (s *PostgresStore) GetNode(ctx context.Context, identity string) (*models.NodeRecord, error) {
	node := &models.NodeRecord{}
	err := s.pool.QueryRow(ctx, `
		SELECT identity, display_name, is_online, first_seen, last_seen, last_advert, total_adverts
		FROM nodes WHERE identity = $1
	`, identity).Scan(
		&node.Identity, &node.Name, &node.IsOnline,
		&node.FirstSeen, &node.LastSeen, &node.LastAdvert, &node.TotalAdverts,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get node: %w", err)
	}
	return node, nil
}

// PutNode writes the whole node record.
func (s *PostgresStore) PutNode(ctx context.Context, node *models.NodeRecord) error {
	if err := meshid.Validate(node.Identity); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO nodes (identity, display_name, is_online, first_seen, last_seen, last_advert, total_adverts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			is_online = EXCLUDED.is_online,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			last_advert = EXCLUDED.last_advert,
			total_adverts = EXCLUDED.total_adverts
	`, node.Identity, node.Name, node.IsOnline, node.FirstSeen, node.LastSeen, node.LastAdvert, node.TotalAdverts)
	if err != nil {
		return fmt.Errorf("put node: %w", err)
	}
	return nil
}

// ListNodes returns nodes ordered by last_seen descending.
func (s *PostgresStore) ListNodes(ctx context.Context, filter NodeFilter) ([]models.NodeRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1<<31 - 1
	}
	rows, err := s.pool.Query(ctx, `
		SELECT identity, display_name, is_online, first_seen, last_seen, last_advert, total_adverts
		FROM nodes
		WHERE (NOT $1 OR is_online)
		  AND (NOT $2 OR display_name != '')
		ORDER BY last_seen DESC LIMIT $3
	`, filter.OnlineOnly, filter.NamedOnly, limit)
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
func (s *PostgresStore) SetNodePref(ctx context.Context, identity, key, value string) error {
	if value == "" {
		_, err := s.pool.Exec(ctx, `DELETE FROM node_prefs WHERE identity = $1 AND key = $2`, identity, key)
		return err
	}
	now := float64(time.Now().UnixNano()) / 1e9
	_, err := s.pool.Exec(ctx, `
		INSERT INTO node_prefs (identity, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, identity, key, value, now)
	if err != nil {
		return fmt.Errorf("set pref: %w", err)
	}
	return nil
}

// GetNodePref returns one preference value and whether it was set.
func (s *PostgresStore) GetNodePref(ctx context.Context, identity, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM node_prefs WHERE identity = $1 AND key = $2
	`, identity, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get pref: %w", err)
	}
	return value, true, nil
}

// NodePrefs returns every preference stored for a node.
func (s *PostgresStore) NodePrefs(ctx context.Context, identity string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, value FROM node_prefs WHERE identity = $1
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
func (s *PostgresStore) AppendEvent(ctx context.Context, evt *models.EventRecord) error {
	if evt.Timestamp == 0 {
		evt.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	if evt.ID == "" {
		evt.ID = newRecordID()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (id, timestamp, event_type, node_id, node_name, details, inconsistent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.ID, evt.Timestamp, evt.EventType, evt.NodeID, evt.NodeName, evt.Details, evt.Inconsistent)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func scanPgEvents(rows pgx.Rows) ([]models.EventRecord, error) {
	defer rows.Close()
	var events []models.EventRecord
	for rows.Next() {
		var e models.EventRecord
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.NodeID, &e.NodeName, &e.Details, &e.Inconsistent); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentEvents returns the newest events, most recent first.
func (s *PostgresStore) RecentEvents(ctx context.Context, limit int) ([]models.EventRecord, error) {
	if limit <= 0 {
		limit = defaultRecentEventsLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, event_type, node_id, node_name, details, inconsistent
		FROM events ORDER BY seq DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return scanPgEvents(rows)
}

// EventsByNode filters events by node id substring and time lower bound,
// newest first.
func (s *PostgresStore) EventsByNode(ctx context.Context, nodeID string, since float64, limit int) ([]models.EventRecord, error) {
	if limit <= 0 {
		limit = defaultEventsByNodeLimit
	}
	pattern := "%" + escapeLike(nodeID) + "%"
	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, event_type, node_id, node_name, details, inconsistent
		FROM events
		WHERE node_id LIKE $1 AND timestamp >= $2
		ORDER BY seq DESC LIMIT $3
	`, pattern, since, limit)
	if err != nil {
		return nil, fmt.Errorf("events by node: %w", err)
	}
	return scanPgEvents(rows)
}

// TrimEvents drops the oldest entries so at most max remain.
func (s *PostgresStore) TrimEvents(ctx context.Context, max int) error {
	if max <= 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM events WHERE seq NOT IN (
			SELECT seq FROM events ORDER BY seq DESC LIMIT $1
		)
	`, max)
	if err != nil {
		return fmt.Errorf("trim events: %w", err)
	}
	return nil
}
