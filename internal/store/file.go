package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ipnet-mesh/meshbot/internal/meshid"
	"github.com/ipnet-mesh/meshbot/internal/models"
)

const (
	messagesFileName = "messages.txt"
	nodeFileName     = "node.json"
	prefsFileName    = "prefs.json"
	eventsFileName   = "events.log"
)

// FileStore is the hierarchical file backend: one directory per node
// identity prefix and per channel number, each holding an append-only
// delimited message log, plus a shared event log at the data root.
type FileStore struct {
	dataDir     string
	nodesDir    string
	channelsDir string
	eventsFile  string

	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex

	eventsMu sync.Mutex
}

// NewFileStore creates the data directory tree if needed.
func NewFileStore(dataDir string) (*FileStore, error) {
	s := &FileStore{
		dataDir:     dataDir,
		nodesDir:    filepath.Join(dataDir, "nodes"),
		channelsDir: filepath.Join(dataDir, "channels"),
		eventsFile:  filepath.Join(dataDir, eventsFileName),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, dir := range []string{dataDir, s.nodesDir, s.channelsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

// Ping verifies the data directory is still reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dataDir)
	return err
}

// targetLock returns the mutex serializing writes to one conversation or
// node target. Distinct targets write concurrently.
func (s *FileStore) targetLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *FileStore) conversationKey(conversationID string) string {
	if meshid.IsChannelID(conversationID) {
		return "channel:" + conversationID
	}
	return "node:" + meshid.Prefix(conversationID)
}

func (s *FileStore) conversationDir(conversationID string) string {
	if meshid.IsChannelID(conversationID) {
		return filepath.Join(s.channelsDir, conversationID)
	}
	return filepath.Join(s.nodesDir, meshid.Prefix(conversationID))
}

func (s *FileStore) messagesFile(conversationID string) string {
	return filepath.Join(s.conversationDir(conversationID), messagesFileName)
}

// ========== Messages ==========

// AppendMessage appends one turn to the conversation's message log.
// Format: timestamp|message_type|role|content|sender
func (s *FileStore) AppendMessage(ctx context.Context, msg *models.MessageRecord) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	if msg.ID == "" {
		msg.ID = newRecordID()
	}

	lock := s.targetLock(s.conversationKey(msg.ConversationID))
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.conversationDir(msg.ConversationID), 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}

	f, err := os.OpenFile(s.messagesFile(msg.ConversationID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s|%s|%s|%s|%s\n",
		formatTimestamp(msg.Timestamp), msg.MessageType, msg.Role,
		escapeField(msg.Content), msg.Sender)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func parseMessageLine(line, conversationID string) (models.MessageRecord, error) {
	fields := splitRecordLine(line)
	if len(fields) < 5 {
		return models.MessageRecord{}, fmt.Errorf("malformed message line: %d fields", len(fields))
	}
	ts, err := parseTimestamp(fields[0])
	if err != nil {
		return models.MessageRecord{}, err
	}
	return models.MessageRecord{
		ConversationID: conversationID,
		Timestamp:      ts,
		MessageType:    fields[1],
		Role:           fields[2],
		Content:        unescapeField(fields[3]),
		Sender:         fields[4],
	}, nil
}

func (s *FileStore) readConversation(conversationID string) ([]models.MessageRecord, error) {
	f, err := os.Open(s.messagesFile(conversationID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open message log: %w", err)
	}
	defer f.Close()

	var msgs []models.MessageRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := parseMessageLine(line, conversationID)
		if err != nil {
			// A single corrupt line must not poison the conversation.
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read message log: %w", err)
	}
	return msgs, nil
}

// ConversationMessages returns messages in insertion order with optional
// offset and limit (limit <= 0 returns everything after offset).
func (s *FileStore) ConversationMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.MessageRecord, error) {
	msgs, err := s.readConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if offset >= len(msgs) {
			return nil, nil
		}
		msgs = msgs[offset:]
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// ConversationTail returns the newest n messages in insertion order.
func (s *FileStore) ConversationTail(ctx context.Context, conversationID string, n int) ([]models.MessageRecord, error) {
	msgs, err := s.readConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func (s *FileStore) allMessageFiles() ([]string, error) {
	var convDirs []string
	for _, root := range []string{s.nodesDir, s.channelsDir} {
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", root, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				convDirs = append(convDirs, filepath.Join(root, e.Name()))
			}
		}
	}
	var files []string
	for _, dir := range convDirs {
		p := filepath.Join(dir, messagesFileName)
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	return files, nil
}

// conversationIDFor recovers the conversation id owning a message log.
// Channel directories are named by the channel number; node directories are
// named by the identity prefix, which is not a safe inverse, so the full
// identity comes from the node.json alongside the log.
func (s *FileStore) conversationIDFor(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(dir)
	if filepath.Dir(dir) == s.channelsDir {
		return base
	}
	data, err := os.ReadFile(filepath.Join(dir, nodeFileName))
	if err == nil {
		var node models.NodeRecord
		if json.Unmarshal(data, &node) == nil && node.Identity != "" {
			return node.Identity
		}
	}
	return base
}

// SearchMessages scans every conversation log for a case-insensitive
// substring match, newest first.
func (s *FileStore) SearchMessages(ctx context.Context, keyword string, since float64, limit int) ([]models.MessageRecord, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	files, err := s.allMessageFiles()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(keyword)

	var hits []models.MessageRecord
	for _, path := range files {
		convID := s.conversationIDFor(path)
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			msg, err := parseMessageLine(line, convID)
			if err != nil {
				continue
			}
			if since > 0 && msg.Timestamp < since {
				continue
			}
			if needle != "" && !strings.Contains(strings.ToLower(msg.Content), needle) {
				continue
			}
			hits = append(hits, msg)
		}
		f.Close()
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Timestamp > hits[j].Timestamp })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ConversationStats returns message count and first/last timestamps.
func (s *FileStore) ConversationStats(ctx context.Context, conversationID string) (models.ConversationStats, error) {
	msgs, err := s.readConversation(conversationID)
	if err != nil {
		return models.ConversationStats{}, err
	}
	stats := models.ConversationStats{TotalMessages: len(msgs)}
	for i, m := range msgs {
		if i == 0 || m.Timestamp < stats.FirstSeen {
			stats.FirstSeen = m.Timestamp
		}
		if m.Timestamp > stats.LastSeen {
			stats.LastSeen = m.Timestamp
		}
	}
	return stats, nil
}

// Stats aggregates counts across every conversation.
func (s *FileStore) Stats(ctx context.Context) (models.StoreStats, error) {
	files, err := s.allMessageFiles()
	if err != nil {
		return models.StoreStats{}, err
	}
	stats := models.StoreStats{TotalConversations: len(files)}
	for _, path := range files {
		lines, err := readLines(path)
		if err != nil {
			continue
		}
		for _, line := range lines {
			fields := splitRecordLine(line)
			if len(fields) < 5 {
				continue
			}
			stats.TotalMessages++
			switch fields[1] {
			case models.TypeChannel:
				stats.ChannelMessages++
			case models.TypeDirect:
				stats.DirectMessages++
			}
		}
	}
	return stats, nil
}

// PruneConversation keeps only the newest max messages, rewriting the log
// atomically via a temp file so readers never see a partial record.
func (s *FileStore) PruneConversation(ctx context.Context, conversationID string, max int) error {
	if max <= 0 {
		return nil
	}
	lock := s.targetLock(s.conversationKey(conversationID))
	lock.Lock()
	defer lock.Unlock()

	path := s.messagesFile(conversationID)
	lines, err := readLines(path)
	if err != nil || len(lines) <= max {
		return err
	}
	return rewriteLines(path, lines[len(lines)-max:])
}

// ========== Nodes ==========

func (s *FileStore) nodeDir(identity string) string {
	return filepath.Join(s.nodesDir, meshid.Prefix(identity))
}

// GetNode returns the node record, or (nil, nil) when unknown.
func (s *FileStore) GetNode(ctx context.Context, identity string) (*models.NodeRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.nodeDir(identity), nodeFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read node record: %w", err)
	}
	var node models.NodeRecord
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode node record: %w", err)
	}
	return &node, nil
}

// PutNode writes the whole node record atomically.
func (s *FileStore) PutNode(ctx context.Context, node *models.NodeRecord) error {
	if err := meshid.Validate(node.Identity); err != nil {
		return err
	}
	lock := s.targetLock("node:" + meshid.Prefix(node.Identity))
	lock.Lock()
	defer lock.Unlock()

	dir := s.nodeDir(node.Identity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create node dir: %w", err)
	}
	data, err := json.MarshalIndent(node, "", "  ")
	if err != nil {
		return fmt.Errorf("encode node record: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, nodeFileName), data)
}

// ListNodes returns nodes ordered by last_seen descending.
func (s *FileStore) ListNodes(ctx context.Context, filter NodeFilter) ([]models.NodeRecord, error) {
	entries, err := os.ReadDir(s.nodesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read nodes dir: %w", err)
	}

	var nodes []models.NodeRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.nodesDir, e.Name(), nodeFileName))
		if err != nil {
			continue
		}
		var node models.NodeRecord
		if err := json.Unmarshal(data, &node); err != nil {
			continue
		}
		if filter.OnlineOnly && !node.IsOnline {
			continue
		}
		if filter.NamedOnly && node.Name == "" {
			continue
		}
		nodes = append(nodes, node)
	}

	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].LastSeen > nodes[j].LastSeen })
	if filter.Limit > 0 && len(nodes) > filter.Limit {
		nodes = nodes[:filter.Limit]
	}
	return nodes, nil
}

// ========== Preferences ==========

func (s *FileStore) readPrefs(identity string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(s.nodeDir(identity), prefsFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read prefs: %w", err)
	}
	prefs := map[string]string{}
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("decode prefs: %w", err)
	}
	return prefs, nil
}

// SetNodePref stores one preference key for a node.
func (s *FileStore) SetNodePref(ctx context.Context, identity, key, value string) error {
	lock := s.targetLock("node:" + meshid.Prefix(identity))
	lock.Lock()
	defer lock.Unlock()

	prefs, err := s.readPrefs(identity)
	if err != nil {
		return err
	}
	if value == "" {
		delete(prefs, key)
	} else {
		prefs[key] = value
	}

	dir := s.nodeDir(identity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create node dir: %w", err)
	}
	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, prefsFileName), data)
}

// GetNodePref returns one preference value and whether it was set.
func (s *FileStore) GetNodePref(ctx context.Context, identity, key string) (string, bool, error) {
	prefs, err := s.readPrefs(identity)
	if err != nil {
		return "", false, err
	}
	v, ok := prefs[key]
	return v, ok, nil
}

// NodePrefs returns every preference stored for a node.
func (s *FileStore) NodePrefs(ctx context.Context, identity string) (map[string]string, error) {
	return s.readPrefs(identity)
}

// ========== Events ==========

// AppendEvent appends one event to the shared log at the data root.
// Format: timestamp|event_type|node_id|node_name|details|flags
func (s *FileStore) AppendEvent(ctx context.Context, evt *models.EventRecord) error {
	if evt.Timestamp == 0 {
		evt.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	if evt.ID == "" {
		evt.ID = newRecordID()
	}

	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	f, err := os.OpenFile(s.eventsFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	flags := ""
	if evt.Inconsistent {
		flags = "inconsistent"
	}
	line := fmt.Sprintf("%s|%s|%s|%s|%s|%s\n",
		formatTimestamp(evt.Timestamp), evt.EventType, evt.NodeID,
		escapeField(evt.NodeName), escapeField(evt.Details), flags)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func parseEventLine(line string) (models.EventRecord, error) {
	fields := splitRecordLine(line)
	if len(fields) < 6 {
		return models.EventRecord{}, fmt.Errorf("malformed event line: %d fields", len(fields))
	}
	ts, err := parseTimestamp(fields[0])
	if err != nil {
		return models.EventRecord{}, err
	}
	return models.EventRecord{
		Timestamp:    ts,
		EventType:    fields[1],
		NodeID:       fields[2],
		NodeName:     unescapeField(fields[3]),
		Details:      unescapeField(fields[4]),
		Inconsistent: fields[5] == "inconsistent",
	}, nil
}

func (s *FileStore) readEvents() ([]models.EventRecord, error) {
	lines, err := readLines(s.eventsFile)
	if err != nil {
		return nil, err
	}
	var events []models.EventRecord
	for _, line := range lines {
		evt, err := parseEventLine(line)
		if err != nil {
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

// RecentEvents returns the newest events, most recent first.
func (s *FileStore) RecentEvents(ctx context.Context, limit int) ([]models.EventRecord, error) {
	if limit <= 0 {
		limit = defaultRecentEventsLimit
	}
	events, err := s.readEvents()
	if err != nil {
		return nil, err
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	reverse(events)
	return events, nil
}

// EventsByNode filters events by node id substring and time lower bound,
// newest first.
func (s *FileStore) EventsByNode(ctx context.Context, nodeID string, since float64, limit int) ([]models.EventRecord, error) {
	if limit <= 0 {
		limit = defaultEventsByNodeLimit
	}
	events, err := s.readEvents()
	if err != nil {
		return nil, err
	}
	var hits []models.EventRecord
	for _, evt := range events {
		if nodeID != "" && !strings.Contains(evt.NodeID, nodeID) {
			continue
		}
		if since > 0 && evt.Timestamp < since {
			continue
		}
		hits = append(hits, evt)
	}
	reverse(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// TrimEvents drops the oldest entries so at most max remain. The rewrite
// goes through a temp file and rename, so a reader never sees a partial
// record mid-trim.
func (s *FileStore) TrimEvents(ctx context.Context, max int) error {
	if max <= 0 {
		return nil
	}
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	lines, err := readLines(s.eventsFile)
	if err != nil || len(lines) <= max {
		return err
	}
	return rewriteLines(s.eventsFile, lines[len(lines)-max:])
}

// ========== helpers ==========

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

func rewriteLines(path string, lines []string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return writeFileAtomic(path, []byte(b.String()))
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func reverse(events []models.EventRecord) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
