package reasoning

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ipnet-mesh/meshbot/internal/eventlog"
	"github.com/ipnet-mesh/meshbot/internal/knowledge"
	"github.com/ipnet-mesh/meshbot/internal/registry"
	"github.com/ipnet-mesh/meshbot/internal/store"
)

// RulesReasoner answers with built-in command handlers and knowledge-base
// lookups. It never calls out to the network, so it works on an otherwise
// offline node.
type RulesReasoner struct {
	store     store.RecordStore
	registry  *registry.Registry
	events    *eventlog.Log
	knowledge *knowledge.Base
	startedAt time.Time
}

// NewRules creates the built-in reasoner. The knowledge base may be nil.
func NewRules(s store.RecordStore, r *registry.Registry, e *eventlog.Log, kb *knowledge.Base) *RulesReasoner {
	return &RulesReasoner{
		store:     s,
		registry:  r,
		events:    e,
		knowledge: kb,
		startedAt: time.Now(),
	}
}

const helpText = "commands: ping, help, status, history [n], nodes, events, " +
	"search <text>, remember <key>=<value>, recall [key], forget <key>"

// Run dispatches on the first word of the message. Unrecognized input
// falls through to the knowledge base.
func (r *RulesReasoner) Run(ctx context.Context, req Request) (Reply, error) {
	text := strings.TrimSpace(req.Content)
	cmd, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "ping":
		return Reply{Text: "pong"}, nil
	case "help", "?":
		return Reply{Text: helpText}, nil
	case "status":
		return r.status(ctx)
	case "history":
		return r.history(ctx, req, rest)
	case "nodes":
		return r.nodes(ctx)
	case "events":
		return r.recentEvents(ctx)
	case "search":
		return r.search(ctx, rest)
	case "remember":
		return r.remember(ctx, req.Sender, rest)
	case "recall":
		return r.recall(ctx, req.Sender, rest)
	case "forget":
		return r.forget(ctx, req.Sender, rest)
	}

	return r.lookup(text)
}

func (r *RulesReasoner) status(ctx context.Context) (Reply, error) {
	stats, err := r.store.Stats(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("read store stats: %w", err)
	}
	online, err := r.registry.List(ctx, store.NodeFilter{OnlineOnly: true})
	if err != nil {
		return Reply{}, fmt.Errorf("list nodes: %w", err)
	}
	uptime := time.Since(r.startedAt).Round(time.Second)
	return Reply{Text: fmt.Sprintf("up %s, %d msgs in %d conversations, %d nodes online",
		uptime, stats.TotalMessages, stats.TotalConversations, len(online))}, nil
}

func (r *RulesReasoner) history(ctx context.Context, req Request, arg string) (Reply, error) {
	n := 5
	if arg != "" {
		parsed, err := strconv.Atoi(arg)
		if err != nil || parsed <= 0 {
			return Reply{Text: "usage: history [n]"}, nil
		}
		if parsed < 20 {
			n = parsed
		} else {
			n = 20
		}
	}
	conv := req.Sender
	if req.Channel != "" {
		conv = req.Channel
	}
	msgs, err := r.store.ConversationTail(ctx, conv, n)
	if err != nil {
		return Reply{}, fmt.Errorf("read history: %w", err)
	}
	if len(msgs) == 0 {
		return Reply{Text: "no history yet"}, nil
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return Reply{Text: b.String()}, nil
}

func (r *RulesReasoner) nodes(ctx context.Context) (Reply, error) {
	nodes, err := r.registry.List(ctx, store.NodeFilter{Limit: 8})
	if err != nil {
		return Reply{}, fmt.Errorf("list nodes: %w", err)
	}
	if len(nodes) == 0 {
		return Reply{Text: "no nodes heard yet"}, nil
	}
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		name := n.Name
		if name == "" {
			name = n.Identity[:min(8, len(n.Identity))]
		}
		if n.IsOnline {
			name += "*"
		}
		names = append(names, name)
	}
	return Reply{Text: strings.Join(names, ", ")}, nil
}

func (r *RulesReasoner) recentEvents(ctx context.Context) (Reply, error) {
	events, err := r.events.Recent(ctx, 5)
	if err != nil {
		return Reply{}, fmt.Errorf("read events: %w", err)
	}
	if len(events) == 0 {
		return Reply{Text: "no events yet"}, nil
	}
	var b strings.Builder
	for i, e := range events {
		if i > 0 {
			b.WriteString("\n")
		}
		who := e.NodeName
		if who == "" {
			who = e.NodeID[:min(8, len(e.NodeID))]
		}
		fmt.Fprintf(&b, "%s %s %s", who, e.EventType, e.Age)
	}
	return Reply{Text: b.String()}, nil
}

func (r *RulesReasoner) search(ctx context.Context, query string) (Reply, error) {
	if query == "" {
		return Reply{Text: "usage: search <text>"}, nil
	}
	hits, err := r.store.SearchMessages(ctx, query, 0, 3)
	if err != nil {
		return Reply{}, fmt.Errorf("search messages: %w", err)
	}
	if len(hits) == 0 {
		return Reply{Text: "no matches"}, nil
	}
	var b strings.Builder
	for i, m := range hits {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return Reply{Text: b.String()}, nil
}

func (r *RulesReasoner) remember(ctx context.Context, sender, arg string) (Reply, error) {
	key, value, ok := strings.Cut(arg, "=")
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if !ok || key == "" || value == "" {
		return Reply{Text: "usage: remember <key>=<value>"}, nil
	}
	if err := r.registry.SetPref(ctx, sender, key, value); err != nil {
		return Reply{Text: err.Error()}, nil
	}
	return Reply{Text: "ok, remembered " + key}, nil
}

func (r *RulesReasoner) recall(ctx context.Context, sender, key string) (Reply, error) {
	key = strings.TrimSpace(key)
	if key != "" {
		v, ok, err := r.registry.Pref(ctx, sender, key)
		if err != nil {
			return Reply{}, fmt.Errorf("read pref: %w", err)
		}
		if !ok {
			return Reply{Text: "nothing remembered for " + key}, nil
		}
		return Reply{Text: key + "=" + v}, nil
	}
	prefs, err := r.registry.Prefs(ctx, sender)
	if err != nil {
		return Reply{}, fmt.Errorf("read prefs: %w", err)
	}
	if len(prefs) == 0 {
		return Reply{Text: "nothing remembered"}, nil
	}
	pairs := make([]string, 0, len(prefs))
	for k, v := range prefs {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return Reply{Text: strings.Join(pairs, ", ")}, nil
}

func (r *RulesReasoner) forget(ctx context.Context, sender, key string) (Reply, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Reply{Text: "usage: forget <key>"}, nil
	}
	if err := r.registry.SetPref(ctx, sender, key, ""); err != nil {
		return Reply{Text: err.Error()}, nil
	}
	return Reply{Text: "forgot " + key}, nil
}

func (r *RulesReasoner) lookup(text string) (Reply, error) {
	if r.knowledge != nil {
		if hits := r.knowledge.Search(text, 1); len(hits) > 0 {
			return Reply{Text: hits[0].Text}, nil
		}
	}
	return Reply{Text: "not sure about that; try 'help'"}, nil
}
