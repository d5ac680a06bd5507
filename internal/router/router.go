package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ipnet-mesh/meshbot/internal/limiter"
	"github.com/ipnet-mesh/meshbot/internal/mesh"
	"github.com/ipnet-mesh/meshbot/internal/meshid"
	"github.com/ipnet-mesh/meshbot/internal/metrics"
	"github.com/ipnet-mesh/meshbot/internal/models"
	"github.com/ipnet-mesh/meshbot/internal/reasoning"
	"github.com/ipnet-mesh/meshbot/internal/registry"
	"github.com/ipnet-mesh/meshbot/internal/store"
)

// Options configure a Router.
type Options struct {
	// MaxMessageLength bounds each outbound chunk.
	MaxMessageLength int
	// ContextWindow is how many recent turns feed the reasoner.
	ContextWindow int
	// MaxConversationMessages bounds per-conversation retention.
	MaxConversationMessages int
	// ListenChannel is the only channel the agent answers on.
	ListenChannel string
	// ChunkDelay paces multi-chunk sends.
	ChunkDelay time.Duration
	// ReasoningTimeout bounds each reasoner call.
	ReasoningTimeout time.Duration
}

// Router classifies inbound mesh messages, decides whether to respond,
// assembles conversation context, and pushes chunked replies back out
// through the transport. It owns no persistent state of its own.
type Router struct {
	opts      Options
	store     store.RecordStore
	registry  *registry.Registry
	limiter   limiter.Limiter
	reasoner  reasoning.Reasoner
	transport mesh.Transport
	log       zerolog.Logger

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// New creates a router. The transport handle is explicit; there is no
// process-wide transport singleton.
func New(opts Options, s store.RecordStore, reg *registry.Registry, lim limiter.Limiter, rsn reasoning.Reasoner, tr mesh.Transport, log zerolog.Logger) *Router {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 120
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 10
	}
	if opts.MaxConversationMessages <= 0 {
		opts.MaxConversationMessages = 100
	}
	if opts.ReasoningTimeout <= 0 {
		opts.ReasoningTimeout = 30 * time.Second
	}
	return &Router{
		opts:      opts,
		store:     s,
		registry:  reg,
		limiter:   lim,
		reasoner:  rsn,
		transport: tr,
		log:       log.With().Str("component", "router").Logger(),
		sleep:     time.Sleep,
	}
}

// HandleMessage processes one inbound message end to end and reports
// whether a reply was sent. It never panics across the transport boundary;
// every failure is logged and answered with a best-effort apology.
func (r *Router) HandleMessage(ctx context.Context, msg mesh.Message) bool {
	log := r.log.With().
		Str("delivery_id", uuid.New().String()).
		Str("sender", meshid.Prefix(msg.Sender)).
		Str("type", msg.MessageType).
		Logger()

	metrics.MessagesReceived.WithLabelValues(msg.MessageType).Inc()

	// Self-filter runs before anything else: answering our own traffic
	// would loop forever.
	if meshid.SelfMatch(r.transport.OwnIdentity(), msg.Sender) {
		metrics.MessagesIgnored.WithLabelValues("self").Inc()
		return false
	}

	// Every sighting updates presence, eligible or not.
	if _, err := r.registry.Upsert(ctx, registry.Observation{
		Identity: msg.Sender,
		Name:     msg.SenderName,
		Presence: registry.PresenceOnline,
		SeenAt:   msg.Timestamp,
	}); err != nil {
		log.Warn().Err(err).Msg("sender upsert failed")
	}

	if !r.eligible(msg) {
		metrics.MessagesIgnored.WithLabelValues("not_addressed").Inc()
		return false
	}

	if msg.MessageType == models.TypeChannel && r.registry.Quiet(ctx, msg.Sender) {
		metrics.MessagesIgnored.WithLabelValues("quiet").Inc()
		log.Debug().Msg("sender prefers quiet, skipping channel reply")
		return false
	}

	allowed, err := r.limiter.Allow(ctx, msg.Sender)
	if err != nil {
		log.Warn().Err(err).Msg("reply limiter check failed")
	} else if !allowed {
		metrics.MessagesIgnored.WithLabelValues("rate_limited").Inc()
		log.Info().Msg("reply budget exhausted for sender")
		return false
	}

	conversationID, destination := r.route(msg)

	if err := r.respond(ctx, log, msg, conversationID, destination); err != nil {
		r.apologize(ctx, log, destination, err)
		return false
	}
	return true
}

// eligible applies the direct/channel/broadcast decision table.
func (r *Router) eligible(msg mesh.Message) bool {
	switch msg.MessageType {
	case models.TypeDirect:
		return true
	case models.TypeChannel:
		if msg.Channel != r.opts.ListenChannel {
			return false
		}
		return mentioned(msg.Content, r.transport.OwnName())
	default:
		// Broadcast and anything unrecognized: never answered.
		return false
	}
}

// mentioned reports whether content contains @name or @[name],
// case-insensitively.
func mentioned(content, name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(content)
	needle := strings.ToLower(name)
	return strings.Contains(lower, "@"+needle) ||
		strings.Contains(lower, "@["+needle+"]")
}

// stripMention removes the first @name or @[name] reference so the
// reasoner sees the question, not the addressing.
func stripMention(content, name string) string {
	if name == "" {
		return content
	}
	for _, form := range []string{"@[" + name + "]", "@" + name} {
		if idx := indexFold(content, form); idx >= 0 {
			content = content[:idx] + content[idx+len(form):]
			break
		}
	}
	return strings.TrimSpace(strings.Join(strings.Fields(content), " "))
}

// indexFold is a case-insensitive strings.Index.
func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}

// route resolves the conversation id and the reply destination.
func (r *Router) route(msg mesh.Message) (conversationID, destination string) {
	if msg.MessageType == models.TypeChannel {
		return msg.Channel, msg.Channel
	}
	return msg.Sender, msg.Sender
}

func (r *Router) respond(ctx context.Context, log zerolog.Logger, msg mesh.Message, conversationID, destination string) error {
	// Context is the window before this message; the inbound turn itself
	// is written before the reasoning call so a timeout never loses it.
	history := r.context(ctx, log, conversationID)

	inbound := &models.MessageRecord{
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        msg.Content,
		Timestamp:      msg.Timestamp,
		MessageType:    msg.MessageType,
		Sender:         msg.Sender,
	}
	if err := r.store.AppendMessage(ctx, inbound); err != nil {
		return fmt.Errorf("store inbound turn: %w", err)
	}

	reply, err := r.reason(ctx, msg, history)
	if err != nil {
		return err
	}
	if reply.Text == "" {
		log.Debug().Msg("reasoner returned nothing to say")
		return nil
	}

	chunks := chunk(reply.Text, r.opts.MaxMessageLength)
	for i, c := range chunks {
		if i > 0 && r.opts.ChunkDelay > 0 {
			r.sleep(r.opts.ChunkDelay)
		}
		if !r.transport.Send(ctx, destination, c) {
			metrics.ChunkSendFailures.Inc()
			log.Warn().Int("chunk", i+1).Int("total", len(chunks)).Msg("transport refused chunk")
			continue
		}
		metrics.ChunksSent.Inc()
	}
	metrics.RepliesSent.Inc()

	if err := r.limiter.Record(ctx, msg.Sender); err != nil {
		log.Warn().Err(err).Msg("reply limiter record failed")
	}

	// The stored assistant turn is the full reply, not the chunks.
	outbound := &models.MessageRecord{
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        reply.Text,
		MessageType:    msg.MessageType,
	}
	if err := r.store.AppendMessage(ctx, outbound); err != nil {
		log.Error().Err(err).Msg("store reply turn failed")
	}

	if err := r.store.PruneConversation(ctx, conversationID, r.opts.MaxConversationMessages); err != nil {
		log.Warn().Err(err).Msg("conversation prune failed")
	}

	log.Info().Int("chunks", len(chunks)).Str("conversation", conversationID).Msg("reply sent")
	return nil
}

// context loads the recent window, oldest first. A store failure degrades
// to an empty context rather than aborting the reply.
func (r *Router) context(ctx context.Context, log zerolog.Logger, conversationID string) []models.Turn {
	msgs, err := r.store.ConversationTail(ctx, conversationID, r.opts.ContextWindow)
	if err != nil {
		log.Warn().Err(err).Msg("context load failed, replying without history")
		return nil
	}
	turns := make([]models.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, models.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

func (r *Router) reason(ctx context.Context, msg mesh.Message, history []models.Turn) (reasoning.Reply, error) {
	rctx, cancel := context.WithTimeout(ctx, r.opts.ReasoningTimeout)
	defer cancel()

	start := time.Now()
	reply, err := r.reasoner.Run(rctx, reasoning.Request{
		Sender:     msg.Sender,
		SenderName: msg.SenderName,
		Content:    stripMention(msg.Content, r.transport.OwnName()),
		Channel:    msg.Channel,
		History:    history,
	})
	metrics.ReasoningDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return reasoning.Reply{}, fmt.Errorf("reasoning: %w", err)
	}
	return reply, nil
}

// apologize sends a short best-effort failure reply. Each error class gets
// its own log line so operators can tell auth, throttling and timeouts
// apart without payload inspection.
func (r *Router) apologize(ctx context.Context, log zerolog.Logger, destination string, err error) {
	var text string
	switch {
	case errors.Is(err, reasoning.ErrUnauthorized):
		metrics.ReasoningFailures.WithLabelValues("unauthorized").Inc()
		log.Error().Err(err).Msg("reasoning backend rejected credentials")
		text = "sorry, I can't reach my reasoning service right now"
	case errors.Is(err, reasoning.ErrRateLimited):
		metrics.ReasoningFailures.WithLabelValues("rate_limited").Inc()
		log.Warn().Err(err).Msg("reasoning backend throttled us")
		text = "sorry, I'm being throttled; try again in a minute"
	case errors.Is(err, context.DeadlineExceeded):
		metrics.ReasoningFailures.WithLabelValues("timeout").Inc()
		log.Warn().Err(err).Msg("reasoning timed out")
		text = "sorry, that took too long to think about"
	default:
		metrics.ReasoningFailures.WithLabelValues("other").Inc()
		log.Error().Err(err).Msg("message handling failed")
		text = "sorry, something went wrong handling that"
	}

	if !r.transport.Send(ctx, destination, text) {
		log.Warn().Msg("apology send failed")
	}
}
