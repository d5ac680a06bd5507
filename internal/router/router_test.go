package router

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ipnet-mesh/meshbot/internal/limiter"
	"github.com/ipnet-mesh/meshbot/internal/mesh"
	"github.com/ipnet-mesh/meshbot/internal/models"
	"github.com/ipnet-mesh/meshbot/internal/reasoning"
	"github.com/ipnet-mesh/meshbot/internal/registry"
	"github.com/ipnet-mesh/meshbot/internal/store"
)

const ownIdentity = "botbotbotbotbotbotbot111"

// stubReasoner returns a fixed reply or error.
type stubReasoner struct {
	reply reasoning.Reply
	err   error
	// lastReq captures the most recent request for assertions.
	lastReq reasoning.Request
	called  bool
}

func (s *stubReasoner) Run(ctx context.Context, req reasoning.Request) (reasoning.Reply, error) {
	s.called = true
	s.lastReq = req
	if s.err != nil {
		return reasoning.Reply{}, s.err
	}
	return s.reply, nil
}

type fixture struct {
	router    *Router
	store     store.RecordStore
	transport *mesh.MockTransport
	reasoner  *stubReasoner
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	reg := registry.New(s, logger)
	tr := mesh.NewMockTransport(ownIdentity, "meshy")
	rsn := &stubReasoner{reply: reasoning.Reply{Text: "pong"}}

	if opts.ListenChannel == "" {
		opts.ListenChannel = "0"
	}
	r := New(opts, s, reg, limiter.NewMemory(100, time.Minute), rsn, tr, logger)
	r.sleep = func(time.Duration) {}
	return &fixture{router: r, store: s, transport: tr, reasoner: rsn}
}

func direct(content string) mesh.Message {
	return mesh.Message{
		Sender:      "node1node1node1node1node1",
		Content:     content,
		Timestamp:   100,
		MessageType: models.TypeDirect,
	}
}

func channelMsg(channel, content string) mesh.Message {
	return mesh.Message{
		Sender:      "node1node1node1node1node1",
		Content:     content,
		Timestamp:   100,
		MessageType: models.TypeChannel,
		Channel:     channel,
	}
}

func TestDirectPingPong(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	msg := direct("ping")
	if !f.router.HandleMessage(ctx, msg) {
		t.Fatal("expected a reply")
	}

	// One chunk, no suffix.
	sent := f.transport.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(sent))
	}
	if sent[0].Text != "pong" {
		t.Fatalf("expected pong, got %q", sent[0].Text)
	}
	if sent[0].Destination != msg.Sender {
		t.Fatalf("reply sent to %q", sent[0].Destination)
	}

	// Both turns stored against the sender's conversation.
	msgs, err := f.store.ConversationMessages(ctx, msg.Sender, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "ping" || msgs[0].Timestamp != 100 {
		t.Fatalf("inbound record wrong: %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "pong" {
		t.Fatalf("reply record wrong: %+v", msgs[1])
	}
}

func TestSelfFilter(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	cases := []string{
		ownIdentity,             // exact
		ownIdentity[:16],        // we are a superset of the sender
		ownIdentity + "padding", // sender is a superset of us
	}
	for _, sender := range cases {
		msg := direct("ping")
		msg.Sender = sender
		if f.router.HandleMessage(ctx, msg) {
			t.Fatalf("replied to own traffic from %q", sender)
		}
	}
	if f.reasoner.called {
		t.Fatal("self traffic must never reach the reasoner")
	}
	if len(f.transport.Sent()) != 0 {
		t.Fatal("self traffic produced outbound frames")
	}
	// Nothing stored either.
	msgs, _ := f.store.ConversationMessages(ctx, ownIdentity, 0, 0)
	if len(msgs) != 0 {
		t.Fatal("self traffic reached the store")
	}
}

func TestChannelEligibility(t *testing.T) {
	cases := []struct {
		name    string
		msg     mesh.Message
		answers bool
	}{
		{"bare mention on listen channel", channelMsg("0", "hey @meshy what's up"), true},
		{"bracketed mention", channelMsg("0", "hey @[meshy] what's up"), true},
		{"uppercase mention", channelMsg("0", "HEY @MESHY"), true},
		{"no mention", channelMsg("0", "just chatting"), false},
		{"mention on other channel", channelMsg("3", "hey @meshy"), false},
		{"broadcast never answered", mesh.Message{
			Sender: "node1node1node1node1node1", Content: "@meshy hello",
			Timestamp: 100, MessageType: models.TypeBroadcast,
		}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			got := f.router.HandleMessage(context.Background(), c.msg)
			if got != c.answers {
				t.Fatalf("expected answers=%v, got %v", c.answers, got)
			}
		})
	}
}

func TestMentionStrippedBeforeReasoning(t *testing.T) {
	f := newFixture(t, Options{})
	f.router.HandleMessage(context.Background(), channelMsg("0", "@meshy what is the weather"))
	if f.reasoner.lastReq.Content != "what is the weather" {
		t.Fatalf("mention not stripped: %q", f.reasoner.lastReq.Content)
	}
}

func TestChannelReplyGoesToChannel(t *testing.T) {
	f := newFixture(t, Options{})
	f.router.HandleMessage(context.Background(), channelMsg("0", "@meshy ping"))
	sent := f.transport.Sent()
	if len(sent) != 1 || sent[0].Destination != "0" {
		t.Fatalf("channel reply misrouted: %+v", sent)
	}
	// Conversation id is the channel number.
	msgs, _ := f.store.ConversationMessages(context.Background(), "0", 0, 0)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 records under channel conversation, got %d", len(msgs))
	}
}

func TestContextWindowExcludesTriggeringTurn(t *testing.T) {
	f := newFixture(t, Options{ContextWindow: 10})
	ctx := context.Background()

	f.router.HandleMessage(ctx, direct("first"))
	f.router.HandleMessage(ctx, direct("second"))

	hist := f.reasoner.lastReq.History
	if len(hist) != 2 {
		t.Fatalf("expected 2 prior turns, got %d", len(hist))
	}
	if hist[0].Content != "first" || hist[0].Role != models.RoleUser {
		t.Fatalf("history[0] wrong: %+v", hist[0])
	}
	if hist[1].Content != "pong" || hist[1].Role != models.RoleAssistant {
		t.Fatalf("history[1] wrong: %+v", hist[1])
	}
	for _, turn := range hist {
		if turn.Content == "second" {
			t.Fatal("triggering message leaked into its own context")
		}
	}
}

func TestLongReplyChunkedAndStoredWhole(t *testing.T) {
	f := newFixture(t, Options{MaxMessageLength: 120})
	long := strings.Repeat("lorem ipsum dolor sit amet ", 11)
	f.reasoner.reply = reasoning.Reply{Text: long}

	f.router.HandleMessage(context.Background(), direct("tell me everything"))

	sent := f.transport.Sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(sent))
	}
	for i, frame := range sent {
		if len(frame.Text) > 120 {
			t.Fatalf("chunk %d too long: %d", i+1, len(frame.Text))
		}
		if !strings.Contains(frame.Text, "/3)") {
			t.Fatalf("chunk %d missing suffix: %q", i+1, frame.Text)
		}
	}

	// The stored assistant turn is the un-chunked text.
	msgs, _ := f.store.ConversationMessages(context.Background(), "node1node1node1node1node1", 0, 0)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(msgs))
	}
	if msgs[1].Content != normalize(long) && msgs[1].Content != long {
		t.Fatalf("assistant record is not the full reply: %q", msgs[1].Content)
	}
}

func TestSendFailureDoesNotAbortRemainingChunks(t *testing.T) {
	f := newFixture(t, Options{MaxMessageLength: 120})
	f.reasoner.reply = reasoning.Reply{Text: strings.Repeat("word ", 60)}
	f.transport.FailSends = true

	ok := f.router.HandleMessage(context.Background(), direct("go"))
	// The reply as a whole still counts as handled; failures are logged.
	if !ok {
		t.Fatal("send failures must not fail the handler")
	}
	// The reply turn is still stored.
	msgs, _ := f.store.ConversationMessages(context.Background(), "node1node1node1node1node1", 0, 0)
	if len(msgs) != 2 {
		t.Fatalf("expected reply stored despite send failures, got %d records", len(msgs))
	}
}

func TestReasoningErrorApology(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"unauthorized", reasoning.ErrUnauthorized, "reasoning service"},
		{"rate limited", reasoning.ErrRateLimited, "throttled"},
		{"timeout", context.DeadlineExceeded, "too long"},
		{"other", errors.New("boom"), "something went wrong"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.reasoner.err = c.err

			if f.router.HandleMessage(context.Background(), direct("ping")) {
				t.Fatal("handler should report failure")
			}
			sent := f.transport.Sent()
			if len(sent) != 1 {
				t.Fatalf("expected 1 apology frame, got %d", len(sent))
			}
			if !strings.Contains(sent[0].Text, c.want) {
				t.Fatalf("apology %q missing %q", sent[0].Text, c.want)
			}
			if len(sent[0].Text) > 120 {
				t.Fatal("apology exceeds one chunk")
			}
		})
	}
}

func TestInboundStoredEvenWhenReasoningFails(t *testing.T) {
	f := newFixture(t, Options{})
	f.reasoner.err = context.DeadlineExceeded

	f.router.HandleMessage(context.Background(), direct("ping"))

	msgs, _ := f.store.ConversationMessages(context.Background(), "node1node1node1node1node1", 0, 0)
	if len(msgs) != 1 || msgs[0].Role != models.RoleUser {
		t.Fatalf("inbound turn must survive a reasoning failure: %+v", msgs)
	}
}

func TestReplyLimiter(t *testing.T) {
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	reg := registry.New(s, logger)
	tr := mesh.NewMockTransport(ownIdentity, "meshy")
	rsn := &stubReasoner{reply: reasoning.Reply{Text: "pong"}}
	r := New(Options{ListenChannel: "0"}, s, reg, limiter.NewMemory(2, time.Minute), rsn, tr, logger)
	r.sleep = func(time.Duration) {}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if !r.HandleMessage(ctx, direct("ping")) {
			t.Fatalf("reply %d should be allowed", i+1)
		}
	}
	if r.HandleMessage(ctx, direct("ping")) {
		t.Fatal("third reply should be throttled")
	}
	if len(tr.Sent()) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(tr.Sent()))
	}
}

func TestConversationPrunedAfterReply(t *testing.T) {
	f := newFixture(t, Options{MaxConversationMessages: 4})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.router.HandleMessage(ctx, direct("ping"))
	}
	msgs, err := f.store.ConversationMessages(ctx, "node1node1node1node1node1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected conversation pruned to 4, got %d", len(msgs))
	}
}

func TestSenderRegisteredOnAnyMessage(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	// Even an ineligible channel message updates presence.
	msg := channelMsg("3", "just chatting")
	msg.SenderName = "node one"
	f.router.HandleMessage(ctx, msg)

	node, err := f.store.GetNode(ctx, msg.Sender)
	if err != nil {
		t.Fatal(err)
	}
	if node == nil || node.Name != "node one" || !node.IsOnline {
		t.Fatalf("sender not registered: %+v", node)
	}
}

func TestQuietPrefSkipsChannelButNotDirect(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	reg := registry.New(f.store, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	if err := reg.SetPref(ctx, "node1node1node1node1node1", "quiet", "true"); err != nil {
		t.Fatal(err)
	}

	if f.router.HandleMessage(ctx, channelMsg("0", "@meshy hello")) {
		t.Fatal("quiet sender should not get channel replies")
	}
	if !f.router.HandleMessage(ctx, direct("ping")) {
		t.Fatal("quiet must not suppress direct replies")
	}
}
