package reasoning

import (
	"context"
	"errors"

	"github.com/ipnet-mesh/meshbot/internal/models"
)

// Sentinel errors a reasoner may return. The router maps each to a distinct
// apology and log line.
var (
	// ErrUnauthorized means the reasoning backend rejected our credentials.
	ErrUnauthorized = errors.New("reasoning backend rejected credentials")
	// ErrRateLimited means the backend is throttling us.
	ErrRateLimited = errors.New("reasoning backend rate limited")
)

// Request is one reasoning invocation: the triggering message plus the
// recent conversation window, oldest first.
type Request struct {
	// Sender is the full identity of the node we are replying to.
	Sender string
	// SenderName is the sender's display name when known.
	SenderName string
	// Content is the inbound message text with any mention prefix removed.
	Content string
	// Channel is the channel number; empty for direct conversations.
	Channel string
	// History is the conversation window, oldest first, excluding Content.
	History []models.Turn
}

// Reply is a reasoner's answer.
type Reply struct {
	Text string
}

// Reasoner produces a reply to one message. Implementations must honor ctx
// cancellation; the router enforces a deadline around each call.
type Reasoner interface {
	Run(ctx context.Context, req Request) (Reply, error)
}
