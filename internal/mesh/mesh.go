package mesh

import "context"

// Message is one inbound mesh frame, as delivered by a transport.
type Message struct {
	Sender      string // full node identity of the originator
	SenderName  string // display name if the frame carried one
	Content     string
	Timestamp   float64 // unix seconds
	MessageType string  // "direct", "channel" or "broadcast"
	Channel     string  // channel number for channel messages
}

// Handler consumes inbound messages. The return value reports whether the
// message produced a reply, which transports may use for flow accounting.
type Handler func(ctx context.Context, msg Message) bool

// Transport abstracts the radio link. Sends are fire-and-forget at this
// layer: a false return means the frame was not accepted for transmission.
type Transport interface {
	// Connect brings the link up and starts delivering inbound frames to
	// the subscribed handler.
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool

	// OwnIdentity returns this agent's full node identity on the mesh.
	OwnIdentity() string
	// OwnName returns this agent's display name.
	OwnName() string

	// Send transmits text to a destination: a full node identity for a
	// direct message, or a channel number for a channel message.
	Send(ctx context.Context, destination, text string) bool

	// Subscribe registers the inbound handler. Must be called before
	// Connect.
	Subscribe(h Handler)
}
