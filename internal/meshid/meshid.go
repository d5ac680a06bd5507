// Package meshid holds helpers for working with mesh node identities:
// opaque public-key-like strings that may be referenced by short prefixes
// on the wire and on disk.
package meshid

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidIdentity = errors.New("invalid node identity")

// PrefixLen is the number of sanitized characters used for on-disk node
// addressing. A prefix is not a safe inverse of the identity; the full
// identity is always kept in the node record itself.
const PrefixLen = 8

// selfMatchLen is how many leading characters are compared when deciding
// whether a sender is the agent itself. Radios frequently report senders by
// truncated key, so the comparison runs in both directions.
const selfMatchLen = 16

// Validate checks that an identity is usable as a record key.
func Validate(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if strings.ContainsAny(identity, "\n\r|") {
		return fmt.Errorf("%w: contains reserved characters", ErrInvalidIdentity)
	}
	return nil
}

// Sanitize strips everything but letters and digits from an identity.
func Sanitize(identity string) string {
	var b strings.Builder
	b.Grow(len(identity))
	for _, r := range identity {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Prefix returns the fixed-length sanitized prefix used for directory naming.
func Prefix(identity string) string {
	safe := Sanitize(identity)
	if len(safe) > PrefixLen {
		return safe[:PrefixLen]
	}
	return safe
}

// SelfMatch reports whether sender refers to the agent's own identity.
// Matches exactly, by the agent's truncated key, or when the reported sender
// is itself a prefix of the agent's key. Empty senders never match.
func SelfMatch(own, sender string) bool {
	if own == "" || sender == "" {
		return false
	}
	if sender == own {
		return true
	}
	head := own
	if len(head) > selfMatchLen {
		head = head[:selfMatchLen]
	}
	return strings.HasPrefix(sender, head) || strings.HasPrefix(own, sender)
}

// IsChannelID reports whether a conversation id names a channel. Channels
// are small non-negative integers rendered as decimal strings.
func IsChannelID(conversationID string) bool {
	if conversationID == "" {
		return false
	}
	for _, r := range conversationID {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
