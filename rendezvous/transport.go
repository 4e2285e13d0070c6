// Package rendezvous joins the two parties of a share on a named broadcast
// channel and carries the readiness handshake and the encrypted payload.
//
// The package is transport agnostic: anything that can broadcast a named event
// with a JSON payload to the other subscribers of a channel will do. Delivery is
// best effort and at most once; a party that is not subscribed when a frame is
// sent never sees it.
package rendezvous

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Handler receives the raw payload of a broadcast event.
type Handler func(payload json.RawMessage)

// Transport opens channels on a pub/sub service.
type Transport interface {
	Connect(ctx context.Context, name string) (Channel, error)
}

// Channel is one subscription. Send must not deliver the frame back to the
// subscription it was sent from.
type Channel interface {
	On(event string, handler Handler)
	Send(ctx context.Context, event string, payload json.RawMessage) error
	Close() error
}

const (
	sharePrefix  = "share:"
	publicPrefix = "public:"

	maxChannelName = 160
)

// ChannelName returns the channel for a short code within an organization.
func ChannelName(scope, code string) string {
	return sharePrefix + scope + ":" + code
}

// PublicChannelName returns the channel for a link-mode share.
func PublicChannelName(shareID string) string {
	return publicPrefix + shareID
}

// ValidChannelName reports whether name has one of the two channel shapes and
// contains only characters that are safe in a URL path segment.
func ValidChannelName(name string) bool {
	if len(name) == 0 || len(name) > maxChannelName {
		return false
	}

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == ':', r == '.':
		default:
			return false
		}
	}

	switch {
	case strings.HasPrefix(name, publicPrefix):
		id := strings.TrimPrefix(name, publicPrefix)
		return id != "" && !strings.Contains(id, ":")
	case strings.HasPrefix(name, sharePrefix):
		scope, code, ok := strings.Cut(strings.TrimPrefix(name, sharePrefix), ":")
		return ok && scope != "" && code != "" && !strings.Contains(code, ":")
	default:
		return false
	}
}

// Fingerprint is a short, stable identifier for a channel name that is safe to
// log. Short-code channel names contain the code itself.
func Fingerprint(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:6])
}
