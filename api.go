package zkshare

import (
	"encoding/json"
	"time"
)

// MessageSizeLimit is the largest broadcast frame the relay will forward.
// A payload carries a handful of short fields, so this is generous.
const MessageSizeLimit = 64 * 1024

// PayloadVersion is written to the meta block of link-mode payloads.
const PayloadVersion = 1

// Broadcast event names.
const (
	EventReady   = "ready"
	EventPayload = "payload"
	EventPing    = "ping" // relay keepalive, never delivered to handlers
)

// Roles announced in a ReadySignal.
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

// SharePayload is the plaintext that travels inside an EncryptedEnvelope.
// It never touches durable storage.
type SharePayload struct {
	Meta   ShareMeta    `json:"meta"`
	Fields []ShareField `json:"fields"`
}

type ShareMeta struct {
	OrgSlug      string     `json:"orgSlug,omitempty"`
	OrgName      string     `json:"orgName,omitempty"`
	TemplateID   string     `json:"templateId,omitempty"`
	TemplateName string     `json:"templateName,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"` // link mode only
	Version      int        `json:"version,omitempty"`   // link mode only
}

type ShareField struct {
	Slug  string `json:"slug"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Slugs returns the field slugs in payload order. Values are not included.
func (p *SharePayload) Slugs() []string {
	slugs := make([]string, 0, len(p.Fields))
	for _, f := range p.Fields {
		slugs = append(slugs, f.Slug)
	}
	return slugs
}

// EncryptedEnvelope is the only representation of a payload the transport sees.
// Both fields are standard base64.
type EncryptedEnvelope struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

// ReadySignal is broadcast when a party is subscribed and listening.
type ReadySignal struct {
	At   time.Time `json:"at"`
	Role string    `json:"role,omitempty"`
}

// Broadcast is a single frame on a relay channel.
type Broadcast struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChallengeRequest is returned by the relay before a channel subscription.
// Challenge holds a signed, JSON encoded Challenge.
type ChallengeRequest struct {
	Challenge []byte `json:"challenge"`
}

type Challenge struct {
	Version    int    `json:"version"`
	Complexity int    `json:"complexity"`
	Timestamp  int64  `json:"timestamp"`
	Channel    string `json:"channel"`
	Challenge  []byte `json:"challenge"`
}

// ChallengeResponse is presented when subscribing to a relay channel.
type ChallengeResponse struct {
	Challenge []byte `json:"challenge"`
	Nonce     uint64 `json:"nonce"`
}
