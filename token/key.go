// Package token generates, derives and encodes the symmetric keys and
// rendezvous identifiers used by a share.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/commandquery/zkshare"
	"github.com/google/uuid"
)

// KeySize is the length of a share key in bytes (AES-256).
const KeySize = 32

// Key is a share key. It is never sent to the transport and is only ever
// exported into the fragment of a share link.
type Key [KeySize]byte

// Wipe zeroes the key.
func (k *Key) Wipe() {
	for i := range k {
		k[i] = 0
	}
}

// IsZero reports whether the key has been wiped or never set.
func (k *Key) IsZero() bool {
	var acc byte
	for _, b := range k {
		acc |= b
	}
	return acc == 0
}

// GenerateShareKey returns a fresh random key for one share.
func GenerateShareKey() (Key, error) {
	var key Key
	if _, err := rand.Read(key[:]); err != nil {
		return Key{}, fmt.Errorf("unable to generate share key: %w", err)
	}
	return key, nil
}

// GenerateShareID returns a random, unguessable identifier for link-mode channels.
func GenerateShareID() string {
	return uuid.NewString()
}

// ExportKey encodes the key as URL-safe base64 without padding.
func ExportKey(key Key) string {
	return base64.RawURLEncoding.EncodeToString(key[:])
}

// ImportKey decodes a key produced by ExportKey. Trailing padding is tolerated.
func ImportKey(s string) (Key, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", zkshare.ErrInvalidKeyFormat, err)
	}

	if len(raw) != KeySize {
		return Key{}, fmt.Errorf("%w: decoded %d bytes; expected %d", zkshare.ErrInvalidKeyFormat, len(raw), KeySize)
	}

	var key Key
	copy(key[:], raw)
	return key, nil
}
