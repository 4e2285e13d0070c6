package token

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/commandquery/zkshare"
	"golang.org/x/crypto/pbkdf2"
)

// TicketAlphabet is the set of characters a short code is drawn from.
// 0, O, 1, I and L are excluded because they are easily confused when read aloud
// or typed.
const TicketAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	MinCodeLength     = 4
	MaxCodeLength     = 6
	DefaultCodeLength = 4
)

// DeriveIterations is the PBKDF2 work factor for short-code keys.
const DeriveIterations = 120_000

const saltPrefix = "zkshare:share:v1:"

// rejectAbove is the largest multiple of len(TicketAlphabet) that fits in a byte.
// Random bytes at or above it are discarded so that every character is equally likely.
var rejectAbove = byte(256 - 256%len(TicketAlphabet))

// GenerateTicketCode returns a random short code of the given length.
func GenerateTicketCode(length int) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", fmt.Errorf("%w: code length %d", zkshare.ErrInvalidToken, length)
	}

	code := make([]byte, 0, length)
	buf := make([]byte, 2*length)

	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("unable to generate code: %w", err)
		}

		for _, b := range buf {
			if b >= rejectAbove {
				continue
			}
			code = append(code, TicketAlphabet[int(b)%len(TicketAlphabet)])
			if len(code) == length {
				break
			}
		}
	}

	return string(code), nil
}

// NormalizeCode upper-cases the input, drops everything that is not a letter or
// digit and truncates to MaxCodeLength.
func NormalizeCode(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == MaxCodeLength {
				break
			}
		}
	}
	return b.String()
}

// ValidateCode checks a normalized code.
func ValidateCode(code string) error {
	if len(code) < MinCodeLength || len(code) > MaxCodeLength {
		return fmt.Errorf("%w: code must be %d to %d characters", zkshare.ErrInvalidToken, MinCodeLength, MaxCodeLength)
	}

	for _, r := range code {
		if !strings.ContainsRune(TicketAlphabet, r) {
			return fmt.Errorf("%w: character %q is not allowed", zkshare.ErrInvalidToken, r)
		}
	}

	return nil
}

// DeriveTokenKey derives the share key both parties compute from a short code.
// The namespace (the organization slug) salts the derivation, so the same code
// yields unrelated keys in different organizations.
func DeriveTokenKey(code, namespace string) (Key, error) {
	code = NormalizeCode(code)
	if err := ValidateCode(code); err != nil {
		return Key{}, err
	}

	if namespace == "" {
		return Key{}, fmt.Errorf("%w: empty namespace", zkshare.ErrInvalidToken)
	}

	derived := pbkdf2.Key([]byte(code), []byte(saltPrefix+namespace), DeriveIterations, KeySize, sha256.New)

	var key Key
	copy(key[:], derived)

	for i := range derived {
		derived[i] = 0
	}

	return key, nil
}
