// Package envelope seals share payloads with AES-256-GCM.
//
// Every call to Seal draws a fresh 12 byte nonce. Any failure to open an
// envelope, whatever the cause, is reported as zkshare.ErrDecryptionFailed so
// that callers never have to tell a wrong key from tampered data.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/token"
)

// NonceSize is the GCM nonce length.
const NonceSize = 12

func newGCM(key *token.Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}

// Seal encrypts plaintext under key.
func Seal(plaintext []byte, key token.Key) (zkshare.EncryptedEnvelope, error) {
	gcm, err := newGCM(&key)
	if err != nil {
		return zkshare.EncryptedEnvelope{}, fmt.Errorf("unable to initialise cipher: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return zkshare.EncryptedEnvelope{}, fmt.Errorf("unable to generate nonce: %w", err)
	}

	return zkshare.EncryptedEnvelope{
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}, nil
}

// Open decrypts and authenticates an envelope.
func Open(env zkshare.EncryptedEnvelope, key token.Key) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", zkshare.ErrDecryptionFailed, err)
	}

	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: iv is %d bytes", zkshare.ErrDecryptionFailed, len(nonce))
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", zkshare.ErrDecryptionFailed, err)
	}

	gcm, err := newGCM(&key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zkshare.ErrDecryptionFailed, err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zkshare.ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

// Encrypt serialises v as JSON and seals it.
func Encrypt(v any, key token.Key) (zkshare.EncryptedEnvelope, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return zkshare.EncryptedEnvelope{}, fmt.Errorf("unable to marshal payload: %w", err)
	}
	defer wipe(js)

	return Seal(js, key)
}

// Decrypt opens env and unmarshals the plaintext into out.
func Decrypt(env zkshare.EncryptedEnvelope, key token.Key, out any) error {
	plaintext, err := Open(env, key)
	if err != nil {
		return err
	}
	defer wipe(plaintext)

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: %v", zkshare.ErrDecryptionFailed, err)
	}

	return nil
}

// EncryptPayload seals a share payload.
func EncryptPayload(payload *zkshare.SharePayload, key token.Key) (zkshare.EncryptedEnvelope, error) {
	if payload == nil {
		return zkshare.EncryptedEnvelope{}, fmt.Errorf("nil payload")
	}
	return Encrypt(payload, key)
}

// DecryptPayload opens a share payload. A plaintext that decodes but has no
// fields array is not a payload.
func DecryptPayload(env zkshare.EncryptedEnvelope, key token.Key) (*zkshare.SharePayload, error) {
	var payload zkshare.SharePayload
	if err := Decrypt(env, key, &payload); err != nil {
		return nil, err
	}

	if payload.Fields == nil {
		return nil, fmt.Errorf("%w: payload has no fields", zkshare.ErrDecryptionFailed)
	}

	return &payload, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
