package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the platform keyring service name wallets are saved under.
const KeyringService = "zkshare"

// KeyringStore keeps the whole wallet as one JSON secret in the platform
// keyring (Keychain, Secret Service, Windows Credential Manager).
type KeyringStore struct {
	Service string `json:"service"`
	User    string `json:"user"`

	mu sync.Mutex
}

// NewKeyringStore returns a store for the given profile name.
func NewKeyringStore(profile string) *KeyringStore {
	return &KeyringStore{Service: KeyringService, User: profile}
}

func (s *KeyringStore) load() (map[string]string, error) {
	secret, err := keyring.Get(s.Service, s.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get wallet from platform store: %w", err)
	}

	data := make(map[string]string)
	if err := json.Unmarshal([]byte(secret), &data); err != nil {
		return nil, fmt.Errorf("unable to decode wallet: %w", err)
	}
	return data, nil
}

func (s *KeyringStore) save(data map[string]string) error {
	js, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("unable to encode wallet: %w", err)
	}

	if err := keyring.Set(s.Service, s.User, string(js)); err != nil {
		return fmt.Errorf("unable to save wallet to platform store: %w", err)
	}
	return nil
}

func (s *KeyringStore) Get(slug string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := data[slug]
	return v, ok, nil
}

func (s *KeyringStore) Set(slug, value string) error {
	if !ValidSlug(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data[slug] = value
	return s.save(data)
}

func (s *KeyringStore) Delete(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := data[slug]; !ok {
		return nil
	}
	delete(data, slug)
	return s.save(data)
}

func (s *KeyringStore) All() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Clear removes the wallet from the keyring.
func (s *KeyringStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := keyring.Delete(s.Service, s.User)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("unable to clear wallet: %w", err)
	}
	return nil
}

func (s *KeyringStore) Close() error { return nil }
