// Package wallet keeps a person's own field values on their device and turns
// them into share fields.
package wallet

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/records"
)

var ErrInvalidSlug error = errors.New("invalid field slug")

// Store is local device storage for wallet values, keyed by field slug.
type Store interface {
	Get(slug string) (string, bool, error)
	Set(slug, value string) error
	Delete(slug string) error
	All() (map[string]string, error)
	Close() error
}

// ValidSlug reports whether s is a lower-case field slug.
func ValidSlug(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' {
			return false
		}
	}
	return true
}

// Filled returns every non-empty wallet value as a share field, in the standard
// field order followed by any custom slugs in alphabetical order.
func Filled(data map[string]string) []zkshare.ShareField {
	var fields []zkshare.ShareField

	seen := make(map[string]bool, len(StandardSlugs))
	for _, slug := range StandardSlugs {
		seen[slug] = true
		if v := strings.TrimSpace(data[slug]); v != "" {
			fields = append(fields, zkshare.ShareField{Slug: slug, Label: Label(slug), Value: v})
		}
	}

	var custom []string
	for slug, v := range data {
		if !seen[slug] && strings.TrimSpace(v) != "" {
			custom = append(custom, slug)
		}
	}
	sort.Strings(custom)

	for _, slug := range custom {
		fields = append(fields, zkshare.ShareField{Slug: slug, Label: Label(slug), Value: strings.TrimSpace(data[slug])})
	}

	return fields
}

// MissingFieldsError lists required template fields the wallet has no value for.
type MissingFieldsError struct {
	Slugs []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Slugs, ", "))
}

// FieldsForTemplate returns the template's fields filled from the wallet, in
// template order. Optional fields without a value are skipped; missing required
// fields are reported in a MissingFieldsError.
func FieldsForTemplate(data map[string]string, tmpl *records.Template) ([]zkshare.ShareField, error) {
	var fields []zkshare.ShareField
	var missing []string

	for _, f := range tmpl.Fields {
		v := strings.TrimSpace(data[f.Slug])
		if v == "" {
			if f.Required {
				missing = append(missing, f.Slug)
			}
			continue
		}

		label := f.Label
		if label == "" {
			label = Label(f.Slug)
		}
		fields = append(fields, zkshare.ShareField{Slug: f.Slug, Label: label, Value: v})
	}

	if len(missing) > 0 {
		return fields, &MissingFieldsError{Slugs: missing}
	}
	return fields, nil
}

// MemoryStore is a Store that forgets everything on exit.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(slug string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[slug]
	return v, ok, nil
}

func (s *MemoryStore) Set(slug, value string) error {
	if !ValidSlug(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[slug] = value
	return nil
}

func (s *MemoryStore) Delete(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, slug)
	return nil
}

func (s *MemoryStore) All() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
