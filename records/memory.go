package records

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process. It backs the relay when no database is
// configured and stands in for the database in tests.
type MemoryStore struct {
	mu     sync.Mutex
	orgs   map[string]*Organization
	events []ShareEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orgs: make(map[string]*Organization)}
}

// SaveOrganization inserts or replaces an organization and its templates.
func (s *MemoryStore) SaveOrganization(ctx context.Context, org *Organization) error {
	if org.Slug == "" {
		return fmt.Errorf("organization slug is required")
	}

	cp := *org
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}

	cp.Templates = make([]Template, len(org.Templates))
	for i, t := range org.Templates {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		t.OrgID = cp.ID
		t.Fields = append([]TemplateField(nil), t.Fields...)
		sort.SliceStable(t.Fields, func(a, b int) bool { return t.Fields[a].Position < t.Fields[b].Position })
		cp.Templates[i] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[cp.Slug] = &cp
	*org = cp
	return nil
}

// Organization returns the organization with its active templates.
func (s *MemoryStore) Organization(ctx context.Context, slug string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[slug]
	if !ok {
		return nil, fmt.Errorf("%w: organization %q", ErrNotFound, slug)
	}

	cp := *org
	cp.Templates = nil
	for _, t := range org.Templates {
		if t.Active {
			cp.Templates = append(cp.Templates, t)
		}
	}
	return &cp, nil
}

func (s *MemoryStore) Template(ctx context.Context, id uuid.UUID) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, org := range s.orgs {
		if t, ok := org.Template(id); ok {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: template %s", ErrNotFound, id)
}

func (s *MemoryStore) LogShareEvent(ctx context.Context, ev ShareEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of the logged events.
func (s *MemoryStore) Events() []ShareEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ShareEvent(nil), s.events...)
}

// OrganizationSaver is implemented by stores that can be seeded.
type OrganizationSaver interface {
	SaveOrganization(ctx context.Context, org *Organization) error
}

// Seed reads a JSON array of organizations and saves each one.
func Seed(ctx context.Context, r io.Reader, store OrganizationSaver) (int, error) {
	var orgs []Organization
	if err := json.NewDecoder(r).Decode(&orgs); err != nil {
		return 0, fmt.Errorf("unable to decode seed: %w", err)
	}

	for i := range orgs {
		if err := store.SaveOrganization(ctx, &orgs[i]); err != nil {
			return i, fmt.Errorf("unable to save organization %q: %w", orgs[i].Slug, err)
		}
	}

	return len(orgs), nil
}
