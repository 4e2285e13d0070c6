// Package records holds the organization metadata a share refers to and the
// audit log of received shares. Payload values never reach this package; an
// audit event lists field slugs only.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commandquery/zkshare"
	"github.com/google/uuid"
)

// EventReceived is logged when an organization decrypts a share.
const EventReceived = "received"

var ErrNotFound error = errors.New("record not found")
var ErrInvalidEvent error = errors.New("invalid share event")

type Organization struct {
	ID        uuid.UUID  `json:"id"`
	Slug      string     `json:"slug"`
	Name      string     `json:"name"`
	Templates []Template `json:"templates,omitempty"`
}

// Template is a named set of fields an organization asks for.
type Template struct {
	ID          uuid.UUID       `json:"id"`
	OrgID       uuid.UUID       `json:"orgId"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Purpose     string          `json:"purpose,omitempty"`
	Active      bool            `json:"active"`
	Fields      []TemplateField `json:"fields"`
}

type TemplateField struct {
	Slug      string `json:"slug"`
	Label     string `json:"label,omitempty"`
	Required  bool   `json:"required"`
	Sensitive bool   `json:"sensitive"`
	Position  int    `json:"position"`
}

// Template returns the organization's template with the given ID.
func (o *Organization) Template(id uuid.UUID) (*Template, bool) {
	for i := range o.Templates {
		if o.Templates[i].ID == id {
			return &o.Templates[i], true
		}
	}
	return nil, false
}

// ShareEvent is one audit log entry.
type ShareEvent struct {
	ID           uuid.UUID  `json:"id"`
	OrgID        uuid.UUID  `json:"orgId"`
	TemplateID   *uuid.UUID `json:"templateId,omitempty"`
	Fields       []string   `json:"fields"`
	EventType    string     `json:"eventType"`
	OrgSlug      string     `json:"orgSlug"`
	TemplateName string     `json:"templateName,omitempty"`
	FieldCount   int        `json:"fieldCount"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Validate checks that an event is complete enough to store.
func (e *ShareEvent) Validate() error {
	if e.OrgID == uuid.Nil {
		return fmt.Errorf("%w: missing organization", ErrInvalidEvent)
	}
	if e.EventType == "" {
		return fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	}
	if e.FieldCount != len(e.Fields) {
		return fmt.Errorf("%w: field count %d does not match %d slugs", ErrInvalidEvent, e.FieldCount, len(e.Fields))
	}
	return nil
}

// NewReceivedEvent builds the audit event for a decrypted payload.
func NewReceivedEvent(orgID uuid.UUID, payload *zkshare.SharePayload, at time.Time) ShareEvent {
	ev := ShareEvent{
		ID:           uuid.New(),
		OrgID:        orgID,
		Fields:       payload.Slugs(),
		EventType:    EventReceived,
		OrgSlug:      payload.Meta.OrgSlug,
		TemplateName: payload.Meta.TemplateName,
		FieldCount:   len(payload.Fields),
		CreatedAt:    at.UTC(),
	}

	if id, err := uuid.Parse(payload.Meta.TemplateID); err == nil {
		ev.TemplateID = &id
	}

	return ev
}

// EventLogger appends share events.
type EventLogger interface {
	LogShareEvent(ctx context.Context, ev ShareEvent) error
}

// Store is the record store the share flow reads from and audits to.
type Store interface {
	EventLogger
	Organization(ctx context.Context, slug string) (*Organization, error)
	Template(ctx context.Context, id uuid.UUID) (*Template, error)
}
