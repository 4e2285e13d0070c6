package records

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/commandquery/zkshare/jtp"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Routes registers the records API on a router:
//
//	GET  /orgs/{slug}
//	GET  /templates/{id}
//	POST /events
func Routes(r chi.Router, store Store) {
	r.Get("/orgs/{slug}", jtp.Handle(func(w http.ResponseWriter, req *http.Request, in *jtp.None) (*Organization, error) {
		org, err := store.Organization(req.Context(), chi.URLParam(req, "slug"))
		return org, httpError(err)
	}))

	r.Get("/templates/{id}", jtp.Handle(func(w http.ResponseWriter, req *http.Request, in *jtp.None) (*Template, error) {
		id, err := uuid.Parse(chi.URLParam(req, "id"))
		if err != nil {
			return nil, jtp.BadRequestError(err)
		}
		t, err := store.Template(req.Context(), id)
		return t, httpError(err)
	}))

	r.Post("/events", jtp.Handle(func(w http.ResponseWriter, req *http.Request, ev *ShareEvent) (*jtp.None, error) {
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		return nil, httpError(store.LogShareEvent(req.Context(), *ev))
	}))
}

func httpError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return jtp.NotFoundError(err)
	case errors.Is(err, ErrInvalidEvent):
		return jtp.BadRequestError(err)
	default:
		return err
	}
}

// Client reads records from a relay over HTTP.
type Client struct {
	base string
}

// NewClient returns a client for the records API mounted under baseURL, for
// example "https://relay.example.com/api".
func NewClient(baseURL string) *Client {
	return &Client{base: strings.TrimSuffix(baseURL, "/")}
}

func (c *Client) Organization(ctx context.Context, slug string) (*Organization, error) {
	var org Organization
	err := jtp.Call[jtp.None](ctx, http.MethodGet, c.base+"/orgs/"+url.PathEscape(slug), nil, &org)
	if err != nil {
		return nil, clientError(err, "organization "+slug)
	}
	return &org, nil
}

func (c *Client) Template(ctx context.Context, id uuid.UUID) (*Template, error) {
	var t Template
	err := jtp.Call[jtp.None](ctx, http.MethodGet, c.base+"/templates/"+id.String(), nil, &t)
	if err != nil {
		return nil, clientError(err, "template "+id.String())
	}
	return &t, nil
}

func (c *Client) LogShareEvent(ctx context.Context, ev ShareEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if err := jtp.Call[ShareEvent, jtp.None](ctx, http.MethodPost, c.base+"/events", &ev, nil); err != nil {
		return clientError(err, "share event")
	}
	return nil
}

func clientError(err error, what string) error {
	if errors.Is(err, jtp.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("unable to fetch %s: %w", what, err)
}
