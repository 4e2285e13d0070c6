package records

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schema string

// PGStore keeps records in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// NewPGStore connects to the database and brings the schema up to date.
func NewPGStore(ctx context.Context, dsn string, log *logrus.Logger) (*PGStore, error) {
	if log == nil {
		log = logrus.New()
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to configure connection pool: %w", err)
	}

	// Surface RAISE NOTICE messages.
	poolConfig.ConnConfig.OnNotice = func(conn *pgconn.PgConn, notice *pgconn.Notice) {
		log.WithField("severity", notice.Severity).Info(notice.Message)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to the database: %w", err)
	}

	store := &PGStore{pool: pool, log: log}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("unable to migrate schema: %w", err)
	}
	return nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) Organization(ctx context.Context, slug string) (*Organization, error) {
	org := Organization{Slug: slug}

	row := s.pool.QueryRow(ctx, "select id, name from zkshare.organization where slug=$1", slug)
	if err := row.Scan(&org.ID, &org.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: organization %q", ErrNotFound, slug)
		}
		return nil, fmt.Errorf("unable to read organization %q: %w", slug, err)
	}

	rows, err := s.pool.Query(ctx, "select id, name, description, purpose, active from zkshare.template where org_id=$1 and active order by name", org.ID)
	if err != nil {
		return nil, fmt.Errorf("unable to read templates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t := Template{OrgID: org.ID}
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Purpose, &t.Active); err != nil {
			return nil, fmt.Errorf("unable to read template: %w", err)
		}
		org.Templates = append(org.Templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to read templates: %w", err)
	}

	for i := range org.Templates {
		fields, err := s.fields(ctx, org.Templates[i].ID)
		if err != nil {
			return nil, err
		}
		org.Templates[i].Fields = fields
	}

	return &org, nil
}

func (s *PGStore) Template(ctx context.Context, id uuid.UUID) (*Template, error) {
	t := Template{ID: id}

	row := s.pool.QueryRow(ctx, "select org_id, name, description, purpose, active from zkshare.template where id=$1", id)
	if err := row.Scan(&t.OrgID, &t.Name, &t.Description, &t.Purpose, &t.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: template %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("unable to read template %s: %w", id, err)
	}

	fields, err := s.fields(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Fields = fields

	return &t, nil
}

func (s *PGStore) fields(ctx context.Context, templateID uuid.UUID) ([]TemplateField, error) {
	rows, err := s.pool.Query(ctx, "select slug, label, required, sensitive, position from zkshare.template_field where template_id=$1 order by position, slug", templateID)
	if err != nil {
		return nil, fmt.Errorf("unable to read template fields: %w", err)
	}

	fields, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TemplateField, error) {
		var f TemplateField
		err := row.Scan(&f.Slug, &f.Label, &f.Required, &f.Sensitive, &f.Position)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read template fields: %w", err)
	}

	return fields, nil
}

// SaveOrganization upserts an organization with all of its templates.
func (s *PGStore) SaveOrganization(ctx context.Context, org *Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, "insert into zkshare.organization (id, slug, name) values ($1, $2, $3) on conflict (slug) do update set name=excluded.name returning id",
			org.ID, org.Slug, org.Name).Scan(&org.ID)
		if err != nil {
			return fmt.Errorf("unable to save organization: %w", err)
		}

		for i := range org.Templates {
			t := &org.Templates[i]
			if t.ID == uuid.Nil {
				t.ID = uuid.New()
			}
			t.OrgID = org.ID

			_, err := tx.Exec(ctx, "insert into zkshare.template (id, org_id, name, description, purpose, active) values ($1, $2, $3, $4, $5, $6) on conflict (id) do update set name=excluded.name, description=excluded.description, purpose=excluded.purpose, active=excluded.active",
				t.ID, t.OrgID, t.Name, t.Description, t.Purpose, t.Active)
			if err != nil {
				return fmt.Errorf("unable to save template %q: %w", t.Name, err)
			}

			if _, err := tx.Exec(ctx, "delete from zkshare.template_field where template_id=$1", t.ID); err != nil {
				return fmt.Errorf("unable to replace template fields: %w", err)
			}

			for _, f := range t.Fields {
				_, err := tx.Exec(ctx, "insert into zkshare.template_field (template_id, slug, label, required, sensitive, position) values ($1, $2, $3, $4, $5, $6)",
					t.ID, f.Slug, f.Label, f.Required, f.Sensitive, f.Position)
				if err != nil {
					return fmt.Errorf("unable to save field %q: %w", f.Slug, err)
				}
			}
		}

		return nil
	})
}

func (s *PGStore) LogShareEvent(ctx context.Context, ev ShareEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	metadata := map[string]any{
		"org_slug":      ev.OrgSlug,
		"template_name": ev.TemplateName,
		"field_count":   ev.FieldCount,
	}

	_, err := s.pool.Exec(ctx, "insert into zkshare.share_event (id, org_id, template_id, fields, event_type, metadata, created_at) values ($1, $2, $3, $4, $5, $6, $7)",
		ev.ID, ev.OrgID, ev.TemplateID, ev.Fields, ev.EventType, metadata, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("unable to log share event: %w", err)
	}

	return nil
}
