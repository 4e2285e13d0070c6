package main

import (
	"testing"

	"github.com/commandquery/zkshare/records"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestResolveTemplate(t *testing.T) {
	first := records.Template{ID: uuid.New(), Name: "Cadastro", Active: true}
	second := records.Template{ID: uuid.New(), Name: "Convênio", Active: true}

	org := &records.Organization{Slug: "clinica-mar", Templates: []records.Template{first}}

	got, err := resolveTemplate(org, "")
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)

	org.Templates = append(org.Templates, second)
	_, err = resolveTemplate(org, "")
	require.ErrorContains(t, err, "--template")

	got, err = resolveTemplate(org, second.ID.String())
	require.NoError(t, err)
	require.Equal(t, "Convênio", got.Name)

	_, err = resolveTemplate(org, uuid.NewString())
	require.Error(t, err)

	_, err = resolveTemplate(org, "not-a-uuid")
	require.Error(t, err)

	_, err = resolveTemplate(&records.Organization{Slug: "vazia"}, "")
	require.ErrorContains(t, err, "no active templates")
}

func TestMailConfigFromEnv(t *testing.T) {
	t.Setenv("ZKSHARE_SMTP_HOST", "smtp.example.com")
	t.Setenv("ZKSHARE_SMTP_FROM", "noreply@example.com")
	t.Setenv("ZKSHARE_SMTP_HEADER_KEY", "X-PM-Message-Stream")
	t.Setenv("ZKSHARE_SMTP_HEADER_VALUE", "outbound")
	require.NoError(t, initConfig())

	cfg := mailConfig()
	require.Equal(t, "smtp.example.com", cfg.Host)
	require.Equal(t, 587, cfg.Port)
	require.Equal(t, "X-PM-Message-Stream", cfg.HeaderKey)
	require.Equal(t, "outbound", cfg.HeaderValue)
}
