package wallet

import (
	"testing"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()

	_, ok, err := store.Get(CPF)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(CPF, "12345678909"))
	require.NoError(t, store.Set(FullName, "Ana Souza"))
	require.ErrorIs(t, store.Set("Bad Slug", "x"), ErrInvalidSlug)

	v, ok, err := store.Get(CPF)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "12345678909", v)

	all, err := store.All()
	require.NoError(t, err)
	require.Equal(t, map[string]string{CPF: "12345678909", FullName: "Ana Souza"}, all)

	require.NoError(t, store.Delete(CPF))
	require.NoError(t, store.Delete(CPF))

	_, ok, err = store.Get(CPF)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Close())
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringStore("test-profile")
	exerciseStore(t, store)
	require.NoError(t, store.Clear())

	all, err := store.All()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestBadgerStore(t *testing.T) {
	store, err := OpenBadgerStore(t.TempDir(), nil)
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestBadgerStoreInMemory(t *testing.T) {
	store, err := OpenBadgerStore("", nil)
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "CPF", Label(CPF))
	assert.Equal(t, "Nome Completo", Label(FullName))
	assert.Equal(t, "CEP", Label(PostalCode))
	assert.Equal(t, "plano de saude", Label("plano_de_saude"))
}

func TestFilledOrder(t *testing.T) {
	fields := Filled(map[string]string{
		"zeta":   "z",
		CPF:      "12345678909",
		FullName: " Ana Souza ",
		Email:    "",
		"alpha":  "a",
	})

	require.Equal(t, []zkshare.ShareField{
		{Slug: FullName, Label: "Nome Completo", Value: "Ana Souza"},
		{Slug: CPF, Label: "CPF", Value: "12345678909"},
		{Slug: "alpha", Label: "alpha", Value: "a"},
		{Slug: "zeta", Label: "zeta", Value: "z"},
	}, fields)
}

func TestFieldsForTemplate(t *testing.T) {
	tmpl := &records.Template{
		Name: "Cadastro",
		Fields: []records.TemplateField{
			{Slug: FullName, Required: true, Position: 1},
			{Slug: CPF, Label: "Documento", Required: true, Position: 2},
			{Slug: Phone, Position: 3},
		},
	}

	fields, err := FieldsForTemplate(map[string]string{FullName: "Ana Souza", CPF: "12345678909"}, tmpl)
	require.NoError(t, err)
	require.Equal(t, []zkshare.ShareField{
		{Slug: FullName, Label: "Nome Completo", Value: "Ana Souza"},
		{Slug: CPF, Label: "Documento", Value: "12345678909"},
	}, fields)

	_, err = FieldsForTemplate(map[string]string{FullName: "Ana Souza"}, tmpl)
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{CPF}, missing.Slugs)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "12•••••••09", Mask("12345678909"))
	assert.Equal(t, "••••", Mask("abcd"))
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "Jo•ão", Mask("Joaão"))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "123.456.789-09", FormatValue(CPF, "12345678909"))
	assert.Equal(t, "(11) 98765-4321", FormatValue(Phone, "11987654321"))
	assert.Equal(t, "(11) 3765-4321", FormatValue(Phone, "1137654321"))
	assert.Equal(t, "01310-100", FormatValue(PostalCode, "01310100"))
	assert.Equal(t, "31/12/1990", FormatValue(BirthDate, "1990-12-31"))
	assert.Equal(t, "123", FormatValue(CPF, "123"))
	assert.Equal(t, "Ana", FormatValue(FullName, "Ana"))
}

func TestValidSlug(t *testing.T) {
	assert.True(t, ValidSlug("birth_date"))
	assert.False(t, ValidSlug(""))
	assert.False(t, ValidSlug("Birth"))
	assert.False(t, ValidSlug("a-b"))
}
