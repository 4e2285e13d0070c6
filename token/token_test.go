package token

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/commandquery/zkshare"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestExportImportKey(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var key Key
		copy(key[:], rapid.SliceOfN(rapid.Byte(), KeySize, KeySize).Draw(t, "key"))

		exported := ExportKey(key)
		if strings.ContainsAny(exported, "+/=") {
			t.Fatalf("exported key %q is not url-safe", exported)
		}

		imported, err := ImportKey(exported)
		if err != nil {
			t.Fatalf("import: %v", err)
		}
		if imported != key {
			t.Fatalf("round trip mismatch")
		}
	})
}

func TestImportKeyTolerantOfPadding(t *testing.T) {
	key, err := GenerateShareKey()
	require.NoError(t, err)

	padded := base64.URLEncoding.EncodeToString(key[:])
	require.True(t, strings.HasSuffix(padded, "="))

	imported, err := ImportKey(padded)
	require.NoError(t, err)
	require.Equal(t, key, imported)
}

func TestImportKeyInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", base64.RawURLEncoding.EncodeToString(make([]byte, 16))},
		{"long", base64.RawURLEncoding.EncodeToString(make([]byte, 33))},
		{"alphabet", "!!!!"},
		{"standard alphabet", strings.Repeat("+", 43)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportKey(tt.input)
			require.ErrorIs(t, err, zkshare.ErrInvalidKeyFormat)
		})
	}
}

func TestGenerateShareKeyDistinct(t *testing.T) {
	a, err := GenerateShareKey()
	require.NoError(t, err)
	b, err := GenerateShareKey()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.False(t, a.IsZero())

	a.Wipe()
	require.True(t, a.IsZero())
}

func TestGenerateShareID(t *testing.T) {
	id := GenerateShareID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(4), parsed.Version())
	require.NotEqual(t, id, GenerateShareID())
}

func TestGenerateTicketCodeAlphabet(t *testing.T) {
	for i := 0; i < 10000; i++ {
		code, err := GenerateTicketCode(5)
		require.NoError(t, err)
		require.Len(t, code, 5)
		require.False(t, strings.ContainsAny(code, "0O1IL"), code)
		require.NoError(t, ValidateCode(code))
	}
}

func TestGenerateTicketCodeLength(t *testing.T) {
	for length := MinCodeLength; length <= MaxCodeLength; length++ {
		code, err := GenerateTicketCode(length)
		require.NoError(t, err)
		require.Len(t, code, length)
	}

	_, err := GenerateTicketCode(3)
	require.ErrorIs(t, err, zkshare.ErrInvalidToken)
	_, err = GenerateTicketCode(7)
	require.ErrorIs(t, err, zkshare.ErrInvalidToken)
}

func TestTicketAlphabet(t *testing.T) {
	require.Len(t, TicketAlphabet, 31)
	require.False(t, strings.ContainsAny(TicketAlphabet, "0O1IL"))
	require.Equal(t, byte(248), rejectAbove)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "H7K2", NormalizeCode("h7k2"))
	assert.Equal(t, "H7K2", NormalizeCode(" h7-k2 "))
	assert.Equal(t, "ABCDEF", NormalizeCode("abc def ghi"))
	assert.Equal(t, "", NormalizeCode("--"))
}

func TestValidateCode(t *testing.T) {
	require.NoError(t, ValidateCode("H7K2"))
	require.ErrorIs(t, ValidateCode("H7K"), zkshare.ErrInvalidToken)
	require.ErrorIs(t, ValidateCode("H7KO"), zkshare.ErrInvalidToken)
	require.ErrorIs(t, ValidateCode("ABCDEFG"), zkshare.ErrInvalidToken)
}

func TestDeriveTokenKey(t *testing.T) {
	a, err := DeriveTokenKey("H7K2", "clinica-mar")
	require.NoError(t, err)

	again, err := DeriveTokenKey("h7k2", "clinica-mar")
	require.NoError(t, err)
	require.Equal(t, a, again, "derivation is deterministic over normalized input")

	other, err := DeriveTokenKey("H7K2", "clinica-norte")
	require.NoError(t, err)
	require.NotEqual(t, a, other, "namespace isolates keys")

	otherCode, err := DeriveTokenKey("H7K3", "clinica-mar")
	require.NoError(t, err)
	require.NotEqual(t, a, otherCode)
}

func TestDeriveTokenKeyInvalid(t *testing.T) {
	_, err := DeriveTokenKey("", "clinica-mar")
	require.ErrorIs(t, err, zkshare.ErrInvalidToken)

	_, err = DeriveTokenKey("H7K2", "")
	require.ErrorIs(t, err, zkshare.ErrInvalidToken)

	_, err = DeriveTokenKey("I0L1", "clinica-mar")
	require.ErrorIs(t, err, zkshare.ErrInvalidToken)
}
