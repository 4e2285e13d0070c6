package envelope

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/token"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testPayload() *zkshare.SharePayload {
	return &zkshare.SharePayload{
		Meta: zkshare.ShareMeta{
			OrgSlug:      "clinica-mar",
			OrgName:      "Clinica Mar",
			TemplateID:   "7b7d1f9e-65f5-4bde-9d1b-0d2f7d0f5c11",
			TemplateName: "Cadastro",
			CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Fields: []zkshare.ShareField{
			{Slug: "full_name", Label: "Nome Completo", Value: "Ana Souza"},
			{Slug: "cpf", Label: "CPF", Value: "12345678909"},
		},
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var key token.Key
		copy(key[:], rapid.SliceOfN(rapid.Byte(), token.KeySize, token.KeySize).Draw(t, "key"))
		plaintext := rapid.SliceOf(rapid.Byte()).Draw(t, "plaintext")

		env, err := Seal(plaintext, key)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}

		opened, err := Open(env, key)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if string(opened) != string(plaintext) {
			t.Fatalf("round trip mismatch")
		}
	})
}

func TestPayloadRoundTrip(t *testing.T) {
	key, err := token.GenerateShareKey()
	require.NoError(t, err)

	env, err := EncryptPayload(testPayload(), key)
	require.NoError(t, err)

	got, err := DecryptPayload(env, key)
	require.NoError(t, err)
	require.Equal(t, testPayload(), got)
}

func TestWrongKey(t *testing.T) {
	key, err := token.GenerateShareKey()
	require.NoError(t, err)
	other, err := token.GenerateShareKey()
	require.NoError(t, err)

	env, err := EncryptPayload(testPayload(), key)
	require.NoError(t, err)

	_, err = DecryptPayload(env, other)
	require.ErrorIs(t, err, zkshare.ErrDecryptionFailed)
}

func TestNonceUniqueness(t *testing.T) {
	key, err := token.GenerateShareKey()
	require.NoError(t, err)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		env, err := Seal([]byte("same plaintext"), key)
		require.NoError(t, err)

		nonce, err := base64.StdEncoding.DecodeString(env.IV)
		require.NoError(t, err)
		require.Len(t, nonce, NonceSize)

		_, dup := seen[env.IV]
		require.False(t, dup, "nonce reused at call %d", i)
		seen[env.IV] = struct{}{}
	}
}

func TestOpenMalformed(t *testing.T) {
	key, err := token.GenerateShareKey()
	require.NoError(t, err)

	good, err := Seal([]byte("hello"), key)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(good.Ciphertext)
	require.NoError(t, err)
	raw[0] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name string
		env  zkshare.EncryptedEnvelope
	}{
		{"bad iv encoding", zkshare.EncryptedEnvelope{IV: "%%%", Ciphertext: good.Ciphertext}},
		{"short iv", zkshare.EncryptedEnvelope{IV: base64.StdEncoding.EncodeToString(make([]byte, 8)), Ciphertext: good.Ciphertext}},
		{"bad ciphertext encoding", zkshare.EncryptedEnvelope{IV: good.IV, Ciphertext: "%%%"}},
		{"tampered ciphertext", zkshare.EncryptedEnvelope{IV: good.IV, Ciphertext: tampered}},
		{"empty", zkshare.EncryptedEnvelope{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.env, key)
			require.ErrorIs(t, err, zkshare.ErrDecryptionFailed)
		})
	}
}

func TestDecryptPayloadRejectsNonPayload(t *testing.T) {
	key, err := token.GenerateShareKey()
	require.NoError(t, err)

	env, err := Seal([]byte("not json"), key)
	require.NoError(t, err)
	_, err = DecryptPayload(env, key)
	require.ErrorIs(t, err, zkshare.ErrDecryptionFailed)

	env, err = Encrypt(map[string]string{"hello": "world"}, key)
	require.NoError(t, err)
	_, err = DecryptPayload(env, key)
	require.ErrorIs(t, err, zkshare.ErrDecryptionFailed)
}
