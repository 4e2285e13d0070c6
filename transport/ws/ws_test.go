package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/commandquery/zkshare"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("relay.example.com", nil)
	require.Error(t, err)

	_, err = New("ftp://relay.example.com", nil)
	require.Error(t, err)
}

func TestRealtimeURL(t *testing.T) {
	tr, err := New("https://relay.example.com/", nil)
	require.NoError(t, err)

	require.Equal(t, "https://relay.example.com/api/challenge/share:clinica-mar:H7K2", tr.ChallengeURL("share:clinica-mar:H7K2"))

	proof := &zkshare.ChallengeResponse{Challenge: []byte{1, 2, 3}, Nonce: 42}
	raw, err := tr.RealtimeURL("public:abc", proof)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "wss", u.Scheme)
	require.Equal(t, "/api/realtime/public:abc", u.Path)

	js, err := base64.RawURLEncoding.DecodeString(u.Query().Get("proof"))
	require.NoError(t, err)

	var got zkshare.ChallengeResponse
	require.NoError(t, json.Unmarshal(js, &got))
	require.Equal(t, *proof, got)

	plain, err := New("http://localhost:8080", nil)
	require.NoError(t, err)
	raw, err = plain.RealtimeURL("public:abc", proof)
	require.NoError(t, err)
	require.Contains(t, raw, "ws://localhost:8080/api/realtime/public:abc?proof=")
}

func TestConnectRejectsInvalidChannel(t *testing.T) {
	tr, err := New("http://127.0.0.1:1", nil)
	require.NoError(t, err)

	_, err = tr.Connect(context.Background(), "nope")
	require.Error(t, err)
}
