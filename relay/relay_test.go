package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/jtp"
	"github.com/commandquery/zkshare/records"
	"github.com/commandquery/zkshare/rendezvous"
	"github.com/commandquery/zkshare/session"
	"github.com/commandquery/zkshare/transport/ws"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newTestRelay(t *testing.T, store records.Store) (*Server, *httptest.Server) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	srv, err := New(&Config{Log: log, ChallengeSize: 4}, store)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		srv.hub.Stop()
	})

	return srv, ts
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func getStatus(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body.Status
}

func TestHealthAndDrain(t *testing.T) {
	_, ts := newTestRelay(t, nil)

	code, status := getStatus(t, ts.URL+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", status)

	code, status = getStatus(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", status)

	_, status = getStatus(t, ts.URL+"/drain")
	assert.Equal(t, "draining", status)
	_, status = getStatus(t, ts.URL+"/drain")
	assert.Equal(t, "already draining", status)

	code, _ = getStatus(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	var req zkshare.ChallengeRequest
	err := jtp.Call[jtp.None](testCtx(t), http.MethodGet, ts.URL+"/api/challenge/public:"+uuid.NewString(), nil, &req)
	require.ErrorIs(t, err, jtp.ErrUnavailable)

	_, status = getStatus(t, ts.URL+"/undrain")
	assert.Equal(t, "ready", status)
	_, status = getStatus(t, ts.URL+"/undrain")
	assert.Equal(t, "already ready", status)
}

func TestChallengeIsBoundToChannel(t *testing.T) {
	srv, ts := newTestRelay(t, nil)
	ctx := testCtx(t)

	channel := rendezvous.ChannelName("clinica-mar", "H7K2")

	var req zkshare.ChallengeRequest
	require.NoError(t, jtp.Call[jtp.None](ctx, http.MethodGet, ts.URL+"/api/challenge/"+channel, nil, &req))

	proof, err := zkshare.SolveChallenge(ctx, &req)
	require.NoError(t, err)
	require.NoError(t, zkshare.ValidateResponse(proof, channel, srv.PublicSignKey()))
	require.ErrorIs(t, zkshare.ValidateResponse(proof, rendezvous.ChannelName("clinica-mar", "H7K3"), srv.PublicSignKey()), zkshare.ErrChallengeInvalid)

	err = jtp.Call[jtp.None](ctx, http.MethodGet, ts.URL+"/api/challenge/nope", nil, &req)
	require.ErrorIs(t, err, jtp.ErrBadRequest)
}

func TestRealtimeRejectsMissingProof(t *testing.T) {
	_, ts := newTestRelay(t, nil)

	resp, err := http.Get(ts.URL + "/api/realtime/public:" + uuid.NewString())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	bogus := base64.RawURLEncoding.EncodeToString([]byte(`{"challenge":"AAAA","nonce":1}`))
	resp, err = http.Get(ts.URL + "/api/realtime/public:" + uuid.NewString() + "?proof=" + bogus)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestValidateFrame(t *testing.T) {
	out, err := ValidateFrame([]byte(`{"event":"payload","payload":{"iv":"a","ciphertext":"b"}}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"payload","payload":{"iv":"a","ciphertext":"b"}}`, string(out))

	out, err = ValidateFrame([]byte(`{"event":"ping"}`))
	require.NoError(t, err)
	require.Nil(t, out)

	_, err = ValidateFrame([]byte(`{"event":"presence"}`))
	require.ErrorIs(t, err, ErrInvalidFrame)

	_, err = ValidateFrame([]byte(`not json`))
	require.ErrorIs(t, err, ErrInvalidFrame)

	big := make([]byte, zkshare.MessageSizeLimit+1)
	_, err = ValidateFrame(big)
	require.ErrorIs(t, err, ErrInvalidFrame)
}

func dialChannel(t *testing.T, ts *httptest.Server, transport *ws.Transport, channel string) *websocket.Conn {
	t.Helper()
	ctx := testCtx(t)

	var req zkshare.ChallengeRequest
	require.NoError(t, jtp.Call[jtp.None](ctx, http.MethodGet, transport.ChallengeURL(channel), nil, &req))
	proof, err := zkshare.SolveChallenge(ctx, &req)
	require.NoError(t, err)

	wsURL, err := transport.RealtimeURL(channel, proof)
	require.NoError(t, err)

	conn, err := websocket.Dial(wsURL, "", ts.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcastSkipsSender(t *testing.T) {
	srv, ts := newTestRelay(t, nil)
	transport, err := ws.New(ts.URL, nil)
	require.NoError(t, err)

	channel := rendezvous.PublicChannelName(uuid.NewString())
	a := dialChannel(t, ts, transport, channel)
	b := dialChannel(t, ts, transport, channel)
	other := dialChannel(t, ts, transport, rendezvous.PublicChannelName(uuid.NewString()))

	require.Eventually(t, func() bool { return srv.Hub().Subscribers(channel) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, websocket.JSON.Send(a, zkshare.Broadcast{Event: zkshare.EventReady, Payload: json.RawMessage(`{"role":"receiver"}`)}))

	var got zkshare.Broadcast
	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, websocket.JSON.Receive(b, &got))
	require.Equal(t, zkshare.EventReady, got.Event)

	for _, conn := range []*websocket.Conn{a, other} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
		var none zkshare.Broadcast
		require.Error(t, websocket.JSON.Receive(conn, &none))
	}
}

func TestShareOverRelay(t *testing.T) {
	store := records.NewMemoryStore()
	org := &records.Organization{Slug: "clinica-mar", Name: "Clínica Mar"}
	require.NoError(t, store.SaveOrganization(context.Background(), org))

	srv, ts := newTestRelay(t, store)
	ctx := testCtx(t)

	log := logrus.New()
	log.SetOutput(io.Discard)

	transport, err := ws.New(ts.URL, log)
	require.NoError(t, err)

	cfg := session.Config{Transport: transport, Log: log, ReadyInterval: 50 * time.Millisecond}

	sender := session.NewSender(cfg)
	defer sender.Close()

	audit := records.NewClient(ts.URL + "/api")
	receiver := session.NewReceiver(cfg, audit)
	defer receiver.Close()

	code, err := sender.GenerateCode(ctx, org.Slug)
	require.NoError(t, err)

	fetched, err := audit.Organization(ctx, org.Slug)
	require.NoError(t, err)
	require.NoError(t, receiver.ListenCode(ctx, fetched, code))

	require.NoError(t, sender.WaitForPeer(ctx))
	require.NoError(t, sender.Send(ctx, &zkshare.SharePayload{
		Meta:   zkshare.ShareMeta{OrgSlug: org.Slug},
		Fields: []zkshare.ShareField{{Slug: "cpf", Label: "CPF", Value: "12345678909"}},
	}))

	got, err := receiver.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "12345678909", got.Fields[0].Value)

	require.Eventually(t, func() bool { return len(store.Events()) == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := store.Events()[0]
	require.Equal(t, org.ID, ev.OrgID)
	require.Equal(t, []string{"cpf"}, ev.Fields)

	require.Eventually(t, func() bool {
		return srv.Hub().Subscribers(rendezvous.ChannelName(org.Slug, code)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
