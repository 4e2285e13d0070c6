// Package ws connects to a relay channel over a websocket.
//
// Each Connect fetches a hashcash challenge for the channel, solves it, and
// presents the solution when the websocket is opened. Frames are
// zkshare.Broadcast values encoded as JSON text messages.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/jtp"
	"github.com/commandquery/zkshare/rendezvous"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

const (
	PingInterval = 30 * time.Second
	WriteTimeout = 10 * time.Second
	ReadTimeout  = 60 * time.Second
)

var ErrClosed error = errors.New("websocket closed")

// Transport dials channels on a relay.
type Transport struct {
	base *url.URL
	log  *logrus.Logger
}

// New returns a transport for the relay at baseURL, e.g. "https://relay.example.com".
func New(baseURL string, log *logrus.Logger) (*Transport, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url %q must start with http:// or https://", baseURL)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Transport{base: u, log: log}, nil
}

// ChallengeURL is where the relay hands out challenges for a channel.
func (t *Transport) ChallengeURL(name string) string {
	return t.base.String() + "/api/challenge/" + url.PathEscape(name)
}

// RealtimeURL is the websocket URL for a channel, carrying the proof of work.
func (t *Transport) RealtimeURL(name string, proof *zkshare.ChallengeResponse) (string, error) {
	js, err := json.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("unable to marshal proof: %w", err)
	}

	u := *t.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/api/realtime/" + name
	u.RawQuery = url.Values{"proof": {base64.RawURLEncoding.EncodeToString(js)}}.Encode()

	return u.String(), nil
}

func (t *Transport) Connect(ctx context.Context, name string) (rendezvous.Channel, error) {
	if !rendezvous.ValidChannelName(name) {
		return nil, fmt.Errorf("invalid channel name")
	}

	var request zkshare.ChallengeRequest
	if err := jtp.Call[jtp.None](ctx, http.MethodGet, t.ChallengeURL(name), nil, &request); err != nil {
		return nil, fmt.Errorf("unable to get challenge: %w", err)
	}

	proof, err := zkshare.SolveChallenge(ctx, &request)
	if err != nil {
		return nil, fmt.Errorf("unable to solve challenge: %w", err)
	}

	wsURL, err := t.RealtimeURL(name, proof)
	if err != nil {
		return nil, err
	}

	config, err := websocket.NewConfig(wsURL, t.base.String())
	if err != nil {
		return nil, fmt.Errorf("unable to configure websocket: %w", err)
	}

	conn, err := config.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to dial relay: %w", err)
	}
	conn.MaxPayloadBytes = zkshare.MessageSizeLimit

	c := &channel{
		conn:     conn,
		log:      t.log.WithField("channel", rendezvous.Fingerprint(name)),
		handlers: make(map[string]rendezvous.Handler),
		done:     make(chan struct{}),
	}

	go c.reader()
	go c.keepalive()

	return c, nil
}

type channel struct {
	conn *websocket.Conn
	log  *logrus.Entry

	wmu sync.Mutex // serialises writes

	mu       sync.Mutex
	handlers map[string]rendezvous.Handler

	done      chan struct{}
	closeOnce sync.Once
}

func (c *channel) On(event string, handler rendezvous.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

func (c *channel) Send(ctx context.Context, event string, payload json.RawMessage) error {
	return c.write(ctx, zkshare.Broadcast{Event: event, Payload: payload})
}

func (c *channel) write(ctx context.Context, frame zkshare.Broadcast) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = c.conn.SetWriteDeadline(deadline)
	if err := websocket.JSON.Send(c.conn, frame); err != nil {
		return fmt.Errorf("unable to write frame: %w", err)
	}
	return nil
}

// reader dispatches incoming frames until the connection fails or is closed.
func (c *channel) reader() {
	defer c.Close()

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(ReadTimeout))

		var frame zkshare.Broadcast
		if err := websocket.JSON.Receive(c.conn, &frame); err != nil {
			select {
			case <-c.done:
			default:
				c.log.WithError(err).Debug("relay connection lost")
			}
			return
		}

		if frame.Event == zkshare.EventPing {
			continue
		}

		c.mu.Lock()
		handler := c.handlers[frame.Event]
		c.mu.Unlock()

		if handler != nil {
			handler(frame.Payload)
		}
	}
}

func (c *channel) keepalive() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(context.Background(), zkshare.Broadcast{Event: zkshare.EventPing}); err != nil {
				c.log.WithError(err).Debug("keepalive failed")
				return
			}
		}
	}
}

// Close does not wait for the reader; it may be called from a handler.
func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
