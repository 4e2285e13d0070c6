// Package relay is the realtime broadcast service both parties of a share
// connect to. It forwards frames between the subscribers of a channel and never
// stores them. Subscribing to a channel costs a hashcash proof of work bound to
// the channel name.
//
// The relay also serves the organization and template records and accepts
// share audit events.
package relay

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/jtp"
	"github.com/commandquery/zkshare/records"
	"github.com/commandquery/zkshare/rendezvous"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/crypto/nacl/sign"
	"golang.org/x/net/websocket"
)

const (
	sendQueueLength = 64
	pingInterval    = 30 * time.Second
	writeTimeout    = 10 * time.Second
	readTimeout     = 60 * time.Second
)

type Config struct {
	ListenAddr string
	Log        *logrus.Logger

	// ChallengeSize is the number of leading zero bits a subscription proof needs.
	// Each increment doubles the work.
	ChallengeSize int

	// PrivateSignKey and PublicSignKey sign challenges. A fresh pair is
	// generated when they are empty.
	PrivateSignKey []byte
	PublicSignKey  []byte

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
}

type Server struct {
	cfg     *Config
	isReady atomic.Bool
	log     *logrus.Logger

	hub   *Hub
	store records.Store
	srv   *http.Server
}

func New(cfg *Config, store records.Store) (*Server, error) {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}

	if cfg.ChallengeSize < 0 || cfg.ChallengeSize > zkshare.MaxComplexity {
		return nil, fmt.Errorf("challenge size %d out of range", cfg.ChallengeSize)
	}

	if len(cfg.PrivateSignKey) == 0 {
		pub, priv, err := sign.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("unable to generate signing key: %w", err)
		}
		cfg.PrivateSignKey = priv[:]
		cfg.PublicSignKey = pub[:]
	}

	if store == nil {
		store = records.NewMemoryStore()
	}

	srv := &Server{
		cfg:   cfg,
		log:   cfg.Log,
		hub:   NewHub(cfg.Log),
		store: store,
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     srv.Router(),
		ReadTimeout: cfg.ReadTimeout,
	}

	srv.hub.Start()
	return srv, nil
}

func (srv *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.Route("/api", func(r chi.Router) {
		// The websocket handler hijacks the connection, so it is not wrapped by the logger.
		r.Get("/realtime/{channel}", srv.handleRealtime)

		r.Group(func(r chi.Router) {
			r.Use(srv.httpLogger)
			r.Get("/challenge/{channel}", jtp.Handle(srv.handleChallenge))
			records.Routes(r, srv.store)
		})
	})

	mux.With(srv.httpLogger).Get("/livez", srv.handleLivenessCheck)
	mux.With(srv.httpLogger).Get("/readyz", srv.handleReadinessCheck)
	mux.With(srv.httpLogger).Get("/drain", srv.handleDrain)
	mux.With(srv.httpLogger).Get("/undrain", srv.handleUndrain)

	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		srv.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("http request")
	})
}

// Hub returns the broadcast hub.
func (srv *Server) Hub() *Hub { return srv.hub }

// PublicSignKey returns the key challenges are signed with.
func (srv *Server) PublicSignKey() []byte { return srv.cfg.PublicSignKey }

func (srv *Server) handleChallenge(w http.ResponseWriter, r *http.Request, _ *jtp.None) (*zkshare.ChallengeRequest, error) {
	if !srv.isReady.Load() {
		return nil, jtp.UnavailableError(errors.New("relay is draining"))
	}

	channel := chi.URLParam(r, "channel")
	if !rendezvous.ValidChannelName(channel) {
		return nil, jtp.BadRequestError(errors.New("invalid channel name"))
	}

	challenge, err := zkshare.NewChallenge(srv.cfg.ChallengeSize, channel, srv.cfg.PrivateSignKey)
	if err != nil {
		return nil, jtp.InternalServerError(err)
	}
	return challenge, nil
}

// ParseProof decodes the proof query parameter of a realtime request.
func ParseProof(encoded string) (*zkshare.ChallengeResponse, error) {
	js, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: bad proof encoding", zkshare.ErrChallengeInvalid)
	}

	var proof zkshare.ChallengeResponse
	if err := json.Unmarshal(js, &proof); err != nil {
		return nil, fmt.Errorf("%w: bad proof", zkshare.ErrChallengeInvalid)
	}
	return &proof, nil
}

func (srv *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		jtp.LogError(w, r, http.StatusServiceUnavailable, errors.New("relay is draining"))
		return
	}

	channel := chi.URLParam(r, "channel")
	if !rendezvous.ValidChannelName(channel) {
		jtp.LogError(w, r, http.StatusBadRequest, errors.New("invalid channel name"))
		return
	}

	proof, err := ParseProof(r.URL.Query().Get("proof"))
	if err == nil {
		err = zkshare.ValidateResponse(proof, channel, srv.cfg.PublicSignKey)
	}
	if err != nil {
		jtp.LogError(w, r, http.StatusForbidden, err)
		return
	}

	websocket.Server{
		// The proof has already been checked; browsers and the CLI both connect.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			srv.serveChannel(conn, channel)
		},
	}.ServeHTTP(w, r)
}

func (srv *Server) serveChannel(conn *websocket.Conn, channel string) {
	conn.MaxPayloadBytes = zkshare.MessageSizeLimit

	c := &client{
		channel: channel,
		send:    make(chan []byte, sendQueueLength),
	}

	log := srv.log.WithField("channel", rendezvous.Fingerprint(channel))

	if !srv.hub.register(c) {
		_ = conn.Close()
		return
	}

	log.Debug("subscribed")

	defer func() {
		srv.hub.unregister(c)
		_ = conn.Close()
		log.Debug("unsubscribed")
	}()

	go srv.writer(conn, c)
	srv.reader(conn, c, log)
}

// writer forwards queued frames and keeps the connection alive.
func (srv *Server) writer(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer conn.Close()

	ping, _ := json.Marshal(zkshare.Broadcast{Event: zkshare.EventPing})

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := websocket.Message.Send(conn, string(data)); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := websocket.Message.Send(conn, string(ping)); err != nil {
				return
			}
		}
	}
}

// reader validates frames from the subscriber and hands them to the hub.
func (srv *Server) reader(conn *websocket.Conn, c *client, log *logrus.Entry) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg []byte
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				log.Info("oversized frame dropped")
				continue
			}
			return
		}

		data, err := ValidateFrame(msg)
		if err != nil {
			log.WithError(err).Debug("frame dropped")
			continue
		}

		if data != nil {
			srv.hub.broadcast(c, data)
		}
	}
}

var ErrInvalidFrame error = errors.New("invalid frame")

// ValidateFrame checks a frame from a subscriber. It returns the bytes to
// forward, or nil for a keepalive.
func ValidateFrame(msg []byte) ([]byte, error) {
	if len(msg) > zkshare.MessageSizeLimit {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(msg))
	}

	var frame zkshare.Broadcast
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	switch frame.Event {
	case zkshare.EventPing:
		return nil, nil
	case zkshare.EventReady, zkshare.EventPayload:
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidFrame, frame.Event)
	}

	out, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return out, nil
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"status":"` + msg + `"}`))
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "alive")
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		writeStatus(w, http.StatusOK, "already draining")
		return
	}

	srv.log.Info("relay marked as not ready")
	writeStatus(w, http.StatusOK, "draining")
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		writeStatus(w, http.StatusOK, "already ready")
		return
	}

	srv.log.Info("relay marked as ready")
	writeStatus(w, http.StatusOK, "ready")
}

func (srv *Server) RunInBackground() {
	go func() {
		srv.log.WithField("listenAddress", srv.cfg.ListenAddr).Info("starting relay")
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.WithError(err).Error("relay failed")
		}
	}()
}

// Shutdown stops accepting subscriptions, waits out the drain period, then
// closes the listener and every open channel.
func (srv *Server) Shutdown() {
	if srv.isReady.Swap(false) && srv.cfg.DrainDuration > 0 {
		srv.log.WithField("duration", srv.cfg.DrainDuration).Info("draining")
		time.Sleep(srv.cfg.DrainDuration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server.
	srv.hub.Stop()

	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.WithError(err).Error("graceful relay shutdown failed")
	} else {
		srv.log.Info("relay gracefully stopped")
	}
}
