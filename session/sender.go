package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/envelope"
	"github.com/commandquery/zkshare/expiry"
	"github.com/commandquery/zkshare/rendezvous"
	"github.com/commandquery/zkshare/token"
	"github.com/sirupsen/logrus"
)

type Mode int

const (
	ModeLink Mode = iota
	ModeCode
)

// Sender generates a share, waits for the receiver and sends the payload.
type Sender struct {
	machine

	cfg      Config
	channels *rendezvous.Manager

	// op serialises Generate calls so only one channel is ever being opened.
	op sync.Mutex

	mode Mode
	link *Link
	code string
}

func NewSender(cfg Config) *Sender {
	cfg.setDefaults()

	s := &Sender{
		cfg:      cfg,
		channels: rendezvous.NewManager(cfg.Transport, cfg.Log),
	}
	s.init(cfg.Log, zkshare.RoleSender)
	return s
}

// GenerateLink starts a link-mode share. Any share in progress is abandoned.
func (s *Sender) GenerateLink(ctx context.Context, baseURL string) (*Link, error) {
	s.op.Lock()
	defer s.op.Unlock()

	epoch, err := s.start(ModeLink)
	if err != nil {
		return nil, err
	}

	key, err := token.GenerateShareKey()
	if err != nil {
		return nil, s.abort(epoch, err)
	}
	defer key.Wipe()

	shareID := token.GenerateShareID()
	deadline := expiry.Start(s.cfg.Clock, expiry.LinkWindow)

	url, err := BuildLink(baseURL, shareID, deadline.ExpiresAt(), key)
	if err != nil {
		return nil, s.abort(epoch, err)
	}

	link := &Link{URL: url, ShareID: shareID, ExpiresAt: deadline.ExpiresAt()}

	if err := s.open(ctx, epoch, rendezvous.PublicChannelName(shareID), key, deadline); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.link = link
	s.mu.Unlock()

	return link, nil
}

// GenerateCode starts a short-code share within an organization and returns the code.
func (s *Sender) GenerateCode(ctx context.Context, orgSlug string) (string, error) {
	s.op.Lock()
	defer s.op.Unlock()

	epoch, err := s.start(ModeCode)
	if err != nil {
		return "", err
	}

	code, err := token.GenerateTicketCode(s.cfg.CodeLength)
	if err != nil {
		return "", s.abort(epoch, err)
	}

	key, err := token.DeriveTokenKey(code, orgSlug)
	if err != nil {
		return "", s.abort(epoch, err)
	}
	defer key.Wipe()

	deadline := expiry.Start(s.cfg.Clock, expiry.CodeWindow)

	if err := s.open(ctx, epoch, rendezvous.ChannelName(orgSlug, code), key, deadline); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.code = code
	s.mu.Unlock()

	return code, nil
}

func (s *Sender) start(mode Mode) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	epoch := s.beginLocked()
	s.mode = mode
	s.link = nil
	s.code = ""

	if err := s.transitionLocked(Generating); err != nil {
		return 0, err
	}
	return epoch, nil
}

func (s *Sender) abort(epoch uint64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch == epoch {
		s.failLocked(err)
	}
	return err
}

func (s *Sender) open(ctx context.Context, epoch uint64, name string, key token.Key, deadline expiry.Deadline) error {
	h, err := s.channels.Open(ctx, name)
	if err != nil {
		return s.abort(epoch, err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		_ = h.Close()
		return fmt.Errorf("%w: share was replaced", zkshare.ErrChannelSetupFailed)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	s.key = key
	s.handle = h
	s.deadline = deadline
	s.cancel = cancel
	s.armTimerLocked(epoch, s.expireIfDue)

	h.OnReady(func(signal zkshare.ReadySignal) { s.onReady(epoch, signal) })

	if err := s.transitionLocked(WaitingForPeer); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if err := h.AnnounceReady(sessionCtx, zkshare.RoleSender, 0); err != nil {
		return s.abort(epoch, fmt.Errorf("%w: %v", zkshare.ErrChannelSetupFailed, err))
	}

	s.log.WithFields(logrus.Fields{"channel": rendezvous.Fingerprint(name), "expires": deadline.ExpiresAt()}).Info("share open")
	return nil
}

func (s *Sender) onReady(epoch uint64, signal zkshare.ReadySignal) {
	if signal.Role == zkshare.RoleSender {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch || s.expireLocked() {
		return
	}

	if s.state == WaitingForPeer {
		_ = s.transitionLocked(ReadyToSend)
	}
}

// expireLocked moves a live share past its deadline to Expired and reports
// whether the share is expired.
func (s *Sender) expireLocked() bool {
	if s.state == Expired {
		return true
	}
	if !s.state.live() || !s.deadline.Expired() {
		return false
	}

	if err := s.transitionLocked(Expired); err != nil {
		return false
	}
	s.err = zkshare.ErrExpired
	s.releaseLocked()
	s.log.Info("share expired")
	return true
}

func (s *Sender) expireIfDue(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch == epoch {
		s.expireLocked()
	}
}

// Send encrypts the payload and broadcasts it. The receiver must have announced
// itself first.
func (s *Sender) Send(ctx context.Context, payload *zkshare.SharePayload) error {
	s.mu.Lock()

	if s.expireLocked() {
		s.mu.Unlock()
		return zkshare.ErrExpired
	}

	if s.state != ReadyToSend {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: share is %s", ErrNotReady, state)
	}

	epoch := s.epoch
	key := s.key
	h := s.handle

	p := *payload
	if p.Meta.CreatedAt.IsZero() {
		p.Meta.CreatedAt = s.cfg.Clock.Now().UTC()
	}
	if s.mode == ModeLink {
		exp := s.deadline.ExpiresAt().UTC()
		p.Meta.ExpiresAt = &exp
		p.Meta.Version = zkshare.PayloadVersion
	}

	s.mu.Unlock()
	defer key.Wipe()

	env, err := envelope.EncryptPayload(&p, key)
	if err != nil {
		return s.abort(epoch, err)
	}

	if err := h.SendPayload(ctx, env); err != nil {
		return s.abort(epoch, fmt.Errorf("%w: %v", zkshare.ErrChannelSetupFailed, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch == epoch && s.state == ReadyToSend {
		_ = s.transitionLocked(Sent)
		s.releaseLocked()
		s.log.WithField("fields", len(p.Fields)).Info("share sent")
	}

	return nil
}

// WaitForPeer blocks until the receiver is ready, the share ends, or ctx is done.
func (s *Sender) WaitForPeer(ctx context.Context) error {
	check := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.expireLocked()
	}

	st, err := s.waitFor(ctx, check, func(st State) bool {
		return st != Generating && st != WaitingForPeer
	})
	if err != nil {
		if s.State() == Expired {
			return zkshare.ErrExpired
		}
		return err
	}

	switch st {
	case ReadyToSend:
		return nil
	case Expired:
		return zkshare.ErrExpired
	default:
		if err := s.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: share is %s", ErrNotReady, st)
	}
}

// State returns the current state, after checking the deadline.
func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return s.state
}

// Remaining returns the time left before the share expires.
func (s *Sender) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.live() {
		return 0
	}
	return s.deadline.Remaining()
}

// Deadline returns the current share's deadline.
func (s *Sender) Deadline() expiry.Deadline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Link returns the link of the current link-mode share.
func (s *Sender) Link() *Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Code returns the code of the current short-code share.
func (s *Sender) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Reset abandons the current share and returns to Idle.
func (s *Sender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginLocked()
	s.link = nil
	s.code = ""
}

// Close abandons the current share and releases the channel manager.
func (s *Sender) Close() error {
	s.Reset()
	return s.channels.Close()
}
