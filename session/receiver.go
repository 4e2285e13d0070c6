package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/envelope"
	"github.com/commandquery/zkshare/expiry"
	"github.com/commandquery/zkshare/records"
	"github.com/commandquery/zkshare/rendezvous"
	"github.com/commandquery/zkshare/token"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const auditTimeout = 10 * time.Second

// Receiver listens on a share channel and decrypts the payload sent to it.
type Receiver struct {
	machine

	cfg      Config
	audit    records.EventLogger
	channels *rendezvous.Manager
	op       sync.Mutex

	orgID   uuid.UUID
	payload *zkshare.SharePayload
}

// NewReceiver returns a receiver. audit may be nil; when set, every payload
// received in short-code mode is logged to it.
func NewReceiver(cfg Config, audit records.EventLogger) *Receiver {
	cfg.setDefaults()

	r := &Receiver{
		cfg:      cfg,
		audit:    audit,
		channels: rendezvous.NewManager(cfg.Transport, cfg.Log),
	}
	r.init(cfg.Log, zkshare.RoleReceiver)
	return r
}

// OpenLink starts listening for the share a link points at. A link whose
// expiry has passed is rejected without touching the transport.
func (r *Receiver) OpenLink(ctx context.Context, link string) error {
	r.op.Lock()
	defer r.op.Unlock()

	epoch := r.start(uuid.Nil)

	parsed, err := ParseLink(link)
	if err != nil {
		return r.abort(epoch, err)
	}
	defer parsed.Key.Wipe()

	deadline := expiry.Until(r.cfg.Clock, parsed.ExpiresAt)
	if deadline.Expired() {
		r.mu.Lock()
		if r.epoch == epoch {
			_ = r.transitionLocked(Expired)
			r.err = zkshare.ErrExpired
		}
		r.mu.Unlock()
		return zkshare.ErrExpired
	}

	return r.open(ctx, epoch, rendezvous.PublicChannelName(parsed.ShareID), parsed.Key, deadline)
}

// ListenCode starts listening for a short-code share within an organization.
func (r *Receiver) ListenCode(ctx context.Context, org *records.Organization, code string) error {
	r.op.Lock()
	defer r.op.Unlock()

	epoch := r.start(org.ID)

	code = token.NormalizeCode(code)
	key, err := token.DeriveTokenKey(code, org.Slug)
	if err != nil {
		return r.abort(epoch, err)
	}
	defer key.Wipe()

	deadline := expiry.Start(r.cfg.Clock, expiry.CodeWindow)
	return r.open(ctx, epoch, rendezvous.ChannelName(org.Slug, code), key, deadline)
}

func (r *Receiver) start(orgID uuid.UUID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	epoch := r.beginLocked()
	r.dropPayloadLocked()
	r.orgID = orgID
	return epoch
}

func (r *Receiver) abort(epoch uint64, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.epoch == epoch {
		r.failLocked(err)
	}
	return err
}

func (r *Receiver) open(ctx context.Context, epoch uint64, name string, key token.Key, deadline expiry.Deadline) error {
	h, err := r.channels.Open(ctx, name)
	if err != nil {
		return r.abort(epoch, err)
	}

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		_ = h.Close()
		return fmt.Errorf("%w: share was replaced", zkshare.ErrChannelSetupFailed)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	r.key = key
	r.handle = h
	r.deadline = deadline
	r.cancel = cancel
	r.armTimerLocked(epoch, r.expireIfDue)

	h.OnPayload(func(env zkshare.EncryptedEnvelope) { r.onPayload(epoch, env) })

	if err := r.transitionLocked(WaitingForPeer); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	if err := h.AnnounceReady(sessionCtx, zkshare.RoleReceiver, r.cfg.ReadyInterval); err != nil {
		return r.abort(epoch, fmt.Errorf("%w: %v", zkshare.ErrChannelSetupFailed, err))
	}

	r.log.WithFields(logrus.Fields{"channel": rendezvous.Fingerprint(name), "expires": deadline.ExpiresAt()}).Info("waiting for share")
	return nil
}

func (r *Receiver) onPayload(epoch uint64, env zkshare.EncryptedEnvelope) {
	r.mu.Lock()

	if r.epoch != epoch || r.expireLocked() || r.state != WaitingForPeer {
		r.mu.Unlock()
		return
	}

	_ = r.transitionLocked(Receiving)
	key := r.key
	r.mu.Unlock()

	payload, err := envelope.DecryptPayload(env, key)
	key.Wipe()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.epoch != epoch || r.state != Receiving {
		return
	}

	if err != nil {
		r.log.WithError(err).Warn("unable to decrypt share")
		r.failLocked(err)
		return
	}

	r.releaseLocked()
	r.payload = payload
	r.deadline = expiry.Start(r.cfg.Clock, expiry.ViewWindow)
	r.armTimerLocked(epoch, r.expireIfDue)
	_ = r.transitionLocked(Viewing)

	r.log.WithField("fields", len(payload.Fields)).Info("share received")

	if r.audit != nil && r.orgID != uuid.Nil {
		go r.logEvent(records.NewReceivedEvent(r.orgID, payload, r.cfg.Clock.Now()))
	}
}

// logEvent sends the audit event. A failure never affects the session.
func (r *Receiver) logEvent(ev records.ShareEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	if err := r.audit.LogShareEvent(ctx, ev); err != nil {
		r.log.WithError(err).Warn("unable to log share event")
	}
}

func (r *Receiver) expireLocked() bool {
	if r.state == Expired {
		return true
	}
	if !r.state.live() || !r.deadline.Expired() {
		return false
	}

	if err := r.transitionLocked(Expired); err != nil {
		return false
	}
	r.err = zkshare.ErrExpired
	r.releaseLocked()
	r.dropPayloadLocked()
	r.log.Info("share expired")
	return true
}

func (r *Receiver) expireIfDue(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.epoch == epoch {
		r.expireLocked()
	}
}

func (r *Receiver) dropPayloadLocked() {
	if r.payload == nil {
		return
	}
	for i := range r.payload.Fields {
		r.payload.Fields[i].Value = ""
	}
	r.payload = nil
}

// Payload returns the decrypted payload while the viewing window is open.
func (r *Receiver) Payload() (*zkshare.SharePayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.expireLocked() {
		return nil, zkshare.ErrExpired
	}
	if r.state != Viewing || r.payload == nil {
		return nil, fmt.Errorf("%w: share is %s", ErrNotViewing, r.state)
	}

	p := *r.payload
	p.Fields = append([]zkshare.ShareField(nil), r.payload.Fields...)
	return &p, nil
}

// Wait blocks until the payload has been received and returns it. If ctx ends
// first the wait is cancelled and ErrPeerUnavailable is returned, or ErrExpired
// if the window has also passed.
func (r *Receiver) Wait(ctx context.Context) (*zkshare.SharePayload, error) {
	check := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.expireLocked()
	}

	st, err := r.waitFor(ctx, check, func(st State) bool {
		return st != WaitingForPeer && st != Receiving
	})
	if err != nil {
		if r.State() == Expired {
			return nil, zkshare.ErrExpired
		}
		r.Cancel()
		return nil, fmt.Errorf("%w: %v", zkshare.ErrPeerUnavailable, err)
	}

	switch st {
	case Viewing:
		return r.Payload()
	case Expired:
		return nil, zkshare.ErrExpired
	default:
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: share is %s", ErrNotViewing, st)
	}
}

// Cancel stops waiting for a share. The session returns to Idle and reports
// ErrPeerUnavailable.
func (r *Receiver) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != WaitingForPeer {
		return
	}

	_ = r.transitionLocked(Idle)
	r.err = zkshare.ErrPeerUnavailable
	r.releaseLocked()
}

// State returns the current state, after checking the deadline.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	return r.state
}

// Remaining returns the time left in the waiting or viewing window.
func (r *Receiver) Remaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.live() {
		return 0
	}
	return r.deadline.Remaining()
}

// Deadline returns the deadline of the current waiting or viewing window.
func (r *Receiver) Deadline() expiry.Deadline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deadline
}

// Reset discards the payload and any share in progress.
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginLocked()
	r.dropPayloadLocked()
	r.orgID = uuid.Nil
}

func (r *Receiver) Close() error {
	r.Reset()
	return r.channels.Close()
}
