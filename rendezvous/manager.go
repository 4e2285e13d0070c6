package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/commandquery/zkshare"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// ReadyInterval is how often a waiting receiver repeats its ready signal.
const ReadyInterval = 5 * time.Second

var ErrClosed error = errors.New("channel closed")

// Manager owns at most one live channel. Opening a new channel closes the
// previous one first, so a session never listens on two channels at once.
type Manager struct {
	transport Transport
	log       *logrus.Logger

	mu     sync.Mutex
	active *Handle
}

func NewManager(transport Transport, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{transport: transport, log: log}
}

// Open subscribes to the named channel.
func (m *Manager) Open(ctx context.Context, name string) (*Handle, error) {
	m.mu.Lock()
	prev := m.active
	m.active = nil
	m.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	log := m.log.WithField("channel", Fingerprint(name))

	ch, err := m.transport.Connect(ctx, name)
	if err != nil {
		log.WithError(err).Warn("channel setup failed")
		return nil, fmt.Errorf("%w: %v", zkshare.ErrChannelSetupFailed, err)
	}

	h := &Handle{
		manager: m,
		name:    name,
		ch:      ch,
		log:     log,
	}

	ch.On(zkshare.EventReady, h.dispatchReady)
	ch.On(zkshare.EventPayload, h.dispatchPayload)

	m.mu.Lock()
	replaced := m.active
	m.active = h
	m.mu.Unlock()

	if replaced != nil {
		_ = replaced.Close()
	}

	log.Debug("channel open")
	return h, nil
}

// Active returns the live handle, if any.
func (m *Manager) Active() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close closes the live handle. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	h := m.active
	m.active = nil
	m.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Close()
}

func (m *Manager) isActive(h *Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active == h
}

func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == h {
		m.active = nil
	}
}

// Handle is an open subscription. Its handlers stop firing once it is closed or
// superseded by another Open on the same manager.
type Handle struct {
	manager *Manager
	name    string
	ch      Channel
	log     *logrus.Entry
	closed  atomic.Bool

	mu        sync.Mutex
	onReady   func(zkshare.ReadySignal)
	onPayload func(zkshare.EncryptedEnvelope)
	announce  chan struct{}
}

func (h *Handle) Name() string { return h.name }

// Active reports whether the handle may still deliver events.
func (h *Handle) Active() bool {
	return !h.closed.Load() && h.manager.isActive(h)
}

func (h *Handle) OnReady(fn func(zkshare.ReadySignal)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReady = fn
}

func (h *Handle) OnPayload(fn func(zkshare.EncryptedEnvelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPayload = fn
}

func (h *Handle) dispatchReady(raw json.RawMessage) {
	if !h.Active() {
		return
	}

	var signal zkshare.ReadySignal
	if err := json.Unmarshal(raw, &signal); err != nil {
		h.log.WithError(err).Debug("dropping malformed ready signal")
		return
	}

	h.mu.Lock()
	fn := h.onReady
	h.mu.Unlock()

	if fn != nil {
		fn(signal)
	}
}

func (h *Handle) dispatchPayload(raw json.RawMessage) {
	if !h.Active() {
		return
	}

	var env zkshare.EncryptedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.IV == "" || env.Ciphertext == "" {
		h.log.Debug("dropping malformed payload")
		return
	}

	h.mu.Lock()
	fn := h.onPayload
	h.mu.Unlock()

	if fn != nil {
		fn(env)
	}
}

// Send broadcasts an event to the other subscribers.
func (h *Handle) Send(ctx context.Context, event string, v any) error {
	if h.closed.Load() {
		return ErrClosed
	}

	js, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unable to marshal %s event: %w", event, err)
	}

	if err := h.ch.Send(ctx, event, js); err != nil {
		return fmt.Errorf("unable to send %s event: %w", event, err)
	}
	return nil
}

// SendPayload broadcasts an encrypted payload.
func (h *Handle) SendPayload(ctx context.Context, env zkshare.EncryptedEnvelope) error {
	return h.Send(ctx, zkshare.EventPayload, env)
}

// AnnounceReady sends a ready signal immediately and, if interval is positive,
// repeats it until StopAnnouncing, Close or ctx is done. Only the first send
// reports an error.
func (h *Handle) AnnounceReady(ctx context.Context, role string, interval time.Duration) error {
	if err := h.Send(ctx, zkshare.EventReady, zkshare.ReadySignal{At: time.Now().UTC(), Role: role}); err != nil {
		return err
	}

	if interval <= 0 {
		return nil
	}

	stop := make(chan struct{})

	h.mu.Lock()
	if h.announce != nil {
		close(h.announce)
	}
	h.announce = stop
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !h.Active() {
					return
				}
				if err := h.Send(ctx, zkshare.EventReady, zkshare.ReadySignal{At: time.Now().UTC(), Role: role}); err != nil {
					h.log.WithError(err).Debug("ready announcement failed")
				}
			}
		}
	}()

	return nil
}

// StopAnnouncing ends a repeating ready announcement.
func (h *Handle) StopAnnouncing() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.announce != nil {
		close(h.announce)
		h.announce = nil
	}
}

// Close unsubscribes. It is safe to call more than once.
func (h *Handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}

	h.StopAnnouncing()
	h.manager.release(h)

	h.mu.Lock()
	h.onReady = nil
	h.onPayload = nil
	h.mu.Unlock()

	h.log.Debug("channel closed")
	return h.ch.Close()
}
