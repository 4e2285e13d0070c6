// Package session runs one side of a share: the sender that generates the key
// and pushes the encrypted payload, or the receiver that waits for it and
// decrypts it.
//
// Each side is a small state machine. The state only changes through the
// transition table below. The epoch counter changes only when a session is torn
// down and a new one begins; callbacks carry the epoch they were registered in
// and do nothing once it is stale.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/commandquery/zkshare/expiry"
	"github.com/commandquery/zkshare/rendezvous"
	"github.com/commandquery/zkshare/token"
	"github.com/sirupsen/logrus"
)

type State int

const (
	Idle State = iota
	Generating
	WaitingForPeer
	ReadyToSend
	Sent
	Receiving
	Viewing
	Expired
	Failed
)

var stateNames = [...]string{
	Idle:           "idle",
	Generating:     "generating",
	WaitingForPeer: "waiting for peer",
	ReadyToSend:    "ready to send",
	Sent:           "sent",
	Receiving:      "decrypting",
	Viewing:        "viewing",
	Expired:        "expired",
	Failed:         "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether a new session is needed to continue.
func (s State) Terminal() bool {
	return s == Sent || s == Expired || s == Failed
}

// live states hold a deadline that is checked lazily.
func (s State) live() bool {
	switch s {
	case Generating, WaitingForPeer, ReadyToSend, Receiving, Viewing:
		return true
	}
	return false
}

var transitions = map[State][]State{
	Idle:           {Generating, WaitingForPeer, Failed, Expired},
	Generating:     {WaitingForPeer, Failed, Expired},
	WaitingForPeer: {ReadyToSend, Receiving, Expired, Failed, Idle},
	ReadyToSend:    {Sent, Expired, Failed},
	Receiving:      {Viewing, Failed, Expired},
	Viewing:        {Expired},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var ErrIllegalTransition error = errors.New("illegal state transition")
var ErrNotReady error = errors.New("receiver is not ready")
var ErrNotViewing error = errors.New("nothing to view")

// Config is shared by senders and receivers.
type Config struct {
	Transport rendezvous.Transport
	Clock     expiry.Clock
	Log       *logrus.Logger

	// ReadyInterval is how often a waiting receiver repeats its ready signal.
	ReadyInterval time.Duration

	// CodeLength is the length of generated short codes.
	CodeLength int
}

func (c *Config) setDefaults() {
	if c.Clock == nil {
		c.Clock = expiry.SystemClock
	}
	if c.Log == nil {
		c.Log = logrus.New()
	}
	if c.ReadyInterval == 0 {
		c.ReadyInterval = rendezvous.ReadyInterval
	}
	if c.CodeLength == 0 {
		c.CodeLength = token.DefaultCodeLength
	}
}

// machine holds the state shared by both roles. Fields are guarded by mu.
type machine struct {
	mu      sync.Mutex
	state   State
	err     error
	epoch   uint64
	changed chan struct{}
	log     *logrus.Entry

	key      token.Key
	handle   *rendezvous.Handle
	deadline expiry.Deadline
	timer    *time.Timer
	cancel   context.CancelFunc
}

func (m *machine) init(log *logrus.Logger, role string) {
	m.changed = make(chan struct{})
	m.log = log.WithField("role", role)
}

func (m *machine) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *machine) transitionLocked(to State) error {
	if !allowed(m.state, to) {
		return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, m.state, to)
	}

	m.log.WithFields(logrus.Fields{"from": m.state.String(), "to": to.String()}).Debug("state change")
	m.state = to
	m.notifyLocked()
	return nil
}

// releaseLocked wipes the key and drops the channel and timer.
func (m *machine) releaseLocked() {
	m.key.Wipe()

	if m.handle != nil {
		_ = m.handle.Close()
		m.handle = nil
	}

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// beginLocked tears down whatever was running and starts a new epoch in Idle.
func (m *machine) beginLocked() uint64 {
	m.releaseLocked()
	m.deadline = expiry.Deadline{}
	m.epoch++
	m.state = Idle
	m.err = nil
	m.notifyLocked()
	return m.epoch
}

func (m *machine) failLocked(err error) {
	if terr := m.transitionLocked(Failed); terr != nil {
		m.log.WithError(terr).Debug("ignoring failure")
		return
	}
	m.err = err
	m.releaseLocked()
}

func (m *machine) armTimerLocked(epoch uint64, check func(uint64)) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.deadline.AfterFunc(func() { check(epoch) })
}

func (m *machine) snapshot() (State, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.changed
}

// waitFor blocks until done accepts the state or ctx ends. check runs the lazy
// expiry evaluation before each look at the state.
func (m *machine) waitFor(ctx context.Context, check func(), done func(State) bool) (State, error) {
	for {
		check()

		st, changed := m.snapshot()
		if done(st) {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-changed:
		}
	}
}

// Changed returns a channel that is closed at the next state change.
func (m *machine) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// Err returns the error that put the session into Failed or Expired.
func (m *machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
