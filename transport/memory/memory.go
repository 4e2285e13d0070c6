// Package memory is an in-process broadcast transport. It behaves like the
// relay: frames go to every other subscriber of the same channel, are never
// stored, and are dropped for a subscriber whose queue is full.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/commandquery/zkshare/rendezvous"
)

const queueLength = 64

var ErrClosed error = errors.New("subscription closed")

type frame struct {
	event   string
	payload json.RawMessage
}

type Hub struct {
	mu         sync.Mutex
	channels   map[string]map[*subscription]struct{}
	connectErr error
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*subscription]struct{})}
}

// FailConnect makes every later Connect return err. A nil err restores normal behaviour.
func (h *Hub) FailConnect(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectErr = err
}

// Subscribers returns the number of live subscriptions on a channel.
func (h *Hub) Subscribers(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[name])
}

func (h *Hub) Connect(ctx context.Context, name string) (rendezvous.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connectErr != nil {
		return nil, h.connectErr
	}

	sub := &subscription{
		hub:      h,
		name:     name,
		handlers: make(map[string]rendezvous.Handler),
		inbox:    make(chan frame, queueLength),
		done:     make(chan struct{}),
	}

	if h.channels[name] == nil {
		h.channels[name] = make(map[*subscription]struct{})
	}
	h.channels[name][sub] = struct{}{}

	go sub.run()
	return sub, nil
}

func (h *Hub) broadcast(from *subscription, f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.channels[from.name] {
		if sub == from {
			continue
		}
		select {
		case sub.inbox <- f:
		default:
		}
	}
}

func (h *Hub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.channels[sub.name]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.channels, sub.name)
	}
}

type subscription struct {
	hub  *Hub
	name string

	mu       sync.Mutex
	handlers map[string]rendezvous.Handler

	inbox     chan frame
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.inbox:
			s.mu.Lock()
			handler := s.handlers[f.event]
			s.mu.Unlock()

			if handler != nil {
				handler(f.payload)
			}
		}
	}
}

func (s *subscription) On(event string, handler rendezvous.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = handler
}

func (s *subscription) Send(ctx context.Context, event string, payload json.RawMessage) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.hub.broadcast(s, frame{event: event, payload: append(json.RawMessage(nil), payload...)})
	return nil
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
	return nil
}
