package relay

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// client is one websocket subscription on a channel.
type client struct {
	channel string
	send    chan []byte
}

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opBroadcast
	opCount
)

type op struct {
	kind   opKind
	client *client
	data   []byte
	count  chan int
}

// Hub fans frames out to the other subscribers of a channel. A single goroutine
// owns the channel map; register, unregister and broadcast requests are handled
// strictly in the order they were made. Nothing is kept once it has been
// forwarded.
type Hub struct {
	ops      chan op
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	log      *logrus.Logger

	// stopped is set under mu before stopCh closes, so no op is queued after
	// run has drained the queue.
	mu      sync.RWMutex
	stopped bool
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		ops:    make(chan op, 256),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		log:    log,
	}
}

func (h *Hub) Start() {
	go h.run()
}

// Stop closes every subscription and waits for the hub to exit.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()
		close(h.stopCh)
	})
	<-h.doneCh
}

// submit queues an op. It reports false once the hub is stopping; an op it
// accepted is always applied before the hub exits.
func (h *Hub) submit(o op) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return false
	}

	select {
	case h.ops <- o:
		return true
	case <-h.doneCh:
		return false
	}
}

func (h *Hub) register(c *client) bool {
	return h.submit(op{kind: opRegister, client: c})
}

func (h *Hub) unregister(c *client) {
	h.submit(op{kind: opUnregister, client: c})
}

func (h *Hub) broadcast(from *client, data []byte) {
	h.submit(op{kind: opBroadcast, client: from, data: data})
}

// Subscribers returns the number of subscriptions on a channel.
func (h *Hub) Subscribers(channel string) int {
	reply := make(chan int, 1)
	if !h.submit(op{kind: opCount, client: &client{channel: channel}, count: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.doneCh:
		return 0
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)

	channels := make(map[string]map[*client]struct{})

	for {
		select {
		case o := <-h.ops:
			h.apply(channels, o)

		case <-h.stopCh:
			// Apply whatever was accepted before Stop, then close every subscription.
			for drained := false; !drained; {
				select {
				case o := <-h.ops:
					h.apply(channels, o)
				default:
					drained = true
				}
			}
			for _, subs := range channels {
				for c := range subs {
					close(c.send)
				}
			}
			return
		}
	}
}

func (h *Hub) apply(channels map[string]map[*client]struct{}, o op) {
	switch o.kind {
	case opRegister:
		subs := channels[o.client.channel]
		if subs == nil {
			subs = make(map[*client]struct{})
			channels[o.client.channel] = subs
		}
		subs[o.client] = struct{}{}

	case opUnregister:
		subs := channels[o.client.channel]
		if _, ok := subs[o.client]; ok {
			delete(subs, o.client)
			close(o.client.send)
		}
		if len(subs) == 0 {
			delete(channels, o.client.channel)
		}

	case opBroadcast:
		for c := range channels[o.client.channel] {
			if c == o.client {
				continue
			}
			select {
			case c.send <- o.data:
			default:
				h.log.Debug("subscriber too slow, frame dropped")
			}
		}

	case opCount:
		o.count <- len(channels[o.client.channel])
	}
}
