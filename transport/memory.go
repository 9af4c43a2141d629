package transport

import (
	"fmt"
	"sync"

	"github.com/adamgarcia4/goLearning/meshguard/gossip"
)

// Hub is an in-memory radio medium. Endpoints attach under an address; a
// send to an address reaches every endpoint attached there. Two endpoints on
// one address is how a cloned device (same MAC, same identity) looks on air.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string][]*Endpoint
	inboxSize int
}

func NewHub(inboxSize int) *Hub {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	return &Hub{
		endpoints: make(map[string][]*Endpoint),
		inboxSize: inboxSize,
	}
}

// Attach creates an endpoint listening on addr.
func (h *Hub) Attach(addr string) (*Endpoint, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddr)
	}
	e := &Endpoint{
		hub:   h,
		addr:  addr,
		peers: make(map[string]gossip.NodeID),
	}
	h.mu.Lock()
	h.endpoints[addr] = append(h.endpoints[addr], e)
	h.mu.Unlock()
	return e, nil
}

// Endpoints is the number of endpoints attached at addr.
func (h *Hub) Endpoints(addr string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.endpoints[addr])
}

func (h *Hub) detach(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// build a new slice; deliver may still be ranging over the old one
	kept := make([]*Endpoint, 0, len(h.endpoints[e.addr]))
	for _, other := range h.endpoints[e.addr] {
		if other != e {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(h.endpoints, e.addr)
		return
	}
	h.endpoints[e.addr] = kept
}

func (h *Hub) deliver(from *Endpoint, to string, payload []byte) error {
	h.mu.RLock()
	targets := append([]*Endpoint(nil), h.endpoints[to]...)
	h.mu.RUnlock()

	delivered := 0
	for _, t := range targets {
		if t == from {
			continue
		}
		buf := make([]byte, len(payload))
		copy(buf, payload)
		t.push(gossip.Packet{From: from.addr, Payload: buf}, h.inboxSize)
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("%w: %s", ErrUnreachable, to)
	}
	return nil
}

// Endpoint is one device's radio on a Hub. It implements gossip.Transport.
type Endpoint struct {
	hub  *Hub
	addr string

	mu      sync.Mutex
	peers   map[string]gossip.NodeID
	inbox   []gossip.Packet
	dropped uint64
	closed  bool
}

func (e *Endpoint) Addr() string { return e.addr }

func (e *Endpoint) AddPeer(id gossip.NodeID, addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: empty address for %s", ErrInvalidAddr, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.peers[addr] = id
	return nil
}

// Send fails for unregistered peers and for addresses nobody listens on.
func (e *Endpoint) Send(addr string, payload []byte) error {
	e.mu.Lock()
	_, known := e.peers[addr]
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	return e.hub.deliver(e, addr, payload)
}

func (e *Endpoint) Receive() (gossip.Packet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inbox) == 0 {
		return gossip.Packet{}, false
	}
	p := e.inbox[0]
	e.inbox[0] = gossip.Packet{}
	e.inbox = e.inbox[1:]
	return p, true
}

// Dropped is the number of packets lost to a full inbox.
func (e *Endpoint) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close detaches the endpoint from its hub.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.inbox = nil
	e.mu.Unlock()
	e.hub.detach(e)
	return nil
}

func (e *Endpoint) push(p gossip.Packet, max int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if len(e.inbox) >= max {
		e.dropped++
		return
	}
	e.inbox = append(e.inbox, p)
}
