// Package memory provides the in-process reference transport. Peers that
// connect to the same "memory://<name>" share a hub; envelopes are copied
// through their JSON form so no state leaks between peers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/drblury/contractflow/internal/runtime/msgerr"
	"github.com/drblury/contractflow/transport"
)

// Scheme is the connection string scheme served by this package.
const Scheme = "memory"

// ErrConnectionSevered is reported to peers dropped by Sever.
var ErrConnectionSevered = errors.New("memory: connection severed")

func init() {
	Register()
}

// Register adds the memory transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(Scheme, New, transport.MemoryCapabilities)
}

// New creates an unconnected memory adapter.
func New(opts transport.Options) (transport.Adapter, error) {
	return NewPeer(opts), nil
}

// NewPeer creates an unconnected memory adapter with its concrete type.
func NewPeer(opts transport.Options) *transport.Peer {
	return transport.NewPeer(&Link{}, transport.MemoryCapabilities, opts)
}

type hub struct {
	mu    sync.RWMutex
	peers map[string]*Link
	order []string
}

var (
	hubsMu sync.Mutex
	hubs   = make(map[string]*hub)
)

func hubFor(name string) *hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[name]
	if !ok {
		h = &hub{peers: make(map[string]*Link)}
		hubs[name] = h
	}
	return h
}

func hubName(ep transport.Endpoint) string {
	name := ep.URL.Host + ep.URL.Path
	if name == "" {
		name = ep.URL.Opaque
	}
	if name == "" {
		name = "default"
	}
	return name
}

func (h *hub) join(l *Link) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.peers[l.ep.PeerID]; exists {
		return fmt.Errorf("memory: peer id %q already connected", l.ep.PeerID)
	}
	h.peers[l.ep.PeerID] = l
	h.order = append(h.order, l.ep.PeerID)
	return nil
}

func (h *hub) leave(l *Link) []*Link {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[l.ep.PeerID] != l {
		return nil
	}
	delete(h.peers, l.ep.PeerID)
	for i, id := range h.order {
		if id == l.ep.PeerID {
			h.order = append(h.order[:i:i], h.order[i+1:]...)
			break
		}
	}
	return h.snapshot()
}

func (h *hub) snapshot() []*Link {
	out := make([]*Link, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.peers[id])
	}
	return out
}

func (h *hub) members() []*Link {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot()
}

func (h *hub) get(id string) (*Link, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.peers[id]
	return l, ok
}

// Link is the memory implementation of transport.Link.
type Link struct {
	mu     sync.RWMutex
	hub    *hub
	ep     transport.Endpoint
	serves map[string]struct{}
}

// Open joins the hub named by the connection string.
func (l *Link) Open(_ context.Context, ep transport.Endpoint) error {
	l.mu.Lock()
	l.ep = ep
	l.serves = make(map[string]struct{})
	l.hub = hubFor(hubName(ep))
	h := l.hub
	l.mu.Unlock()
	return h.join(l)
}

// Close leaves the hub and tells the remaining peers.
func (l *Link) Close(context.Context) error {
	l.mu.RLock()
	h := l.hub
	l.mu.RUnlock()
	if h == nil {
		return nil
	}
	for _, other := range h.leave(l) {
		if other.ep.PeerLost != nil {
			other.ep.PeerLost(l.ep.PeerID)
		}
	}
	return nil
}

// Serve marks requestType as answered by this peer.
func (l *Link) Serve(_ context.Context, requestType string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.serves[requestType] = struct{}{}
	return nil
}

func (l *Link) serving(requestType string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.serves[requestType]
	return ok
}

// Publish routes env within the hub. A request nobody serves fails
// immediately with HANDLER_NOT_FOUND.
func (l *Link) Publish(_ context.Context, env transport.Envelope) error {
	l.mu.RLock()
	h := l.hub
	l.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("memory: link is not open")
	}

	data, err := env.Marshal()
	if err != nil {
		return err
	}
	deliver := func(to *Link) {
		copied, err := transport.UnmarshalEnvelope(data)
		if err != nil {
			return
		}
		to.ep.Deliver(copied)
	}

	switch env.Kind {
	case transport.KindEvent:
		for _, peer := range h.members() {
			if peer == l {
				continue
			}
			if env.Context.Target != "" && peer.ep.PeerID != env.Context.Target {
				continue
			}
			deliver(peer)
		}
	case transport.KindRequest:
		target := l.pickServer(h, env)
		if target == nil {
			return msgerr.New(msgerr.CodeHandlerNotFound, msgerr.WithParam("requestType", env.Name))
		}
		deliver(target)
	case transport.KindResponse:
		if peer, ok := h.get(env.ReplyTo); ok {
			deliver(peer)
		}
	}
	return nil
}

func (l *Link) pickServer(h *hub, env transport.Envelope) *Link {
	if env.Context.Target != "" {
		if peer, ok := h.get(env.Context.Target); ok && peer.serving(env.Name) {
			return peer
		}
		return nil
	}
	for _, peer := range h.members() {
		if peer.serving(env.Name) {
			return peer
		}
	}
	return nil
}

// Sever drops peerID from hub name as if its connection broke. It reports
// whether the peer was found.
func Sever(name, peerID string) bool {
	hubsMu.Lock()
	h, ok := hubs[name]
	hubsMu.Unlock()
	if !ok {
		return false
	}
	peer, ok := h.get(peerID)
	if !ok {
		return false
	}
	if peer.ep.Lost != nil {
		peer.ep.Lost(ErrConnectionSevered)
	} else {
		_ = peer.Close(context.Background())
	}
	return true
}
