// Package websocket provides a star-topology transport over gorilla
// websockets. The listening peer (Options.Listen) is the hub: it receives
// everything its clients send and routes its own messages to one client or
// all of them. Clients only ever talk to the hub.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gorilla/websocket"

	"github.com/drblury/contractflow/internal/runtime/msgerr"
	"github.com/drblury/contractflow/transport"
)

// Schemes served by this package.
var Schemes = []string{"ws", "wss"}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	helloWait  = 10 * time.Second
)

// ErrNoPeers is returned when the hub has nobody to send a request to.
var ErrNoPeers = errors.New("websocket: no connected peers")

func init() {
	Register()
}

// Register adds the websocket transport to the default registry.
func Register() {
	for _, scheme := range Schemes {
		transport.RegisterWithCapabilities(scheme, New, transport.WebSocketCapabilities)
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.WebSocketCapabilities
}

// New creates an unconnected websocket adapter.
func New(opts transport.Options) (transport.Adapter, error) {
	return transport.NewPeer(NewLink(), transport.WebSocketCapabilities, opts), nil
}

type conn struct {
	ws     *websocket.Conn
	peerID string
	done   chan struct{}
	once   sync.Once

	writeMu sync.Mutex
}

func newConn(ws *websocket.Conn, peerID string) *conn {
	return &conn{ws: ws, peerID: peerID, done: make(chan struct{})}
}

func (c *conn) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

// Link is the websocket implementation of transport.Link.
type Link struct {
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mu       sync.RWMutex
	ep       transport.Endpoint
	logger   watermill.LoggerAdapter
	server   *http.Server
	listener net.Listener
	conns    map[string]*conn
	order    []string
	upstream *conn
	closed   chan struct{}
	wg       sync.WaitGroup
}

// NewLink returns an unopened link.
func NewLink() *Link {
	return &Link{
		upgrader: websocket.Upgrader{
			// Any origin; callers authenticate with tokens.
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		dialer: &websocket.Dialer{HandshakeTimeout: 45 * time.Second},
	}
}

// Open listens as hub or dials the hub, depending on ep.Listen.
func (l *Link) Open(ctx context.Context, ep transport.Endpoint) error {
	l.mu.Lock()
	l.ep = ep
	l.logger = ep.Logger
	if l.logger == nil {
		l.logger = watermill.NopLogger{}
	}
	l.conns = make(map[string]*conn)
	l.order = nil
	l.upstream = nil
	l.closed = make(chan struct{})
	l.mu.Unlock()

	if ep.Listen {
		return l.listen()
	}
	return l.dial(ctx)
}

// Addr returns the hub's listen address, or nil for clients.
func (l *Link) Addr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *Link) listen() error {
	path := l.ep.URL.Path
	if path == "" {
		path = "/"
	}
	ln, err := net.Listen("tcp", l.ep.URL.Host)
	if err != nil {
		return fmt.Errorf("websocket: listen %s: %w", l.ep.URL.Host, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.accept)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	l.mu.Lock()
	l.listener = ln
	l.server = server
	l.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("Websocket server stopped", err, nil)
		}
	}()
	l.logger.Info("Websocket hub listening", watermill.LogFields{"addr": ln.Addr().String(), "path": path})
	return nil
}

func (l *Link) accept(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Error("Websocket upgrade failed", err, nil)
		return
	}

	_ = ws.SetReadDeadline(time.Now().Add(helloWait))
	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return
	}
	hello, err := transport.UnmarshalEnvelope(data)
	if err != nil || hello.Kind != transport.KindHello || hello.Sender == "" {
		_ = ws.Close()
		return
	}

	c := newConn(ws, hello.Sender)
	l.mu.Lock()
	if l.isClosing() {
		l.mu.Unlock()
		c.close()
		return
	}
	if old, ok := l.conns[c.peerID]; ok {
		old.close()
	} else {
		l.order = append(l.order, c.peerID)
	}
	l.conns[c.peerID] = c
	l.wg.Add(2)
	l.mu.Unlock()

	go l.pinger(c)
	go l.readLoop(c, false)
}

func (l *Link) dial(ctx context.Context) error {
	ws, _, err := l.dialer.DialContext(ctx, l.ep.URL.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket: dial %s: %w", l.ep.URL.Redacted(), err)
	}
	c := newConn(ws, "")

	hello, err := transport.Envelope{Kind: transport.KindHello, Sender: l.ep.PeerID}.Marshal()
	if err != nil {
		c.close()
		return err
	}
	if err := c.send(hello); err != nil {
		c.close()
		return fmt.Errorf("websocket: hello: %w", err)
	}

	l.mu.Lock()
	l.upstream = c
	l.wg.Add(2)
	l.mu.Unlock()

	go l.pinger(c)
	go l.readLoop(c, true)
	return nil
}

func (l *Link) pinger(c *conn) {
	defer l.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (l *Link) readLoop(c *conn, upstream bool) {
	err := l.pump(c)
	removed := l.drop(c)
	closing := l.isClosing()
	l.wg.Done()

	if closing || !removed {
		return
	}
	if upstream {
		if l.ep.Lost != nil {
			l.ep.Lost(err)
		}
		return
	}
	if l.ep.PeerLost != nil {
		l.ep.PeerLost(c.peerID)
	}
}

func (l *Link) pump(c *conn) error {
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		env, err := transport.UnmarshalEnvelope(data)
		if err != nil {
			l.logger.Error("Dropping undecodable envelope", err, watermill.LogFields{"remote_peer": c.peerID})
			continue
		}
		if env.Kind == transport.KindHello {
			continue
		}
		l.ep.Deliver(env)
	}
}

// drop closes c and reports whether it was still the registered socket. A
// conn replaced by a reconnect under the same id is not.
func (l *Link) drop(c *conn) bool {
	c.close()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.upstream == c {
		l.upstream = nil
		return true
	}
	if l.conns[c.peerID] != c {
		return false
	}
	delete(l.conns, c.peerID)
	for i, id := range l.order {
		if id == c.peerID {
			l.order = append(l.order[:i:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

func (l *Link) isClosing() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Serve is a no-op: every inbound request reaches the peer's router.
func (l *Link) Serve(context.Context, string) error { return nil }

// Publish writes env to the hub, or from the hub to the addressed client.
func (l *Link) Publish(_ context.Context, env transport.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	l.mu.RLock()
	upstream := l.upstream
	listening := l.server != nil
	var targets []*conn
	if listening {
		targets = l.route(env)
	}
	l.mu.RUnlock()

	if !listening {
		if upstream == nil {
			return fmt.Errorf("websocket: not connected")
		}
		return upstream.send(data)
	}

	if len(targets) == 0 {
		if env.Kind == transport.KindRequest {
			return msgerr.New(msgerr.CodeTransport,
				msgerr.WithParam("reason", ErrNoPeers.Error()),
				msgerr.WithCause(ErrNoPeers))
		}
		return nil
	}
	var errs []error
	for _, c := range targets {
		if err := c.send(data); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", c.peerID, err))
		}
	}
	return errors.Join(errs...)
}

// route must be called with l.mu held.
func (l *Link) route(env transport.Envelope) []*conn {
	switch env.Kind {
	case transport.KindResponse:
		if c, ok := l.conns[env.ReplyTo]; ok {
			return []*conn{c}
		}
		return nil
	case transport.KindRequest:
		if env.Context.Target != "" {
			if c, ok := l.conns[env.Context.Target]; ok {
				return []*conn{c}
			}
			return nil
		}
		if len(l.order) > 0 {
			return []*conn{l.conns[l.order[0]]}
		}
		return nil
	default:
		if env.Context.Target != "" {
			if c, ok := l.conns[env.Context.Target]; ok {
				return []*conn{c}
			}
			return nil
		}
		out := make([]*conn, 0, len(l.order))
		for _, id := range l.order {
			out = append(out, l.conns[id])
		}
		return out
	}
}

// Peers lists the clients connected to the hub in connection order.
func (l *Link) Peers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// Close shuts the hub or hangs up on it.
func (l *Link) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed == nil || l.isClosing() {
		l.mu.Unlock()
		return nil
	}
	close(l.closed)
	server := l.server
	conns := make([]*conn, 0, len(l.conns)+1)
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	if l.upstream != nil {
		conns = append(conns, l.upstream)
	}
	l.server = nil
	l.listener = nil
	l.mu.Unlock()

	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}
	for _, c := range conns {
		c.close()
	}
	l.wg.Wait()
	return err
}
