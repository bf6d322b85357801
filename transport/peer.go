package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/drblury/contractflow/internal/runtime/errors"
	"github.com/drblury/contractflow/internal/runtime/ids"
	"github.com/drblury/contractflow/internal/runtime/logging"
	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

type peerState int

const (
	peerDisconnected peerState = iota
	peerConnecting
	peerConnected
)

// Peer implements Adapter on top of a Link.
type Peer struct {
	link    Link
	caps    Capabilities
	opts    Options
	id      string
	logger  logging.ServiceLogger
	router  *Router
	pending *Pending

	mu          sync.RWMutex
	state       peerState
	connStr     string
	lanes       map[string]*Queue[Envelope]
	ctx         context.Context
	cancel      context.CancelFunc
	session     *AuthResult
	lostFns     []func(error)
	peerLostFns []func(string)
}

var (
	_ Adapter                = (*Peer)(nil)
	_ ConnectionLossNotifier = (*Peer)(nil)
	_ PeerLossNotifier       = (*Peer)(nil)
	_ CapabilitiesProvider   = (*Peer)(nil)
)

// NewPeer wraps link in an Adapter.
func NewPeer(link Link, caps Capabilities, opts Options) *Peer {
	opts = opts.withDefaults()
	id := opts.PeerID
	if id == "" {
		id = ids.CreateULID()
	}
	logger := logging.NewWatermillServiceLogger(opts.Logger).With(logging.LogFields{
		"transport": caps.Name,
		"peer_id":   id,
	})
	return &Peer{
		link:    link,
		caps:    caps,
		opts:    opts,
		id:      id,
		logger:  logger,
		router:  NewRouter(logger),
		pending: NewPending(),
	}
}

// ID returns the peer's wire identity.
func (p *Peer) ID() string { return p.id }

// Capabilities returns the capabilities of the underlying link.
func (p *Peer) Capabilities() Capabilities { return p.caps }

// Router exposes the handler table.
func (p *Peer) Router() *Router { return p.router }

// Connect opens the link.
func (p *Peer) Connect(ctx context.Context, connectionString string) error {
	u, err := ParseConnectionString(connectionString)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.state != peerDisconnected {
		p.mu.Unlock()
		return errors.ErrAlreadyConnected
	}
	p.state = peerConnecting
	p.connStr = connectionString
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.lanes = make(map[string]*Queue[Envelope])
	p.mu.Unlock()

	fail := func(err error) error {
		p.mu.Lock()
		p.closeLanesLocked()
		p.cancel()
		p.state = peerDisconnected
		p.mu.Unlock()
		return transportError(err)
	}

	err = p.link.Open(ctx, Endpoint{
		ConnectionString: connectionString,
		URL:              u,
		PeerID:           p.id,
		Listen:           p.opts.Listen,
		Logger:           p.opts.Logger,
		Deliver:          p.deliver,
		Lost:             p.lost,
		PeerLost:         p.peerLost,
	})
	if err != nil {
		return fail(err)
	}
	for _, requestType := range p.router.RequestTypes() {
		if err := p.link.Serve(ctx, requestType); err != nil {
			_ = p.link.Close(ctx)
			return fail(err)
		}
	}

	p.mu.Lock()
	p.state = peerConnected
	p.mu.Unlock()
	p.logger.Debug("Transport connected", logging.LogFields{"connection": connectionString})
	return nil
}

// Disconnect closes the link and fails all in-flight requests. It is a
// no-op when not connected.
func (p *Peer) Disconnect(ctx context.Context) error {
	if !p.teardown() {
		return nil
	}
	p.logger.Debug("Transport disconnected", nil)
	return p.link.Close(ctx)
}

func (p *Peer) teardown() bool {
	p.mu.Lock()
	if p.state != peerConnected {
		p.mu.Unlock()
		return false
	}
	p.state = peerDisconnected
	p.closeLanesLocked()
	p.cancel()
	p.mu.Unlock()

	p.pending.FailAll(msgerr.New(msgerr.CodeNotConnected).ToResponseError())
	return true
}

// IsConnected reports whether the link is open.
func (p *Peer) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == peerConnected
}

// ConnectionString returns the last string passed to Connect.
func (p *Peer) ConnectionString() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connStr
}

// OnConnectionLost registers fn for links that drop on their own.
func (p *Peer) OnConnectionLost(fn func(err error)) {
	p.mu.Lock()
	p.lostFns = append(p.lostFns, fn)
	p.mu.Unlock()
}

// OnPeerLost registers fn for remote peers going away.
func (p *Peer) OnPeerLost(fn func(peerID string)) {
	p.mu.Lock()
	p.peerLostFns = append(p.peerLostFns, fn)
	p.mu.Unlock()
}

// Emit publishes an event to the other peers.
func (p *Peer) Emit(ctx context.Context, event string, payload json.RawMessage, mc msgctx.MessageContext) error {
	if !p.IsConnected() {
		return msgerr.New(msgerr.CodeNotConnected, msgerr.WithCause(errors.ErrNotConnected))
	}
	mc = p.outbound(mc)
	env := Envelope{
		Kind:    KindEvent,
		ID:      mc.ID,
		Name:    event,
		Sender:  p.id,
		Payload: payload,
		Context: mc,
	}
	if err := p.link.Publish(ctx, env); err != nil {
		return transportError(err)
	}
	return nil
}

// On registers an event handler.
func (p *Peer) On(event string, handler EventHandler) (HandlerID, error) {
	return p.router.On(event, handler)
}

// Off removes an event handler.
func (p *Peer) Off(event string, id HandlerID) {
	p.router.Off(event, id)
}

// HandleRequest registers the handler for requestType and, when connected,
// starts serving it.
func (p *Peer) HandleRequest(requestType string, handler RequestHandler) error {
	if err := p.router.HandleRequest(requestType, handler); err != nil {
		return err
	}
	if p.IsConnected() {
		if err := p.link.Serve(context.Background(), requestType); err != nil {
			return transportError(err)
		}
	}
	return nil
}

// Request sends a request and waits for the matching response.
func (p *Peer) Request(ctx context.Context, requestType string, payload json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, error) {
	if !p.IsConnected() {
		return nil, msgerr.New(msgerr.CodeNotConnected, msgerr.WithCause(errors.ErrNotConnected))
	}

	id := ids.NewRequestID()
	waiter := p.pending.Add(id)
	env := Envelope{
		Kind:    KindRequest,
		ID:      id,
		Name:    requestType,
		Sender:  p.id,
		ReplyTo: p.id,
		Payload: payload,
		Context: p.outbound(mc),
	}

	timeout := p.opts.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if err := p.link.Publish(ctx, env); err != nil {
		p.pending.Cancel(id)
		return nil, transportError(err)
	}

	select {
	case res := <-waiter:
		if res.Error != nil {
			return nil, msgerr.FromResponseError(*res.Error)
		}
		return res.Payload, nil
	case <-timer.C:
		p.pending.Cancel(id)
		return nil, timeoutError(requestType, timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		p.pending.Cancel(id)
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutError(requestType, timeout, ctx.Err())
		}
		return nil, msgerr.New(msgerr.CodeRequestCancelled,
			msgerr.WithParam("requestType", requestType),
			msgerr.WithCause(ctx.Err()),
		)
	}
}

// Login authenticates and keeps the session; later outbound messages
// without auth carry its token.
func (p *Peer) Login(ctx context.Context, creds Credentials) (AuthResult, error) {
	res, err := p.opts.Authenticator(ctx, creds)
	if err != nil {
		return AuthResult{}, msgerr.ToMessagingError(err, msgerr.CodeLoginFailed)
	}
	p.mu.Lock()
	p.session = &res
	p.mu.Unlock()
	return res, nil
}

// Logout forgets the session.
func (p *Peer) Logout(context.Context) error {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
	return nil
}

// Session returns the current login, if any.
func (p *Peer) Session() (AuthResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return AuthResult{}, false
	}
	return *p.session, true
}

// PendingRequests returns the number of requests awaiting a response.
func (p *Peer) PendingRequests() int {
	return p.pending.Len()
}

func (p *Peer) outbound(mc msgctx.MessageContext) msgctx.MessageContext {
	mc = msgctx.New(mc)
	if mc.Source == "" {
		mc.Source = p.id
	}
	if mc.Auth == nil {
		p.mu.RLock()
		session := p.session
		p.mu.RUnlock()
		if session != nil {
			mc = mc.WithAuth(session.Token, session.Actor)
		}
	}
	return mc
}

func (p *Peer) deliver(env Envelope) {
	if env.Kind != KindResponse && env.Context.Target != "" && env.Context.Target != p.id {
		return
	}
	switch env.Kind {
	case KindResponse:
		res := Result{Payload: env.Payload, Error: env.Error, Context: env.Context}
		if !p.pending.Resolve(env.ID, res) {
			p.logger.Debug("Dropping response without a pending request", logging.LogFields{
				"request_id":   env.ID,
				"request_type": env.Name,
			})
		}
	case KindRequest:
		p.mu.RLock()
		ctx, live := p.ctx, p.lanes != nil
		p.mu.RUnlock()
		if live {
			go p.answer(ctx, env)
		}
	case KindEvent:
		if lane := p.lane(env.Sender); lane != nil {
			lane.Push(env)
		}
	}
}

// lane returns the event queue for sender, creating it on first use. Each
// remote peer gets its own queue so its events stay in order without
// waiting on other peers' handlers.
func (p *Peer) lane(sender string) *Queue[Envelope] {
	p.mu.RLock()
	lane, ok := p.lanes[sender]
	live := p.lanes != nil
	p.mu.RUnlock()
	if ok || !live {
		return lane
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lanes == nil {
		return nil
	}
	if lane, ok = p.lanes[sender]; !ok {
		lane = NewQueue(p.process)
		p.lanes[sender] = lane
	}
	return lane
}

func (p *Peer) closeLanesLocked() {
	for _, lane := range p.lanes {
		lane.Close()
	}
	p.lanes = nil
}

func (p *Peer) process(env Envelope) {
	p.mu.RLock()
	ctx := p.ctx
	p.mu.RUnlock()
	p.router.DispatchEvent(ctx, env.Name, env.Payload, env.Context)
}

func (p *Peer) answer(ctx context.Context, req Envelope) {
	out, merr := p.router.DispatchRequest(ctx, req.Name, req.Payload, req.Context)

	respCtx := req.Context.Child()
	respCtx.Source = p.id
	respCtx.Target = ""
	resp := Envelope{
		Kind:    KindResponse,
		ID:      req.ID,
		Name:    req.Name,
		Sender:  p.id,
		ReplyTo: req.ReplyTo,
		Context: respCtx,
	}
	if merr != nil {
		re := merr.ToResponseError()
		resp.Error = &re
	} else {
		resp.Payload = out
	}

	if err := p.link.Publish(ctx, resp); err != nil {
		p.logger.Error("Failed to send response", err, logging.LogFields{
			"request_id":   req.ID,
			"request_type": req.Name,
		})
	}
}

func (p *Peer) lost(err error) {
	if !p.teardown() {
		return
	}
	p.logger.Error("Transport connection lost", err, nil)
	_ = p.link.Close(context.Background())

	p.mu.RLock()
	fns := append([]func(error){}, p.lostFns...)
	p.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (p *Peer) peerLost(peerID string) {
	p.mu.Lock()
	if lane, ok := p.lanes[peerID]; ok {
		lane.Drain()
		delete(p.lanes, peerID)
	}
	fns := append([]func(string){}, p.peerLostFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(peerID)
	}
}

func transportError(err error) error {
	var me *msgerr.Error
	if stderrors.As(err, &me) {
		return me
	}
	if stderrors.Is(err, errors.ErrAlreadyConnected) || stderrors.Is(err, errors.ErrConnectionString) {
		return err
	}
	return msgerr.New(msgerr.CodeTransport, msgerr.WithParam("reason", err.Error()), msgerr.WithCause(err))
}

func timeoutError(requestType string, timeout time.Duration, cause error) *msgerr.Error {
	return msgerr.New(msgerr.CodeRequestTimeout,
		msgerr.WithParam("requestType", requestType),
		msgerr.WithParam("timeout", timeout.String()),
		msgerr.WithCause(fmt.Errorf("%w after %s", cause, timeout)),
	)
}
