package transport

import (
	"context"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
)

// Endpoint is what a Link needs to attach a peer.
type Endpoint struct {
	ConnectionString string
	URL              *url.URL
	PeerID           string
	Listen           bool
	Logger           watermill.LoggerAdapter

	// Deliver hands an inbound envelope to the peer. It must not block.
	Deliver func(env Envelope)
	// Lost reports that the link dropped on its own.
	Lost func(err error)
	// PeerLost reports that a remote peer went away.
	PeerLost func(peerID string)
}

// Link moves envelopes between peers. Peer layers request/response
// correlation, handler dispatch and sessions on top of it.
type Link interface {
	Open(ctx context.Context, ep Endpoint) error
	Close(ctx context.Context) error
	// Publish routes env by kind: events reach every other peer, requests
	// reach a peer serving env.Name, responses reach env.ReplyTo.
	Publish(ctx context.Context, env Envelope) error
	// Serve announces that this peer answers requestType.
	Serve(ctx context.Context, requestType string) error
}
