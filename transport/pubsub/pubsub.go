// Package pubsub adapts any Watermill publisher/subscriber pair into a
// transport.Link. Broker packages (channel, kafka, rabbitmq, nats, aws,
// http) only supply a DialFunc.
//
// Envelopes travel on three topic families:
//
//	contractflow_events               every peer, fan-out
//	contractflow_requests_<type>      serving peers, competing consumers
//	contractflow_responses_<peerID>   the requesting peer only
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/contractflow/internal/runtime/msgerr"
	"github.com/drblury/contractflow/transport"
)

// Metadata keys set on every outgoing Watermill message.
const (
	MetadataKind   = "contractflow_kind"
	MetadataName   = "contractflow_name"
	MetadataSender = "contractflow_sender"
	MetadataTrace  = "trace_id"
)

// TopicPrefix starts every topic name.
const TopicPrefix = "contractflow"

// DefaultQueue is the consumer group shared by peers serving requests.
// Override it per connection with the "queue" query parameter.
const DefaultQueue = "contractflow_servers"

// Dialer opens broker clients for one peer.
type Dialer interface {
	Publisher(ctx context.Context) (message.Publisher, error)
	// Subscriber returns a subscriber. An empty queue means fan-out: every
	// peer receives every message. Peers sharing a non-empty queue compete
	// for messages.
	Subscriber(ctx context.Context, queue string) (message.Subscriber, error)
}

// DialFunc creates a Dialer for the endpoint's connection string.
type DialFunc func(ctx context.Context, ep transport.Endpoint) (Dialer, error)

var unsafeTopicChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Sanitize maps a message name onto the character set every supported
// broker accepts in topic names.
func Sanitize(name string) string {
	return unsafeTopicChars.ReplaceAllString(name, "_")
}

// EventsTopic carries all events.
func EventsTopic() string { return TopicPrefix + "_events" }

// RequestTopic carries requests of one type.
func RequestTopic(requestType string) string {
	return TopicPrefix + "_requests_" + Sanitize(requestType)
}

// ResponseTopic carries responses addressed to one peer.
func ResponseTopic(peerID string) string {
	return TopicPrefix + "_responses_" + Sanitize(peerID)
}

// TopicFor returns the topic env is published on.
func TopicFor(env transport.Envelope) string {
	switch env.Kind {
	case transport.KindRequest:
		return RequestTopic(env.Name)
	case transport.KindResponse:
		return ResponseTopic(env.ReplyTo)
	default:
		return EventsTopic()
	}
}

// Option configures a Link.
type Option func(*Link)

// WithMetrics decorates the publisher and subscribers with Watermill's
// Prometheus metrics under subsystem.
func WithMetrics(registerer prometheus.Registerer, subsystem string) Option {
	return func(l *Link) {
		if registerer == nil {
			return
		}
		builder := metrics.NewPrometheusMetricsBuilder(registerer, TopicPrefix, Sanitize(subsystem))
		l.metrics = &builder
	}
}

// WithCapabilities sets the limits the link enforces on outgoing envelopes.
func WithCapabilities(caps transport.Capabilities) Option {
	return func(l *Link) { l.caps = caps }
}

// Link is a transport.Link over Watermill.
type Link struct {
	dial    DialFunc
	metrics *metrics.PrometheusMetricsBuilder
	caps    transport.Capabilities

	mu       sync.Mutex
	ep       transport.Endpoint
	logger   watermill.LoggerAdapter
	dialer   Dialer
	pub      message.Publisher
	fanout   message.Subscriber
	queueSub message.Subscriber
	queue    string
	served   map[string]struct{}
	outbox   *transport.Queue[*message.Message]
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewLink returns an unopened link.
func NewLink(dial DialFunc, opts ...Option) *Link {
	l := &Link{dial: dial}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Factory builds a registry factory for a broker scheme.
func Factory(scheme string, dial DialFunc, caps transport.Capabilities) transport.Factory {
	return func(opts transport.Options) (transport.Adapter, error) {
		link := NewLink(dial, WithCapabilities(caps), WithMetrics(opts.MetricsRegisterer, scheme))
		return transport.NewPeer(link, caps, opts), nil
	}
}

// Open dials the broker and subscribes to events and this peer's responses.
func (l *Link) Open(ctx context.Context, ep transport.Endpoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ep = ep
	l.logger = ep.Logger
	if l.logger == nil {
		l.logger = watermill.NopLogger{}
	}
	l.logger = l.logger.With(watermill.LogFields{"peer_id": ep.PeerID})
	l.queue = ep.URL.Query().Get("queue")
	if l.queue == "" {
		l.queue = DefaultQueue
	}
	l.served = make(map[string]struct{})

	dialer, err := l.dial(ctx, ep)
	if err != nil {
		return err
	}
	l.dialer = dialer

	pub, err := dialer.Publisher(ctx)
	if err != nil {
		return err
	}
	if l.metrics != nil {
		if pub, err = l.metrics.DecoratePublisher(pub); err != nil {
			return err
		}
	}
	l.pub = pub

	fanout, err := l.subscriber(ctx, "")
	if err != nil {
		_ = pub.Close()
		return err
	}
	l.fanout = fanout

	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.outbox = transport.NewQueue(l.sendEvent)

	for _, topic := range []string{EventsTopic(), ResponseTopic(ep.PeerID)} {
		if err := l.subscribe(fanout, topic); err != nil {
			l.closeLocked()
			return err
		}
	}
	return nil
}

func (l *Link) subscriber(ctx context.Context, queue string) (message.Subscriber, error) {
	sub, err := l.dialer.Subscriber(ctx, queue)
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		return l.metrics.DecorateSubscriber(sub)
	}
	return sub, nil
}

func (l *Link) subscribe(sub message.Subscriber, topic string) error {
	ch, err := sub.Subscribe(l.ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	l.wg.Add(1)
	go l.consume(topic, ch)
	return nil
}

func (l *Link) consume(topic string, ch <-chan *message.Message) {
	defer l.wg.Done()
	for msg := range ch {
		env, err := transport.UnmarshalEnvelope(msg.Payload)
		msg.Ack()
		if err != nil {
			l.logger.Error("Dropping undecodable envelope", err, watermill.LogFields{
				"topic":       topic,
				"message_uid": msg.UUID,
			})
			continue
		}
		if env.Kind == transport.KindEvent && env.Sender == l.ep.PeerID {
			continue
		}
		l.ep.Deliver(env)
	}
}

// Serve subscribes to the request topic of requestType on the shared queue.
func (l *Link) Serve(ctx context.Context, requestType string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dialer == nil {
		return fmt.Errorf("pubsub: link is not open")
	}
	if _, ok := l.served[requestType]; ok {
		return nil
	}
	if l.queueSub == nil {
		sub, err := l.subscriber(ctx, l.queue)
		if err != nil {
			return err
		}
		l.queueSub = sub
	}
	if err := l.subscribe(l.queueSub, RequestTopic(requestType)); err != nil {
		return err
	}
	l.served[requestType] = struct{}{}
	return nil
}

// Publish sends env. Events are queued and published in order without
// waiting for the broker; requests and responses are published inline.
func (l *Link) Publish(ctx context.Context, env transport.Envelope) error {
	l.mu.Lock()
	pub, outbox := l.pub, l.outbox
	l.mu.Unlock()
	if pub == nil {
		return fmt.Errorf("pubsub: link is not open")
	}

	data, err := env.Marshal()
	if err != nil {
		return err
	}
	if !l.caps.Fits(len(data)) {
		return msgerr.New(msgerr.CodeTransport, msgerr.WithParam("reason",
			fmt.Sprintf("envelope of %d bytes exceeds the %d byte limit", len(data), l.caps.MaxMessageSize)))
	}

	msg := message.NewMessage(watermill.NewULID(), data)
	msg.Metadata.Set(MetadataKind, string(env.Kind))
	msg.Metadata.Set(MetadataName, env.Name)
	msg.Metadata.Set(MetadataSender, env.Sender)
	if env.Context.TraceID != "" {
		msg.Metadata.Set(MetadataTrace, env.Context.TraceID)
	}

	if env.Kind == transport.KindEvent {
		if !outbox.Push(msg) {
			return fmt.Errorf("pubsub: link is closing")
		}
		return nil
	}
	msg.SetContext(ctx)
	return pub.Publish(TopicFor(env), msg)
}

func (l *Link) sendEvent(msg *message.Message) {
	l.mu.Lock()
	pub := l.pub
	l.mu.Unlock()
	if pub == nil {
		return
	}
	if err := pub.Publish(EventsTopic(), msg); err != nil {
		l.logger.Error("Failed to publish event", err, watermill.LogFields{
			"event":       msg.Metadata.Get(MetadataName),
			"message_uid": msg.UUID,
		})
	}
}

// Close publishes the events still queued, then stops consuming and
// closes the broker clients. Events left when ctx ends are dropped.
func (l *Link) Close(ctx context.Context) error {
	l.mu.Lock()
	outbox := l.outbox
	l.mu.Unlock()

	var drainErr error
	if outbox != nil {
		if err := outbox.CloseAndWait(ctx); err != nil {
			drainErr = fmt.Errorf("pubsub: %d queued events dropped: %w", outbox.Len(), err)
		}
	}

	l.mu.Lock()
	err := l.closeLocked()
	l.mu.Unlock()
	l.wg.Wait()
	return errors.Join(drainErr, err)
}

func (l *Link) closeLocked() error {
	if l.cancel != nil {
		l.cancel()
	}
	if l.outbox != nil {
		l.outbox.Close()
	}

	var errs []error
	closed := make(map[any]struct{})
	closeOnce := func(c interface{ Close() error }) {
		if c == nil {
			return
		}
		if _, done := closed[c]; done {
			return
		}
		closed[c] = struct{}{}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if l.pub != nil {
		closeOnce(l.pub)
	}
	if l.fanout != nil {
		closeOnce(l.fanout)
	}
	if l.queueSub != nil {
		closeOnce(l.queueSub)
	}
	if c, ok := l.dialer.(interface{ Close() error }); ok {
		closeOnce(c)
	}
	l.pub, l.fanout, l.queueSub, l.dialer = nil, nil, nil, nil

	return errors.Join(errs...)
}
