// Package contractflow is a contract-driven messaging runtime. A Contract
// names the events, requests and error codes two parties agree on, and every
// payload crossing a transport is checked against the schema declared for it.
//
// A Server hosts request handlers and tracks registered clients; a Client
// connects, registers, and then issues typed requests, emits events and
// listens for broadcasts. Both sides speak through a transport Adapter chosen
// by connection string scheme, so the same application code runs over the
// in-process memory hub in tests and a broker in production.
//
// # Transports
//
// Import transport/transports for side effects to register every built-in
// adapter, or import a single transport package:
//   - memory: in-process hub used by tests and examples
//   - channel: Watermill Go channels
//   - kafka, rabbitmq, nats: broker-backed pub/sub through Watermill
//   - aws: SNS/SQS with LocalStack support
//   - http: Watermill HTTP publisher and subscriber
//   - websocket: bidirectional gorilla/websocket connections
//
// # Middleware
//
// Requests and events flow through an ordered Pipeline. The built-in
// registrations cover validation, authentication, authorization against an
// access System, structured logging, OpenTelemetry tracing, Prometheus
// metrics, rate limiting, panic recovery and retries with backoff. Hooks
// attach callbacks around execution without writing an interceptor.
//
// # Errors
//
// Handler errors are converted into typed messaging errors carrying a code,
// an ErrorType and a Severity. Codes are declared on the contract's error
// registry; system and unknown errors are sanitized before they reach the
// caller.
//
// # Observability
//
// An observability Provider bundles the logger, metrics sink and tracer. Set
// it once with SetDefaultProvider or pass one per client or server.
package contractflow
