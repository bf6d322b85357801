package transport

import (
	"encoding/json"
	"fmt"

	"github.com/drblury/contractflow/internal/runtime/jsoncodec"
	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

// Kind is the envelope type.
type Kind string

const (
	KindEvent    Kind = "event"
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	// KindHello announces a peer on point-to-point links.
	KindHello Kind = "hello"
)

// Envelope is the unit links move between peers.
type Envelope struct {
	Kind Kind `json:"kind"`
	// ID correlates a response with its request. Events carry their
	// message id.
	ID      string                `json:"id"`
	Name    string                `json:"name,omitempty"`
	Sender  string                `json:"sender"`
	ReplyTo string                `json:"replyTo,omitempty"`
	Payload json.RawMessage       `json:"payload,omitempty"`
	Error   *msgerr.ResponseError `json:"error,omitempty"`
	Context msgctx.MessageContext `json:"context"`
}

// Marshal encodes the envelope as JSON.
func (e Envelope) Marshal() ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// UnmarshalEnvelope decodes and sanity-checks an envelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := jsoncodec.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	switch env.Kind {
	case KindEvent, KindRequest, KindResponse, KindHello:
	default:
		return Envelope{}, fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
	return env, nil
}
