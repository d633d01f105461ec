package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// Form identifies the normalization state of a payload.
type Form string

const (
	FormRaw            Form = "raw"
	FormCanonical      Form = "canonical"
	FormPassthrough    Form = "passthrough"
	FormTransportError Form = "transport_error"
)

// Kind selects which schema a payload is checked against.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// ErrNotNormalized is the panic value when a request's canonical body is read
// before the normalizer has produced it.
var ErrNotNormalized = errors.New("inbound request has not been normalized")

// Payload is a match document in a known normalization state. It is sealed:
// only RawPayload and CanonicalPayload implement it.
type Payload interface {
	Form() Form
	Bytes() json.RawMessage
	sealed()
}

// RawPayload is a document exactly as received from a caller or a peer.
type RawPayload struct {
	Body json.RawMessage
}

func (p RawPayload) Form() Form             { return FormRaw }
func (p RawPayload) Bytes() json.RawMessage { return p.Body }
func (RawPayload) sealed()                  {}

// CanonicalPayload is a document produced by the schema canonicalizer.
type CanonicalPayload struct {
	Body json.RawMessage
}

func (p CanonicalPayload) Form() Form             { return FormCanonical }
func (p CanonicalPayload) Bytes() json.RawMessage { return p.Body }
func (CanonicalPayload) sealed()                  {}

// InboundRequest is one match query received from a local caller.
type InboundRequest struct {
	Raw        RawPayload
	SenderID   string
	ReceivedAt time.Time
	Timeout    time.Duration

	canonical *CanonicalPayload
}

// NewInboundRequest stamps the receive time on a raw body.
func NewInboundRequest(body []byte, senderID string, timeout time.Duration) *InboundRequest {
	return &InboundRequest{
		Raw:        RawPayload{Body: body},
		SenderID:   senderID,
		ReceivedAt: time.Now().UTC(),
		Timeout:    timeout,
	}
}

// SetCanonical records the normalized body. It may be called once.
func (r *InboundRequest) SetCanonical(p CanonicalPayload) {
	if r.canonical != nil {
		panic("inbound request normalized twice")
	}
	r.canonical = &p
}

// Normalized reports whether SetCanonical has been called.
func (r *InboundRequest) Normalized() bool {
	return r.canonical != nil
}

// Canonical returns the normalized body and panics with ErrNotNormalized if
// normalization has not happened yet.
func (r *InboundRequest) Canonical() CanonicalPayload {
	if r.canonical == nil {
		panic(ErrNotNormalized)
	}
	return *r.canonical
}
