package domain

import (
	"encoding/json"
	"time"
)

// PeerExchangeResult is the outcome of one call to one peer.
//
// Status 0 means the request never produced an HTTP response (timeout, DNS,
// TLS, refused connection, unknown peer). In that case Err is set and Body
// holds a synthesized {"message": ...} document; otherwise Err is nil and
// Body is whatever the peer returned.
type PeerExchangeResult struct {
	Peer    Peer
	Status  int
	Body    []byte
	Err     error
	Elapsed time.Duration
}

// TransportFailed reports whether the peer was never reached.
func (r PeerExchangeResult) TransportFailed() bool {
	return r.Status == 0
}

// Succeeded reports a 2xx peer status.
func (r PeerExchangeResult) Succeeded() bool {
	return r.Status >= 200 && r.Status < 300
}

// ElapsedSeconds returns the round trip time with sub-second precision.
func (r PeerExchangeResult) ElapsedSeconds() float64 {
	if r.Elapsed < 0 {
		return 0
	}
	return r.Elapsed.Seconds()
}

// TransportFailure builds the status-0 result for a call that did not reach
// the peer.
func TransportFailure(peer Peer, err error, elapsed time.Duration) PeerExchangeResult {
	body, _ := json.Marshal(map[string]string{"message": err.Error()})
	return PeerExchangeResult{
		Peer:    peer,
		Status:  0,
		Body:    body,
		Err:     err,
		Elapsed: elapsed,
	}
}

// ResponseResult is the normalizer's verdict on a peer response. Payload is
// always usable; Diagnostic is set when the canonical form could not be
// produced and Payload fell back to the raw body.
type ResponseResult struct {
	Payload    json.RawMessage
	Form       Form
	Diagnostic error
}

// NormalizedExchange is the caller-facing view of one round trip.
type NormalizedExchange struct {
	Peer       Peer
	Status     int
	Request    CanonicalPayload
	Response   json.RawMessage
	Form       Form
	Diagnostic string
	Elapsed    time.Duration
}

// ExchangeState is a step of the orchestrator state machine.
type ExchangeState string

const (
	StateReceived           ExchangeState = "received"
	StateAuthenticated      ExchangeState = "authenticated"
	StateRequestNormalized  ExchangeState = "request_normalized"
	StatePeerResolved       ExchangeState = "peer_resolved"
	StateDispatched         ExchangeState = "dispatched"
	StateResponseNormalized ExchangeState = "response_normalized"
	StateLogged             ExchangeState = "logged"
	StateCompleted          ExchangeState = "completed"
	StateErrored            ExchangeState = "errored"
)

// Terminal reports whether no transition leaves the state.
func (s ExchangeState) Terminal() bool {
	return s == StateCompleted || s == StateErrored
}
