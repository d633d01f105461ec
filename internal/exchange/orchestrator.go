// Package exchange runs one inbound match query through authentication,
// normalization, peer resolution, dispatch, response normalization and
// audit, in that order.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/metrics"
	"github.com/tjfontaine/mme-broker/internal/normalize"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
)

const tracerName = "github.com/tjfontaine/mme-broker/internal/exchange"

// Authenticator resolves an auth token to the sending peer.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Peer, error)
}

// PeerResolver maps target ids to outbound peers.
type PeerResolver interface {
	ResolveOutbound(ids []string) ([]domain.Peer, error)
}

// Dispatcher sends one canonical request to a sequence of peers.
type Dispatcher interface {
	Dispatch(ctx context.Context, request domain.CanonicalPayload, peers []domain.Peer, senderID string, timeout time.Duration) []domain.PeerExchangeResult
}

// Auditor persists one record per dispatched exchange.
type Auditor interface {
	Record(ctx context.Context, ex domain.NormalizedExchange, inbound *domain.InboundRequest) (*domain.AuditRecord, bool)
}

// MatchInput is one inbound match call. Body and Timeout are only looked
// at once the caller has authenticated.
type MatchInput struct {
	Token   string
	PeerIDs []string
	Body    io.Reader
	Timeout string // whole seconds; empty means the configured default
}

// Outcome is the result of a dispatched exchange. Exchanges follow the order
// of the resolved peers.
type Outcome struct {
	Exchanges []domain.NormalizedExchange
	Records   []*domain.AuditRecord
	Trace     []domain.ExchangeState
	SenderID  string
	Timeout   time.Duration
}

// Status is the HTTP status for the caller of a point-to-point exchange:
// the peer's own status, or 500 when the peer was never reached.
func (o *Outcome) Status() int {
	if len(o.Exchanges) == 0 {
		return http.StatusInternalServerError
	}
	if s := o.Exchanges[0].Status; s != 0 {
		return s
	}
	return http.StatusInternalServerError
}

// Body is the caller-facing payload of a point-to-point exchange.
func (o *Outcome) Body() json.RawMessage {
	if len(o.Exchanges) == 0 {
		return json.RawMessage(`{"message":"no peer was dispatched"}`)
	}
	return o.Exchanges[0].Response
}

// State is the last state reached.
func (o *Outcome) State() domain.ExchangeState {
	if len(o.Trace) == 0 {
		return ""
	}
	return o.Trace[len(o.Trace)-1]
}

func (o *Outcome) advance(s domain.ExchangeState) {
	o.Trace = append(o.Trace, s)
}

// Orchestrator owns the exchange state machine.
type Orchestrator struct {
	auth       Authenticator
	normalizer *normalize.Normalizer
	peers      PeerResolver
	dispatcher Dispatcher
	audit      Auditor
	metrics    *metrics.Collector
	logger     *slog.Logger
	tracer     trace.Tracer

	mu         sync.RWMutex
	federation config.FederationConfig
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFederationConfig sets timeout policy.
func WithFederationConfig(fc config.FederationConfig) Option {
	return func(o *Orchestrator) { o.federation = fc }
}

// SetFederationConfig swaps the timeout policy for later exchanges.
func (o *Orchestrator) SetFederationConfig(fc config.FederationConfig) {
	o.mu.Lock()
	o.federation = fc
	o.mu.Unlock()
}

func (o *Orchestrator) clampTimeout(d time.Duration) time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.federation.ClampTimeout(d)
}

// WithMetrics records exchange outcomes and response forms.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New wires an Orchestrator. Timeout policy defaults to the configuration
// defaults.
func New(auth Authenticator, normalizer *normalize.Normalizer, peers PeerResolver, dispatcher Dispatcher, audit Auditor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		auth:       auth,
		normalizer: normalizer,
		peers:      peers,
		dispatcher: dispatcher,
		audit:      audit,
		federation: config.Default().Federation,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Match runs a point-to-point exchange against exactly one outbound peer.
func (o *Orchestrator) Match(ctx context.Context, in MatchInput) (*Outcome, *domain.APIError) {
	if len(in.PeerIDs) != 1 {
		return &Outcome{Trace: []domain.ExchangeState{domain.StateReceived, domain.StateErrored}},
			domain.ErrInvalidRequest("exactly one target peer is required")
	}
	return o.run(ctx, "exchange.match", in)
}

// Broadcast fans one request out to the listed outbound peers, or to every
// outbound peer when none are listed. Each exchange is audited.
func (o *Orchestrator) Broadcast(ctx context.Context, in MatchInput) (*Outcome, *domain.APIError) {
	return o.run(ctx, "exchange.broadcast", in)
}

// Validate canonicalizes a candidate request without dispatching or
// auditing it.
func (o *Orchestrator) Validate(ctx context.Context, body []byte) (domain.CanonicalPayload, *domain.APIError) {
	canonical, err := o.normalizer.CanonicalizeRequest(ctx, body)
	if err != nil {
		return domain.CanonicalPayload{}, domain.AsAPIError(err)
	}
	return canonical, nil
}

func (o *Orchestrator) run(ctx context.Context, spanName string, in MatchInput) (out *Outcome, apiErr *domain.APIError) {
	ctx, span := o.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.StringSlice("mme.peer_ids", in.PeerIDs)))
	defer span.End()

	out = &Outcome{}
	out.advance(domain.StateReceived)

	defer func() {
		if apiErr != nil {
			out.advance(domain.StateErrored)
			o.metrics.RecordExchange(string(apiErr.Type))
			span.SetStatus(codes.Error, apiErr.Message)
			span.SetAttributes(attribute.String("mme.error_type", string(apiErr.Type)))
		}
		o.logger.DebugContext(ctx, "exchange finished",
			slog.Any("trace", out.Trace),
			slog.String("sender", out.SenderID),
			slog.Int("peers", len(out.Exchanges)))
	}()

	sender, err := o.auth.Authenticate(ctx, in.Token)
	if err != nil {
		return out, domain.AsAPIError(err)
	}
	out.SenderID = sender.ID
	out.advance(domain.StateAuthenticated)
	span.SetAttributes(attribute.String("mme.sender", sender.ID))

	timeout, apiErr := ParseTimeout(in.Timeout)
	if apiErr != nil {
		return out, apiErr
	}
	out.Timeout = o.clampTimeout(timeout)
	body, apiErr := ReadBody(in.Body)
	if apiErr != nil {
		return out, apiErr
	}

	inbound := domain.NewInboundRequest(body, sender.ID, out.Timeout)
	if err := o.normalizer.NormalizeRequest(ctx, inbound); err != nil {
		return out, domain.AsAPIError(err)
	}
	out.advance(domain.StateRequestNormalized)

	peers, err := o.peers.ResolveOutbound(in.PeerIDs)
	if err != nil {
		return out, domain.AsAPIError(err)
	}
	if len(peers) == 0 {
		return out, domain.ErrInvalidRequest("no outbound peers are configured")
	}
	out.advance(domain.StatePeerResolved)

	request := inbound.Canonical()
	results := o.dispatcher.Dispatch(ctx, request, peers, sender.ID, out.Timeout)
	out.advance(domain.StateDispatched)

	out.Exchanges = make([]domain.NormalizedExchange, len(results))
	for i, result := range results {
		out.Exchanges[i] = o.normalizeResult(ctx, result, request)
	}
	out.advance(domain.StateResponseNormalized)

	out.Records = make([]*domain.AuditRecord, len(out.Exchanges))
	for i, ex := range out.Exchanges {
		out.Records[i], _ = o.audit.Record(ctx, ex, inbound)
		o.metrics.RecordExchange(exchangeOutcome(ex))
	}
	out.advance(domain.StateLogged)

	out.advance(domain.StateCompleted)
	span.SetAttributes(attribute.Int("mme.status", out.Status()))
	return out, nil
}

func (o *Orchestrator) normalizeResult(ctx context.Context, result domain.PeerExchangeResult, request domain.CanonicalPayload) domain.NormalizedExchange {
	ex := domain.NormalizedExchange{
		Peer:     result.Peer,
		Status:   result.Status,
		Request:  request,
		Response: json.RawMessage(result.Body),
		Elapsed:  result.Elapsed,
	}

	switch {
	case result.TransportFailed():
		ex.Form = domain.FormTransportError
		if result.Err != nil {
			ex.Diagnostic = result.Err.Error()
		}
		if len(ex.Response) == 0 {
			ex.Response = messageBody("peer could not be reached")
		}
	case result.Succeeded():
		rr := o.normalizer.NormalizeResponse(ctx, result, request)
		ex.Response = rr.Payload
		ex.Form = rr.Form
		if rr.Diagnostic != nil {
			ex.Diagnostic = rr.Diagnostic.Error()
		}
	default:
		ex.Form = domain.FormPassthrough
		if len(ex.Response) == 0 {
			ex.Response = messageBody(fmt.Sprintf("peer %s returned status %d", result.Peer.ID, result.Status))
		}
	}

	o.metrics.RecordResponseForm(string(ex.Form))
	return ex
}

func exchangeOutcome(ex domain.NormalizedExchange) string {
	switch ex.Form {
	case domain.FormTransportError:
		return string(domain.ErrorTypeTransportFailure)
	case domain.FormPassthrough:
		return string(domain.ErrorTypeUpstream)
	default:
		return "ok"
	}
}

func messageBody(msg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"message": msg})
	return b
}
