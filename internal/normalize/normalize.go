// Package normalize applies the schema capability to exchange payloads:
// strict for inbound requests, best effort for peer responses.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/core/ports"
)

// Caller-facing messages for each request normalization failure.
const (
	MsgInvalidJSON          = "Invalid request JSON"
	MsgNonConforming        = "Request does not conform to API specification"
	MsgCanonicalizeFailed   = "Request could not be normalized"
	MsgCreatedNonConforming = "Created request does not conform to API specification"
)

// Linkage members.
const (
	linkageSender  = "_linkage.sender"
	linkageRequest = "_linkage.request"
	linkagePeer    = "_linkage.peer"
)

// Normalizer wraps a schema capability with the broker's policies.
type Normalizer struct {
	schema ports.Schema
	logger *slog.Logger
}

// New creates a Normalizer. A nil logger uses slog.Default().
func New(schema ports.Schema, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{schema: schema, logger: logger}
}

// NormalizeRequest validates the raw body, canonicalizes it, injects the
// sender linkage and validates the result again. On success the canonical
// payload is set on req. Each step fails with its own error kind.
func (n *Normalizer) NormalizeRequest(ctx context.Context, req *domain.InboundRequest) error {
	canonical, err := n.canonicalRequest(req.Raw.Bytes(), req.SenderID)
	if err != nil {
		return err
	}
	req.SetCanonical(domain.CanonicalPayload{Body: canonical})
	return nil
}

// CanonicalizeRequest runs the request pipeline without sender linkage.
func (n *Normalizer) CanonicalizeRequest(ctx context.Context, raw json.RawMessage) (domain.CanonicalPayload, error) {
	canonical, err := n.canonicalRequest(raw, "")
	if err != nil {
		return domain.CanonicalPayload{}, err
	}
	return domain.CanonicalPayload{Body: canonical}, nil
}

func (n *Normalizer) canonicalRequest(raw json.RawMessage, senderID string) (json.RawMessage, error) {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, domain.ErrInvalidRequest(MsgInvalidJSON)
	}

	if err := n.schema.ValidateSyntax(raw, domain.KindRequest); err != nil {
		return nil, domain.ErrSchemaViolation(MsgNonConforming).WithCause(err)
	}

	canonical, err := n.schema.Canonicalize(raw, domain.KindRequest)
	if err != nil {
		return nil, domain.ErrNormalizationFailed(MsgCanonicalizeFailed).WithCause(err)
	}

	if senderID != "" {
		canonical, err = sjson.SetBytes(canonical, linkageSender, senderID)
		if err != nil {
			return nil, domain.ErrNormalizationFailed(MsgCanonicalizeFailed).WithCause(err)
		}
	}

	if err := n.schema.ValidateSyntax(canonical, domain.KindRequest); err != nil {
		return nil, domain.ErrNormalizationFailed(MsgCreatedNonConforming).WithCause(err)
	}
	return canonical, nil
}

// NormalizeResponse produces the caller-facing payload for a 2xx peer
// result. It prefers the canonical response and falls back to the raw body
// with a diagnostic. Request linkage is added to whichever payload is
// chosen when that payload is a JSON object.
func (n *Normalizer) NormalizeResponse(ctx context.Context, result domain.PeerExchangeResult, request domain.CanonicalPayload) domain.ResponseResult {
	raw := json.RawMessage(result.Body)
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	payload, diag := n.canonicalResponse(raw)
	form := domain.FormCanonical
	if diag != nil {
		n.logger.WarnContext(ctx, "peer response not normalized, using raw body",
			slog.String("peer", result.Peer.ID),
			slog.Int("status", result.Status),
			slog.String("error", diag.Error()))
		payload = raw
		form = domain.FormRaw
	}

	if gjson.ParseBytes(payload).IsObject() {
		linked, err := addResponseLinkage(payload, request, result.Peer.ID)
		if err != nil {
			n.logger.WarnContext(ctx, "could not add request linkage",
				slog.String("peer", result.Peer.ID),
				slog.String("error", err.Error()))
		} else {
			payload = linked
		}
	}

	return domain.ResponseResult{
		Payload:    payload,
		Form:       form,
		Diagnostic: diag,
	}
}

func (n *Normalizer) canonicalResponse(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	if err := n.schema.ValidateSyntax(raw, domain.KindResponse); err != nil {
		return nil, fmt.Errorf("response does not conform to API specification: %w", err)
	}
	canonical, err := n.schema.Canonicalize(raw, domain.KindResponse)
	if err != nil {
		return nil, fmt.Errorf("response could not be normalized: %w", err)
	}
	return canonical, nil
}

func addResponseLinkage(payload json.RawMessage, request domain.CanonicalPayload, peerID string) (json.RawMessage, error) {
	out, err := sjson.SetRawBytes(payload, linkageRequest, request.Bytes())
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, linkagePeer, peerID)
}
