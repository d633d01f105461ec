// Package mme serves the matchmaker exchange endpoints.
package mme

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/mme-broker/internal/auth"
	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/exchange"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
	"github.com/tjfontaine/mme-broker/internal/server"
)

// Orchestrator runs exchanges for the handlers.
type Orchestrator interface {
	Match(ctx context.Context, in exchange.MatchInput) (*exchange.Outcome, *domain.APIError)
	Broadcast(ctx context.Context, in exchange.MatchInput) (*exchange.Outcome, *domain.APIError)
	Validate(ctx context.Context, body []byte) (domain.CanonicalPayload, *domain.APIError)
}

// Authenticator resolves an X-Auth-Token to an inbound peer.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Peer, error)
}

// RecentSource lists recent audit records.
type RecentSource interface {
	Recent(ctx context.Context, n int) ([]*domain.AuditRecord, error)
}

const defaultMaxBody = 4 << 20

type Handler struct {
	orch      Orchestrator
	recent    RecentSource
	authn     Authenticator
	mediaType string
	maxBody   int64
	logger    *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithFederationConfig takes the media type and body limit from fc.
func WithFederationConfig(fc config.FederationConfig) Option {
	return func(h *Handler) {
		if fc.MediaType != "" {
			h.mediaType = fc.MediaType
		}
		if fc.MaxBodyBytes > 0 {
			h.maxBody = fc.MaxBodyBytes
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler wires the exchange endpoints. authn guards the audit listing;
// match calls are authenticated by orch.
func NewHandler(orch Orchestrator, recent RecentSource, authn Authenticator, opts ...Option) *Handler {
	h := &Handler{
		orch:      orch,
		recent:    recent,
		authn:     authn,
		mediaType: config.MediaType,
		maxBody:   defaultMaxBody,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the exchange endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/v1/servers/{peerId}/match", h.HandleMatch)
	r.Post("/v1/match", h.HandleBroadcast)
	r.Post("/v1/validate/match", h.HandleValidate)
	r.Get("/v1/exchanges/recent", h.HandleRecent)
}

// HandleMatch forwards one query to the peer named in the path.
func (h *Handler) HandleMatch(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peerId")
	server.AddLogField(r.Context(), "peer", peerID)

	in := h.matchInput(w, r)
	in.PeerIDs = []string{peerID}

	out, apiErr := h.orch.Match(r.Context(), in)
	if apiErr != nil {
		h.writeError(w, r, apiErr)
		return
	}

	server.AddLogField(r.Context(), "sender", out.SenderID)
	server.AddLogField(r.Context(), "form", string(out.Exchanges[0].Form))
	server.AddLogField(r.Context(), "peer_status", strconv.Itoa(out.Exchanges[0].Status))
	h.writePayload(w, out.Status(), out.Body())
}

type broadcastExchange struct {
	Peer           string          `json:"peer"`
	Status         int             `json:"status"`
	ElapsedSeconds float64         `json:"elapsedSeconds"`
	Form           domain.Form     `json:"form"`
	Diagnostic     string          `json:"diagnostic,omitempty"`
	Response       json.RawMessage `json:"response"`
}

// HandleBroadcast fans one query out to the peers listed in ?peer=, or to
// every outbound peer.
func (h *Handler) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	in := h.matchInput(w, r)
	in.PeerIDs = r.URL.Query()["peer"]

	out, apiErr := h.orch.Broadcast(r.Context(), in)
	if apiErr != nil {
		h.writeError(w, r, apiErr)
		return
	}

	resp := struct {
		Exchanges []broadcastExchange `json:"exchanges"`
	}{Exchanges: make([]broadcastExchange, len(out.Exchanges))}
	for i, ex := range out.Exchanges {
		resp.Exchanges[i] = broadcastExchange{
			Peer:           ex.Peer.ID,
			Status:         ex.Status,
			ElapsedSeconds: ex.Elapsed.Seconds(),
			Form:           ex.Form,
			Diagnostic:     ex.Diagnostic,
			Response:       ex.Response,
		}
	}
	server.AddLogField(r.Context(), "sender", out.SenderID)
	server.AddLogField(r.Context(), "peers", strconv.Itoa(len(out.Exchanges)))

	body, err := json.Marshal(resp)
	if err != nil {
		h.writeError(w, r, domain.NewAPIError(domain.ErrorTypeUpstream, "Could not encode exchanges").WithCause(err))
		return
	}
	h.writePayload(w, http.StatusOK, body)
}

// HandleValidate returns the canonical form of a candidate request.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	body, apiErr := exchange.ReadBody(http.MaxBytesReader(w, r.Body, h.maxBody))
	if apiErr != nil {
		h.writeError(w, r, apiErr)
		return
	}

	canonical, apiErr := h.orch.Validate(r.Context(), body)
	if apiErr != nil {
		h.writeError(w, r, apiErr)
		return
	}
	h.writePayload(w, http.StatusOK, canonical.Bytes())
}

// HandleRecent lists the most recent non-test exchanges without blobs. Only
// a known inbound peer may read it, even when anonymous matches are allowed.
func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	peer, err := h.authn.Authenticate(r.Context(), auth.ExtractToken(r))
	if err != nil {
		h.writeError(w, r, domain.AsAPIError(err))
		return
	}
	if peer.ID == "" {
		h.writeError(w, r, domain.ErrUnauthorized(auth.NotAuthorizedMessage))
		return
	}
	server.AddLogField(r.Context(), "sender", peer.ID)

	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			h.writeError(w, r, domain.ErrInvalidRequest("n must be a positive integer"))
			return
		}
		n = v
	}

	records, err := h.recent.Recent(r.Context(), n)
	if err != nil {
		server.AddError(r.Context(), err)
		h.logger.ErrorContext(r.Context(), "recent exchanges query failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, "application/json", map[string]string{"message": "Could not load recent exchanges"})
		return
	}

	out := make([]domain.AuditRecord, len(records))
	for i, rec := range records {
		out[i] = rec.WithoutBlobs()
	}
	writeJSON(w, http.StatusOK, "application/json", map[string]any{"exchanges": out})
}

// matchInput defers reading the body and timeout to the orchestrator, which
// only does so after the caller has authenticated.
func (h *Handler) matchInput(w http.ResponseWriter, r *http.Request) exchange.MatchInput {
	return exchange.MatchInput{
		Token:   auth.ExtractToken(r),
		Body:    http.MaxBytesReader(w, r.Body, h.maxBody),
		Timeout: r.URL.Query().Get("timeout"),
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, apiErr *domain.APIError) {
	server.AddError(r.Context(), apiErr)
	server.AddLogField(r.Context(), "error_type", string(apiErr.Type))
	writeJSON(w, apiErr.HTTPStatusCode(), h.mediaType, apiErr)
}

func (h *Handler) writePayload(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", h.mediaType)
	w.WriteHeader(status)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
