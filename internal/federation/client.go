// Package federation sends match queries to peer nodes.
package federation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/metrics"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
	"github.com/tjfontaine/mme-broker/internal/pkg/safehttp"
)

// Outbound request headers.
const (
	HeaderSenderID  = "X-Sender-ID"
	HeaderAuthToken = "X-Auth-Token"
	UserAgent       = "mme-broker"
)

const defaultMaxBody = 4 << 20

// ErrBodyTooLarge is reported when a peer response exceeds the body cap.
var ErrBodyTooLarge = errors.New("peer response body too large")

// Client performs one bounded round trip to one peer.
type Client struct {
	http      *http.Client
	nodeID    string
	mediaType string
	maxBody   int64

	rateLimit rate.Limit
	rateBurst int
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter

	metrics *metrics.Collector
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the hardened default client, e.g. with a VCR
// recorder in tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithFederationConfig applies node identity, media type, body cap and rate limits.
func WithFederationConfig(fc config.FederationConfig) ClientOption {
	return func(c *Client) {
		if fc.NodeID != "" {
			c.nodeID = fc.NodeID
		}
		if fc.MediaType != "" {
			c.mediaType = fc.MediaType
		}
		if fc.MaxBodyBytes > 0 {
			c.maxBody = fc.MaxBodyBytes
		}
		WithRateLimit(fc.PeerRateLimit, fc.PeerRateBurst)(c)
	}
}

// WithRateLimit caps outbound requests per peer. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.rateLimit = 0
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.rateLimit = rate.Limit(rps)
		c.rateBurst = burst
	}
}

// WithMetrics records per-peer latency and status.
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client over the hardened https-only transport.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(safehttp.NewTransport(safehttp.Options{})),
		},
		nodeID:    "mme-broker",
		mediaType: config.MediaType,
		maxBody:   defaultMaxBody,
		limiters:  make(map[string]*rate.Limiter),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check reports domain.ErrInsecurePeer when the peer cannot be called over https.
func (c *Client) Check(peer domain.Peer) error {
	return domain.CheckHTTPS(peer.BaseAddress)
}

// Send posts the canonical request to the peer's match endpoint. The timeout
// covers rate-limit waiting, connect, and reading the response. Every
// failure to obtain a response is reported as status 0; it never returns an
// error. A non-https peer address is a programming error and panics.
func (c *Client) Send(ctx context.Context, peer domain.Peer, request domain.CanonicalPayload, senderID string, timeout time.Duration) domain.PeerExchangeResult {
	if err := c.Check(peer); err != nil {
		panic(err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, body, err := c.roundTrip(ctx, peer, request, senderID)
	elapsed := time.Since(start)

	var result domain.PeerExchangeResult
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("peer %s timed out after %s: %w", peer.ID, timeout, err)
		}
		result = domain.TransportFailure(peer, err, elapsed)
	} else {
		result = domain.PeerExchangeResult{
			Peer:    peer,
			Status:  status,
			Body:    body,
			Elapsed: elapsed,
		}
	}

	c.metrics.RecordPeerRequest(peer.ID, result.Status, elapsed)
	c.logger.DebugContext(ctx, "peer call finished",
		slog.String("peer", peer.ID),
		slog.Int("status", result.Status),
		slog.Float64("elapsed_seconds", result.ElapsedSeconds()))
	return result
}

func (c *Client) roundTrip(ctx context.Context, peer domain.Peer, request domain.CanonicalPayload, senderID string) (int, []byte, error) {
	if err := c.wait(ctx, peer.ID); err != nil {
		return 0, nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.MatchURL(), bytes.NewReader(request.Bytes()))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}

	if senderID == "" {
		senderID = c.nodeID
	}
	req.Header.Set(HeaderSenderID, senderID)
	req.Header.Set("Content-Type", c.mediaType)
	req.Header.Set("Accept", c.mediaType)
	req.Header.Set("User-Agent", UserAgent)
	if peer.SharedSecret != "" {
		req.Header.Set(HeaderAuthToken, peer.SharedSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return 0, nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, c.maxBody)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) wait(ctx context.Context, peerID string) error {
	if c.rateLimit == 0 {
		return nil
	}
	c.mu.Lock()
	l, ok := c.limiters[peerID]
	if !ok {
		l = rate.NewLimiter(c.rateLimit, c.rateBurst)
		c.limiters[peerID] = l
	}
	c.mu.Unlock()
	return l.Wait(ctx)
}
