package federation

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
)

// DefaultWorkers bounds concurrent peer calls per dispatch.
const DefaultWorkers = 4

// Sender performs one peer call. *Client implements it.
type Sender interface {
	Send(ctx context.Context, peer domain.Peer, request domain.CanonicalPayload, senderID string, timeout time.Duration) domain.PeerExchangeResult
}

// Dispatcher fans one canonical request out to peers.
type Dispatcher struct {
	sender  Sender
	workers int
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher with a pool of workers (DefaultWorkers
// when workers <= 0).
func NewDispatcher(sender Sender, workers int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sender: sender, workers: workers, logger: logger}
}

// Dispatch calls every peer and returns one result per peer in input order.
// A single peer is called on the calling goroutine. Otherwise calls run on
// the bounded pool; each writes only its own slot, each has its own
// timeout, and none cancels another.
func (d *Dispatcher) Dispatch(ctx context.Context, request domain.CanonicalPayload, peers []domain.Peer, senderID string, timeout time.Duration) []domain.PeerExchangeResult {
	for _, p := range peers {
		if err := domain.CheckHTTPS(p.BaseAddress); err != nil {
			panic(err)
		}
	}

	results := make([]domain.PeerExchangeResult, len(peers))
	switch len(peers) {
	case 0:
		return results
	case 1:
		results[0] = d.sender.Send(ctx, peers[0], request, senderID, timeout)
		return results
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, p := range peers {
		g.Go(func() error {
			results[i] = d.sender.Send(ctx, p, request, senderID, timeout)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.DebugContext(ctx, "fan-out complete",
		slog.Int("peers", len(peers)),
		slog.Int("workers", d.workers))
	return results
}
