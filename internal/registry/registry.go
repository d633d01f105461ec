// Package registry holds the federation peers known to this node.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/core/ports"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
)

// Registry is a read-mostly snapshot of peers. Lookups take a read lock;
// Reload swaps the whole snapshot.
type Registry struct {
	mu     sync.RWMutex
	peers  map[string]domain.Peer
	order  []string
	store  ports.PeerStore
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore merges peers persisted in store over the configured ones.
func WithStore(store ports.PeerStore) Option {
	return func(r *Registry) {
		r.store = store
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a registry from the config peer list and any persisted peers.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Registry, error) {
	r := &Registry{
		peers:  map[string]domain.Peer{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(ctx, cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// FromPeers builds a registry from an explicit list.
func FromPeers(peers ...domain.Peer) (*Registry, error) {
	r := &Registry{
		peers:  map[string]domain.Peer{},
		logger: slog.Default(),
	}
	snapshot := make(map[string]domain.Peer, len(peers))
	for _, p := range peers {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		snapshot[p.ID] = p
	}
	r.swap(snapshot)
	return r, nil
}

// Reload rebuilds the snapshot from cfg and the peer store. On error the
// previous snapshot stays in effect.
func (r *Registry) Reload(ctx context.Context, cfg *config.Config) error {
	snapshot := make(map[string]domain.Peer)

	if cfg != nil {
		for _, pc := range cfg.Peers {
			p, err := PeerFromConfig(pc)
			if err != nil {
				return err
			}
			snapshot[p.ID] = p
		}
	}

	if r.store != nil {
		stored, err := r.store.ListPeers(ctx)
		if err != nil {
			return fmt.Errorf("list stored peers: %w", err)
		}
		for _, p := range stored {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("stored peer: %w", err)
			}
			snapshot[p.ID] = p
		}
	}

	r.swap(snapshot)
	r.logger.Info("peer registry loaded",
		slog.Int("peers", len(snapshot)),
		slog.Int("outbound", len(r.List(domain.DirectionOutbound))))
	return nil
}

func (r *Registry) swap(snapshot map[string]domain.Peer) {
	order := make([]string, 0, len(snapshot))
	for id := range snapshot {
		order = append(order, id)
	}
	sort.Strings(order)

	r.mu.Lock()
	r.peers = snapshot
	r.order = order
	r.mu.Unlock()
}

// PeerFromConfig converts and validates one configured peer.
func PeerFromConfig(pc config.PeerConfig) (domain.Peer, error) {
	dir, err := domain.ParseDirection(pc.Direction)
	if err != nil {
		return domain.Peer{}, fmt.Errorf("peer %s: %w", pc.ID, err)
	}
	p := domain.Peer{
		ID:           pc.ID,
		Name:         pc.Name,
		BaseAddress:  pc.BaseAddress,
		Direction:    dir,
		SharedSecret: pc.SharedSecret,
	}
	if err := p.Validate(); err != nil {
		return domain.Peer{}, err
	}
	return p, nil
}

// Get returns the peer with id regardless of direction.
func (r *Registry) Get(id string) (domain.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Outbound returns the peer with id only if it accepts forwarded queries.
func (r *Registry) Outbound(id string) (domain.Peer, bool) {
	p, ok := r.Get(id)
	if !ok || p.Direction != domain.DirectionOutbound {
		return domain.Peer{}, false
	}
	return p, true
}

// List returns peers with the given direction ordered by id. An empty
// direction lists every peer.
func (r *Registry) List(dir domain.Direction) []domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Peer, 0, len(r.order))
	for _, id := range r.order {
		p := r.peers[id]
		if dir == "" || p.Direction == dir {
			out = append(out, p)
		}
	}
	return out
}

// Inbound returns peers that may authenticate to this node.
func (r *Registry) Inbound() []domain.Peer {
	return r.List(domain.DirectionInbound)
}

// ResolveOutbound maps ids to outbound peers, preserving order. An empty
// list resolves to every outbound peer.
func (r *Registry) ResolveOutbound(ids []string) ([]domain.Peer, error) {
	if len(ids) == 0 {
		return r.List(domain.DirectionOutbound), nil
	}
	peers := make([]domain.Peer, 0, len(ids))
	for _, id := range ids {
		p, ok := r.Outbound(id)
		if !ok {
			return nil, domain.ErrUnknownPeer(id)
		}
		peers = append(peers, p)
	}
	return peers, nil
}
