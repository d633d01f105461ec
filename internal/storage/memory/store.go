// Package memory is an in-process audit log and peer store used for tests
// and for brokers started without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/core/ports"
)

// Store is an in-memory implementation of ports.StorageProvider
type Store struct {
	mu        sync.RWMutex
	exchanges []domain.AuditRecord
	ids       map[string]struct{}
	peers     map[string]domain.Peer
}

var _ ports.StorageProvider = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		ids:   make(map[string]struct{}),
		peers: make(map[string]domain.Peer),
	}
}

func (s *Store) InsertExchange(ctx context.Context, rec *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[rec.ID]; exists {
		return fmt.Errorf("exchange %s already exists", rec.ID)
	}

	cp := *rec
	cp.ResponsePatientIDs = append([]string{}, rec.ResponsePatientIDs...)
	cp.CreatedAt = rec.CreatedAt.UTC()
	s.exchanges = append(s.exchanges, cp)
	s.ids[rec.ID] = struct{}{}
	return nil
}

func (s *Store) SearchExchanges(ctx context.Context, q ports.ExchangeQuery) ([]*domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AuditRecord
	for i := len(s.exchanges) - 1; i >= 0; i-- {
		rec := s.exchanges[i]
		if q.ExcludeTests && rec.IsTest {
			continue
		}
		if q.SenderID != "" && rec.SenderID != q.SenderID {
			continue
		}
		if q.ReceiverID != "" && rec.ReceiverID != q.ReceiverID {
			continue
		}
		if !q.Since.IsZero() && rec.CreatedAt.Before(q.Since) {
			continue
		}
		result = append(result, &rec)
	}

	// Newest first; later inserts win ties.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *Store) ListPeers(ctx context.Context) ([]domain.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]domain.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers, nil
}

func (s *Store) UpsertPeer(ctx context.Context, p domain.Peer) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.ID] = p
	return nil
}

func (s *Store) DeletePeer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
	return nil
}

func (s *Store) Close() error {
	return nil
}
