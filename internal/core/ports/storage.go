package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
)

// AuditStore is the append-only document store behind the Audit Log.
type AuditStore interface {
	// InsertExchange appends one audit record. Records are never updated.
	InsertExchange(ctx context.Context, rec *domain.AuditRecord) error

	// SearchExchanges returns records matching the filter, newest first.
	SearchExchanges(ctx context.Context, q ExchangeQuery) ([]*domain.AuditRecord, error)

	// Close closes the storage connection
	Close() error
}

// ExchangeQuery filters audit records.
type ExchangeQuery struct {
	ExcludeTests bool
	SenderID     string
	ReceiverID   string
	Since        time.Time
	Limit        int
}

// PeerStore persists peers administered outside of the config file.
type PeerStore interface {
	// ListPeers returns all stored peers ordered by id
	ListPeers(ctx context.Context) ([]domain.Peer, error)

	// UpsertPeer creates or replaces a peer by id
	UpsertPeer(ctx context.Context, peer domain.Peer) error

	// DeletePeer removes a peer; missing ids are not an error
	DeletePeer(ctx context.Context, id string) error
}
