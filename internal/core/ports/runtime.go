package ports

import (
	"context"
	"encoding/json"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default), static (embedding and tests).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// StorageProvider manages all storage operations.
// Implementations: SQLite (default), PostgreSQL, MySQL, memory
type StorageProvider interface {
	AuditStore
	PeerStore
}

// EventPublisher publishes exchange lifecycle events.
// Implementations: structured log (default), Kafka.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
	Close() error
}

// Schema is the external clinical-data schema capability: syntax validation
// plus field canonicalization (phenotype terms, gene identifiers).
type Schema interface {
	// ValidateSyntax reports a diagnostic error when payload does not conform
	// to the schema for kind.
	ValidateSyntax(payload json.RawMessage, kind domain.Kind) error

	// Canonicalize rewrites fields into canonical form. It never mutates
	// payload; on error the returned document is nil.
	Canonicalize(payload json.RawMessage, kind domain.Kind) (json.RawMessage, error)
}
