package runtime

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/tjfontaine/mme-broker/internal/adapters/events/direct"
	"github.com/tjfontaine/mme-broker/internal/adapters/events/kafka"
	"github.com/tjfontaine/mme-broker/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/mme-broker/internal/core/ports"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
	"github.com/tjfontaine/mme-broker/internal/schema"
	"github.com/tjfontaine/mme-broker/internal/storage/memory"
	"github.com/tjfontaine/mme-broker/internal/storage/sqldb"
)

// OpenStorage builds the storage provider named by cfg.Storage.
func OpenStorage(cfg config.StorageConfig) (ports.StorageProvider, error) {
	switch cfg.Type {
	case "", "sqlite":
		return sqlite.NewProvider(cfg.SQLite.Path)
	case "memory":
		return memory.New(), nil
	case "postgres", "mysql":
		driver := cfg.Database.Driver
		if driver == "" {
			driver = cfg.Type
		}
		return sqldb.New(sqldb.Config{Driver: driver, DSN: cfg.Database.DSN})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// OpenEvents builds the lifecycle event publisher named by cfg.Events. A
// nil publisher means events are disabled.
func OpenEvents(cfg config.EventsConfig, logger *slog.Logger) (ports.EventPublisher, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "", "log":
		return direct.NewPublisher(logger)
	case "kafka":
		return kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	default:
		return nil, fmt.Errorf("unknown events type %q", cfg.Type)
	}
}

// LoadSchema returns the schema capability over the configured vocabulary,
// or the built-in one.
func LoadSchema(cfg config.SchemaConfig) (ports.Schema, error) {
	if cfg.VocabularyPath == "" {
		return schema.Default()
	}
	vocab, err := schema.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		return nil, err
	}
	return schema.New(vocab), nil
}

// RestartRequired lists the keys that differ between old and next and are
// only read when the broker is built.
func RestartRequired(old, next *config.Config) []string {
	if old == nil || next == nil {
		return nil
	}
	var keys []string
	add := func(changed bool, key string) {
		if changed {
			keys = append(keys, key)
		}
	}
	of, nf := old.Federation, next.Federation
	add(old.Server != next.Server, "server")
	add(of.NodeID != nf.NodeID, "federation.node_id")
	add(of.Workers != nf.Workers, "federation.workers")
	add(of.PeerRateLimit != nf.PeerRateLimit || of.PeerRateBurst != nf.PeerRateBurst, "federation.peer_rate_limit")
	add(of.MediaType != nf.MediaType, "federation.media_type")
	add(of.MaxBodyBytes != nf.MaxBodyBytes, "federation.max_body_bytes")
	add(old.Storage != next.Storage, "storage")
	add(old.Audit != next.Audit, "audit")
	add(!reflect.DeepEqual(old.Events, next.Events), "events")
	add(old.Schema != next.Schema, "schema")
	add(old.Metrics != next.Metrics, "metrics")
	add(old.Tracing != next.Tracing, "tracing")
	return keys
}
