package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/mme-broker/internal/adapters/config/file"
	"github.com/tjfontaine/mme-broker/internal/adapters/events/direct"
	"github.com/tjfontaine/mme-broker/internal/adapters/events/kafka"
	"github.com/tjfontaine/mme-broker/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/mme-broker/internal/core/ports"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
	"github.com/tjfontaine/mme-broker/internal/storage/memory"
	"github.com/tjfontaine/mme-broker/internal/storage/sqldb"
)

// Option is a functional option for configuring a Broker.
type Option func(*Broker) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(b *Broker) error {
		provider, err := file.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		b.config = provider.WithLogger(b.logger)
		return nil
	}
}

// WithConfig uses a fixed in-memory configuration. Nothing is watched.
func WithConfig(cfg *config.Config) Option {
	return func(b *Broker) error {
		b.config = file.NewStatic(cfg)
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(b *Broker) error {
		b.config = provider
		return nil
	}
}

// WithConfigOverride applies fn to every loaded configuration, e.g. for
// command-line flags that take precedence over the file.
func WithConfigOverride(fn func(*config.Config)) Option {
	return func(b *Broker) error {
		b.overrides = append(b.overrides, fn)
		return nil
	}
}

// WithSQLite uses SQLite storage (default for single-instance deployments).
func WithSQLite(path string) Option {
	return func(b *Broker) error {
		store, err := sqlite.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		b.storage = store
		return nil
	}
}

// WithPostgres uses PostgreSQL storage.
func WithPostgres(dsn string) Option {
	return func(b *Broker) error {
		store, err := sqldb.New(sqldb.Config{Driver: "postgres", DSN: dsn})
		if err != nil {
			return fmt.Errorf("create postgres storage: %w", err)
		}
		b.storage = store
		return nil
	}
}

// WithMySQL uses MySQL storage.
func WithMySQL(dsn string) Option {
	return func(b *Broker) error {
		store, err := sqldb.New(sqldb.Config{Driver: "mysql", DSN: dsn})
		if err != nil {
			return fmt.Errorf("create mysql storage: %w", err)
		}
		b.storage = store
		return nil
	}
}

// WithMemoryStorage keeps audit records and stored peers in process.
func WithMemoryStorage() Option {
	return func(b *Broker) error {
		b.storage = memory.New()
		return nil
	}
}

// WithStorageProvider sets a custom storage provider.
func WithStorageProvider(provider ports.StorageProvider) Option {
	return func(b *Broker) error {
		b.storage = provider
		return nil
	}
}

// WithDirectEvents writes lifecycle events to the structured log.
func WithDirectEvents() Option {
	return func(b *Broker) error {
		publisher, err := direct.NewPublisher(b.logger)
		if err != nil {
			return fmt.Errorf("create direct event publisher: %w", err)
		}
		b.events = publisher
		return nil
	}
}

// WithKafkaEvents publishes lifecycle events to a Kafka topic.
func WithKafkaEvents(brokers []string, topic string) Option {
	return func(b *Broker) error {
		publisher, err := kafka.NewPublisher(brokers, topic)
		if err != nil {
			return fmt.Errorf("create kafka event publisher: %w", err)
		}
		b.events = publisher
		return nil
	}
}

// WithEventPublisher sets a custom event publisher.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(b *Broker) error {
		b.events = publisher
		return nil
	}
}

// WithSchema replaces the built-in schema capability.
func WithSchema(schema ports.Schema) Option {
	return func(b *Broker) error {
		b.schema = schema
		return nil
	}
}

// WithHTTPClient replaces the hardened outbound client, e.g. to trust a
// private federation CA.
func WithHTTPClient(hc *http.Client) Option {
	return func(b *Broker) error {
		b.httpClient = hc
		return nil
	}
}

// WithLogger sets a custom logger. It should come before options that
// capture the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) error {
		if logger != nil {
			b.logger = logger
		}
		return nil
	}
}
