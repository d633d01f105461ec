// Package broker provides the public API for embedding the matchmaker
// federation broker. This is the stable API for external consumers.
package broker

import (
	"github.com/tjfontaine/mme-broker/internal/runtime"
)

// Broker is the main entry point for running the federation broker.
// See internal/runtime.Broker for full documentation.
type Broker = runtime.Broker

// Option is a functional option for configuring a Broker.
type Option = runtime.Option

// New creates a new Broker with the given options.
// Example:
//
//	b, err := broker.New(
//	    broker.WithFileConfig("config.yaml"),
//	    broker.WithSQLite("./data/broker.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfig         = runtime.WithConfig
	WithConfigOverride = runtime.WithConfigOverride

	// Storage
	WithSQLite        = runtime.WithSQLite
	WithPostgres      = runtime.WithPostgres
	WithMySQL         = runtime.WithMySQL
	WithMemoryStorage = runtime.WithMemoryStorage

	// Events
	WithDirectEvents = runtime.WithDirectEvents
	WithKafkaEvents  = runtime.WithKafkaEvents

	// Advanced options
	WithLogger          = runtime.WithLogger
	WithConfigProvider  = runtime.WithConfigProvider
	WithStorageProvider = runtime.WithStorageProvider
	WithEventPublisher  = runtime.WithEventPublisher
	WithSchema          = runtime.WithSchema
	WithHTTPClient      = runtime.WithHTTPClient
)
