// Package sqlite provides the SQLite storage adapter for the broker.
package sqlite

import (
	"os"
	"path/filepath"

	"github.com/tjfontaine/mme-broker/internal/core/ports"
	"github.com/tjfontaine/mme-broker/internal/storage/sqldb"
)

// Provider implements ports.StorageProvider using SQLite.
type Provider struct {
	*sqldb.Store
}

// NewProvider opens the database at path, creating its directory if needed.
func NewProvider(path string) (*Provider, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	store, err := sqldb.NewSQLite(path)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Store: store,
	}, nil
}

// Ensure Provider implements ports.StorageProvider at compile time.
var _ ports.StorageProvider = (*Provider)(nil)
