// Package sqldb is the SQL audit log and peer store, portable across
// SQLite, PostgreSQL and MySQL.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/core/ports"
	"github.com/tjfontaine/mme-broker/internal/storage/dialect"
)

// Store implements ports.AuditStore and ports.PeerStore over database/sql.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var (
	_ ports.AuditStore = (*Store)(nil)
	_ ports.PeerStore  = (*Store)(nil)
)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres, mysql
	DSN    string // Data source name / connection string
}

// New opens the database and creates the tables if needed.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.DSN == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := NewWithDB(db, d)
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a SQLite store at path.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// NewWithDB wraps an open handle without touching the schema.
func NewWithDB(db *sqlx.DB, d dialect.Dialect) *Store {
	return &Store{db: db, dialect: d}
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	d := s.dialect
	key, text := d.KeyType(), d.TextType()

	exchanges := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS exchanges (
id %[1]s PRIMARY KEY,
sender_id %[1]s NOT NULL,
receiver_id %[1]s NOT NULL,
query_patient_id %[2]s NOT NULL,
is_test %[3]s NOT NULL,
response_patient_ids %[2]s NOT NULL,
request_blob %[2]s,
response_blob %[2]s,
created_at %[4]s NOT NULL,
status INTEGER NOT NULL,
elapsed_seconds %[5]s NOT NULL`, key, text, d.BooleanType(), d.TimestampType(), d.FloatType())
	if d.Name() == "mysql" {
		exchanges += ",\nINDEX idx_exchanges_recent (is_test, created_at)"
	}
	exchanges += "\n)"

	statements := []string{
		exchanges,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS peers (
id %[1]s PRIMARY KEY,
name %[2]s NOT NULL,
direction %[1]s NOT NULL,
base_address %[2]s NOT NULL,
shared_secret %[2]s NOT NULL,
updated_at %[3]s NOT NULL
)`, key, text, d.TimestampType()),
	}
	if idx := d.CreateIndex("idx_exchanges_recent", "exchanges", "is_test", "created_at"); idx != "" {
		statements = append(statements, idx)
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

type exchangeRow struct {
	ID                 string         `db:"id"`
	SenderID           string         `db:"sender_id"`
	ReceiverID         string         `db:"receiver_id"`
	QueryPatientID     string         `db:"query_patient_id"`
	IsTest             bool           `db:"is_test"`
	ResponsePatientIDs string         `db:"response_patient_ids"`
	RequestBlob        sql.NullString `db:"request_blob"`
	ResponseBlob       sql.NullString `db:"response_blob"`
	CreatedAt          time.Time      `db:"created_at"`
	Status             int            `db:"status"`
	ElapsedSeconds     float64        `db:"elapsed_seconds"`
}

const exchangeColumns = `id, sender_id, receiver_id, query_patient_id, is_test, response_patient_ids,
request_blob, response_blob, created_at, status, elapsed_seconds`

// InsertExchange appends one audit record.
func (s *Store) InsertExchange(ctx context.Context, rec *domain.AuditRecord) error {
	ids := rec.ResponsePatientIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal response patient ids: %w", err)
	}

	query := s.dialect.Rebind(`INSERT INTO exchanges (` + exchangeColumns + `)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.SenderID, rec.ReceiverID, rec.QueryPatientID, rec.IsTest, string(idsJSON),
		nullString(rec.RequestBlob), nullString(rec.ResponseBlob),
		rec.CreatedAt.UTC(), rec.Status, rec.ElapsedSeconds)
	if err != nil {
		return fmt.Errorf("failed to insert exchange: %w", err)
	}
	return nil
}

// SearchExchanges returns matching records, newest first.
func (s *Store) SearchExchanges(ctx context.Context, q ports.ExchangeQuery) ([]*domain.AuditRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if q.ExcludeTests {
		where = append(where, "is_test = ?")
		args = append(args, false)
	}
	if q.SenderID != "" {
		where = append(where, "sender_id = ?")
		args = append(args, q.SenderID)
	}
	if q.ReceiverID != "" {
		where = append(where, "receiver_id = ?")
		args = append(args, q.ReceiverID)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UTC())
	}

	query := `SELECT ` + exchangeColumns + ` FROM exchanges`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	var rows []exchangeRow
	if err := s.db.SelectContext(ctx, &rows, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to search exchanges: %w", err)
	}

	records := make([]*domain.AuditRecord, 0, len(rows))
	for _, row := range rows {
		rec := &domain.AuditRecord{
			ID:             row.ID,
			SenderID:       row.SenderID,
			ReceiverID:     row.ReceiverID,
			QueryPatientID: row.QueryPatientID,
			IsTest:         row.IsTest,
			RequestBlob:    row.RequestBlob.String,
			ResponseBlob:   row.ResponseBlob.String,
			CreatedAt:      row.CreatedAt.UTC(),
			Status:         row.Status,
			ElapsedSeconds: row.ElapsedSeconds,
		}
		if err := json.Unmarshal([]byte(row.ResponsePatientIDs), &rec.ResponsePatientIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response patient ids for %s: %w", row.ID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

type peerRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Direction    string    `db:"direction"`
	BaseAddress  string    `db:"base_address"`
	SharedSecret string    `db:"shared_secret"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// ListPeers returns stored peers ordered by id.
func (s *Store) ListPeers(ctx context.Context) ([]domain.Peer, error) {
	var rows []peerRow
	query := `SELECT id, name, direction, base_address, shared_secret, updated_at FROM peers ORDER BY id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}

	peers := make([]domain.Peer, 0, len(rows))
	for _, row := range rows {
		dir, err := domain.ParseDirection(row.Direction)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", row.ID, err)
		}
		peers = append(peers, domain.Peer{
			ID:           row.ID,
			Name:         row.Name,
			Direction:    dir,
			BaseAddress:  row.BaseAddress,
			SharedSecret: row.SharedSecret,
		})
	}
	return peers, nil
}

// UpsertPeer creates or replaces a peer by id.
func (s *Store) UpsertPeer(ctx context.Context, p domain.Peer) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query := s.dialect.Rebind(`INSERT INTO peers (id, name, direction, base_address, shared_secret, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause("id", []string{"name", "direction", "base_address", "shared_secret", "updated_at"}))

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, string(p.Direction), p.BaseAddress, p.SharedSecret, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert peer %s: %w", p.ID, err)
	}
	return nil
}

// DeletePeer removes a stored peer. Missing ids are not an error.
func (s *Store) DeletePeer(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM peers WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete peer %s: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
