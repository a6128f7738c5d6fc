// Package sqlite provides a SQLite implementation of the go-crdt-kit StateStore.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/go-crdt-kit/crdtkit"
	syncErrors "github.com/c0deZ3R0/go-crdt-kit/errors"
	"github.com/c0deZ3R0/go-crdt-kit/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opSaveState   = "sqlite.SaveState"
	opLoadState   = "sqlite.LoadState"
	opAppendOps   = "sqlite.AppendOperations"
	opLoadOps     = "sqlite.LoadOperations"
	opDeleteState = "sqlite.DeleteState"
)

var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the StateStore.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:sync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Connection pool settings for production workloads.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults for SQLite.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*StateStore, error) {
	return New(DefaultConfig(dataSourceName))
}

// StateStore implements crdtkit.StateStore on SQLite. A single store can
// hold the persisted state of multiple nodes, keyed by node ID.
type StateStore struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *slog.Logger
}

// Compile-time check
var _ crdtkit.StateStore = (*StateStore)(nil)

// New creates a new StateStore from a Config.
func New(config *Config) (*StateStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))
	logger.Info("Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &StateStore{db: db, logger: logger.Logger}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.Info("SQLite StateStore successfully initialized")
	return store, nil
}

// setupSchema creates the state tables if they don't exist.
func (s *StateStore) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS sync_state (
        node_id    TEXT PRIMARY KEY,
        clock      TEXT NOT NULL,
        last_sync  INTEGER NOT NULL
    );
    CREATE TABLE IF NOT EXISTS documents (
        node_id       TEXT NOT NULL,
        doc_id        TEXT NOT NULL,
        data          TEXT,
        version       TEXT NOT NULL,
        last_modified INTEGER NOT NULL,
        PRIMARY KEY (node_id, doc_id)
    );
    CREATE TABLE IF NOT EXISTS operations (
        seq         INTEGER PRIMARY KEY AUTOINCREMENT,
        node_id     TEXT NOT NULL,
        op_id       TEXT NOT NULL,
        document_id TEXT NOT NULL,
        op_type     TEXT NOT NULL,
        data        TEXT,
        version     TEXT NOT NULL,
        timestamp   INTEGER NOT NULL,
        origin_node TEXT NOT NULL,
        UNIQUE (node_id, op_id)
    );
    CREATE INDEX IF NOT EXISTS idx_operations_node ON operations (node_id, seq);
    CREATE INDEX IF NOT EXISTS idx_documents_node ON documents (node_id);
    `
	_, err := s.db.Exec(query)
	return err
}

// SaveState persists a full snapshot of the node's state. The previous
// snapshot for the same node ID is replaced atomically.
func (s *StateStore) SaveState(ctx context.Context, state crdtkit.State) error {
	if state.NodeID == "" {
		return syncErrors.NewValidationError(syncErrors.OpStore,
			fmt.Errorf("state has no node ID"))
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSaveState, "storage/sqlite")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	clockJSON, err := json.Marshal(state.Clock)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSaveState, "storage/sqlite")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_state (node_id, clock, last_sync) VALUES (?, ?, ?)
         ON CONFLICT(node_id) DO UPDATE SET clock = excluded.clock, last_sync = excluded.last_sync`,
		state.NodeID, string(clockJSON), state.LastSync.UnixMilli())
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSaveState, "storage/sqlite")
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM documents WHERE node_id = ?`, state.NodeID); err != nil {
		return syncErrors.WrapOpComponent(err, opSaveState, "storage/sqlite")
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM operations WHERE node_id = ?`, state.NodeID); err != nil {
		return syncErrors.WrapOpComponent(err, opSaveState, "storage/sqlite")
	}

	docStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (node_id, doc_id, data, version, last_modified) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSaveState, "storage/sqlite")
	}
	defer docStmt.Close()

	for _, doc := range state.Documents {
		var dataJSON, versionJSON []byte
		if dataJSON, err = json.Marshal(doc.Data); err != nil {
			return syncErrors.WrapOpComponent(err, opSaveState, "storage/sqlite")
		}
		if versionJSON, err = json.Marshal(doc.Version); err != nil {
			return syncErrors.WrapOpComponent(err, opSaveState, "storage/sqlite")
		}
		if _, err = docStmt.ExecContext(ctx,
			state.NodeID, doc.ID, string(dataJSON), string(versionJSON),
			doc.LastModified.UnixMilli()); err != nil {
			return syncErrors.WrapOpComponent(err, opSaveState, "storage/sqlite")
		}
	}

	if err = s.insertOperations(ctx, tx, state.NodeID, state.Operations); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.WrapOpComponent(err, opSaveState, "storage/sqlite")
	}

	s.logger.Debug("State saved",
		"node_id", state.NodeID,
		"documents", len(state.Documents),
		"operations", len(state.Operations))
	return nil
}

// LoadState restores the snapshot persisted for the given node ID. Returns
// crdtkit.ErrStateNotFound when no snapshot exists.
func (s *StateStore) LoadState(ctx context.Context, nodeID string) (crdtkit.State, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return crdtkit.State{}, ErrStoreClosed
	}
	s.mu.RUnlock()

	var clockJSON string
	var lastSync int64
	err := s.db.QueryRowContext(ctx,
		`SELECT clock, last_sync FROM sync_state WHERE node_id = ?`, nodeID).
		Scan(&clockJSON, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return crdtkit.State{}, crdtkit.ErrStateNotFound
	}
	if err != nil {
		return crdtkit.State{}, syncErrors.WrapOpComponent(err, opLoadState, "storage/sqlite")
	}

	state := crdtkit.State{
		NodeID:    nodeID,
		Documents: make(map[string]crdtkit.Document),
		LastSync:  time.UnixMilli(lastSync),
	}
	if err := json.Unmarshal([]byte(clockJSON), &state.Clock); err != nil {
		return crdtkit.State{}, syncErrors.WrapOpComponent(err, opLoadState, "storage/sqlite")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, data, version, last_modified FROM documents WHERE node_id = ?`, nodeID)
	if err != nil {
		return crdtkit.State{}, syncErrors.WrapOpComponent(err, opLoadState, "storage/sqlite")
	}
	defer rows.Close()

	for rows.Next() {
		var doc crdtkit.Document
		var dataJSON, versionJSON sql.NullString
		var modified int64
		if err := rows.Scan(&doc.ID, &dataJSON, &versionJSON, &modified); err != nil {
			return crdtkit.State{}, syncErrors.WrapOpComponent(err, opLoadState, "storage/sqlite")
		}
		if dataJSON.Valid {
			if err := json.Unmarshal([]byte(dataJSON.String), &doc.Data); err != nil {
				return crdtkit.State{}, syncErrors.WrapOpComponent(err, opLoadState, "storage/sqlite")
			}
		}
		if versionJSON.Valid {
			if err := json.Unmarshal([]byte(versionJSON.String), &doc.Version); err != nil {
				return crdtkit.State{}, syncErrors.WrapOpComponent(err, opLoadState, "storage/sqlite")
			}
		}
		doc.LastModified = time.UnixMilli(modified)
		state.Documents[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return crdtkit.State{}, syncErrors.WrapOpComponent(err, opLoadState, "storage/sqlite")
	}

	state.Operations, err = s.LoadOperations(ctx, nodeID)
	if err != nil {
		return crdtkit.State{}, err
	}

	return state, nil
}

// AppendOperations appends operations to the node's persisted log without
// rewriting the snapshot. Duplicate operation IDs are ignored.
func (s *StateStore) AppendOperations(ctx context.Context, nodeID string, ops []crdtkit.Operation) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opAppendOps, "storage/sqlite")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = s.insertOperations(ctx, tx, nodeID, ops); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.WrapOpComponent(err, opAppendOps, "storage/sqlite")
	}
	return nil
}

// LoadOperations returns the node's persisted operation log in append order.
func (s *StateStore) LoadOperations(ctx context.Context, nodeID string) ([]crdtkit.Operation, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT op_id, document_id, op_type, data, version, timestamp, origin_node
         FROM operations WHERE node_id = ? ORDER BY seq ASC`, nodeID)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opLoadOps, "storage/sqlite")
	}
	defer rows.Close()

	var ops []crdtkit.Operation
	for rows.Next() {
		var op crdtkit.Operation
		var opType string
		var dataJSON, versionJSON sql.NullString
		var ts int64
		if err := rows.Scan(&op.ID, &op.DocumentID, &opType, &dataJSON, &versionJSON, &ts, &op.NodeID); err != nil {
			return nil, syncErrors.WrapOpComponent(err, opLoadOps, "storage/sqlite")
		}
		op.Type = crdtkit.OperationType(opType)
		if dataJSON.Valid && dataJSON.String != "null" {
			if err := json.Unmarshal([]byte(dataJSON.String), &op.Data); err != nil {
				return nil, syncErrors.WrapOpComponent(err, opLoadOps, "storage/sqlite")
			}
		}
		if versionJSON.Valid {
			if err := json.Unmarshal([]byte(versionJSON.String), &op.Version); err != nil {
				return nil, syncErrors.WrapOpComponent(err, opLoadOps, "storage/sqlite")
			}
		}
		op.Timestamp = time.UnixMilli(ts)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapOpComponent(err, opLoadOps, "storage/sqlite")
	}
	return ops, nil
}

// DeleteState removes the persisted snapshot and log for a node ID.
func (s *StateStore) DeleteState(ctx context.Context, nodeID string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opDeleteState, "storage/sqlite")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, q := range []string{
		`DELETE FROM sync_state WHERE node_id = ?`,
		`DELETE FROM documents WHERE node_id = ?`,
		`DELETE FROM operations WHERE node_id = ?`,
	} {
		if _, err = tx.ExecContext(ctx, q, nodeID); err != nil {
			return syncErrors.WrapOpComponent(err, opDeleteState, "storage/sqlite")
		}
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.WrapOpComponent(err, opDeleteState, "storage/sqlite")
	}
	return nil
}

// Stats returns database statistics for monitoring
func (s *StateStore) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// Close closes the database connection.
func (s *StateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *StateStore) insertOperations(ctx context.Context, tx *sql.Tx, nodeID string, ops []crdtkit.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO operations (node_id, op_id, document_id, op_type, data, version, timestamp, origin_node)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(node_id, op_id) DO NOTHING`)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opAppendOps, "storage/sqlite")
	}
	defer stmt.Close()

	for _, op := range ops {
		dataJSON, err := json.Marshal(op.Data)
		if err != nil {
			return syncErrors.WrapOpComponent(err, opAppendOps, "storage/sqlite")
		}
		versionJSON, err := json.Marshal(op.Version)
		if err != nil {
			return syncErrors.WrapOpComponent(err, opAppendOps, "storage/sqlite")
		}
		if _, err = stmt.ExecContext(ctx,
			nodeID, op.ID, op.DocumentID, string(op.Type),
			string(dataJSON), string(versionJSON),
			op.Timestamp.UnixMilli(), op.NodeID); err != nil {
			return syncErrors.WrapOpComponent(err, opAppendOps, "storage/sqlite")
		}
	}
	return nil
}
