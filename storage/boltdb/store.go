// Package boltdb provides an embedded BoltDB implementation of the
// go-crdt-kit StateStore, suited to client-side persistence where running a
// SQL database is not an option.
package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdSync "sync"

	"go.etcd.io/bbolt"

	"github.com/c0deZ3R0/go-crdt-kit/crdtkit"
	syncErrors "github.com/c0deZ3R0/go-crdt-kit/errors"
	"github.com/c0deZ3R0/go-crdt-kit/logging"
)

var (
	bucketStates = []byte("states")

	ErrStoreClosed = errors.New("store is closed")
)

// StateStore persists engine state snapshots in a single BoltDB file, one
// entry per node ID.
type StateStore struct {
	mu     stdSync.RWMutex
	db     *bbolt.DB
	closed bool
}

// Compile-time check
var _ crdtkit.StateStore = (*StateStore)(nil)

// Open opens (or creates) the BoltDB file at path and prepares the state
// bucket.
func Open(path string) (*StateStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStates)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	logging.WithComponent(logging.Component("boltdb-store")).Info(
		"BoltDB StateStore opened", "path", path)
	return &StateStore{db: db}, nil
}

// SaveState stores the node's full state snapshot as a single JSON value.
func (s *StateStore) SaveState(ctx context.Context, state crdtkit.State) error {
	if state.NodeID == "" {
		return syncErrors.NewValidationError(syncErrors.OpStore,
			fmt.Errorf("state has no node ID"))
	}
	if err := s.check(); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore,
			fmt.Errorf("failed to marshal state: %w", err))
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStates).Put([]byte(state.NodeID), data)
	})
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// LoadState retrieves the snapshot for the given node ID. Returns
// crdtkit.ErrStateNotFound when no snapshot exists.
func (s *StateStore) LoadState(ctx context.Context, nodeID string) (crdtkit.State, error) {
	if err := s.check(); err != nil {
		return crdtkit.State{}, err
	}

	var state crdtkit.State
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketStates).Get([]byte(nodeID))
		if data == nil {
			return crdtkit.ErrStateNotFound
		}
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}
		return nil
	})
	if errors.Is(err, crdtkit.ErrStateNotFound) {
		return crdtkit.State{}, err
	}
	if err != nil {
		return crdtkit.State{}, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	if state.Documents == nil {
		state.Documents = make(map[string]crdtkit.Document)
	}
	return state, nil
}

// ListNodes returns the node IDs that have a persisted snapshot.
func (s *StateStore) ListNodes(ctx context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var nodes []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStates).ForEach(func(k, v []byte) error {
			nodes = append(nodes, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return nodes, nil
}

// DeleteState removes the snapshot for a node ID. Deleting a missing
// snapshot is not an error.
func (s *StateStore) DeleteState(ctx context.Context, nodeID string) error {
	if err := s.check(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStates).Delete([]byte(nodeID))
	})
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// Close closes the underlying database file.
func (s *StateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *StateStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
