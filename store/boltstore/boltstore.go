// Package boltstore implements store.Store over go.etcd.io/bbolt: a pure-Go,
// cgo-free backend used by tests and by any deployment that cannot link the
// mdbx-go cgo binding. It simulates the MDB_MAP_FULL contract of §4.C by
// tracking a configurable maximum file size and refusing commits that would
// exceed it, so the same RunWrite retry loop exercised against mdbxstore in
// production is exercised here in tests.
package boltstore

import (
	"errors"
	"fmt"

	"github.com/erigontech/symbolindex/internal/numutil"
	"github.com/erigontech/symbolindex/store"
	bolt "go.etcd.io/bbolt"
)

const (
	defaultInitialMaxSize = 64 << 20 // 64 MiB
	maxMaxSize            = 64 << 30 // 64 GiB ceiling for IncreaseMapSize
)

// Store is a store.Store backed by a bbolt database file.
type Store struct {
	db      *bolt.DB
	path    string
	maxSize uint64
}

// Open creates or opens a bbolt database at path, creating every table
// (bbolt bucket) in store.AllTables if absent.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bolt store %q: %w", path, err)
	}
	s := &Store{db: db, path: path, maxSize: defaultInitialMaxSize}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, t := range store.AllTables {
			if _, err := tx.CreateBucketIfNotExists([]byte(t)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating tables in %q: %w", path, err)
	}
	return s, nil
}

func (s *Store) BeginRead() (store.ReadTx, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &readTx{tx: tx}, nil
}

func (s *Store) BeginWrite() (store.WriteTx, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, err
	}
	return &writeTx{readTx: readTx{tx: tx}, store: s}, nil
}

// IncreaseMapSize doubles the simulated map-size ceiling, capped at
// maxMaxSize.
func (s *Store) IncreaseMapSize() error {
	s.maxSize = numutil.DoubleWithCap(s.maxSize, maxMaxSize)
	return nil
}

// SetMaxSize overrides the store's simulated map-size ceiling directly,
// bypassing the doubling in IncreaseMapSize. It exists so callers outside
// this package (store's own tests driving store.RunWrite's MDB_MAP_FULL
// retry loop end to end) can start a store below its real baseline usage
// without guessing bbolt's actual page accounting.
func (s *Store) SetMaxSize(n uint64) {
	s.maxSize = n
}

func (s *Store) Stats() (store.Stats, error) {
	st := s.db.Stats()
	used := uint64(st.TxStats.PageCount) * uint64(s.db.Info().PageSize)
	return store.Stats{MapSize: s.maxSize, UsedSize: used}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type readTx struct {
	tx *bolt.Tx
}

func (r *readTx) Get(table store.Table, key []byte) ([]byte, error) {
	b := r.tx.Bucket([]byte(table))
	if b == nil {
		return nil, store.ErrKeyNotFound
	}
	v := b.Get(key)
	if v == nil {
		return nil, store.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (r *readTx) ForEach(table store.Table, visitor store.Visitor) error {
	b := r.tx.Bucket([]byte(table))
	if b == nil {
		return nil
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		cont, err := visitor(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (r *readTx) ForPrefix(table store.Table, prefix []byte, visitor store.Visitor) error {
	b := r.tx.Bucket([]byte(table))
	if b == nil {
		return nil
	}
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && store.HasPrefix(k, prefix); k, v = c.Next() {
		cont, err := visitor(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (r *readTx) Abort() error {
	err := r.tx.Rollback()
	if errors.Is(err, bolt.ErrTxClosed) {
		return nil
	}
	return err
}

type writeTx struct {
	readTx
	store *Store
}

func (w *writeTx) Put(table store.Table, key, value []byte) error {
	b, err := w.tx.CreateBucketIfNotExists([]byte(table))
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

func (w *writeTx) Delete(table store.Table, key []byte) error {
	b := w.tx.Bucket([]byte(table))
	if b == nil {
		return nil
	}
	return b.Delete(key)
}

func (w *writeTx) Commit() error {
	stats, err := w.store.Stats()
	if err == nil && stats.UsedSize > w.store.maxSize {
		_ = w.tx.Rollback()
		return store.ErrMapFull
	}
	err = w.tx.Commit()
	if err != nil && errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %v", store.ErrMapFull, err)
	}
	return err
}
