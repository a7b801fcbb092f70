// Package mdbxstore implements store.Store over github.com/erigontech/mdbx-go,
// the production backend. It is the literal ground for §4.C's "transactional
// ordered K/V with auto-grow on map-full": libmdbx surfaces MDB_MAP_FULL as a
// real commit error, and SetGeometry grows the map the same way the teacher's
// own erigon-lib/kv/mdbx layer does it.
package mdbxstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/erigontech/mdbx-go/mdbx"
	"github.com/erigontech/symbolindex/internal/numutil"
	"github.com/erigontech/symbolindex/store"
	"go.uber.org/zap"
)

const (
	initialMapSize = 64 << 20  // 64 MiB
	maxMapSizeCap  = 64 << 30  // 64 GiB, matches the boltstore test backend's ceiling
	growthStep     = 32 << 20  // geometry growth increment when paging beyond sizeNow
)

// Store is a store.Store backed by one libmdbx environment, one DBI per
// store.Table.
type Store struct {
	env     *mdbx.Env
	dbis    map[store.Table]mdbx.DBI
	mapSize int
	log     *zap.Logger
}

// Open creates or opens an mdbx environment at dir. dir must already exist.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("creating mdbx env: %w", err)
	}
	if err := env.SetMaxDBs(len(store.AllTables) + 1); err != nil {
		return nil, fmt.Errorf("setting max dbis: %w", err)
	}
	if err := env.SetGeometry(-1, initialMapSize, maxMapSizeCap, growthStep, -1, -1); err != nil {
		return nil, fmt.Errorf("setting mdbx geometry: %w", err)
	}
	if err := env.Open(dir, 0, os.FileMode(0o600)); err != nil {
		return nil, fmt.Errorf("opening mdbx env at %q: %w", dir, err)
	}

	s := &Store{env: env, dbis: make(map[store.Table]mdbx.DBI, len(store.AllTables)), mapSize: initialMapSize, log: logger}

	err = env.Update(func(txn *mdbx.Txn) error {
		for _, t := range store.AllTables {
			dbi, err := txn.OpenDBI(string(t), mdbx.Create, nil, nil)
			if err != nil {
				return fmt.Errorf("opening dbi %q: %w", t, err)
			}
			s.dbis[t] = dbi
		}
		return nil
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return s, nil
}

func (s *Store) dbi(t store.Table) (mdbx.DBI, error) {
	d, ok := s.dbis[t]
	if !ok {
		return 0, fmt.Errorf("store: unknown table %q", t)
	}
	return d, nil
}

func (s *Store) BeginRead() (store.ReadTx, error) {
	txn, err := s.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, err
	}
	return &readTx{txn: txn, store: s}, nil
}

func (s *Store) BeginWrite() (store.WriteTx, error) {
	txn, err := s.env.BeginTxn(nil, 0)
	if err != nil {
		return nil, err
	}
	return &writeTx{readTx: readTx{txn: txn, store: s}}, nil
}

// IncreaseMapSize doubles the configured map size, capped at maxMapSizeCap
// (§4.C "IncreaseMapSize doubles the configured map size").
func (s *Store) IncreaseMapSize() error {
	next := int(numutil.DoubleWithCap(uint64(s.mapSize), uint64(maxMapSizeCap)))
	if err := s.env.SetGeometry(-1, next, maxMapSizeCap, growthStep, -1, -1); err != nil {
		return fmt.Errorf("growing mdbx map to %d: %w", next, err)
	}
	s.log.Info("grew mdbx map size", zap.Int("bytes", next))
	s.mapSize = next
	return nil
}

func (s *Store) Stats() (store.Stats, error) {
	info, err := s.env.Info(nil)
	if err != nil {
		return store.Stats{}, err
	}
	return store.Stats{MapSize: uint64(s.mapSize), UsedSize: info.LastPNO * uint64(info.PageSize)}, nil
}

func (s *Store) Close() error {
	s.env.Close()
	return nil
}

type readTx struct {
	txn   *mdbx.Txn
	store *Store
}

func (r *readTx) Get(table store.Table, key []byte) ([]byte, error) {
	dbi, err := r.store.dbi(table)
	if err != nil {
		return nil, err
	}
	v, err := r.txn.Get(dbi, key)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, store.ErrKeyNotFound
		}
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (r *readTx) ForEach(table store.Table, visitor store.Visitor) error {
	return r.scan(table, nil, visitor)
}

func (r *readTx) ForPrefix(table store.Table, prefix []byte, visitor store.Visitor) error {
	return r.scan(table, prefix, visitor)
}

func (r *readTx) scan(table store.Table, prefix []byte, visitor store.Visitor) error {
	dbi, err := r.store.dbi(table)
	if err != nil {
		return err
	}
	cur, err := r.txn.OpenCursor(dbi)
	if err != nil {
		return err
	}
	defer cur.Close()

	var k, v []byte
	if len(prefix) == 0 {
		k, v, err = cur.Get(nil, nil, mdbx.First)
	} else {
		k, v, err = cur.Get(prefix, nil, mdbx.SetRange)
	}
	for ; err == nil; k, v, err = cur.Get(nil, nil, mdbx.Next) {
		if len(prefix) > 0 && !store.HasPrefix(k, prefix) {
			return nil
		}
		cont, verr := visitor(k, v)
		if verr != nil {
			return verr
		}
		if !cont {
			return nil
		}
	}
	if mdbx.IsNotFound(err) {
		return nil
	}
	return err
}

func (r *readTx) Abort() error {
	r.txn.Abort()
	return nil
}

type writeTx struct {
	readTx
}

func (w *writeTx) Put(table store.Table, key, value []byte) error {
	dbi, err := w.store.dbi(table)
	if err != nil {
		return err
	}
	return w.txn.Put(dbi, key, value, 0)
}

func (w *writeTx) Delete(table store.Table, key []byte) error {
	dbi, err := w.store.dbi(table)
	if err != nil {
		return err
	}
	err = w.txn.Del(dbi, key, nil)
	if err != nil && mdbx.IsNotFound(err) {
		return nil
	}
	return err
}

func (w *writeTx) Commit() error {
	_, err := w.txn.Commit()
	if err == nil {
		return nil
	}
	if mdbx.IsMapFull(err) || errors.Is(err, mdbx.ErrMapFull) {
		return store.ErrMapFull
	}
	return err
}
