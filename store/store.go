// Package store defines the persistent, transactional ordered key/value map
// of §4 component C: ImportTransaction/ReadTransaction semantics, named
// tables, and the MDB_MAP_FULL growth-and-retry contract of §4.C and §7.
//
// Two backends implement Store: store/mdbxstore (production, backed by
// github.com/erigontech/mdbx-go, with real MDB_MAP_FULL behaviour) and
// store/boltstore (tests, pure Go, backed by go.etcd.io/bbolt).
package store

import (
	"bytes"
	"errors"
)

// ErrMapFull is returned by WriteTx.Commit when the underlying memory map is
// exhausted (§4.C, §7). Callers retry after IncreaseMapSize; Store.RunWrite
// implements that retry loop directly.
var ErrMapFull = errors.New("store: map full")

// ErrKeyNotFound is returned by ReadTx.Get for an absent key.
var ErrKeyNotFound = errors.New("store: key not found")

// ErrNestedTransaction names the nesting rule of §4.C (a read transaction
// must not be opened inside another on the same goroutine). Neither backend
// in this module detects nesting, so no Store method returns it.
var ErrNestedTransaction = errors.New("store: nested transaction not allowed")

// Table names the store's named tables (§4.C).
type Table string

// maxMapSizeDoublings bounds IncreaseMapSize retries (§4.C, §7): beyond 6
// doublings the caller aborts and surfaces the failure fatally.
const maxMapSizeDoublings = 6

// Visitor receives one (key, value) pair during a ForEach scan and returns
// whether to continue (§6 "every enumeration takes a visitor that returns
// continue/stop").
type Visitor func(key, value []byte) (cont bool, err error)

// ReadTx is a snapshot taken at BeginRead (§4.C "Reads see a snapshot taken
// at begin-read").
type ReadTx interface {
	// Get returns ErrKeyNotFound if key is absent from table.
	Get(table Table, key []byte) ([]byte, error)
	// ForEach visits every (key, value) in table in key order.
	ForEach(table Table, visitor Visitor) error
	// ForPrefix visits every (key, value) in table whose key has the given
	// prefix, in key order.
	ForPrefix(table Table, prefix []byte, visitor Visitor) error
	// Abort releases the snapshot. Calling Abort more than once is a no-op.
	Abort() error
}

// WriteTx additionally allows mutation; it must be committed or aborted
// exactly once.
type WriteTx interface {
	ReadTx
	Put(table Table, key, value []byte) error
	Delete(table Table, key []byte) error
	// Commit applies the transaction's writes. It returns ErrMapFull when
	// the map is exhausted; the caller should call IncreaseMapSize and
	// retry the whole write (RunWrite does this automatically).
	Commit() error
}

// Stats reports basic map occupancy, mirroring the teacher's DatabaseInfo
// table concern (erigon-lib/kv/tables.go).
type Stats struct {
	MapSize  uint64
	UsedSize uint64
}

// Store is the persistent K/V map (§4.C).
type Store interface {
	BeginRead() (ReadTx, error)
	BeginWrite() (WriteTx, error)
	// IncreaseMapSize doubles the configured map size (capped by the
	// backend's own ceiling).
	IncreaseMapSize() error
	Stats() (Stats, error)
	Close() error
}

// RunWrite opens a write transaction, runs fn, and commits it, retrying on
// ErrMapFull up to 6 times with IncreaseMapSize between attempts (§4.C,
// §7, §8 property 8). fn must not call Commit or Abort itself.
func RunWrite(s Store, fn func(tx WriteTx) error) error {
	for attempt := 0; ; attempt++ {
		tx, err := s.BeginWrite()
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			_ = tx.Abort()
			return err
		}

		err = tx.Commit()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrMapFull) {
			return err
		}
		if attempt >= maxMapSizeDoublings {
			return errors.New("store: map full after maximum retries")
		}
		if err := s.IncreaseMapSize(); err != nil {
			return err
		}
	}
}

// RunRead opens a read transaction, runs fn, and aborts the transaction
// afterwards regardless of fn's outcome.
func RunRead(s Store, fn func(tx ReadTx) error) error {
	tx, err := s.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Abort()
	return fn(tx)
}

// HasPrefix reports whether key starts with prefix; a small shared helper
// so backends implement ForPrefix identically.
func HasPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}
