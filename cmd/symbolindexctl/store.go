package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/erigontech/symbolindex/store"
	"github.com/erigontech/symbolindex/store/boltstore"
	"github.com/erigontech/symbolindex/store/mdbxstore"
)

// durationFromMillis converts a millisecond flag value to a time.Duration,
// falling back to watch's own default (0, meaning "use the package default")
// when non-positive.
func durationFromMillis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// openStore opens dbPath with the backend named by backend ("mdbx", the
// production default, or "bolt" for the pure-Go test backend); mdbxstore
// treats dbPath as a directory, boltstore as a single file.
func openStore(backend, dbPath string, log *zap.Logger) (store.Store, error) {
	switch backend {
	case "", "mdbx":
		st, err := mdbxstore.Open(dbPath, log)
		if err != nil {
			return nil, fmt.Errorf("opening mdbx store %q: %w", dbPath, err)
		}
		return st, nil
	case "bolt":
		st, err := boltstore.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("opening bolt store %q: %w", dbPath, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want %q or %q)", backend, "mdbx", "bolt")
	}
}

// osStater implements storeunitrepo.FileStater over the real filesystem.
type osStater struct{}

func (osStater) Stat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}
