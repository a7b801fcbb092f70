package store_test

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/erigontech/symbolindex/store"
	"github.com/erigontech/symbolindex/store/boltstore"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *boltstore.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := boltstore.Open(filepath.Join(dir, "index.mdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t)

	err := store.RunWrite(s, func(tx store.WriteTx) error {
		return tx.Put(store.UnitInfo, []byte("u0"), []byte("payload"))
	})
	require.NoError(t, err)

	var got []byte
	err = store.RunRead(s, func(tx store.ReadTx) error {
		v, err := tx.Get(store.UnitInfo, []byte("u0"))
		got = v
		return err
	})
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)

	err := store.RunRead(s, func(tx store.ReadTx) error {
		_, err := tx.Get(store.UnitInfo, []byte("missing"))
		return err
	})
	require.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestForPrefix(t *testing.T) {
	s := openTestStore(t)

	err := store.RunWrite(s, func(tx store.WriteTx) error {
		for _, k := range []string{"aa1", "aa2", "bb1"} {
			if err := tx.Put(store.UnitInfo, []byte(k), []byte("v")); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var keys []string
	err = store.RunRead(s, func(tx store.ReadTx) error {
		return tx.ForPrefix(store.UnitInfo, []byte("aa"), func(k, v []byte) (bool, error) {
			keys = append(keys, string(k))
			return true, nil
		})
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"aa1", "aa2"}, keys)
}

func TestRunWriteAbortsOnCallbackError(t *testing.T) {
	s := openTestStore(t)
	boom := errors.New("boom")

	err := store.RunWrite(s, func(tx store.WriteTx) error {
		_ = tx.Put(store.UnitInfo, []byte("x"), []byte("y"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.RunRead(s, func(tx store.ReadTx) error {
		_, err := tx.Get(store.UnitInfo, []byte("x"))
		return err
	})
	require.ErrorIs(t, err, store.ErrKeyNotFound)
}

// TestRunWriteRecoversFromMapFullWithTinyInitialSize is §8 testable property
// 8 end to end: starting from an artificially tiny map-size ceiling, a large
// write still completes, via RunWrite's own ErrMapFull-retry-then-succeed
// loop rather than via any direct backend-level simulation. The ceiling is
// set relative to the store's own measured baseline usage (not a guessed
// byte count), so the first attempt is guaranteed to overflow it and a
// later attempt, after doubling, is guaranteed to fit.
func TestRunWriteRecoversFromMapFullWithTinyInitialSize(t *testing.T) {
	s := openTestStore(t)

	baseline, err := s.Stats()
	require.NoError(t, err)
	start := baseline.UsedSize
	if start < 2 {
		start = 2
	}
	s.SetMaxSize(start - 1)

	const keyCount = 2000
	err = store.RunWrite(s, func(tx store.WriteTx) error {
		for i := 0; i < keyCount; i++ {
			key := []byte(fmt.Sprintf("scan-key-%05d", i))
			if err := tx.Put(store.UnitInfo, key, bytes.Repeat([]byte("x"), 512)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err, "a large write must eventually succeed after RunWrite's internal IncreaseMapSize retries")

	after, err := s.Stats()
	require.NoError(t, err)
	require.Greater(t, after.MapSize, start-1, "RunWrite must have grown the ceiling past the artificial initial limit")

	var count int
	err = store.RunRead(s, func(tx store.ReadTx) error {
		return tx.ForPrefix(store.UnitInfo, []byte("scan-key-"), func(k, v []byte) (bool, error) {
			count++
			return true, nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, keyCount, count)
}
