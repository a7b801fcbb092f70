package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/erigontech/symbolindex/store"
	"github.com/stretchr/testify/require"
)

// TestCommitSimulatesMapFullAndIncreaseMapSizeRecovers exercises §8 property
// 8's two halves directly, without depending on bbolt's exact page
// accounting across a multi-attempt retry loop: a commit whose database
// usage exceeds the configured ceiling fails with store.ErrMapFull, and
// IncreaseMapSize raises that ceiling so the same write can then succeed.
func TestCommitSimulatesMapFullAndIncreaseMapSizeRecovers(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "index.mdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	s.maxSize = 1 // below any real database usage; forces this commit over budget
	tx, err := s.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.Put(store.UnitInfo, []byte("u0"), []byte("payload")))
	require.ErrorIs(t, tx.Commit(), store.ErrMapFull)

	before := s.maxSize
	require.NoError(t, s.IncreaseMapSize())
	require.Greater(t, s.maxSize, before)

	s.maxSize = defaultInitialMaxSize // comfortably above this write's real usage
	tx, err = s.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.Put(store.UnitInfo, []byte("u0"), []byte("payload")))
	require.NoError(t, tx.Commit())

	var got []byte
	err = store.RunRead(s, func(tx store.ReadTx) error {
		v, err := tx.Get(store.UnitInfo, []byte("u0"))
		got = v
		return err
	})
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}
