package storeunitrepo_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/symbolindex/asyncdelegate"
	"github.com/erigontech/symbolindex/internal/idcode"
	"github.com/erigontech/symbolindex/model"
	"github.com/erigontech/symbolindex/pathcache"
	"github.com/erigontech/symbolindex/record"
	"github.com/erigontech/symbolindex/scheduler"
	"github.com/erigontech/symbolindex/store"
	"github.com/erigontech/symbolindex/store/boltstore"
	"github.com/erigontech/symbolindex/storeunitrepo"
	"github.com/erigontech/symbolindex/symbolindex"
)

type fakeLiveStore struct {
	units map[string]storeunitrepo.UnitFileData
	mtime map[string]int64
}

func newFakeLiveStore() *fakeLiveStore {
	return &fakeLiveStore{units: map[string]storeunitrepo.UnitFileData{}, mtime: map[string]int64{}}
}

func (f *fakeLiveStore) put(name string, modTime int64, data storeunitrepo.UnitFileData) {
	f.units[name] = data
	f.mtime[name] = modTime
}

func (f *fakeLiveStore) UnitModTime(name string) (int64, bool, error) {
	mt, ok := f.mtime[name]
	return mt, ok, nil
}

func (f *fakeLiveStore) ReadUnit(name string) (storeunitrepo.UnitFileData, error) {
	return f.units[name], nil
}

func (f *fakeLiveStore) ListUnits() ([]storeunitrepo.UnitListEntry, error) {
	var out []storeunitrepo.UnitListEntry
	for name, mt := range f.mtime {
		out = append(out, storeunitrepo.UnitListEntry{Name: name, ModTime: mt})
	}
	return out, nil
}

type fakeStater struct {
	modTimes map[string]int64
}

func (s *fakeStater) Stat(path string) (int64, error) {
	mt, ok := s.modTimes[path]
	if !ok {
		return 0, errors.New("no such file")
	}
	return mt, nil
}

type alwaysVisible struct{}

func (alwaysVisible) IsUnitVisible(idcode.Code) (bool, error) { return true, nil }

func newTestRepo(t *testing.T, live *fakeLiveStore, stater *fakeStater, watchEnabled, explicitOutput bool) (*storeunitrepo.Repo, store.Store) {
	t.Helper()
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "idx.mdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	idx := symbolindex.New(st, alwaysVisible{}, func(providerName string) (*record.Provider, error) {
		return record.NewFakeProvider(providerName, &record.Fake{}), nil
	})
	delegate := asyncdelegate.New(nil)
	t.Cleanup(delegate.Close)

	opener := func(recordName string) (*record.Provider, error) {
		return record.NewFakeProvider(recordName, &record.Fake{}), nil
	}

	var fs storeunitrepo.FileStater
	if stater != nil {
		fs = stater
	}

	repo := storeunitrepo.New(st, live, pathcache.New(nil, nil, nil), idx, opener, delegate, fs, watchEnabled, explicitOutput, nil)
	return repo, st
}

func TestRegisterUnitImportsDependenciesAndSkipsWhenUnchanged(t *testing.T) {
	live := newFakeLiveStore()
	live.put("U0", 100, storeunitrepo.UnitFileData{
		WorkingDir: "/src",
		Dependencies: []storeunitrepo.Dependency{
			{Kind: storeunitrepo.DependencyRecord, Name: "R0", Path: "a.o"},
			{Kind: storeunitrepo.DependencyFile, Path: "a.c"},
		},
	})
	repo, st := newTestRepo(t, live, nil, false, false)

	err := repo.RegisterUnit("U0", true, nil)
	require.NoError(t, err)

	var unit model.Unit
	err = store.RunRead(st, func(tx store.ReadTx) error {
		raw, err := tx.Get(store.UnitInfo, store.EncodeCode(idcode.Of("U0")))
		if err != nil {
			return err
		}
		return store.DecodeJSON(raw, &unit)
	})
	require.NoError(t, err)
	require.Equal(t, int64(100), unit.ModTime)
	require.Len(t, unit.ProviderDepends, 1)
	require.Len(t, unit.FileDepends, 1)

	// Registering again with the same mod-time must not re-import (step 2).
	err = repo.RegisterUnit("U0", false, nil)
	require.NoError(t, err)
}

func TestRegisterUnitMissingOnDiskIsSkippedSilently(t *testing.T) {
	live := newFakeLiveStore()
	repo, _ := newTestRepo(t, live, nil, false, false)

	err := repo.RegisterUnit("Ghost", true, nil)
	require.NoError(t, err, "a unit absent from the live store must be skipped, not errored (explicit-output pending dependency)")
}

func TestRemoveUnitDeletesRow(t *testing.T) {
	live := newFakeLiveStore()
	live.put("U0", 100, storeunitrepo.UnitFileData{WorkingDir: "/src"})
	repo, st := newTestRepo(t, live, nil, false, false)

	require.NoError(t, repo.RegisterUnit("U0", true, nil))
	require.NoError(t, repo.RemoveUnit("U0"))

	err := store.RunRead(st, func(tx store.ReadTx) error {
		_, err := tx.Get(store.UnitInfo, store.EncodeCode(idcode.Of("U0")))
		return err
	})
	require.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestRemoveUnitsUnderDirectoryMatchesByPrefix(t *testing.T) {
	live := newFakeLiveStore()
	live.put("/proj/a/U0", 100, storeunitrepo.UnitFileData{WorkingDir: "/src"})
	live.put("/proj/b/U1", 100, storeunitrepo.UnitFileData{WorkingDir: "/src"})
	repo, st := newTestRepo(t, live, nil, false, false)

	require.NoError(t, repo.RegisterUnit("/proj/a/U0", true, nil))
	require.NoError(t, repo.RegisterUnit("/proj/b/U1", true, nil))

	require.NoError(t, repo.RemoveUnitsUnderDirectory("/proj/a/"))

	err := store.RunRead(st, func(tx store.ReadTx) error {
		_, err := tx.Get(store.UnitInfo, store.EncodeCode(idcode.Of("/proj/a/U0")))
		return err
	})
	require.ErrorIs(t, err, store.ErrKeyNotFound)

	err = store.RunRead(st, func(tx store.ReadTx) error {
		_, err := tx.Get(store.UnitInfo, store.EncodeCode(idcode.Of("/proj/b/U1")))
		return err
	})
	require.NoError(t, err, "a unit outside the deleted directory must survive")
}

// fakeRegistrar adapts a *storeunitrepo.Repo to scheduler.Registrar so a
// real *scheduler.Session reaches RegisterUnit, exercising explicit-output
// dependency propagation (§4.I step 7) end-to-end through the real
// scheduler rather than a hand-built Session.
type fakeRegistrar struct {
	repo *storeunitrepo.Repo
}

func (r fakeRegistrar) RegisterUnit(name string, isInitialScan bool, session *scheduler.Session) error {
	return r.repo.RegisterUnit(name, isInitialScan, session)
}
func (r fakeRegistrar) RemoveUnit(name string) error { return r.repo.RemoveUnit(name) }
func (r fakeRegistrar) RemoveUnitsUnderDirectory(dir string) error {
	return r.repo.RemoveUnitsUnderDirectory(dir)
}

func TestExplicitOutputPropagatesStaleDependencyThroughScheduler(t *testing.T) {
	live := newFakeLiveStore()
	live.put("U0", 100, storeunitrepo.UnitFileData{
		WorkingDir: "/src",
		Dependencies: []storeunitrepo.Dependency{
			{Kind: storeunitrepo.DependencyUnit, Name: "Dep0"},
		},
	})
	live.put("Dep0", 50, storeunitrepo.UnitFileData{WorkingDir: "/src"})

	repo, st := newTestRepo(t, live, nil, false, true)
	delegate := asyncdelegate.New(nil)
	t.Cleanup(delegate.Close)
	sched := scheduler.New(fakeRegistrar{repo: repo}, delegate, true, func(string) bool { return true }, nil)

	sched.NotifyUnitEvents(scheduler.Notification{
		Events: []scheduler.RawEvent{{Kind: model.EventAdded, Name: "U0"}},
	})

	require.Eventually(t, func() bool {
		var found bool
		_ = store.RunRead(st, func(tx store.ReadTx) error {
			_, err := tx.Get(store.UnitInfo, store.EncodeCode(idcode.Of("Dep0")))
			found = err == nil
			return nil
		})
		return found
	}, time.Second, time.Millisecond, "Dep0 should have been auto-registered via explicit-output dependency propagation")
}

func TestOnFSEventMarksContainingUnitOutOfDate(t *testing.T) {
	live := newFakeLiveStore()
	live.put("U0", 100, storeunitrepo.UnitFileData{
		WorkingDir: "/src",
		Dependencies: []storeunitrepo.Dependency{
			{Kind: storeunitrepo.DependencyFile, Path: "a.h"},
		},
	})
	stater := &fakeStater{modTimes: map[string]int64{"/src/a.h": 999}}
	repo, _ := newTestRepo(t, live, stater, true, false)

	require.NoError(t, repo.RegisterUnit("U0", true, nil))

	err := repo.CheckUnitContainingFileIsOutOfDate("/src/a.h")
	require.NoError(t, err)
}
