// Package storeunitrepo implements §4 component I, the Store-Unit Repo: it
// imports units into the persistent store via the record provider, owns the
// UnitMonitor instances of §4.H, and drives visibility/out-of-date
// propagation.
package storeunitrepo

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/erigontech/symbolindex/asyncdelegate"
	"github.com/erigontech/symbolindex/internal/idcode"
	"github.com/erigontech/symbolindex/model"
	"github.com/erigontech/symbolindex/pathcache"
	"github.com/erigontech/symbolindex/record"
	"github.com/erigontech/symbolindex/scheduler"
	"github.com/erigontech/symbolindex/store"
	"github.com/erigontech/symbolindex/symbolindex"
	"github.com/erigontech/symbolindex/unitmonitor"
)

// DependencyKind enumerates a unit file's three dependency kinds (§4.I
// step 4).
type DependencyKind uint8

const (
	DependencyRecord DependencyKind = iota
	DependencyUnit
	DependencyFile
)

// Dependency is one entry of a unit file's dependency list.
type Dependency struct {
	Kind       DependencyKind
	Name       string // record name (DependencyRecord) or unit name (DependencyUnit)
	Path       string // uncanonicalised path (DependencyRecord/DependencyFile)
	ModuleName string
	IsSystem   bool
}

// UnitFileData is a parsed on-disk unit file (§4.I step 3).
type UnitFileData struct {
	IsSystem           bool
	SymbolProviderKind model.ProviderKind
	Target             string
	WorkingDir         string
	HasMainFile        bool
	MainFilePath       string
	OutputFile         string
	SysrootPath        string
	Dependencies       []Dependency
}

// LiveStore is the black-box on-disk record/unit store of §6 ("an opaque
// loadable library resolved by symbol"): reading it is out of scope for
// this module, so it is represented as a narrow interface a real binding
// implements.
type LiveStore interface {
	// UnitModTime returns a unit's on-disk mod-time; ok is false if the unit
	// is not (yet) present (§4.I step 1).
	UnitModTime(name string) (modTime int64, ok bool, err error)
	ReadUnit(name string) (UnitFileData, error)
	// ListUnits supports the polling scheduler variant.
	ListUnits() ([]UnitListEntry, error)
}

// UnitListEntry is one entry of LiveStore.ListUnits.
type UnitListEntry struct {
	Name    string
	ModTime int64
}

// FileStater abstracts stat(2) so out-of-date checks are testable without a
// filesystem.
type FileStater interface {
	Stat(path string) (modTime int64, err error)
}

// RecordOpener opens a record.Provider for a record name, lazily resolving
// the underlying record file (§4.D).
type RecordOpener func(recordName string) (*record.Provider, error)

// Repo is the Store-Unit Repo (§4.I). It implements unitmonitor.Repo,
// visibility.UnitLookup, and scheduler.Registrar.
type Repo struct {
	st           store.Store
	live         LiveStore
	cache        *pathcache.Cache
	idx          *symbolindex.Index
	recordOpener RecordOpener
	delegate     *asyncdelegate.Delegate
	stater       FileStater
	watchEnabled bool
	explicit     bool
	log          *zap.Logger

	mu       sync.Mutex
	monitors map[idcode.Code]*unitmonitor.Monitor
}

// New builds a Repo.
func New(st store.Store, live LiveStore, cache *pathcache.Cache, idx *symbolindex.Index, recordOpener RecordOpener, delegate *asyncdelegate.Delegate, stater FileStater, watchEnabled, explicitOutput bool, log *zap.Logger) *Repo {
	if log == nil {
		log = zap.NewNop()
	}
	return &Repo{
		st:           st,
		live:         live,
		cache:        cache,
		idx:          idx,
		recordOpener: recordOpener,
		delegate:     delegate,
		stater:       stater,
		watchEnabled: watchEnabled,
		explicit:     explicitOutput,
		log:          log,
		monitors:     make(map[idcode.Code]*unitmonitor.Monitor),
	}
}

func loadUnit(tx store.ReadTx, unitCode idcode.Code) (model.Unit, bool, error) {
	var unit model.Unit
	raw, err := tx.Get(store.UnitInfo, store.EncodeCode(unitCode))
	if err != nil {
		if err == store.ErrKeyNotFound {
			return unit, false, nil
		}
		return unit, false, err
	}
	if err := store.DecodeJSON(raw, &unit); err != nil {
		return unit, false, err
	}
	return unit, true, nil
}

func mergeCodeSet(tx store.WriteTx, table store.Table, key []byte, code idcode.Code) error {
	existing, err := tx.Get(table, key)
	if err != nil && err != store.ErrKeyNotFound {
		return err
	}
	return tx.Put(table, key, store.MergeCodeSet(existing, code))
}

// RegisterUnit implements §4.I's registerUnit, steps 1-8.
func (r *Repo) RegisterUnit(name string, isInitialScan bool, session *scheduler.Session) error {
	// Step 1.
	modTime, ok, err := r.live.UnitModTime(name)
	if err != nil {
		r.log.Warn("reading unit mod-time failed", zap.String("unit", name), zap.Error(err))
		return nil
	}
	if !ok {
		// Expected in explicit-output mode while the dependent output is
		// still pending (§4.I step 1).
		r.log.Debug("unit not yet present on disk", zap.String("unit", name))
		return nil
	}

	unitCode := idcode.Of(name)

	// Step 2.
	var needUpdate bool
	err = store.RunRead(r.st, func(tx store.ReadTx) error {
		existing, found, err := loadUnit(tx, unitCode)
		if err != nil {
			return err
		}
		needUpdate = !found || existing.ModTime != modTime
		return nil
	})
	if err != nil {
		return err
	}
	if !needUpdate {
		r.delegate.ProcessedStoreUnit(model.UnitEventInfo{Kind: model.EventAdded, Name: name, IsInitialScan: isInitialScan})
		return nil
	}

	// Step 3.
	data, err := r.live.ReadUnit(name)
	if err != nil {
		r.log.Warn("reading unit file failed, skipping", zap.String("unit", name), zap.Error(err))
		return nil
	}

	var (
		userFiles        []string
		userUnitCodes    []idcode.Code
		pendingUnitNames []string
		unit             model.Unit
	)

	// Steps 4-5.
	err = store.RunWrite(r.st, func(tx store.WriteTx) error {
		unit = model.Unit{
			Name:               name,
			ModTime:            modTime,
			IsSystem:           data.IsSystem,
			SymbolProviderKind: data.SymbolProviderKind,
			Target:             data.Target,
			Sysroot:            data.SysrootPath,
		}
		userFiles = nil
		userUnitCodes = nil
		pendingUnitNames = nil

		if data.HasMainFile {
			mainPath, err := r.cache.Resolve(data.MainFilePath, data.WorkingDir)
			if err != nil {
				return err
			}
			unit.HasMainFile = true
			unit.MainFileCode = idcode.Of(mainPath)
			if err := tx.Put(store.FilePathByCode, store.EncodeCode(unit.MainFileCode), []byte(mainPath)); err != nil {
				return err
			}
		}
		if data.OutputFile != "" {
			outPath, err := r.cache.Resolve(data.OutputFile, data.WorkingDir)
			if err != nil {
				return err
			}
			unit.OutFileCode = idcode.Of(outPath)
			if err := tx.Put(store.FilePathByCode, store.EncodeCode(unit.OutFileCode), []byte(outPath)); err != nil {
				return err
			}
		}

		hasTestSymbols := false
		for _, dep := range data.Dependencies {
			switch dep.Kind {
			case DependencyRecord:
				if err := r.importRecordDependency(tx, &unit, dep, data, unitCode, &userFiles, &hasTestSymbols); err != nil {
					return err
				}
			case DependencyUnit:
				depCode := idcode.Of(dep.Name)
				unit.UnitDepends = append(unit.UnitDepends, depCode)
				if err := mergeCodeSet(tx, store.DependentUnitsOfUnit, store.EncodeCode(depCode), unitCode); err != nil {
					return err
				}
				if !dep.IsSystem {
					userUnitCodes = append(userUnitCodes, depCode)
				}
				pendingUnitNames = append(pendingUnitNames, dep.Name)
			case DependencyFile:
				path, err := r.cache.Resolve(dep.Path, data.WorkingDir)
				if err != nil {
					return err
				}
				fileCode := idcode.Of(path)
				unit.FileDepends = append(unit.FileDepends, fileCode)
				if err := tx.Put(store.FilePathByCode, store.EncodeCode(fileCode), []byte(path)); err != nil {
					return err
				}
				if err := mergeCodeSet(tx, store.UnitsContainingFile, store.EncodeCode(fileCode), unitCode); err != nil {
					return err
				}
				if !dep.IsSystem {
					userFiles = append(userFiles, path)
				}
			}
		}
		unit.HasTestSymbols = hasTestSymbols

		encoded, err := store.EncodeJSON(unit)
		if err != nil {
			return err
		}
		return tx.Put(store.UnitInfo, store.EncodeCode(unitCode), encoded)
	})
	if err != nil {
		return err
	}

	// Step 6.
	r.delegate.ProcessedStoreUnit(model.UnitEventInfo{Kind: model.EventAdded, Name: name, IsInitialScan: isInitialScan})

	// Step 7: explicit-output dependency propagation.
	if r.explicit && session != nil {
		for _, depName := range pendingUnitNames {
			stale, err := r.isUnitMissingOrStale(depName)
			if err != nil {
				r.log.Warn("checking dependency staleness failed", zap.String("unit", depName), zap.Error(err))
				continue
			}
			if stale {
				session.EnqueueDependency(depName)
			}
		}
	}

	// Step 8.
	if !data.IsSystem && r.watchEnabled {
		r.createMonitor(unitCode, name, modTime, userFiles, userUnitCodes, isInitialScan)
	}

	return nil
}

// importRecordDependency handles one DependencyRecord entry of step 4.
func (r *Repo) importRecordDependency(tx store.WriteTx, unit *model.Unit, dep Dependency, data UnitFileData, unitCode idcode.Code, userFiles *[]string, hasTestSymbols *bool) error {
	path, err := r.cache.Resolve(dep.Path, data.WorkingDir)
	if err != nil {
		return err
	}
	isSystem := dep.IsSystem || r.cache.IsSystem(path)
	if !isSystem {
		*userFiles = append(*userFiles, path)
	}

	moduleName := dep.ModuleName
	if moduleName == "" && strings.HasSuffix(path, ".swift") {
		// A .swift record with no module name takes the unit's name as its
		// module name; UnitFileData carries no separate module name for the
		// unit itself.
		moduleName = unit.Name
	}

	providerCode := idcode.Of(dep.Name)
	fileCode := idcode.Of(path)
	moduleCode := idcode.Of(moduleName)

	unit.ProviderDepends = append(unit.ProviderDepends, model.ProviderDependency{
		ProviderCode:   providerCode,
		FileCode:       fileCode,
		ModuleNameCode: moduleCode,
		IsSystem:       isSystem,
	})

	if err := tx.Put(store.FilePathByCode, store.EncodeCode(fileCode), []byte(path)); err != nil {
		return err
	}
	if moduleName != "" {
		if err := tx.Put(store.ModuleNameByCode, store.EncodeCode(moduleCode), []byte(moduleName)); err != nil {
			return err
		}
	}
	if data.Target != "" {
		if err := tx.Put(store.TargetByCode, store.EncodeCode(idcode.Of(data.Target)), []byte(data.Target)); err != nil {
			return err
		}
	}
	if err := mergeCodeSet(tx, store.UnitsByFile, store.EncodeCode(fileCode), unitCode); err != nil {
		return err
	}

	_, err = tx.Get(store.ProviderName, store.EncodeCode(providerCode))
	newlySeen := errors.Is(err, store.ErrKeyNotFound)
	if err != nil && !newlySeen {
		return err
	}

	if newlySeen {
		p, err := r.recordOpener(dep.Name)
		if err != nil {
			r.log.Warn("opening record failed, provider contributes no symbols", zap.String("record", dep.Name), zap.Error(err))
			return nil
		}
		if err := r.idx.ImportSymbols(tx, dep.Name, providerCode, []idcode.Code{unitCode}, p); err != nil {
			return err
		}
	} else if err := mergeCodeSet(tx, store.UnitsOfProvider, store.EncodeCode(providerCode), unitCode); err != nil {
		return err
	}

	if _, err := tx.Get(store.ProvidersContainingTestSymbols, store.EncodeCode(providerCode)); err == nil {
		*hasTestSymbols = true
	} else if err != store.ErrKeyNotFound {
		return err
	}
	return nil
}

func (r *Repo) isUnitMissingOrStale(name string) (bool, error) {
	modTime, ok, err := r.live.UnitModTime(name)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	unitCode := idcode.Of(name)
	var stale bool
	err = store.RunRead(r.st, func(tx store.ReadTx) error {
		existing, found, err := loadUnit(tx, unitCode)
		if err != nil {
			return err
		}
		stale = !found || existing.ModTime != modTime
		return nil
	})
	return stale, err
}

// createMonitor builds and registers a UnitMonitor, seeded from any
// already-out-of-date user-unit dependency (§4.H).
func (r *Repo) createMonitor(unitCode idcode.Code, name string, modTime int64, userFiles []string, userUnitCodes []idcode.Code, isInitialScan bool) {
	var seed []model.OutOfDateTrigger
	r.mu.Lock()
	for _, depCode := range userUnitCodes {
		if dm, ok := r.monitors[depCode]; ok {
			for _, t := range dm.Triggers() {
				if t.ModTime > modTime {
					seed = append(seed, t)
				}
			}
		}
	}
	r.mu.Unlock()

	mon := unitmonitor.New(unitCode, name, modTime, userFiles, userUnitCodes, seed, r, r.log)
	if isInitialScan && r.stater != nil {
		mon.CheckForOutOfDate(r.stater.Stat)
	}

	r.mu.Lock()
	r.monitors[unitCode] = mon
	r.mu.Unlock()
}

// RemoveUnit implements §4.I's Removed lifecycle step (§3 "Lifecycle": a
// Removed event deletes the unit row but not the providers it referenced).
func (r *Repo) RemoveUnit(name string) error {
	unitCode := idcode.Of(name)
	err := store.RunWrite(r.st, func(tx store.WriteTx) error {
		return tx.Delete(store.UnitInfo, store.EncodeCode(unitCode))
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.monitors, unitCode)
	r.mu.Unlock()
	r.delegate.ProcessedStoreUnit(model.UnitEventInfo{Kind: model.EventRemoved, Name: name})
	return nil
}

// RemoveUnitsUnderDirectory implements SPEC_FULL.md's decision for Open
// Question (a): every known unit whose name is under dir is treated as
// Removed.
// TODO: a higher-layer repair pass should instead re-scan dir and
// distinguish "moved" from "deleted" units; spec.md §9(a) defers this.
func (r *Repo) RemoveUnitsUnderDirectory(dir string) error {
	var names []string
	err := store.RunRead(r.st, func(tx store.ReadTx) error {
		return tx.ForEach(store.UnitInfo, func(key, value []byte) (bool, error) {
			var unit model.Unit
			if err := store.DecodeJSON(value, &unit); err != nil {
				return false, err
			}
			if strings.HasPrefix(unit.Name, dir) {
				names = append(names, unit.Name)
			}
			return true, nil
		})
	})
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := r.RemoveUnit(n); err != nil {
			return err
		}
	}
	return nil
}

// OnUnitOutOfDate implements unitmonitor.Repo and §4.I's onUnitOutOfDate.
func (r *Repo) OnUnitOutOfDate(unitCode idcode.Code, trigger model.OutOfDateTrigger) {
	var unit model.Unit
	var dependents []idcode.Code
	err := store.RunRead(r.st, func(tx store.ReadTx) error {
		var found bool
		var err error
		unit, found, err = loadUnit(tx, unitCode)
		if err != nil || !found {
			return err
		}
		raw, err := tx.Get(store.DependentUnitsOfUnit, store.EncodeCode(unitCode))
		if err != nil {
			if err == store.ErrKeyNotFound {
				return nil
			}
			return err
		}
		dependents = store.DecodeCodeSet(raw)
		return nil
	})
	if err != nil {
		r.log.Warn("loading unit for out-of-date propagation failed", zap.Error(err))
		return
	}

	r.delegate.UnitIsOutOfDate(model.UnitEventInfo{Kind: model.EventModified, Name: unit.Name}, trigger, false)

	r.mu.Lock()
	var mons []*unitmonitor.Monitor
	for _, d := range dependents {
		if m, ok := r.monitors[d]; ok {
			mons = append(mons, m)
		}
	}
	r.mu.Unlock()

	for _, m := range mons {
		if m.ModTime() < trigger.ModTime {
			m.MarkOutOfDate(trigger, false)
		}
	}
}

func (r *Repo) onFSEventInternal(changedParentPaths []string, synchronous bool) error {
	type planEntry struct {
		path  string
		units []idcode.Code
	}
	var plan []planEntry
	err := store.RunRead(r.st, func(tx store.ReadTx) error {
		return tx.ForEach(store.FilePathByCode, func(key, value []byte) (bool, error) {
			path := string(value)
			for _, parent := range changedParentPaths {
				if !strings.HasPrefix(path, parent) {
					continue
				}
				unitsRaw, err := tx.Get(store.UnitsContainingFile, key)
				if err != nil && err != store.ErrKeyNotFound {
					return false, err
				}
				plan = append(plan, planEntry{path: path, units: store.DecodeCodeSet(unitsRaw)})
				break
			}
			return true, nil
		})
	})
	if err != nil {
		return err
	}

	for _, pe := range plan {
		if r.stater == nil {
			continue
		}
		modTime, err := r.stater.Stat(pe.path)
		if err != nil {
			r.log.Debug("stat failed during FS event handling", zap.String("path", pe.path), zap.Error(err))
			continue
		}
		trigger := model.OutOfDateTrigger{Path: pe.path, ModTime: modTime, Description: "file modified on disk"}

		r.mu.Lock()
		var mons []*unitmonitor.Monitor
		for _, u := range pe.units {
			if m, ok := r.monitors[u]; ok {
				mons = append(mons, m)
			}
		}
		r.mu.Unlock()

		for _, m := range mons {
			m.MarkOutOfDate(trigger, synchronous)
		}
	}
	return nil
}

// OnFSEvent implements §4.I's onFSEvent.
func (r *Repo) OnFSEvent(changedParentPaths []string) error {
	return r.onFSEventInternal(changedParentPaths, false)
}

// CheckUnitContainingFileIsOutOfDate implements §4.I's synchronous variant.
func (r *Repo) CheckUnitContainingFileIsOutOfDate(path string) error {
	return r.onFSEventInternal([]string{path}, true)
}

// UnitMainFile implements visibility.UnitLookup.
func (r *Repo) UnitMainFile(unitCode idcode.Code) (idcode.Code, bool, error) {
	var unit model.Unit
	var found bool
	err := store.RunRead(r.st, func(tx store.ReadTx) error {
		var err error
		unit, found, err = loadUnit(tx, unitCode)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}
	return unit.MainFileCode, unit.HasMainFile, nil
}

// UnitOutFile implements visibility.UnitLookup.
func (r *Repo) UnitOutFile(unitCode idcode.Code) (idcode.Code, error) {
	var unit model.Unit
	err := store.RunRead(r.st, func(tx store.ReadTx) error {
		var err error
		unit, _, err = loadUnit(tx, unitCode)
		return err
	})
	return unit.OutFileCode, err
}

// RootUnitsOf implements visibility.UnitLookup via the DependentUnitsOfUnit
// reverse edge.
func (r *Repo) RootUnitsOf(unitCode idcode.Code) ([]idcode.Code, error) {
	var deps []idcode.Code
	err := store.RunRead(r.st, func(tx store.ReadTx) error {
		raw, err := tx.Get(store.DependentUnitsOfUnit, store.EncodeCode(unitCode))
		if err != nil {
			if err == store.ErrKeyNotFound {
				return nil
			}
			return err
		}
		deps = store.DecodeCodeSet(raw)
		return nil
	})
	return deps, err
}

// IsKnownOutputUnit reports whether name's output file has been registered
// as an active explicit-output unit; used by scheduler's skip-but-report
// rule (§4.J step 5) when explicit-output mode is active. A unit with no row
// in the store yet (or whose row cannot be read) reports true, so it is not
// skipped.
func (r *Repo) IsKnownOutputUnit(name string, isOutFileRegistered func(idcode.Code) bool) bool {
	unitCode := idcode.Of(name)
	var unit model.Unit
	var found bool
	err := store.RunRead(r.st, func(tx store.ReadTx) error {
		var err error
		unit, found, err = loadUnit(tx, unitCode)
		return err
	})
	if err != nil || !found {
		// Unknown units are conservatively treated as not-yet-known output
		// units; RegisterUnit itself will resolve the live mod-time check.
		return true
	}
	return isOutFileRegistered(unit.OutFileCode)
}
