// Package indexsystem implements §4.L, the Index System Facade: it
// composes the canonical-path cache (A), visibility checker (E), symbol
// index (F), file-path index (G), store-unit repo (I), scheduler (J), and
// async delegate (K) into the single entry point queries and control
// operations go through.
package indexsystem

import (
	"time"

	"go.uber.org/zap"

	"github.com/erigontech/symbolindex/asyncdelegate"
	"github.com/erigontech/symbolindex/filepathindex"
	"github.com/erigontech/symbolindex/internal/idcode"
	"github.com/erigontech/symbolindex/pathcache"
	"github.com/erigontech/symbolindex/scheduler"
	"github.com/erigontech/symbolindex/store"
	"github.com/erigontech/symbolindex/storeunitrepo"
	"github.com/erigontech/symbolindex/symbolindex"
	"github.com/erigontech/symbolindex/visibility"
)

// EventSource is the live store's unit-event notification surface (§6
// "store_set_unit_event_handler / store_start_unit_event_listening"),
// named here rather than in storeunitrepo to keep that package's
// dependency list to what RegisterUnit itself needs.
type EventSource interface {
	StartListening(handler func(scheduler.Notification)) error
	StopListening() error
}

// Options mirrors spec.md §6's creation options.
type Options struct {
	UseExplicitOutputUnits  bool
	Wait                    bool
	ReadOnly                bool
	EnableOutOfDateWatching bool
	ListenToUnitEvents      bool
	PrefixMappings          []pathcache.PrefixMapping
	Sysroots                []string
}

// Config is everything New needs to assemble a System; the caller supplies
// the already-opened store and the external collaborators spec.md §6
// treats as opaque (the live store, the record opener, and, if
// ListenToUnitEvents is set, an EventSource).
type Config struct {
	Store        store.Store
	LiveStore    storeunitrepo.LiveStore
	RecordOpener storeunitrepo.RecordOpener
	EventSource  EventSource
	Stater       storeunitrepo.FileStater
	Options      Options
	Log          *zap.Logger
}

// System is the Index System Facade of §4.L.
type System struct {
	st         store.Store
	cache      *pathcache.Cache
	visibility *visibility.Checker
	symbols    *symbolindex.Index
	files      *filepathindex.Index
	repo       *storeunitrepo.Repo
	sched      *scheduler.Scheduler
	delegate   *asyncdelegate.Delegate
	source     EventSource
	opts       Options
	log        *zap.Logger
}

// New performs the construction sequence of §4.L: build the cache, the
// visibility checker, F, G, I, J, K in that order, then either block for
// the first initial-scan batch (Wait && ListenToUnitEvents) or run one
// synchronous poll (ListenToUnitEvents disabled).
func New(cfg Config) (*System, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	mode := visibility.ModeLegacy
	if cfg.Options.UseExplicitOutputUnits {
		mode = visibility.ModeExplicitOutput
	}

	cache := pathcache.New(log, cfg.Options.Sysroots, cfg.Options.PrefixMappings)
	delegate := asyncdelegate.New(log)

	sys := &System{
		st:       cfg.Store,
		cache:    cache,
		delegate: delegate,
		source:   cfg.EventSource,
		opts:     cfg.Options,
		log:      log,
	}

	sys.visibility = visibility.New(mode, &repoUnitLookup{sys: sys})
	sys.symbols = symbolindex.New(cfg.Store, sys.visibility, symbolindex.ProviderOpener(cfg.RecordOpener))
	sys.files = filepathindex.New(cfg.Store, sys.visibility)
	sys.repo = storeunitrepo.New(cfg.Store, cfg.LiveStore, cache, sys.symbols, cfg.RecordOpener, delegate, cfg.Stater, cfg.Options.EnableOutOfDateWatching, cfg.Options.UseExplicitOutputUnits, log)
	sys.sched = scheduler.New(sys.repo, delegate, cfg.Options.UseExplicitOutputUnits, sys.isKnownOutputUnit, log)

	if cfg.Options.ReadOnly {
		return sys, nil
	}

	if cfg.Options.ListenToUnitEvents {
		if cfg.EventSource == nil {
			return sys, nil
		}
		var wait chan struct{}
		if cfg.Options.Wait {
			wait = sys.awaitFirstInitialBatch()
		}
		if err := cfg.EventSource.StartListening(sys.sched.NotifyUnitEvents); err != nil {
			return nil, err
		}
		if wait != nil {
			<-wait
		}
		return sys, nil
	}

	entries, err := cfg.LiveStore.ListUnits()
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]int64, len(entries))
	for _, e := range entries {
		snapshot[e.Name] = e.ModTime
	}
	sys.sched.PollForUnitChangesAndWait(snapshot)
	return sys, nil
}

// repoUnitLookup adapts *System to visibility.UnitLookup by forwarding to
// the repo once it has been constructed; the visibility checker must be
// built before the repo exists (the repo's constructor takes the index
// that in turn depends on visibility), so this indirection breaks the
// ordering cycle.
type repoUnitLookup struct{ sys *System }

func (l *repoUnitLookup) UnitMainFile(unitCode idcode.Code) (idcode.Code, bool, error) {
	return l.sys.repo.UnitMainFile(unitCode)
}
func (l *repoUnitLookup) UnitOutFile(unitCode idcode.Code) (idcode.Code, error) {
	return l.sys.repo.UnitOutFile(unitCode)
}
func (l *repoUnitLookup) RootUnitsOf(unitCode idcode.Code) ([]idcode.Code, error) {
	return l.sys.repo.RootUnitsOf(unitCode)
}

// isKnownOutputUnit implements the scheduler's explicit-output skip rule
// (§4.J step 5): a unit is "known" once its output file has been
// registered with the visibility checker via AddUnitOutFilePaths; a unit
// not yet in the store also counts as known.
func (s *System) isKnownOutputUnit(name string) bool {
	return s.repo.IsKnownOutputUnit(name, s.visibility.IsOutputFileRegistered)
}

// awaitFirstInitialBatch registers an internal progress delegate that
// closes the returned channel once the first initial-scan batch's
// processingCompleted count reaches the initialPendingUnits count
// (§4.L "block until the first initial-scan batch completes").
func (s *System) awaitFirstInitialBatch() chan struct{} {
	done := make(chan struct{})
	s.delegate.AddDelegate(&initialScanWaiter{done: done})
	return done
}

// Symbols, Files, Visibility and Delegate expose the composed
// components to query/control code built on top of the facade.
func (s *System) Symbols() *symbolindex.Index     { return s.symbols }
func (s *System) Files() *filepathindex.Index     { return s.files }
func (s *System) Visibility() *visibility.Checker { return s.visibility }
func (s *System) Delegate() *asyncdelegate.Delegate { return s.delegate }

// Close drains the async delegate and stops event listening, but does not
// close the caller-supplied store.
func (s *System) Close() error {
	if s.source != nil {
		_ = s.source.StopListening()
	}
	s.delegate.Close()
	return nil
}

// RegisterUnit imports or refreshes a single unit outside the event
// scheduler, for one-shot CLI-driven imports.
func (s *System) RegisterUnit(name string) error {
	return s.repo.RegisterUnit(name, false, nil)
}

// NotifyFSEvent forwards a batch of changed parent directory paths (as
// produced by watch.Watcher) to the store-unit repo's out-of-date
// propagation (§4.I onFSEvent).
func (s *System) NotifyFSEvent(changedParentPaths []string) error {
	return s.repo.OnFSEvent(changedParentPaths)
}

// WaitForQuiescence blocks up to timeout for the delegate's pending count
// to reach zero; used by synchronous CLI operations that need the FIFO
// drained before reading results.
func (s *System) WaitForQuiescence(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.delegate.Pending() == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return s.delegate.Pending() == 0
}
