// Package scheduler implements §4 component J, the Unit-Event Scheduler:
// serial incremental dispatch of store notifications onto a process-wide
// shared FIFO, with batching and an explicit-output skip rule.
package scheduler

import (
	"sync"

	"go.uber.org/zap"

	"github.com/erigontech/symbolindex/asyncdelegate"
	"github.com/erigontech/symbolindex/internal/numutil"
	"github.com/erigontech/symbolindex/model"
)

// maxBatchSize bounds how many events the shared queue pops per work cycle
// (§4.J step 4: "batches of at most 10").
const maxBatchSize = 10

// RawEvent is one store-reported event before scheduler translation
// (§4.J "UnitEventNotification{events, isInitial}").
type RawEvent struct {
	Kind model.UnitEventKind
	Name string
}

// Notification is the live store's raw unit-event notification.
type Notification struct {
	Events  []RawEvent
	IsInitial bool
}

// Registrar is the subset of storeunitrepo.Repo the scheduler drives
// (named here, not in storeunitrepo, to avoid an import cycle: storeunitrepo
// needs a *Scheduler for explicit-output dependency enqueue, and scheduler
// needs storeunitrepo for registration).
type Registrar interface {
	RegisterUnit(name string, isInitialScan bool, session *Session) error
	RemoveUnit(name string) error
	RemoveUnitsUnderDirectory(dir string) error
}

// Session is handed to Registrar.RegisterUnit so step 7's explicit-output
// dependency propagation can enqueue further events on this scheduler
// without the registrar holding a direct reference to it.
type Session struct {
	sched *Scheduler
}

// EnqueueDependency pushes name as an Added, isDependency=true event
// (§4.I step 7).
func (s *Session) EnqueueDependency(name string) {
	s.sched.enqueueDependency(name)
}

type workItem struct {
	sched *Scheduler
	info  model.UnitEventInfo
}

// sharedQueue is the process-wide serial FIFO of §5 ("a single process-wide
// serial FIFO... All write transactions to C occur here"), shared across
// every open Scheduler so concurrently-opened workspaces cannot saturate
// CPU/IO (§4.J step 4, §9 "lazily-initialised singleton behind a mutex").
type sharedQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []workItem
}

func newSharedQueue() *sharedQueue {
	q := &sharedQueue{}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *sharedQueue) push(items ...workItem) {
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *sharedQueue) loop() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 {
			q.cond.Wait()
		}
		n := len(q.items)
		if n > maxBatchSize {
			n = maxBatchSize
		}
		batch := append([]workItem(nil), q.items[:n]...)
		q.items = q.items[n:]
		q.mu.Unlock()

		completed := make(map[*Scheduler]int, 1)
		for _, wi := range batch {
			wi.sched.process(wi.info)
			completed[wi.sched]++
		}
		for s, n := range completed {
			s.delegate.ProcessingCompleted(n)
		}
	}
}

var (
	shared   *sharedQueue
	sharedMu sync.Mutex
)

// getShared lazily constructs the process-wide singleton (§9 design note:
// "Implement as a lazily-initialised singleton behind a mutex").
func getShared() *sharedQueue {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = newSharedQueue()
	}
	return shared
}

// Scheduler is one index instance's view of the shared FIFO (§4.J).
type Scheduler struct {
	registrar      Registrar
	delegate       *asyncdelegate.Delegate
	explicitOutput bool
	isKnownOutput  func(name string) bool
	log            *zap.Logger

	pollMu       sync.Mutex
	lastSnapshot map[string]int64
}

// New builds a Scheduler. isKnownOutput is consulted only when
// explicitOutput is true (§4.J step 5); it may be nil otherwise.
func New(registrar Registrar, delegate *asyncdelegate.Delegate, explicitOutput bool, isKnownOutput func(name string) bool, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		registrar:      registrar,
		delegate:       delegate,
		explicitOutput: explicitOutput,
		isKnownOutput:  isKnownOutput,
		log:            log,
		lastSnapshot:   make(map[string]int64),
	}
}

// NotifyUnitEvents implements §4.J steps 1-3: translate, report, enqueue.
func (s *Scheduler) NotifyUnitEvents(n Notification) {
	if n.IsInitial {
		s.delegate.InitialPendingUnits(len(n.Events))
	}
	if len(n.Events) == 0 {
		return
	}
	s.delegate.ProcessingAddedPending(len(n.Events))
	s.log.Debug("enqueuing unit events",
		zap.Int("events", len(n.Events)),
		zap.Int("batches", numutil.CeilDiv(len(n.Events), maxBatchSize)))
	items := make([]workItem, 0, len(n.Events))
	for _, e := range n.Events {
		items = append(items, workItem{sched: s, info: model.UnitEventInfo{
			Kind:          e.Kind,
			Name:          e.Name,
			IsInitialScan: n.IsInitial,
		}})
	}
	getShared().push(items...)
}

func (s *Scheduler) enqueueDependency(name string) {
	s.delegate.ProcessingAddedPending(1)
	getShared().push(workItem{sched: s, info: model.UnitEventInfo{
		Kind:         model.EventAdded,
		Name:         name,
		IsDependency: true,
	}})
}

// process dispatches one event to the registrar (§4.J step 5). Skipped
// events still count toward the batch's processingCompleted report, which
// the shared queue's loop already accounts for regardless of outcome here.
func (s *Scheduler) process(info model.UnitEventInfo) {
	if s.explicitOutput && !info.IsDependency && s.isKnownOutput != nil && !s.isKnownOutput(info.Name) {
		return
	}

	var err error
	switch info.Kind {
	case model.EventRemoved:
		err = s.registrar.RemoveUnit(info.Name)
	case model.EventDirectoryDeleted:
		err = s.registrar.RemoveUnitsUnderDirectory(info.Name)
	default:
		err = s.registrar.RegisterUnit(info.Name, info.IsInitialScan, &Session{sched: s})
	}
	if err != nil {
		s.log.Warn("unit event processing failed", zap.String("unit", info.Name), zap.Error(err))
	}
}

// PollForUnitChangesAndWait is the synchronous diffing variant of §4.J
// step 7: snapshot the store's listing, diff by mod-time against the prior
// snapshot, and process the resulting events to completion before
// returning.
func (s *Scheduler) PollForUnitChangesAndWait(current map[string]int64) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	var events []model.UnitEventInfo
	for name, mt := range current {
		prev, ok := s.lastSnapshot[name]
		switch {
		case !ok:
			events = append(events, model.UnitEventInfo{Kind: model.EventAdded, Name: name})
		case prev != mt:
			events = append(events, model.UnitEventInfo{Kind: model.EventModified, Name: name})
		}
	}
	for name := range s.lastSnapshot {
		if _, ok := current[name]; !ok {
			events = append(events, model.UnitEventInfo{Kind: model.EventRemoved, Name: name})
		}
	}
	s.lastSnapshot = current

	if len(events) == 0 {
		return
	}
	s.delegate.ProcessingAddedPending(len(events))
	for _, e := range events {
		s.process(e)
	}
	s.delegate.ProcessingCompleted(len(events))
}
