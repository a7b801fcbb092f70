// Package asyncdelegate implements §4 component K, the Async Delegate: a
// dedicated serial FIFO that fans user-visible progress and out-of-date
// callbacks out to zero or more registered delegates.
package asyncdelegate

import (
	"sync"

	"go.uber.org/zap"

	"github.com/erigontech/symbolindex/model"
)

// ProgressDelegate is the user-facing callback surface of §6 ("Progress
// delegate"). Implementations must not block for long: they run on the
// delegate's own serial queue and a slow delegate delays every other
// registered delegate.
type ProgressDelegate interface {
	InitialPendingUnits(n int)
	ProcessingAddedPending(n int)
	ProcessingCompleted(n int)
	ProcessedStoreUnit(info model.UnitEventInfo)
	UnitIsOutOfDate(info model.UnitEventInfo, trigger model.OutOfDateTrigger, synchronous bool)
}

type action func(ProgressDelegate)

const queueCapacity = 1024

// Delegate wraps zero-or-more ProgressDelegates and one dedicated serial FIFO
// (§4.K). The synchronous out-of-date path bypasses the FIFO and runs
// inline; every other callback is dispatched onto it.
type Delegate struct {
	mu        sync.Mutex
	delegates []ProgressDelegate
	pending   int // Σ processingAddedPending - Σ processingCompleted, replayed to new delegates
	closed    bool

	queue chan action
	done  chan struct{}
	log   *zap.Logger
}

// New starts the delegate's serial worker goroutine.
func New(log *zap.Logger) *Delegate {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Delegate{
		queue: make(chan action, queueCapacity),
		done:  make(chan struct{}),
		log:   log,
	}
	go d.run()
	return d
}

func (d *Delegate) run() {
	defer close(d.done)
	for act := range d.queue {
		for _, del := range d.snapshot() {
			act(del)
		}
	}
}

func (d *Delegate) snapshot() []ProgressDelegate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ProgressDelegate(nil), d.delegates...)
}

// AddDelegate registers del and, per §4.K, replays the current pending count
// to it before any future events reach it, so every delegate observes a
// balanced pending/completed stream regardless of when it was added.
func (d *Delegate) AddDelegate(del ProgressDelegate) {
	d.mu.Lock()
	pending := d.pending
	d.delegates = append(d.delegates, del)
	d.mu.Unlock()
	if pending > 0 {
		del.ProcessingAddedPending(pending)
	}
}

func (d *Delegate) dispatch(act action) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return
	}
	d.queue <- act
}

func (d *Delegate) InitialPendingUnits(n int) {
	d.dispatch(func(del ProgressDelegate) { del.InitialPendingUnits(n) })
}

// ProcessingAddedPending tracks n against the outstanding pending count
// (§8 testable property 6) before dispatching.
func (d *Delegate) ProcessingAddedPending(n int) {
	d.mu.Lock()
	d.pending += n
	d.mu.Unlock()
	d.dispatch(func(del ProgressDelegate) { del.ProcessingAddedPending(n) })
}

func (d *Delegate) ProcessingCompleted(n int) {
	d.mu.Lock()
	d.pending -= n
	d.mu.Unlock()
	d.dispatch(func(del ProgressDelegate) { del.ProcessingCompleted(n) })
}

func (d *Delegate) ProcessedStoreUnit(info model.UnitEventInfo) {
	d.dispatch(func(del ProgressDelegate) { del.ProcessedStoreUnit(info) })
}

// UnitIsOutOfDate dispatches asynchronously, except the synchronous path
// (checkUnitContainingFileIsOutOfDate's caller-blocking variant) which runs
// inline on the calling goroutine, per §4.K and §5 suspension point (d).
func (d *Delegate) UnitIsOutOfDate(info model.UnitEventInfo, trigger model.OutOfDateTrigger, synchronous bool) {
	if synchronous {
		for _, del := range d.snapshot() {
			del.UnitIsOutOfDate(info, trigger, true)
		}
		return
	}
	d.dispatch(func(del ProgressDelegate) { del.UnitIsOutOfDate(info, trigger, false) })
}

// Pending reports the current Σ processingAddedPending - Σ processingCompleted.
func (d *Delegate) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Close drains the FIFO and stops the worker goroutine (§4.K "destruction
// drains the FIFO").
func (d *Delegate) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.queue)
	<-d.done
}
