package indexsystem

import (
	"sync"

	"github.com/erigontech/symbolindex/model"
)

// initialScanWaiter is a throwaway asyncdelegate.ProgressDelegate that
// closes done once the first initial-scan batch has fully drained
// (§4.L "block until the first initial-scan batch completes"): it learns
// the expected count from initialPendingUnits and watches
// processingCompleted tally up to it.
type initialScanWaiter struct {
	done chan struct{}

	mu          sync.Mutex
	gotExpected bool
	expected    int
	completed   int
	fired       bool
}

func (w *initialScanWaiter) InitialPendingUnits(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gotExpected = true
	w.expected = n
	w.maybeFireLocked()
}

func (w *initialScanWaiter) ProcessingAddedPending(int) {}

func (w *initialScanWaiter) ProcessingCompleted(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completed += n
	w.maybeFireLocked()
}

func (w *initialScanWaiter) ProcessedStoreUnit(model.UnitEventInfo) {}

func (w *initialScanWaiter) UnitIsOutOfDate(model.UnitEventInfo, model.OutOfDateTrigger, bool) {}

func (w *initialScanWaiter) maybeFireLocked() {
	if w.fired {
		return
	}
	if !w.gotExpected || w.completed < w.expected {
		return
	}
	w.fired = true
	close(w.done)
}
