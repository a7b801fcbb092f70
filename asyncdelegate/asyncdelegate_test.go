package asyncdelegate_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/symbolindex/asyncdelegate"
	"github.com/erigontech/symbolindex/model"
)

type recordingDelegate struct {
	mu      sync.Mutex
	added   int
	done    int
	ooDates int
}

func (r *recordingDelegate) InitialPendingUnits(n int) {}
func (r *recordingDelegate) ProcessingAddedPending(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added += n
}
func (r *recordingDelegate) ProcessingCompleted(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done += n
}
func (r *recordingDelegate) ProcessedStoreUnit(info model.UnitEventInfo) {}
func (r *recordingDelegate) UnitIsOutOfDate(info model.UnitEventInfo, trigger model.OutOfDateTrigger, synchronous bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ooDates++
}

func (r *recordingDelegate) snapshot() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.added, r.done
}

// TestProgressAccounting is spec.md §8 testable property 6.
func TestProgressAccounting(t *testing.T) {
	d := asyncdelegate.New(nil)
	defer d.Close()

	rec := &recordingDelegate{}
	d.AddDelegate(rec)

	d.ProcessingAddedPending(5)
	d.ProcessingCompleted(5)

	require.Eventually(t, func() bool {
		added, done := rec.snapshot()
		return added == 5 && done == 5
	}, time.Second, time.Millisecond)

	require.Equal(t, 0, d.Pending())
}

func TestReplayPendingToNewDelegate(t *testing.T) {
	d := asyncdelegate.New(nil)
	defer d.Close()

	d.ProcessingAddedPending(3)

	rec := &recordingDelegate{}
	d.AddDelegate(rec)

	require.Eventually(t, func() bool {
		added, _ := rec.snapshot()
		return added == 3
	}, time.Second, time.Millisecond)
}

func TestSynchronousOutOfDateRunsInline(t *testing.T) {
	d := asyncdelegate.New(nil)
	defer d.Close()

	rec := &recordingDelegate{}
	d.AddDelegate(rec)

	d.UnitIsOutOfDate(model.UnitEventInfo{Name: "U0"}, model.OutOfDateTrigger{Path: "a.c"}, true)

	_, _ = rec.snapshot()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, 1, rec.ooDates)
}
