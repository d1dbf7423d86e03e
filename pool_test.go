package gpuq

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeBacking implements driverBuffer for ring tests without a device.
type fakeBacking struct {
	size      uint64
	destroyed bool
}

func (f *fakeBacking) Destroy() { f.destroyed = true }

func (f *fakeBacking) Size() uint64 { return f.size }

func (f *fakeBacking) Map() []byte { return make([]byte, f.size) }

// testRing builds a seeded buffer ring whose allocations are recorded in
// the returned slice.
func testRing(t *testing.T) (*backingRing, *[]*fakeBacking) {
	t.Helper()
	var allocs []*fakeBacking
	r := &backingRing{label: "test", backingBytes: 64}
	r.allocBuffer = func() (driverBuffer, error) {
		b := &fakeBacking{size: 64}
		allocs = append(allocs, b)
		return b, nil
	}
	if err := seedRing(r); err != nil {
		t.Fatalf("seedRing() = %v", err)
	}
	return r, &allocs
}

func TestRingWriteTargetNoCycle(t *testing.T) {
	r, allocs := testRing(t)

	cur := r.currentBacking()
	r.retain(cur)

	// Without cycling the bound current backing is handed back as-is.
	got, switched, err := r.writeTarget(false)
	if err != nil {
		t.Fatalf("writeTarget(false) = %v", err)
	}
	if switched {
		t.Error("writeTarget(false) switched backings")
	}
	if got != cur {
		t.Error("writeTarget(false) returned a different backing")
	}
	if len(*allocs) != 1 {
		t.Errorf("allocated %d backings, want 1", len(*allocs))
	}
}

func TestRingCycleUnboundIsNoop(t *testing.T) {
	r, allocs := testRing(t)

	got, switched, err := r.writeTarget(true)
	if err != nil {
		t.Fatalf("writeTarget(true) = %v", err)
	}
	if switched {
		t.Error("cycling an unbound backing switched")
	}
	if got != r.currentBacking() {
		t.Error("cycling an unbound backing changed current")
	}
	if len(*allocs) != 1 {
		t.Errorf("allocated %d backings, want 1", len(*allocs))
	}
	if r.cycleCount() != 0 {
		t.Errorf("cycleCount() = %d, want 0", r.cycleCount())
	}
}

func TestRingCycleBoundAllocates(t *testing.T) {
	r, allocs := testRing(t)

	first := r.currentBacking()
	r.retain(first)

	second, switched, err := r.writeTarget(true)
	if err != nil {
		t.Fatalf("writeTarget(true) = %v", err)
	}
	if !switched {
		t.Fatal("cycling a bound backing did not switch")
	}
	if second == first {
		t.Fatal("cycle returned the bound backing")
	}
	if len(*allocs) != 2 {
		t.Fatalf("allocated %d backings, want 2", len(*allocs))
	}
	if r.currentBacking() != second {
		t.Error("current did not move to the new backing")
	}
	// The old backing stays live for its in-flight reference.
	if (*allocs)[0].destroyed {
		t.Error("cycle destroyed the bound backing")
	}
	if r.cycleCount() != 1 {
		t.Errorf("cycleCount() = %d, want 1", r.cycleCount())
	}
}

func TestRingCycleReusesFreedSlot(t *testing.T) {
	r, allocs := testRing(t)

	first := r.currentBacking()
	r.retain(first)
	second, _, err := r.writeTarget(true)
	if err != nil {
		t.Fatalf("writeTarget(true) = %v", err)
	}

	// The first submission completes; its backing becomes free.
	r.release(first)
	r.retain(second)

	// Cycling again must reuse the freed slot, not grow the ring.
	third, switched, err := r.writeTarget(true)
	if err != nil {
		t.Fatalf("writeTarget(true) = %v", err)
	}
	if !switched {
		t.Fatal("cycling a bound backing did not switch")
	}
	if third != first {
		t.Error("cycle did not reuse the freed backing")
	}
	if len(*allocs) != 2 {
		t.Errorf("allocated %d backings, want 2", len(*allocs))
	}
	if r.size() != 2 {
		t.Errorf("ring size = %d, want 2", r.size())
	}
}

func TestRingBoundCurrent(t *testing.T) {
	r, _ := testRing(t)

	if r.boundCurrent() {
		t.Error("boundCurrent() = true with no references")
	}
	cur := r.currentBacking()
	r.retain(cur)
	if !r.boundCurrent() {
		t.Error("boundCurrent() = false with one reference")
	}
	r.release(cur)
	if r.boundCurrent() {
		t.Error("boundCurrent() = true after release")
	}
	// Releasing past zero must not underflow.
	r.release(cur)
	r.retain(cur)
	if !r.boundCurrent() {
		t.Error("boundCurrent() = false after retain")
	}
}

// TestRingParallelCycleAvoidsBoundBackings hammers cycling writes from
// several goroutines while backings are being retained and released. No
// cycling write may ever be handed a backing that is still referenced.
func TestRingParallelCycleAvoidsBoundBackings(t *testing.T) {
	r, _ := testRing(t)
	pinned := r.currentBacking()
	r.retain(pinned)

	var wg sync.WaitGroup
	var pinnedHits atomic.Int64
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b, _, err := r.writeTarget(true)
				if err != nil {
					t.Errorf("writeTarget(true) = %v", err)
					return
				}
				if b == pinned {
					pinnedHits.Add(1)
					return
				}
				r.retain(b)
				r.release(b)
			}
		}()
	}
	wg.Wait()

	if n := pinnedHits.Load(); n != 0 {
		t.Errorf("cycling write selected a bound backing %d times", n)
	}
	// With every reference dropped, a cycling write stays put.
	r.release(pinned)
	if _, switched, _ := r.writeTarget(true); switched {
		t.Error("writeTarget(true) switched with no bound backings")
	}
}

func TestRingDestroyIdempotent(t *testing.T) {
	r, allocs := testRing(t)
	r.retain(r.currentBacking())
	if _, _, err := r.writeTarget(true); err != nil {
		t.Fatalf("writeTarget(true) = %v", err)
	}

	r.destroy()
	r.destroy()

	for i, b := range *allocs {
		if !b.destroyed {
			t.Errorf("backing %d not destroyed", i)
		}
	}
}

func TestRingAllocFailure(t *testing.T) {
	wantErr := errors.New("out of memory")
	r := &backingRing{label: "broken"}
	first := &fakeBacking{size: 64}
	fail := false
	r.allocBuffer = func() (driverBuffer, error) {
		if fail {
			return nil, wantErr
		}
		return first, nil
	}
	if err := seedRing(r); err != nil {
		t.Fatalf("seedRing() = %v", err)
	}
	fail = true

	r.retain(r.currentBacking())
	if _, _, err := r.writeTarget(true); !errors.Is(err, wantErr) {
		t.Errorf("writeTarget(true) with failing alloc = %v, want %v", err, wantErr)
	}
	// The ring is still usable without cycling.
	if got, _, err := r.writeTarget(false); err != nil || got.buf != driverBuffer(first) {
		t.Errorf("writeTarget(false) after failed cycle = (%v, %v)", got, err)
	}
}
