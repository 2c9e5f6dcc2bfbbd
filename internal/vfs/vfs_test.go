package vfs

import (
	"fmt"
	"sync"
	"testing"
)

func TestStampClaimsWhenTimestampAdvances(t *testing.T) {
	v := New()
	if !v.Stamp("/t.cc", 1, StepUnseen) {
		t.Fatal("first stamp should succeed")
	}
	if !v.Stamp("/t.cc", 2, StepUnseen) {
		t.Fatal("stamp with a later timestamp should succeed")
	}
	if v.Stamp("/t.cc", 2, StepUnseen) {
		t.Fatal("stamp with an equal (timestamp, step) should not succeed")
	}
	if v.Stamp("/t.cc", 1, StepFullLinkageInProgress) {
		t.Fatal("stamp with an earlier timestamp should not succeed regardless of step")
	}
}

func TestStampClaimsWhenStepAdvancesAtSameTimestamp(t *testing.T) {
	v := New()
	if !v.Stamp("/t.cc", 5, StepHeaderOnlyScheduled) {
		t.Fatal("first stamp should succeed")
	}
	if !v.Stamp("/t.cc", 5, StepFullLinkageInProgress) {
		t.Fatal("stamp with a later step at the same timestamp should succeed")
	}
	if v.Stamp("/t.cc", 5, StepHeaderOnlyScheduled) {
		t.Fatal("stamp with an earlier step at the same timestamp should not succeed")
	}
}

func TestIncrementLoadedAndGet(t *testing.T) {
	v := New()
	v.Stamp("/t.cc", 1, StepUnseen)

	if got := v.Loaded("/t.cc"); got != 0 {
		t.Fatalf("Loaded = %d, want 0", got)
	}
	if got := v.IncrementLoaded("/t.cc"); got != 1 {
		t.Fatalf("IncrementLoaded = %d, want 1", got)
	}
	if got := v.IncrementLoaded("/t.cc"); got != 2 {
		t.Fatalf("IncrementLoaded = %d, want 2", got)
	}
	if got := v.Loaded("/t.cc"); got != 2 {
		t.Fatalf("Loaded = %d, want 2", got)
	}
}

func TestResetStepKeepsTimestampAndLoaded(t *testing.T) {
	v := New()
	v.Stamp("/t.cc", 10, StepFullLinkageInProgress)
	v.IncrementLoaded("/t.cc")

	v.ResetStep("/t.cc")

	st := v.Get("/t.cc")
	if st.Step != StepUnseen {
		t.Errorf("Step = %v, want StepUnseen", st.Step)
	}
	if st.Timestamp != 10 {
		t.Errorf("Timestamp = %d, want 10 (unchanged)", st.Timestamp)
	}
	if st.Loaded != 1 {
		t.Errorf("Loaded = %d, want 1 (unchanged)", st.Loaded)
	}
}

func TestClearDiscardsAllState(t *testing.T) {
	v := New()
	v.Stamp("/a.cc", 1, StepUnseen)
	v.Stamp("/b.cc", 1, StepUnseen)

	v.Clear()

	if got := v.Get("/a.cc"); got != (State{}) {
		t.Errorf("expected zero-value state after Clear, got %+v", got)
	}
}

func TestGetFileMutexSerializesSamePath(t *testing.T) {
	v := New()
	mu1 := v.GetFileMutex("/t.cc")
	mu2 := v.GetFileMutex("/t.cc")
	if mu1 != mu2 {
		t.Fatal("the same path must map to the same mutex")
	}
}

// TestVFSMonotonicity is property 6 from spec §8: a concurrent set of stamp
// calls converges to the lexicographic max of all input (ts, step) pairs
// that succeeded.
func TestVFSMonotonicity(t *testing.T) {
	v := New()
	const n = 50
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			v.Stamp("/t.cc", ts, StepHeaderOnlyScheduled)
		}(int64(i))
	}
	wg.Wait()

	final := v.Get("/t.cc")
	if final.Timestamp != n {
		t.Fatalf("final timestamp = %d, want %d (the lexicographic max)", final.Timestamp, n)
	}
}

func TestGetFileMutexDistributesAcrossBuckets(t *testing.T) {
	v := New()
	seen := map[*sync.Mutex]struct{}{}
	for i := 0; i < 64; i++ {
		seen[v.GetFileMutex(fmt.Sprintf("/path/%d.cc", i))] = struct{}{}
	}
	if len(seen) < 2 {
		t.Error("expected distinct paths to spread across more than one bucket")
	}
}
