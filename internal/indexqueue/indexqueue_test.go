package indexqueue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPushPopFIFO(t *testing.T) {
	q := NewQueue[int](0)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("Pop() = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
}

func TestTryPushRespectsCapacity(t *testing.T) {
	q := NewQueue[int](2)
	if !q.TryPush(1) || !q.TryPush(2) {
		t.Fatal("expected first two pushes to succeed")
	}
	if q.TryPush(3) {
		t.Fatal("expected TryPush to fail once at capacity")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := NewQueue[int](0)
	done := make(chan int, 1)
	go func() {
		v, ok := q.Pop()
		if !ok {
			return
		}
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(42)

	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func TestCloseWakesBlockedPop(t *testing.T) {
	q := NewQueue[int](0)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false after Close with no items")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake blocked Pop")
	}
}

func TestPopCtxCancellation(t *testing.T) {
	q := NewQueue[int](0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.PopCtx(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false after context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("PopCtx did not respect cancellation")
	}
}

func TestPopCtxReturnsQueuedItemBeforeCancellation(t *testing.T) {
	q := NewQueue[int](0)
	q.Push(7)

	ctx := context.Background()
	v, ok := q.PopCtx(ctx)
	if !ok || v != 7 {
		t.Fatalf("PopCtx() = (%d, %v), want (7, true)", v, ok)
	}
}

func TestDrainReturnsAllQueuedItems(t *testing.T) {
	q := NewQueue[int](0)
	q.Push(1)
	q.Push(2)

	items := q.Drain()
	if len(items) != 2 {
		t.Fatalf("Drain() = %v, want 2 items", items)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", q.Len())
	}
}

func TestPushAfterCloseFails(t *testing.T) {
	q := NewQueue[int](0)
	q.Close()
	if q.Push(1) {
		t.Error("Push should fail on a closed queue")
	}
}

func TestWaiterWakesOnNotify(t *testing.T) {
	w := NewWaiter()
	done := make(chan error, 1)
	go func() {
		done <- w.Wait(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	w.Notify()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake on Notify")
	}
}

func TestWaiterRespectsContextCancellation(t *testing.T) {
	w := NewWaiter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Wait(ctx); err == nil {
		t.Error("expected Wait to return an error for an already-cancelled context")
	}
}

func TestNotifyingPushWakesWaiter(t *testing.T) {
	q := NewQueue[int](0)
	w := NewWaiter()

	var wg sync.WaitGroup
	wg.Add(1)
	woke := false
	go func() {
		defer wg.Done()
		if err := w.Wait(context.Background()); err == nil {
			woke = true
		}
	}()

	time.Sleep(20 * time.Millisecond)
	NotifyingPush(q, w, 1)
	wg.Wait()

	if !woke {
		t.Error("expected the waiter to wake after NotifyingPush")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

// TestMultiQueueWaiterAcrossSeveralQueues exercises the §4.7 "wait on
// several queues atomically" contract: a single Waiter shared by multiple
// Queues wakes as soon as any of them receives an item.
func TestMultiQueueWaiterAcrossSeveralQueues(t *testing.T) {
	reqs := NewQueue[string](0)
	updates := NewQueue[string](0)
	w := NewWaiter()

	woke := make(chan struct{})
	go func() {
		_ = w.Wait(context.Background())
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	NotifyingPush(updates, w, "update-1")

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake for the updates queue")
	}

	if reqs.Len() != 0 {
		t.Error("requests queue should remain untouched")
	}
}
