package indexer

import (
	"context"
	"testing"
	"time"

	"cxref/internal/delta"
	"cxref/internal/indexfile"
	"cxref/internal/indexqueue"
	"cxref/internal/logging"
	"cxref/internal/querydb"
	"cxref/internal/symbol"
)

func TestApplyLoopMergesUpdateIntoDB(t *testing.T) {
	db := querydb.New()
	q := indexqueue.NewQueue[*delta.IndexUpdate](0)
	loop := NewApplyLoop(db, q, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	usr := symbol.HashUsr([]byte("foo"))
	idx := indexfile.New("/t.cc")
	idx.Usr2Func[usr] = &indexfile.Entry{
		Usr: usr,
		Def: &indexfile.Def{Name: "foo", DetailedName: "void foo()"},
	}
	q.Push(delta.Diff(nil, idx))

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := db.FuncUsr[usr]; ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for apply loop to merge the update")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done
}

func TestApplyLoopInvokesOnFatalOnInvariantViolation(t *testing.T) {
	db := querydb.New()
	q := indexqueue.NewQueue[*delta.IndexUpdate](0)
	loop := NewApplyLoop(db, q, logging.NewNop())

	fatal := make(chan string, 1)
	loop.OnFatal = func(reason string) { fatal <- reason }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	bogus := &delta.IndexUpdate{
		Path:         "/t.cc",
		FileID:       -1,
		PrevLid2Path: map[symbol.FileID]string{},
		Lid2Path:     map[symbol.FileID]string{},
		ByKind: map[symbol.Kind]delta.KindUpdate{
			symbol.KindFunc: {
				Removed: []delta.RemovedDef{{
					Usr: symbol.HashUsr([]byte("bad")),
					Def: indexfile.Def{Spell: symbol.Range{Start: symbol.Pos{Line: 1}, End: symbol.Pos{Line: 1, Column: 3}}},
				}},
			},
		},
	}
	q.Push(bogus)

	select {
	case <-fatal:
	case <-time.After(time.Second):
		t.Fatal("expected OnFatal to be invoked after an invariant violation")
	}
}

func TestApplyLoopDrainsOnContextCancellation(t *testing.T) {
	db := querydb.New()
	q := indexqueue.NewQueue[*delta.IndexUpdate](0)
	loop := NewApplyLoop(db, q, logging.NewNop())

	usr := symbol.HashUsr([]byte("foo"))
	idx := indexfile.New("/t.cc")
	idx.Usr2Func[usr] = &indexfile.Entry{Usr: usr, Def: &indexfile.Def{Name: "foo", DetailedName: "void foo()"}}
	q.Push(delta.Diff(nil, idx))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel before Run starts draining

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return promptly once the context is already cancelled")
	}

	if _, ok := db.FuncUsr[usr]; !ok {
		t.Error("expected the already-queued update to be drained and applied before exit")
	}
}
