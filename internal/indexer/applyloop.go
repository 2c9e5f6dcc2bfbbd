package indexer

import (
	"context"
	"fmt"

	"cxref/internal/delta"
	"cxref/internal/indexqueue"
	"cxref/internal/logging"
	"cxref/internal/querydb"
)

// ApplyLoop is the single-threaded consumer of OnIndexed: the only
// goroutine permitted to call DB.Apply (§4.4 concurrency contract).
type ApplyLoop struct {
	db        *querydb.DB
	onIndexed *indexqueue.Queue[*delta.IndexUpdate]
	logger    *logging.Logger
	// OnFatal is invoked with a diagnostic message when Apply panics with
	// an *querydb.InvariantViolation (§7: "terminate after flushing
	// logs"). It defaults to logging only; cmd/cxrefd wires in an os.Exit.
	OnFatal func(reason string)
}

// NewApplyLoop returns an ApplyLoop bound to db and onIndexed.
func NewApplyLoop(db *querydb.DB, onIndexed *indexqueue.Queue[*delta.IndexUpdate], logger *logging.Logger) *ApplyLoop {
	return &ApplyLoop{db: db, onIndexed: onIndexed, logger: logger}
}

// Run drains onIndexed until ctx is cancelled or the queue is closed,
// applying every update to db in arrival order. It returns after draining
// whatever is already queued (§5: "apply loop drains in-flight updates,
// then all threads join").
func (a *ApplyLoop) Run(ctx context.Context) {
	for {
		update, ok := a.onIndexed.PopCtx(ctx)
		if !ok {
			for _, u := range a.onIndexed.Drain() {
				a.applyOne(u)
			}
			return
		}
		a.applyOne(update)
	}
}

func (a *ApplyLoop) applyOne(update *delta.IndexUpdate) {
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("%v", r)
			if iv, ok := r.(*querydb.InvariantViolation); ok {
				reason = iv.Error()
			}
			a.logger.Error("invariant violation applying index update, terminating", map[string]interface{}{
				"path":   update.Path,
				"reason": reason,
			})
			_ = a.logger.Sync()
			if a.OnFatal != nil {
				a.OnFatal(reason)
			}
		}
	}()
	a.db.Apply(update)
}
