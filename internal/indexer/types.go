// Package indexer implements the worker pool and single-threaded apply loop
// of spec §4.7/§4.4: indexer workers pop IndexRequests, invoke the Analyzer
// or the Cache store, and publish IndexUpdates; the apply loop is the
// Query DB's sole writer.
package indexer

import "github.com/google/uuid"

// Mode is the trigger that produced an IndexRequest.
type Mode int

const (
	Background Mode = iota
	OnSave
	OnChange
	Delete
)

func (m Mode) String() string {
	switch m {
	case Background:
		return "background"
	case OnSave:
		return "on_save"
	case OnChange:
		return "on_change"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// IndexRequest is pushed onto index_request by the protocol layer (§6).
// An empty Path is the refresh-only request of §4.7 step 2: the worker
// enqueues a no-op update and moves on, used to let callers observe a
// quiescent queue.
type IndexRequest struct {
	ID        uuid.UUID
	Path      string
	Args      []string
	Mode      Mode
	MustExist bool
}

// OutgoingMessage is one item bound for the for_stdout queue: a thin
// placeholder since the protocol framing that would consume it lives
// outside this package's scope.
type OutgoingMessage struct {
	ID    uuid.UUID
	Path  string
	Error string
}
