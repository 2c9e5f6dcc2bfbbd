// Package vfs tracks per-path (timestamp, step, loaded) state that gates
// redundant reparses, per spec §4.5.
package vfs

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Step is the monotone-within-a-mtime processing stage for a path.
type Step uint8

const (
	StepUnseen Step = iota
	StepHeaderOnlyScheduled
	StepFullLinkageInProgress
	StepDependencyFromCache
)

// State is the (timestamp, step, loaded) triple for one path.
type State struct {
	Timestamp int64
	Step      Step
	Loaded    uint32
}

// less implements the lexicographic (timestamp, step) order stamp uses to
// decide whether to claim a parse.
func less(ts int64, step Step, o State) bool {
	if ts != o.Timestamp {
		return ts < o.Timestamp
	}
	return step < o.Step
}

const bucketCount = 256

// VFS is the shared per-path state map plus the 256-bucket striped mutex
// array used to serialize reparses of the same file (§4.5).
type VFS struct {
	mu     sync.Mutex
	states map[string]State

	fileLocks [bucketCount]sync.Mutex
}

// New returns an empty VFS.
func New() *VFS {
	return &VFS{states: make(map[string]State)}
}

// Stamp returns true and updates the path's state iff (timestamp, step) <
// (ts, step) lexicographically; otherwise it leaves the state untouched and
// returns false. This is the sole mechanism for claiming a parse.
func (v *VFS) Stamp(path string, ts int64, step Step) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	cur, ok := v.states[path]
	if ok && !less(cur.Timestamp, cur.Step, State{Timestamp: ts, Step: step}) {
		return false
	}
	cur.Timestamp = ts
	cur.Step = step
	v.states[path] = cur
	return true
}

// Loaded returns the current loaded counter for path.
func (v *VFS) Loaded(path string) uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.states[path].Loaded
}

// IncrementLoaded bumps the loaded counter. Callers must hold
// GetFileMutex(path) while calling this, per §4.5 ("direct increments of
// loaded ... occur only inside the indexer worker under getFileMutex").
func (v *VFS) IncrementLoaded(path string) uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.states[path]
	s.Loaded++
	v.states[path] = s
	return s.Loaded
}

// ResetStep resets a path's step to StepUnseen without touching timestamp
// or loaded, for use under GetFileMutex when a workspace reload discards
// prior progress.
func (v *VFS) ResetStep(path string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.states[path]
	s.Step = StepUnseen
	v.states[path] = s
}

// Get returns a copy of the current state for path.
func (v *VFS) Get(path string) State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.states[path]
}

// Clear discards all per-path state, used on workspace reload.
func (v *VFS) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states = make(map[string]State)
}

// GetFileMutex returns the striped mutex guarding concurrent reparses of
// path. Unrelated files (different bucket) proceed without contention;
// colliding paths serialize.
func (v *VFS) GetFileMutex(path string) *sync.Mutex {
	bucket := xxhash.Sum64String(path) % bucketCount
	return &v.fileLocks[bucket]
}
