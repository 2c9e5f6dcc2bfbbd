// Package session implements the per-main-file preamble cache of spec
// §4.8: one Session per translation unit owns the last compile args, the
// built PreambleData, and a stat cache used as a read-through VFS during
// preamble construction. Manager bounds the live session count the way
// the teacher's LspSupervisor bounds live processes (internal/backends/lsp,
// findLRUProcess/ensureCapacity): a linear scan for the oldest last-used
// time, not a list-based LRU, since session.maxNum is small.
package session

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Status is one filesystem stat result, recorded the first time the
// preamble builder touches a path.
type Status struct {
	Exists  bool
	Size    int64
	ModTime time.Time
}

// StatCache wraps the real filesystem and remembers every stat seen during
// preamble construction, serving later reparses as a read-through VFS
// (§4.8 "a stat cache ... later reparses consult it as a read-through VFS
// to skip redundant stats").
type StatCache struct {
	mu      sync.RWMutex
	entries map[string]Status
}

// NewStatCache returns an empty StatCache.
func NewStatCache() *StatCache {
	return &StatCache{entries: make(map[string]Status)}
}

// Stat returns the cached Status for path, stat-ing and recording it on a
// first miss.
func (c *StatCache) Stat(path string) Status {
	c.mu.RLock()
	st, ok := c.entries[path]
	c.mu.RUnlock()
	if ok {
		return st
	}

	info, err := os.Stat(path)
	if err != nil {
		st = Status{Exists: false}
	} else {
		st = Status{Exists: true, Size: info.Size(), ModTime: info.ModTime()}
	}

	c.mu.Lock()
	c.entries[path] = st
	c.mu.Unlock()
	return st
}

// Unchanged reports whether every entry recorded in c still matches the
// filesystem, used by the reuse check to decide whether a preamble built
// against a past set of includes is still valid.
func (c *StatCache) Unchanged() bool {
	c.mu.RLock()
	snapshot := make(map[string]Status, len(c.entries))
	for p, st := range c.entries {
		snapshot[p] = st
	}
	c.mu.RUnlock()

	for path, want := range snapshot {
		info, err := os.Stat(path)
		got := Status{Exists: false}
		if err == nil {
			got = Status{Exists: true, Size: info.Size(), ModTime: info.ModTime()}
		}
		if got != want {
			return false
		}
	}
	return true
}

// Bounds identifies the prefix of a main file a preamble was built from: the
// byte offset of the last top-level #include plus a hash of the include
// text up to that point. A reparse whose buffer shares the same bounds can
// reuse the existing preamble.
type Bounds struct {
	EndOffset  int
	IncludeSum [32]byte
}

// PreambleData is the precompiled-preamble artifact a Session owns.
type PreambleData struct {
	Args      []string
	Bounds    Bounds
	Includes  []string
	Stat      *StatCache
	BuiltAt   time.Time
	Diagnostics []string
}

// CanReuse implements the §4.8 reuse check: the new buffer's bounds must
// match exactly, and every file the old preamble stat'd must be unchanged.
func (p *PreambleData) CanReuse(bounds Bounds) bool {
	if p == nil {
		return false
	}
	if p.Bounds != bounds {
		return false
	}
	return p.Stat.Unchanged()
}

// Builder constructs a PreambleData for a main file, given its current
// compile args and buffer contents. Concrete Analyzers implement this by
// running the compiler front-end with SkipFunctionBodies and
// ParseAllComments set per the caller's comment policy.
type Builder interface {
	BuildPreamble(ctx context.Context, path string, args []string, buf []byte) (*PreambleData, error)
}

// Session owns one main file's last compile args and current preamble,
// publishing a new one atomically under mu on a successful rebuild.
type Session struct {
	mu           sync.Mutex
	MainPath     string
	args         []string
	preamble     *PreambleData
	lastUsed     time.Time
}

func newSession(path string, args []string) *Session {
	return &Session{MainPath: path, args: args, lastUsed: time.Now()}
}

// Preamble returns the currently published preamble, or nil if none has
// built yet.
func (s *Session) Preamble() *PreambleData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preamble
}

// touch records that the session served a request, for Manager's eviction
// scan.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastUsedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Manager holds the live Session set, bounded at maxNum. It is the thing
// the indexer worker pool asks for a session before invoking the Analyzer,
// per §4.7 step 4 "consults ... a Session that owns the preamble."
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	maxNum   int
	builder  Builder
	group    singleflight.Group
}

// NewManager returns a Manager that evicts the least-recently-used session
// once more than maxNum are live.
func NewManager(builder Builder, maxNum int) *Manager {
	if maxNum <= 0 {
		maxNum = 16
	}
	return &Manager{
		sessions: make(map[string]*Session),
		maxNum:   maxNum,
		builder:  builder,
	}
}

// get returns the existing Session for path, creating one (and evicting the
// LRU victim if at capacity) if none exists.
func (m *Manager) get(path string, args []string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[path]; ok {
		s.mu.Lock()
		s.args = args
		s.mu.Unlock()
		return s
	}

	m.ensureCapacity()
	s := newSession(path, args)
	m.sessions[path] = s
	return s
}

// ensureCapacity evicts the oldest session if the manager is full. Grounded
// on the teacher's LspSupervisor.ensureCapacity/findLRUProcess: a linear
// scan for the smallest lastUsed, since the live set is small. Must be
// called with m.mu held.
func (m *Manager) ensureCapacity() {
	if len(m.sessions) < m.maxNum {
		return
	}

	var victimPath string
	var oldest time.Time
	for path, s := range m.sessions {
		lu := s.lastUsedAt()
		if victimPath == "" || lu.Before(oldest) {
			victimPath = path
			oldest = lu
		}
	}
	if victimPath != "" {
		delete(m.sessions, victimPath)
	}
}

// Rebuild returns a reusable preamble if the session's current one still
// applies, otherwise builds a new one. Concurrent Rebuild calls for the
// same path collapse into a single Builder invocation via singleflight,
// matching SPEC_FULL's "Session.rebuild uses singleflight so concurrent
// reparses of the same main file collapse into one preamble build."
func (m *Manager) Rebuild(ctx context.Context, path string, args []string, buf []byte, bounds Bounds) (*PreambleData, error) {
	s := m.get(path, args)
	s.touch()

	if existing := s.Preamble(); existing.CanReuse(bounds) {
		return existing, nil
	}

	v, err, _ := m.group.Do(path, func() (interface{}, error) {
		// Re-check under the flight group: another caller may have just
		// published a preamble that already satisfies bounds.
		if existing := s.Preamble(); existing.CanReuse(bounds) {
			return existing, nil
		}
		built, buildErr := m.builder.BuildPreamble(ctx, path, args, buf)
		if buildErr != nil {
			return nil, buildErr
		}
		s.mu.Lock()
		s.preamble = built
		s.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PreambleData), nil
}

// Evict drops path's session, if any, releasing its preamble.
func (m *Manager) Evict(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, path)
}

// Len returns the number of live sessions, for tests and diagnostics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
