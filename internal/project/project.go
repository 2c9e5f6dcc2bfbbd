// Package project implements compile-command lookup and inference for C,
// C++, and Objective-C translation units (spec §4.7 step 3, §6 Project
// model), plus the multi-version-indexing matcher and header-only
// detection supplemented from ccls (SPEC_FULL §4).
package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Entry is one translation unit's compile command, the shape
// compile_commands.json (the de facto JSON Compilation Database format)
// stores per-file.
type Entry struct {
	Path      string   `json:"file"`
	Directory string   `json:"directory"`
	Arguments []string `json:"arguments"`
	// Command is an alternative, unsplit form some generators emit instead
	// of Arguments.
	Command string `json:"command"`
}

func (e Entry) args() []string {
	if len(e.Arguments) > 0 {
		return e.Arguments
	}
	if e.Command != "" {
		return strings.Fields(e.Command)
	}
	return nil
}

// Model is the project's compile-command table: a dedicated mutex guards
// it against concurrent indexer workers and reload-on-change updates
// (§5 "the project's compile-command table uses a dedicated project.mtx").
type Model struct {
	mu      sync.RWMutex
	byPath  map[string]Entry
	// dirArgs is used for paths with no direct entry (commonly
	// headers): the arguments of the nearest directory ancestor that does
	// have an entry, mirroring how clang's JSONCompilationDatabase infers
	// header compile flags in practice.
	dirArgs map[string][]string

	MultiVersion MultiVersionMatcher
}

// NewModel returns an empty Model.
func NewModel() *Model {
	return &Model{
		byPath:  make(map[string]Entry),
		dirArgs: make(map[string][]string),
	}
}

// LoadCompileCommands parses a compile_commands.json file at path and
// replaces the model's table.
func (m *Model) LoadCompileCommands(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}

	byPath := make(map[string]Entry, len(entries))
	dirArgs := make(map[string][]string)
	for _, e := range entries {
		abs := e.Path
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(e.Directory, e.Path)
		}
		abs = filepath.Clean(abs)
		byPath[abs] = e
		dirArgs[filepath.Dir(abs)] = e.args()
	}

	m.mu.Lock()
	m.byPath = byPath
	m.dirArgs = dirArgs
	m.mu.Unlock()
	return nil
}

// FindEntry returns the compile arguments for path: a direct match if one
// exists in the loaded database, otherwise the nearest ancestor directory's
// arguments (inference), otherwise ok=false.
func (m *Model) FindEntry(path string) (args []string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	abs := filepath.Clean(path)
	if e, found := m.byPath[abs]; found {
		return e.args(), true
	}

	dir := filepath.Dir(abs)
	for {
		if args, found := m.dirArgs[dir]; found {
			return args, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, false
}

// Paths returns every translation unit with a direct compile_commands.json
// entry, in no particular order. Used by callers that need to enumerate a
// whole workspace for an initial full index rather than reacting to a
// single path.
func (m *Model) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byPath))
	for p := range m.byPath {
		out = append(out, p)
	}
	return out
}

// MultiVersionRule is a (pathGlob, extraArgs) pair: when multi-version
// indexing is enabled, the indexer invokes the Analyzer once per rule set
// matching a given path, producing independent IndexFiles each diffed
// against the same prev (SPEC_FULL §4, ccls `multiVersion` config).
type MultiVersionRule struct {
	PathGlob  string
	ExtraArgs []string
}

// MultiVersionMatcher is an ordered list of rules.
type MultiVersionMatcher []MultiVersionRule

// Match returns the extra-argument sets for every rule whose glob matches
// path. An empty result means multi-version indexing does not apply and
// the indexer should run the Analyzer exactly once.
func (m MultiVersionMatcher) Match(path string) [][]string {
	var out [][]string
	for _, rule := range m {
		matched, err := doublestar.Match(rule.PathGlob, path)
		if err != nil || !matched {
			continue
		}
		out = append(out, rule.ExtraArgs)
	}
	return out
}

// headerExtensions are the suffixes treated as header-only files for the
// no-linkage first pass (§4.5 step 1, ccls `no_linkage`).
var headerExtensions = []string{".h", ".hh", ".hpp", ".hxx", ".inc", ".ipp"}

// IsHeaderOnly reports whether path's extension marks it as header-only,
// used by the indexer to pick the header-only-pass step instead of a
// full-linkage parse (§4.5).
func IsHeaderOnly(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, h := range headerExtensions {
		if ext == h {
			return true
		}
	}
	return false
}

// FindCompileCommands searches common build-output locations for a
// compile_commands.json under root, returning the path relative to root or
// "" if none is found.
func FindCompileCommands(root string) string {
	locations := []string{
		"compile_commands.json",
		"build/compile_commands.json",
		"out/compile_commands.json",
		"cmake-build-debug/compile_commands.json",
		"cmake-build-release/compile_commands.json",
	}
	for _, loc := range locations {
		if _, err := os.Stat(filepath.Join(root, loc)); err == nil {
			return loc
		}
	}

	patterns := []string{
		filepath.Join(root, "build", "*", "compile_commands.json"),
		filepath.Join(root, "out", "*", "compile_commands.json"),
	}
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		if len(matches) > 0 {
			rel, _ := filepath.Rel(root, matches[0])
			return rel
		}
	}
	return ""
}
