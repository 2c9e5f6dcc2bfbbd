// Package analyzer defines the external Analyzer contract of spec §6: given
// compile arguments and source text, produce a stream of per-translation-
// unit IndexFiles. Concrete implementations live in subpackages (see
// analyzer/treesitter for the one this repository ships).
package analyzer

import (
	"context"

	"cxref/internal/indexfile"
)

// Override is a remapped buffer: content that should be substituted for
// path's on-disk contents during this parse (an open editor buffer).
type Override struct {
	Path     string
	Contents []byte
}

// CommentPolicy controls how much comment text the Analyzer attaches to
// declarations (spec §6 `index.comments`, resolved from ccls in SPEC_FULL
// §4): 0 none, 1 doxygen-style only, 2 all comments.
type CommentPolicy int

const (
	CommentsNone CommentPolicy = iota
	CommentsDoxygenOnly
	CommentsAll
)

// Request bundles one analyze() invocation's inputs.
type Request struct {
	Args         []string
	MainPath     string
	Overrides    []Override
	Comments     CommentPolicy
	NoLinkage    bool
}

// Result is the Analyzer's output: indexes is one IndexFile per
// translation unit touched (the main file plus any header discovered
// inside it, each with its own entry).
type Result struct {
	Indexes    []*indexfile.IndexFile
	NErrors    uint32
	FirstError string
	// OK is false only on a crash or compile-driver failure; diagnostics
	// alone (NErrors > 0) do not set this false (§4.2 error semantics).
	OK bool
}

// Analyzer is the opaque external collaborator spec.md §1 and §6 describe:
// given source text and compile arguments, it yields a stream of symbol
// occurrences shaped as IndexFiles.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}
