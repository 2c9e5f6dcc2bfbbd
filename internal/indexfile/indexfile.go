// Package indexfile defines IndexFile, the per-translation-unit record the
// Analyzer produces and the delta builder consumes exactly once before it
// moves into the cache store.
package indexfile

import "cxref/internal/symbol"

// CallEdge is one call site recorded against the enclosing function's def.
type CallEdge struct {
	Range    symbol.Range
	Callee   symbol.Usr
	Role     symbol.Role
}

// Def is the single definition a translation unit can contribute for a
// symbol (at most one per TU; multiple TUs contribute distinct Defs merged
// by file-id in the query graph).
type Def struct {
	FileID             symbol.FileID
	Name               string
	DetailedName       string
	QualNameOffset     int
	ShortNameOffset    int
	ShortNameSize      int
	Hover              string
	Comment            string
	Spell              symbol.Range
	Extent             symbol.Range
	StorageClass       string
	Bases              []symbol.Usr
	Members            []symbol.Usr
	Callees            []CallEdge
}

// HasSpell reports whether Spell has been populated (used by the apply loop
// to decide whether a removed def should decrement its refcount entry).
func (d Def) HasSpell() bool { return d.Spell.Valid() }

// Entry is one symbol's file-local index-entry: at most one Def, plus the
// declaration/use/derived/instance lists contributed by this TU.
type Entry struct {
	Usr          symbol.Usr
	Def          *Def
	Declarations []symbol.DeclRef
	Uses         []symbol.Use
	Derived      []symbol.Usr
	// Instances is populated only for Type entries: variables/fields of
	// this type seen in the TU.
	Instances []symbol.Usr
}

// FileDef is the file-level metadata a TU records for the main file or any
// header it touched.
type FileDef struct {
	Path          string
	Args          []string
	Includes      []string
	Dependencies  map[string]int64
	SkippedRanges []symbol.Range
}

// IndexFile is the Analyzer's per-translation-unit output.
type IndexFile struct {
	Path         string
	MTime        int64
	FileContents []byte
	Language     string
	NoLinkage    bool
	Args         []string
	Includes     []string
	SkippedRanges []symbol.Range
	Dependencies map[string]int64

	// Lid2Path maps a file-local id, valid only while this record is being
	// built or diffed, to an absolute path.
	Lid2Path map[symbol.FileID]string

	Usr2Func map[symbol.Usr]*Entry
	Usr2Type map[symbol.Usr]*Entry
	Usr2Var  map[symbol.Usr]*Entry
}

// New returns an empty IndexFile ready for population by an Analyzer
// adapter.
func New(path string) *IndexFile {
	return &IndexFile{
		Path:         path,
		Dependencies: make(map[string]int64),
		Lid2Path:     make(map[symbol.FileID]string),
		Usr2Func:     make(map[symbol.Usr]*Entry),
		Usr2Type:     make(map[symbol.Usr]*Entry),
		Usr2Var:      make(map[symbol.Usr]*Entry),
	}
}

// EntriesOf returns the map for the given top-level Kind, or nil for
// KindInvalid.
func (f *IndexFile) EntriesOf(k symbol.Kind) map[symbol.Usr]*Entry {
	switch k {
	case symbol.KindFunc:
		return f.Usr2Func
	case symbol.KindType:
		return f.Usr2Type
	case symbol.KindVar:
		return f.Usr2Var
	default:
		return nil
	}
}

// Kinds enumerates the three entity kinds in the fixed order used
// throughout delta construction and apply (§4.4 step 4: "For each kind in
// order").
var Kinds = [3]symbol.Kind{symbol.KindFunc, symbol.KindType, symbol.KindVar}
