// Package symbol defines the identity and location primitives shared by
// every translation-unit index and by the merged query graph: the stable
// Usr fingerprint, symbol kinds, and range/use records.
package symbol

import "github.com/dchest/siphash"

// usrKey is the fixed 128-bit SipHash-2-4 key. It never changes across
// versions: Usr values computed by different cxref builds must compare
// equal for the same mangled descriptor.
var usrKey0, usrKey1 = uint64(0x6368726566205553), uint64(0x73746162a1e5f00d)

// Usr is a stable 64-bit fingerprint of a declaration, computed from the
// Analyzer's mangled descriptor. It is stable across translation units and
// across process restarts.
type Usr uint64

// HashUsr computes the Usr for an Analyzer-produced mangled descriptor.
// Two different descriptors collide only with cryptographic probability;
// the same descriptor always yields the same Usr.
func HashUsr(mangled []byte) Usr {
	return Usr(siphash.Hash(usrKey0, usrKey1, mangled))
}

// Kind is the top-level symbol category.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindFunc
	KindType
	KindVar
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "Func"
	case KindType:
		return "Type"
	case KindVar:
		return "Var"
	default:
		return "Invalid"
	}
}

// SymbolKind is the finer-grained category the Analyzer reports, independent
// of which top-level Kind it maps to.
type SymbolKind uint8

const (
	SymbolUnknown SymbolKind = iota
	SymbolClass
	SymbolStruct
	SymbolUnion
	SymbolEnum
	SymbolEnumMember
	SymbolNamespace
	SymbolTypeAlias
	SymbolFunction
	SymbolMethod
	SymbolConstructor
	SymbolDestructor
	SymbolConversionFunction
	SymbolField
	SymbolParameter
	SymbolVariable
	SymbolMacro
	SymbolTemplateParameter
)

// DeclKindTable maps an Analyzer-reported language declaration kind string
// (e.g. a libclang CXCursorKind name, or a tree-sitter node type) to the
// (SymbolKind, Kind) pair it is indexed as. This is the single place a new
// declaration kind must be registered.
var DeclKindTable = map[string]struct {
	Symbol SymbolKind
	Kind   Kind
}{
	"class_decl":             {SymbolClass, KindType},
	"struct_decl":            {SymbolStruct, KindType},
	"union_decl":              {SymbolUnion, KindType},
	"enum_decl":               {SymbolEnum, KindType},
	"enum_constant_decl":      {SymbolEnumMember, KindVar},
	"namespace":               {SymbolNamespace, KindInvalid},
	"typedef_decl":            {SymbolTypeAlias, KindType},
	"type_alias_decl":         {SymbolTypeAlias, KindType},
	"function_decl":           {SymbolFunction, KindFunc},
	"cxx_method":              {SymbolMethod, KindFunc},
	"constructor":             {SymbolConstructor, KindFunc},
	"destructor":              {SymbolDestructor, KindFunc},
	"conversion_function":     {SymbolConversionFunction, KindFunc},
	"field_decl":              {SymbolField, KindVar},
	"parm_decl":               {SymbolParameter, KindVar},
	"var_decl":                {SymbolVariable, KindVar},
	"macro_definition":        {SymbolMacro, KindInvalid},
	"template_type_parameter": {SymbolTemplateParameter, KindInvalid},
}

// LookupDeclKind resolves an Analyzer declaration-kind string to its
// (SymbolKind, Kind) pair. Unknown kinds map to (SymbolUnknown, KindInvalid).
func LookupDeclKind(declKind string) (SymbolKind, Kind) {
	if e, ok := DeclKindTable[declKind]; ok {
		return e.Symbol, e.Kind
	}
	return SymbolUnknown, KindInvalid
}

// Pos is a (line, column) location. Column -1 means invalid/unset. Line is
// clamped to the u16 range at parse time.
type Pos struct {
	Line   uint16
	Column int16
}

// Valid reports whether the column has been set.
func (p Pos) Valid() bool { return p.Column >= 0 }

// Less implements the lexicographic order used by Range half-open checks
// and by VFS timestamp/step comparisons elsewhere.
func (p Pos) Less(o Pos) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Column < o.Column
}

// Range is a half-open [Start, End) location span.
type Range struct {
	Start Pos
	End   Pos
}

// Valid reports Start < End, per invariant 4.
func (r Range) Valid() bool { return r.Start.Less(r.End) }

// Widen returns the range widened by n columns on each side, used for the
// implicit-call punctuation adjustment in §4.2/§4.3. Widening never crosses
// a line boundary; columns below zero are clamped to zero.
func (r Range) Widen(n int16) Range {
	w := r
	if w.Start.Column-n >= 0 {
		w.Start.Column -= n
	} else {
		w.Start.Column = 0
	}
	w.End.Column += n
	return w
}

// Role is a bitmask describing how a symbol occurrence was used.
type Role uint16

const (
	RoleNone        Role = 0
	RoleDeclaration Role = 1 << iota
	RoleDefinition
	RoleRead
	RoleWrite
	RoleAddress
	RoleCall
	RoleImplicit
	RoleReference
)

// Has reports whether all bits in mask are set.
func (r Role) Has(mask Role) bool { return r&mask == mask }

// FileID identifies a path within the local scope of a single IndexFile
// (lid2path) or, once resolved, within the global DB.files vector.
type FileID int32

// MainFileID is the sentinel local id meaning "the main file of this
// translation unit" (§4.3); it is substituted with the real main-file id at
// apply time.
const MainFileID FileID = -1

// Use is a single occurrence of a symbol: a range, the role bits describing
// how it was used, and the file it occurred in.
type Use struct {
	Range  Range
	Role   Role
	FileID FileID
}

// DeclRef is a Use plus the full syntactic extent of the declaration, used
// to disambiguate hover/jump targets.
type DeclRef struct {
	Use
	Extent Range
}

// ExtentRef is the DB's per-file refcount key: the tuple that identifies one
// contributed occurrence of a symbol inside one file.
type ExtentRef struct {
	Usr    Usr
	Kind   Kind
	Range  Range
	Role   Role
	Extent Range
}
