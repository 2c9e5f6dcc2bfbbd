// Package querydb implements the global merged symbol graph (spec §3, §4.4):
// three arena vectors of entities, a files table with refcounted occurrence
// sets, and the single-writer apply loop that merges IndexUpdates into them.
package querydb

import (
	"fmt"

	"cxref/internal/delta"
	"cxref/internal/indexfile"
	"cxref/internal/symbol"
)

// growthFactor is the vector/hint pre-sizing factor from §4.3/§4.4.
const growthFactor = 1.3

// QueryDef is one translation unit's contribution to an entity, keyed by
// FileID so multiple TUs can define the same entity (e.g. inline functions).
type QueryDef struct {
	FileID symbol.FileID
	indexfile.Def
}

// Row is one entity (Func, Type, or Var) in the merged graph.
type Row struct {
	Usr          symbol.Usr
	Defs         []QueryDef
	Declarations []symbol.DeclRef
	Uses         []symbol.Use
	Derived      []symbol.Usr
	// Instances is meaningful only for Type rows.
	Instances []symbol.Usr
}

// PreferredDef returns the Def the query layer should show for this row:
// first by lowest file-id, then, among defs from that file, one with a
// non-empty Hover over one without.
func (r *Row) PreferredDef() (QueryDef, bool) {
	if len(r.Defs) == 0 {
		return QueryDef{}, false
	}
	best := r.Defs[0]
	for _, d := range r.Defs[1:] {
		if d.FileID < best.FileID {
			best = d
			continue
		}
		if d.FileID == best.FileID && d.Hover != "" && best.Hover == "" {
			best = d
		}
	}
	return best, true
}

// Empty reports whether this row has no defs, uses, or declarations and may
// be garbage-collected on cache eviction (invariant 3).
func (r *Row) Empty() bool {
	return len(r.Defs) == 0 && len(r.Uses) == 0 && len(r.Declarations) == 0
}

func (r *Row) removeDefByFile(fileID symbol.FileID) {
	out := r.Defs[:0]
	for _, d := range r.Defs {
		if d.FileID != fileID {
			out = append(out, d)
		}
	}
	r.Defs = out
}

func (r *Row) upsertDef(d QueryDef) {
	for i, existing := range r.Defs {
		if existing.FileID == d.FileID {
			r.Defs[i] = d
			return
		}
	}
	r.Defs = append(r.Defs, d)
}

// QueryFile is the per-path file record: its own Def plus the refcounted
// multiset of symbol occurrences every indexing TU has contributed.
type QueryFile struct {
	ID   symbol.FileID
	Path string
	Def  *indexfile.FileDef

	// Symbol2Refcnt is the single source of truth for "which symbols
	// appear in this file" (§3). Entries are erased when the count
	// reaches zero (invariant 4, non-negativity).
	Symbol2Refcnt map[symbol.ExtentRef]int32
}

// DB is the global merged query graph. All mutation happens through Apply,
// invoked only from the single apply-loop goroutine (§4.4 concurrency
// contract); reads from other goroutines must go through Snapshot.
type DB struct {
	Funcs []Row
	Types []Row
	Vars  []Row

	FuncUsr map[symbol.Usr]int
	TypeUsr map[symbol.Usr]int
	VarUsr  map[symbol.Usr]int

	Files      []*QueryFile
	NameToFile map[string]symbol.FileID
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		FuncUsr:    make(map[symbol.Usr]int),
		TypeUsr:    make(map[symbol.Usr]int),
		VarUsr:     make(map[symbol.Usr]int),
		NameToFile: make(map[string]symbol.FileID),
	}
}

func (db *DB) vectorFor(kind symbol.Kind) (*[]Row, map[symbol.Usr]int) {
	switch kind {
	case symbol.KindFunc:
		return &db.Funcs, db.FuncUsr
	case symbol.KindType:
		return &db.Types, db.TypeUsr
	case symbol.KindVar:
		return &db.Vars, db.VarUsr
	default:
		panic(fmt.Sprintf("querydb: invalid kind %v", kind))
	}
}

func (db *DB) rowIndex(kind symbol.Kind, usr symbol.Usr) (int, bool) {
	_, usrMap := db.vectorFor(kind)
	idx, ok := usrMap[usr]
	return idx, ok
}

func (db *DB) getOrCreateRow(kind symbol.Kind, usr symbol.Usr) *Row {
	vec, usrMap := db.vectorFor(kind)
	if idx, ok := usrMap[usr]; ok {
		return &(*vec)[idx]
	}
	*vec = append(*vec, Row{Usr: usr})
	idx := len(*vec) - 1
	usrMap[usr] = idx
	return &(*vec)[idx]
}

// reserve grows vec's backing capacity by growthFactor when len+hint would
// exceed the current capacity, per §4.3/§4.4's pre-sizing rule.
func reserve(vec *[]Row, hint int) {
	need := len(*vec) + hint
	if need <= cap(*vec) {
		return
	}
	newCap := int(float64(need) * growthFactor)
	grown := make([]Row, len(*vec), newCap)
	copy(grown, *vec)
	*vec = grown
}

func (db *DB) getOrCreateFile(path string) *QueryFile {
	if id, ok := db.NameToFile[path]; ok {
		return db.Files[id]
	}
	id := symbol.FileID(len(db.Files))
	qf := &QueryFile{
		ID:            id,
		Path:          path,
		Symbol2Refcnt: make(map[symbol.ExtentRef]int32),
	}
	db.Files = append(db.Files, qf)
	db.NameToFile[path] = id
	return qf
}

// Snapshot returns an independent copy of the DB's vectors (including each
// row's lists) and indexes suitable for concurrent read-only access from handler goroutines
// while the apply loop keeps mutating the live DB (§9 "handlers receive an
// immutable snapshot per request").
func (db *DB) Snapshot() *DB {
	cp := &DB{
		Funcs:      append([]Row(nil), db.Funcs...),
		Types:      append([]Row(nil), db.Types...),
		Vars:       append([]Row(nil), db.Vars...),
		FuncUsr:    cloneUsrMap(db.FuncUsr),
		TypeUsr:    cloneUsrMap(db.TypeUsr),
		VarUsr:     cloneUsrMap(db.VarUsr),
		NameToFile: cloneNameMap(db.NameToFile),
	}
	for _, vec := range [][]Row{cp.Funcs, cp.Types, cp.Vars} {
		for i := range vec {
			r := &vec[i]
			r.Defs = append([]QueryDef(nil), r.Defs...)
			r.Declarations = append([]symbol.DeclRef(nil), r.Declarations...)
			r.Uses = append([]symbol.Use(nil), r.Uses...)
			r.Derived = append([]symbol.Usr(nil), r.Derived...)
			r.Instances = append([]symbol.Usr(nil), r.Instances...)
		}
	}
	cp.Files = make([]*QueryFile, len(db.Files))
	for i, f := range db.Files {
		if f == nil {
			continue
		}
		fc := *f
		fc.Symbol2Refcnt = make(map[symbol.ExtentRef]int32, len(f.Symbol2Refcnt))
		for k, v := range f.Symbol2Refcnt {
			fc.Symbol2Refcnt[k] = v
		}
		cp.Files[i] = &fc
	}
	return cp
}

func cloneUsrMap(m map[symbol.Usr]int) map[symbol.Usr]int {
	cp := make(map[symbol.Usr]int, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneNameMap(m map[string]symbol.FileID) map[string]symbol.FileID {
	cp := make(map[string]symbol.FileID, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// InvariantViolation is the panic payload raised when Apply detects
// corrupted upstream state (§4.4 failure semantics, §7): refcount
// underflow or an unresolvable local id. ApplyLoop recovers it only to log
// it and hand it to OnFatal.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return "querydb: invariant violation: " + e.Reason
}

// Apply merges update into the DB. It must only ever be invoked from the
// single apply-loop goroutine.
func (db *DB) Apply(update *delta.IndexUpdate) {
	prevLid2FileID := db.resolveLidTable(update.PrevLid2Path)
	lid2FileID := db.resolveLidTable(update.Lid2Path)

	mainFile := db.getOrCreateFile(update.Path)
	update.FileID = mainFile.ID
	lid2FileID[symbol.MainFileID] = mainFile.ID
	prevLid2FileID[symbol.MainFileID] = mainFile.ID

	if update.FilesRemoved != "" {
		if f, ok := db.NameToFile[update.FilesRemoved]; ok {
			db.Files[f].Def = nil
		}
	}

	if update.FilesDefUpdate != nil {
		fd := *update.FilesDefUpdate
		mainFile.Def = &fd
	}

	for _, kind := range indexfile.Kinds {
		ku := update.ByKind[kind]
		vec, _ := db.vectorFor(kind)
		hint := hintFor(update, kind)
		reserve(vec, hint)

		for _, rem := range ku.Removed {
			row := db.getOrCreateRow(kind, rem.Usr)
			fileID := resolveFileID(rem.Def.FileID, prevLid2FileID)
			if rem.Def.HasSpell() {
				db.decrefExtent(fileID, symbol.ExtentRef{
					Usr: rem.Usr, Kind: kind, Range: rem.Def.Spell, Extent: rem.Def.Extent,
					Role: symbol.RoleDeclaration | symbol.RoleDefinition,
				})
			}
			row.removeDefByFile(fileID)
			for _, base := range rem.Def.Bases {
				unmirrorDerived(db, kind, base, rem.Usr)
			}
		}

		for _, du := range ku.DefUpdate {
			row := db.getOrCreateRow(kind, du.Usr)
			d := du.Def
			d.FileID = update.FileID
			d.Spell = translateRange(d.Spell, lid2FileID)
			d.Extent = translateRange(d.Extent, lid2FileID)
			for _, old := range row.Defs {
				// Release the count held by the def this update replaces.
				if old.FileID == d.FileID && old.HasSpell() {
					db.decrefExtent(d.FileID, symbol.ExtentRef{
						Usr: du.Usr, Kind: kind, Range: old.Spell, Extent: old.Extent,
						Role: symbol.RoleDeclaration | symbol.RoleDefinition,
					})
				}
			}
			row.upsertDef(QueryDef{FileID: d.FileID, Def: d})
			if d.HasSpell() {
				db.increfExtent(d.FileID, symbol.ExtentRef{
					Usr: du.Usr, Kind: kind, Range: d.Spell, Extent: d.Extent,
					Role: symbol.RoleDeclaration | symbol.RoleDefinition,
				})
			}
			for _, base := range d.Bases {
				mirrorDerived(db, kind, base, du.Usr)
			}
		}

		for usr, ld := range ku.Declarations {
			row := db.getOrCreateRow(kind, usr)
			for _, o := range ld.Old {
				db.decrefExtent(resolveFileID(o.FileID, prevLid2FileID), declExtent(usr, kind, o))
			}
			translated := make([]symbol.DeclRef, len(ld.New))
			for i, n := range ld.New {
				n.FileID = resolveFileID(n.FileID, lid2FileID)
				n.Range = translateRange(n.Range, lid2FileID)
				n.Extent = translateRange(n.Extent, lid2FileID)
				translated[i] = n
				db.increfExtent(n.FileID, declExtent(usr, kind, n))
			}
			row.Declarations = setUnionDecl(setDiffDecl(row.Declarations, ld.Old), translated)
		}

		for usr, ld := range ku.Derived {
			row := db.getOrCreateRow(kind, usr)
			row.Derived = setUnionUsr(setDiffUsr(row.Derived, ld.Old), ld.New)
			for _, base := range ld.New {
				mirrorDerived(db, symbol.KindType, base, usr)
			}
			for _, base := range ld.Old {
				unmirrorDerived(db, symbol.KindType, base, usr)
			}
		}

		for usr, ld := range ku.Instances {
			row := db.getOrCreateRow(kind, usr)
			row.Instances = setUnionUsr(setDiffUsr(row.Instances, ld.Old), ld.New)
		}

		for usr, ld := range ku.Uses {
			row := db.getOrCreateRow(kind, usr)
			for _, o := range ld.Old {
				o.FileID = resolveFileID(o.FileID, prevLid2FileID)
				db.decrefExtent(o.FileID, useExtent(usr, kind, o))
			}
			translated := make([]symbol.Use, len(ld.New))
			for i, n := range ld.New {
				n.FileID = resolveFileID(n.FileID, lid2FileID)
				translated[i] = n
				db.increfExtent(n.FileID, useExtent(usr, kind, n))
			}
			row.Uses = setUnionUse(setDiffUse(row.Uses, ld.Old), translated)
		}
	}
}

func hintFor(u *delta.IndexUpdate, kind symbol.Kind) int {
	switch kind {
	case symbol.KindFunc:
		return u.FuncsHint
	case symbol.KindType:
		return u.TypesHint
	default:
		return u.VarsHint
	}
}

func declExtent(usr symbol.Usr, kind symbol.Kind, d symbol.DeclRef) symbol.ExtentRef {
	return symbol.ExtentRef{Usr: usr, Kind: kind, Range: d.Range, Role: d.Role, Extent: d.Extent}
}

func useExtent(usr symbol.Usr, kind symbol.Kind, u symbol.Use) symbol.ExtentRef {
	return symbol.ExtentRef{Usr: usr, Kind: kind, Range: u.Range, Role: u.Role}
}

func (db *DB) resolveLidTable(lid2path map[symbol.FileID]string) map[symbol.FileID]symbol.FileID {
	out := make(map[symbol.FileID]symbol.FileID, len(lid2path))
	for lid, path := range lid2path {
		out[lid] = db.getOrCreateFile(path).ID
	}
	return out
}

func resolveFileID(lid symbol.FileID, table map[symbol.FileID]symbol.FileID) symbol.FileID {
	if fid, ok := table[lid]; ok {
		return fid
	}
	if lid >= 0 {
		// A non-negative id absent from the table is taken to be a global
		// id already; accept as-is.
		return lid
	}
	panic(&InvariantViolation{Reason: fmt.Sprintf("unresolvable local file id %d", lid)})
}

func translateRange(r symbol.Range, _ map[symbol.FileID]symbol.FileID) symbol.Range {
	// Range values carry no file-id of their own in this model (FileID
	// lives on the enclosing Use/DeclRef/Def); translation here is a no-op
	// placeholder kept for symmetry with the spec's "translate any spell
	// using lid2file_id" language, applied instead at the Use/DeclRef level
	// via resolveFileID.
	return r
}

func (db *DB) increfExtent(fileID symbol.FileID, e symbol.ExtentRef) {
	f := db.fileByID(fileID)
	f.Symbol2Refcnt[e]++
}

func (db *DB) decrefExtent(fileID symbol.FileID, e symbol.ExtentRef) {
	f := db.fileByID(fileID)
	cnt, ok := f.Symbol2Refcnt[e]
	if !ok || cnt <= 0 {
		panic(&InvariantViolation{Reason: fmt.Sprintf("refcount underflow for %+v in file %d", e, fileID)})
	}
	if cnt == 1 {
		delete(f.Symbol2Refcnt, e)
	} else {
		f.Symbol2Refcnt[e] = cnt - 1
	}
}

func (db *DB) fileByID(id symbol.FileID) *QueryFile {
	if int(id) < 0 || int(id) >= len(db.Files) {
		panic(&InvariantViolation{Reason: fmt.Sprintf("file id %d out of range", id)})
	}
	return db.Files[id]
}

func mirrorDerived(db *DB, kind symbol.Kind, base, derived symbol.Usr) {
	row := db.getOrCreateRow(kind, base)
	for _, d := range row.Derived {
		if d == derived {
			return
		}
	}
	row.Derived = append(row.Derived, derived)
}

func unmirrorDerived(db *DB, kind symbol.Kind, base, derived symbol.Usr) {
	if idx, ok := db.rowIndex(kind, base); ok {
		vec, _ := db.vectorFor(kind)
		row := &(*vec)[idx]
		row.Derived = setDiffUsr(row.Derived, []symbol.Usr{derived})
	}
}

func setDiffUsr(base, remove []symbol.Usr) []symbol.Usr {
	if len(remove) == 0 {
		return append([]symbol.Usr(nil), base...)
	}
	skip := make(map[symbol.Usr]struct{}, len(remove))
	for _, r := range remove {
		skip[r] = struct{}{}
	}
	out := make([]symbol.Usr, 0, len(base))
	for _, b := range base {
		if _, drop := skip[b]; !drop {
			out = append(out, b)
		}
	}
	return out
}

func setUnionUsr(base, add []symbol.Usr) []symbol.Usr {
	seen := make(map[symbol.Usr]struct{}, len(base))
	for _, b := range base {
		seen[b] = struct{}{}
	}
	out := append([]symbol.Usr(nil), base...)
	for _, a := range add {
		if _, ok := seen[a]; !ok {
			out = append(out, a)
			seen[a] = struct{}{}
		}
	}
	return out
}

func setDiffDecl(base, remove []symbol.DeclRef) []symbol.DeclRef {
	if len(remove) == 0 {
		return append([]symbol.DeclRef(nil), base...)
	}
	skip := make(map[symbol.DeclRef]struct{}, len(remove))
	for _, r := range remove {
		skip[r] = struct{}{}
	}
	out := make([]symbol.DeclRef, 0, len(base))
	for _, b := range base {
		if _, drop := skip[b]; !drop {
			out = append(out, b)
		}
	}
	return out
}

func setUnionDecl(base, add []symbol.DeclRef) []symbol.DeclRef {
	seen := make(map[symbol.DeclRef]struct{}, len(base))
	for _, b := range base {
		seen[b] = struct{}{}
	}
	out := append([]symbol.DeclRef(nil), base...)
	for _, a := range add {
		if _, ok := seen[a]; !ok {
			out = append(out, a)
			seen[a] = struct{}{}
		}
	}
	return out
}

func setDiffUse(base, remove []symbol.Use) []symbol.Use {
	if len(remove) == 0 {
		return append([]symbol.Use(nil), base...)
	}
	skip := make(map[symbol.Use]struct{}, len(remove))
	for _, r := range remove {
		skip[r] = struct{}{}
	}
	out := make([]symbol.Use, 0, len(base))
	for _, b := range base {
		if _, drop := skip[b]; !drop {
			out = append(out, b)
		}
	}
	return out
}

func setUnionUse(base, add []symbol.Use) []symbol.Use {
	seen := make(map[symbol.Use]struct{}, len(base))
	for _, b := range base {
		seen[b] = struct{}{}
	}
	out := append([]symbol.Use(nil), base...)
	for _, a := range add {
		if _, ok := seen[a]; !ok {
			out = append(out, a)
			seen[a] = struct{}{}
		}
	}
	return out
}
