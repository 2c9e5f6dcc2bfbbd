// Package delta computes the additive/subtractive patch between two
// IndexFile snapshots of the same path, per spec §4.3.
package delta

import (
	"cxref/internal/indexfile"
	"cxref/internal/symbol"
)

// ListDiff carries the remove-then-add pair for one entity's declarations,
// uses, derived, or instances list.
type ListDiff[T any] struct {
	Old []T
	New []T
}

// KindUpdate groups the per-kind changes the apply loop walks in order.
type KindUpdate struct {
	Removed        []RemovedDef
	DefUpdate      []DefUpdate
	Declarations   map[symbol.Usr]ListDiff[symbol.DeclRef]
	Uses           map[symbol.Usr]ListDiff[symbol.Use]
	Derived        map[symbol.Usr]ListDiff[symbol.Usr]
	Instances      map[symbol.Usr]ListDiff[symbol.Usr]
}

func newKindUpdate() KindUpdate {
	return KindUpdate{
		Declarations: make(map[symbol.Usr]ListDiff[symbol.DeclRef]),
		Uses:         make(map[symbol.Usr]ListDiff[symbol.Use]),
		Derived:      make(map[symbol.Usr]ListDiff[symbol.Usr]),
		Instances:    make(map[symbol.Usr]ListDiff[symbol.Usr]),
	}
}

// RemovedDef is a (Usr, Def) pair present in prev but absent from curr's
// contribution to this file.
type RemovedDef struct {
	Usr symbol.Usr
	Def indexfile.Def
}

// DefUpdate is a (Usr, Def) pair present in curr.
type DefUpdate struct {
	Usr symbol.Usr
	Def indexfile.Def
}

// IndexUpdate is the output of diff: everything the apply loop needs to
// merge one reparse into the Query DB.
type IndexUpdate struct {
	Path         string
	FileID       symbol.FileID // resolved at apply time; unset (-1) here
	PrevLid2Path map[symbol.FileID]string
	Lid2Path     map[symbol.FileID]string

	FilesDefUpdate *indexfile.FileDef
	FilesRemoved   string // non-empty when the file itself was removed

	ByKind map[symbol.Kind]KindUpdate

	FuncsHint int
	TypesHint int
	VarsHint  int
}

// implicitWidenCols is the punctuation widening applied to call-site ranges
// on Func uses only (§4.2, §4.3): "implicit function calls widen the range
// by one column on each side".
const implicitWidenCols = 1

// Diff computes diff(prev, curr) -> IndexUpdate. prev may be nil (first
// index of this path).
func Diff(prev, curr *indexfile.IndexFile) *IndexUpdate {
	u := &IndexUpdate{
		Path:         curr.Path,
		FileID:       -1,
		PrevLid2Path: map[symbol.FileID]string{},
		Lid2Path:     curr.Lid2Path,
		ByKind:       make(map[symbol.Kind]KindUpdate),
	}
	if prev != nil {
		u.PrevLid2Path = prev.Lid2Path
	}

	u.FilesDefUpdate = &indexfile.FileDef{
		Path:          curr.Path,
		Args:          curr.Args,
		Includes:      curr.Includes,
		Dependencies:  curr.Dependencies,
		SkippedRanges: curr.SkippedRanges,
	}

	for _, kind := range indexfile.Kinds {
		prevEntries := map[symbol.Usr]*indexfile.Entry{}
		if prev != nil {
			prevEntries = prev.EntriesOf(kind)
		}
		currEntries := curr.EntriesOf(kind)
		ku := diffKind(kind, prevEntries, currEntries)
		u.ByKind[kind] = ku
	}

	u.FuncsHint = len(curr.Usr2Func)
	u.TypesHint = len(curr.Usr2Type)
	u.VarsHint = len(curr.Usr2Var)

	return u
}

func diffKind(kind symbol.Kind, prevEntries, currEntries map[symbol.Usr]*indexfile.Entry) KindUpdate {
	ku := newKindUpdate()

	for usr, pe := range prevEntries {
		if pe.Def == nil {
			continue
		}
		ce, stillThere := currEntries[usr]
		if !stillThere || ce.Def == nil {
			ku.Removed = append(ku.Removed, RemovedDef{Usr: usr, Def: *pe.Def})
		}
	}

	for usr, ce := range currEntries {
		if ce.Def == nil {
			// Forward declaration only: rule "defs with empty
			// detailed_name[0] are skipped".
			continue
		}
		if ce.Def.DetailedName == "" {
			continue
		}
		ku.DefUpdate = append(ku.DefUpdate, DefUpdate{Usr: usr, Def: *ce.Def})
	}

	allUsrs := map[symbol.Usr]struct{}{}
	for usr := range prevEntries {
		allUsrs[usr] = struct{}{}
	}
	for usr := range currEntries {
		allUsrs[usr] = struct{}{}
	}

	for usr := range allUsrs {
		var pe, ce *indexfile.Entry
		if e, ok := prevEntries[usr]; ok {
			pe = e
		}
		if e, ok := currEntries[usr]; ok {
			ce = e
		}

		var oldDecls, newDecls []symbol.DeclRef
		var oldDerived, newDerived []symbol.Usr
		var oldInst, newInst []symbol.Usr
		var oldUses, newUses []symbol.Use

		if pe != nil {
			oldDecls = pe.Declarations
			oldDerived = pe.Derived
			oldInst = pe.Instances
			oldUses = widenIfFunc(kind, pe.Uses)
		}
		if ce != nil {
			newDecls = ce.Declarations
			newDerived = ce.Derived
			newInst = ce.Instances
			newUses = widenIfFunc(kind, ce.Uses)
		}

		if len(oldDecls) > 0 || len(newDecls) > 0 {
			ku.Declarations[usr] = ListDiff[symbol.DeclRef]{Old: oldDecls, New: newDecls}
		}
		if len(oldDerived) > 0 || len(newDerived) > 0 {
			ku.Derived[usr] = ListDiff[symbol.Usr]{Old: oldDerived, New: newDerived}
		}
		if len(oldInst) > 0 || len(newInst) > 0 {
			ku.Instances[usr] = ListDiff[symbol.Usr]{Old: oldInst, New: newInst}
		}
		if len(oldUses) > 0 || len(newUses) > 0 {
			ku.Uses[usr] = ListDiff[symbol.Use]{Old: oldUses, New: newUses}
		}
	}

	return ku
}

// widenIfFunc applies the implicit-call range widening to Func uses only;
// Types and Vars pass through unchanged (§4.4 step f). Widening is applied
// identically on both sides of the diff so removal and addition stay
// symmetric and refcounts stay balanced (§4.3 rule).
func widenIfFunc(kind symbol.Kind, uses []symbol.Use) []symbol.Use {
	if kind != symbol.KindFunc {
		return uses
	}
	out := make([]symbol.Use, len(uses))
	for i, u := range uses {
		if u.Role.Has(symbol.RoleCall | symbol.RoleImplicit) {
			u.Range = u.Range.Widen(implicitWidenCols)
		}
		out[i] = u
	}
	return out
}

// Invert returns the inverse update of Diff(prev, curr), computed as
// Diff(curr, prev) from the same two IndexFiles; used by property tests to
// validate the delta-inverse law (apply(diff(A,B)); apply(diff(B,A)) ==
// identity) without re-running the Analyzer.
func Invert(prev, curr *indexfile.IndexFile) *IndexUpdate {
	return Diff(curr, prev)
}
