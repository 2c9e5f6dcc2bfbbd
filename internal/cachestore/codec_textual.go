package cachestore

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"cxref/internal/indexfile"
	"cxref/internal/symbol"
)

// textualDoc mirrors IndexFile in a yaml-friendly shape for the
// pretty-printed textual format (§4.6).
type textualDoc struct {
	MajorVersion uint32            `yaml:"majorVersion"`
	Path         string            `yaml:"path"`
	MTime        int64             `yaml:"mtime"`
	Language     string            `yaml:"language"`
	NoLinkage    bool              `yaml:"noLinkage"`
	Args         []string          `yaml:"args,omitempty"`
	Includes     []string          `yaml:"includes,omitempty"`
	Dependencies map[string]int64  `yaml:"dependencies,omitempty"`
	Funcs        []textualEntry    `yaml:"funcs,omitempty"`
	Types        []textualEntry    `yaml:"types,omitempty"`
	Vars         []textualEntry    `yaml:"vars,omitempty"`
}

type textualEntry struct {
	Usr          uint64             `yaml:"usr"`
	Def          *textualDef        `yaml:"def,omitempty"`
	Declarations []textualDeclRef   `yaml:"declarations,omitempty"`
	Uses         []textualUse       `yaml:"uses,omitempty"`
	Derived      []uint64           `yaml:"derived,omitempty"`
	Instances    []uint64           `yaml:"instances,omitempty"`
}

type textualDef struct {
	Name         string   `yaml:"name"`
	DetailedName string   `yaml:"detailedName"`
	Spell        [4]int32 `yaml:"spell"`
	Extent       [4]int32 `yaml:"extent"`
	Bases        []uint64 `yaml:"bases,omitempty"`
}

type textualDeclRef struct {
	Range  [4]int32 `yaml:"range"`
	Role   uint16   `yaml:"role"`
	Extent [4]int32 `yaml:"extent"`
}

type textualUse struct {
	Range  [4]int32 `yaml:"range"`
	Role   uint16   `yaml:"role"`
	FileID int32    `yaml:"fileId"`
}

func rangeToArray(r symbol.Range) [4]int32 {
	return [4]int32{int32(r.Start.Line), int32(r.Start.Column), int32(r.End.Line), int32(r.End.Column)}
}

func arrayToRange(a [4]int32) symbol.Range {
	return symbol.Range{
		Start: symbol.Pos{Line: uint16(a[0]), Column: int16(a[1])},
		End:   symbol.Pos{Line: uint16(a[2]), Column: int16(a[3])},
	}
}

func encodeTextual(idx *indexfile.IndexFile) ([]byte, error) {
	doc := textualDoc{
		MajorVersion: kMajorVersion,
		Path:         idx.Path,
		MTime:        idx.MTime,
		Language:     idx.Language,
		NoLinkage:    idx.NoLinkage,
		Args:         idx.Args,
		Includes:     idx.Includes,
		Dependencies: idx.Dependencies,
	}
	doc.Funcs = entriesToTextual(idx.Usr2Func)
	doc.Types = entriesToTextual(idx.Usr2Type)
	doc.Vars = entriesToTextual(idx.Usr2Var)

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

func decodeTextual(payload []byte) (*indexfile.IndexFile, error) {
	raw, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("cachestore: zstd decode: %w", err)
	}

	var doc textualDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.MajorVersion != kMajorVersion {
		return nil, fmt.Errorf("cachestore: major version mismatch: got %d want %d", doc.MajorVersion, kMajorVersion)
	}

	idx := indexfile.New(doc.Path)
	idx.MTime = doc.MTime
	idx.Language = doc.Language
	idx.NoLinkage = doc.NoLinkage
	idx.Args = doc.Args
	idx.Includes = doc.Includes
	if doc.Dependencies != nil {
		idx.Dependencies = doc.Dependencies
	}
	idx.Usr2Func = textualToEntries(doc.Funcs)
	idx.Usr2Type = textualToEntries(doc.Types)
	idx.Usr2Var = textualToEntries(doc.Vars)
	return idx, nil
}

func entriesToTextual(m map[symbol.Usr]*indexfile.Entry) []textualEntry {
	out := make([]textualEntry, 0, len(m))
	for usr, e := range m {
		te := textualEntry{Usr: uint64(usr)}
		if e.Def != nil {
			bases := make([]uint64, len(e.Def.Bases))
			for i, b := range e.Def.Bases {
				bases[i] = uint64(b)
			}
			te.Def = &textualDef{
				Name:         e.Def.Name,
				DetailedName: e.Def.DetailedName,
				Spell:        rangeToArray(e.Def.Spell),
				Extent:       rangeToArray(e.Def.Extent),
				Bases:        bases,
			}
		}
		for _, d := range e.Declarations {
			te.Declarations = append(te.Declarations, textualDeclRef{
				Range: rangeToArray(d.Range), Role: uint16(d.Role), Extent: rangeToArray(d.Extent),
			})
		}
		for _, u := range e.Uses {
			te.Uses = append(te.Uses, textualUse{
				Range: rangeToArray(u.Range), Role: uint16(u.Role), FileID: int32(u.FileID),
			})
		}
		for _, d := range e.Derived {
			te.Derived = append(te.Derived, uint64(d))
		}
		for _, i := range e.Instances {
			te.Instances = append(te.Instances, uint64(i))
		}
		out = append(out, te)
	}
	return out
}

func textualToEntries(list []textualEntry) map[symbol.Usr]*indexfile.Entry {
	m := make(map[symbol.Usr]*indexfile.Entry, len(list))
	for _, te := range list {
		e := &indexfile.Entry{Usr: symbol.Usr(te.Usr)}
		if te.Def != nil {
			bases := make([]symbol.Usr, len(te.Def.Bases))
			for i, b := range te.Def.Bases {
				bases[i] = symbol.Usr(b)
			}
			e.Def = &indexfile.Def{
				Name:         te.Def.Name,
				DetailedName: te.Def.DetailedName,
				Spell:        arrayToRange(te.Def.Spell),
				Extent:       arrayToRange(te.Def.Extent),
				Bases:        bases,
			}
		}
		for _, d := range te.Declarations {
			e.Declarations = append(e.Declarations, symbol.DeclRef{
				Use:    symbol.Use{Range: arrayToRange(d.Range), Role: symbol.Role(d.Role)},
				Extent: arrayToRange(d.Extent),
			})
		}
		for _, u := range te.Uses {
			e.Uses = append(e.Uses, symbol.Use{
				Range: arrayToRange(u.Range), Role: symbol.Role(u.Role), FileID: symbol.FileID(u.FileID),
			})
		}
		for _, d := range te.Derived {
			e.Derived = append(e.Derived, symbol.Usr(d))
		}
		for _, i := range te.Instances {
			e.Instances = append(e.Instances, symbol.Usr(i))
		}
		m[e.Usr] = e
	}
	return m
}
