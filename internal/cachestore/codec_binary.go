package cachestore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"cxref/internal/indexfile"
	"cxref/internal/symbol"
)

// kMajorVersion is the first field of both encodings (§4.6, §6). An
// incompatible tag causes the loader to return an error, which Load
// translates into a cache miss.
const kMajorVersion uint32 = 3

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// stringTable interns repeated strings (paths, names) so the binary format
// stays compact, per §4.6 "string-interned".
type stringTable struct {
	strs []string
	ids  map[string]uint64
}

func newStringTable() *stringTable {
	return &stringTable{ids: make(map[string]uint64)}
}

func (t *stringTable) intern(s string) uint64 {
	if id, ok := t.ids[s]; ok {
		return id
	}
	id := uint64(len(t.strs))
	t.strs = append(t.strs, s)
	t.ids[s] = id
	return id
}

func (t *stringTable) get(id uint64) string {
	if int(id) >= len(t.strs) {
		return ""
	}
	return t.strs[id]
}

// encodeBinary serializes idx into the compact varint-prefixed,
// string-interned binary format, then zstd-compresses the result.
func encodeBinary(idx *indexfile.IndexFile) ([]byte, error) {
	tbl := newStringTable()
	body := encodeIndexBody(idx, tbl)

	var header []byte
	header = protowire.AppendVarint(header, uint64(kMajorVersion))
	header = protowire.AppendVarint(header, uint64(len(tbl.strs)))
	for _, s := range tbl.strs {
		header = protowire.AppendString(header, s)
	}
	header = protowire.AppendVarint(header, uint64(len(body)))
	header = append(header, body...)

	return zstdEncoder.EncodeAll(header, nil), nil
}

func decodeBinary(payload []byte) (*indexfile.IndexFile, error) {
	raw, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("cachestore: zstd decode: %w", err)
	}

	major, n := protowire.ConsumeVarint(raw)
	if n < 0 {
		return nil, fmt.Errorf("cachestore: truncated major version")
	}
	if uint32(major) != kMajorVersion {
		return nil, fmt.Errorf("cachestore: major version mismatch: got %d want %d", major, kMajorVersion)
	}
	raw = raw[n:]

	nStrings, n := protowire.ConsumeVarint(raw)
	if n < 0 {
		return nil, fmt.Errorf("cachestore: truncated string table length")
	}
	raw = raw[n:]

	tbl := newStringTable()
	for i := uint64(0); i < nStrings; i++ {
		s, n := protowire.ConsumeString(raw)
		if n < 0 {
			return nil, fmt.Errorf("cachestore: truncated string table entry %d", i)
		}
		tbl.intern(s)
		raw = raw[n:]
	}

	bodyLen, n := protowire.ConsumeVarint(raw)
	if n < 0 {
		return nil, fmt.Errorf("cachestore: truncated body length")
	}
	raw = raw[n:]
	if uint64(len(raw)) < bodyLen {
		return nil, fmt.Errorf("cachestore: truncated body")
	}

	return decodeIndexBody(raw[:bodyLen], tbl)
}

func encodeIndexBody(idx *indexfile.IndexFile, tbl *stringTable) []byte {
	var b []byte
	b = protowire.AppendVarint(b, tbl.intern(idx.Path))
	b = protowire.AppendVarint(b, uint64(idx.MTime))
	b = protowire.AppendVarint(b, tbl.intern(idx.Language))
	b = appendBool(b, idx.NoLinkage)
	b = appendStrings(b, idx.Args, tbl)
	b = appendStrings(b, idx.Includes, tbl)

	b = protowire.AppendVarint(b, uint64(len(idx.Dependencies)))
	for path, mtime := range idx.Dependencies {
		b = protowire.AppendVarint(b, tbl.intern(path))
		b = protowire.AppendVarint(b, uint64(mtime))
	}

	for _, kind := range indexfile.Kinds {
		entries := idx.EntriesOf(kind)
		b = protowire.AppendVarint(b, uint64(len(entries)))
		for usr, entry := range entries {
			b = protowire.AppendVarint(b, uint64(usr))
			b = appendEntry(b, entry, tbl)
		}
	}
	return b
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return protowire.AppendVarint(b, 1)
	}
	return protowire.AppendVarint(b, 0)
}

func appendStrings(b []byte, strs []string, tbl *stringTable) []byte {
	b = protowire.AppendVarint(b, uint64(len(strs)))
	for _, s := range strs {
		b = protowire.AppendVarint(b, tbl.intern(s))
	}
	return b
}

func appendRange(b []byte, r symbol.Range) []byte {
	b = protowire.AppendVarint(b, uint64(r.Start.Line))
	b = protowire.AppendVarint(b, zigzag(int64(r.Start.Column)))
	b = protowire.AppendVarint(b, uint64(r.End.Line))
	b = protowire.AppendVarint(b, zigzag(int64(r.End.Column)))
	return b
}

func zigzag(v int64) uint64 { return uint64((v << 1) ^ (v >> 63)) }
func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

func appendEntry(b []byte, e *indexfile.Entry, tbl *stringTable) []byte {
	hasDef := e.Def != nil
	b = appendBool(b, hasDef)
	if hasDef {
		d := e.Def
		b = protowire.AppendVarint(b, tbl.intern(d.Name))
		b = protowire.AppendVarint(b, tbl.intern(d.DetailedName))
		b = appendRange(b, d.Spell)
		b = appendRange(b, d.Extent)
		b = protowire.AppendVarint(b, uint64(len(d.Bases)))
		for _, u := range d.Bases {
			b = protowire.AppendVarint(b, uint64(u))
		}
		b = protowire.AppendVarint(b, uint64(len(d.Callees)))
		for _, c := range d.Callees {
			b = appendRange(b, c.Range)
			b = protowire.AppendVarint(b, uint64(c.Callee))
			b = protowire.AppendVarint(b, uint64(c.Role))
		}
	}
	b = protowire.AppendVarint(b, uint64(len(e.Declarations)))
	for _, d := range e.Declarations {
		b = appendRange(b, d.Range)
		b = protowire.AppendVarint(b, uint64(d.Role))
		b = appendRange(b, d.Extent)
	}
	b = protowire.AppendVarint(b, uint64(len(e.Uses)))
	for _, u := range e.Uses {
		b = appendRange(b, u.Range)
		b = protowire.AppendVarint(b, uint64(u.Role))
		b = protowire.AppendVarint(b, uint64(u.FileID))
	}
	b = protowire.AppendVarint(b, uint64(len(e.Derived)))
	for _, u := range e.Derived {
		b = protowire.AppendVarint(b, uint64(u))
	}
	b = protowire.AppendVarint(b, uint64(len(e.Instances)))
	for _, u := range e.Instances {
		b = protowire.AppendVarint(b, uint64(u))
	}
	return b
}

func decodeIndexBody(b []byte, tbl *stringTable) (*indexfile.IndexFile, error) {
	r := &reader{b: b}
	idx := indexfile.New(tbl.get(r.varint()))
	idx.MTime = int64(r.varint())
	idx.Language = tbl.get(r.varint())
	idx.NoLinkage = r.varint() != 0
	idx.Args = r.strings(tbl)
	idx.Includes = r.strings(tbl)

	nDeps := r.varint()
	for i := uint64(0); i < nDeps; i++ {
		path := tbl.get(r.varint())
		idx.Dependencies[path] = int64(r.varint())
	}

	for _, kind := range indexfile.Kinds {
		n := r.varint()
		m := idx.EntriesOf(kind)
		for i := uint64(0); i < n; i++ {
			usr := symbol.Usr(r.varint())
			m[usr] = r.entry(tbl)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return idx, nil
}

type reader struct {
	b   []byte
	err error
}

func (r *reader) varint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.err = fmt.Errorf("cachestore: truncated varint")
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *reader) strings(tbl *stringTable) []string {
	n := r.varint()
	if n == 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = tbl.get(r.varint())
	}
	return out
}

func (r *reader) rangeVal() symbol.Range {
	var rg symbol.Range
	rg.Start.Line = uint16(r.varint())
	rg.Start.Column = int16(unzigzag(r.varint()))
	rg.End.Line = uint16(r.varint())
	rg.End.Column = int16(unzigzag(r.varint()))
	return rg
}

func (r *reader) entry(tbl *stringTable) *indexfile.Entry {
	e := &indexfile.Entry{}
	if r.varint() != 0 {
		d := &indexfile.Def{}
		d.Name = tbl.get(r.varint())
		d.DetailedName = tbl.get(r.varint())
		d.Spell = r.rangeVal()
		d.Extent = r.rangeVal()
		nBases := r.varint()
		d.Bases = make([]symbol.Usr, nBases)
		for i := range d.Bases {
			d.Bases[i] = symbol.Usr(r.varint())
		}
		nCallees := r.varint()
		d.Callees = make([]indexfile.CallEdge, nCallees)
		for i := range d.Callees {
			rg := r.rangeVal()
			callee := symbol.Usr(r.varint())
			role := symbol.Role(r.varint())
			d.Callees[i] = indexfile.CallEdge{Range: rg, Callee: callee, Role: role}
		}
		e.Def = d
	}

	nDecls := r.varint()
	e.Declarations = make([]symbol.DeclRef, nDecls)
	for i := range e.Declarations {
		rg := r.rangeVal()
		role := symbol.Role(r.varint())
		ext := r.rangeVal()
		e.Declarations[i] = symbol.DeclRef{Use: symbol.Use{Range: rg, Role: role}, Extent: ext}
	}

	nUses := r.varint()
	e.Uses = make([]symbol.Use, nUses)
	for i := range e.Uses {
		rg := r.rangeVal()
		role := symbol.Role(r.varint())
		fileID := symbol.FileID(r.varint())
		e.Uses[i] = symbol.Use{Range: rg, Role: role, FileID: fileID}
	}

	nDerived := r.varint()
	e.Derived = make([]symbol.Usr, nDerived)
	for i := range e.Derived {
		e.Derived[i] = symbol.Usr(r.varint())
	}

	nInst := r.varint()
	e.Instances = make([]symbol.Usr, nInst)
	for i := range e.Instances {
		e.Instances[i] = symbol.Usr(r.varint())
	}

	return e
}
