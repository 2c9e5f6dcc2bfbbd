// Package treesitter is the concrete Analyzer (see analyzer.Analyzer):
// an incremental tree-sitter parse of one C-family translation unit,
// walked into scip-shaped occurrences and folded into an indexfile.IndexFile
// (SPEC_FULL §2 DOMAIN STACK: go-tree-sitter's cpp/c grammars plus the real
// sourcegraph/scip protobuf types as the intermediate wire shape).
package treesitter

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"

	"cxref/internal/analyzer"
	"cxref/internal/indexfile"
	"cxref/internal/symbol"
)

var osReadFile = os.ReadFile

// Analyzer implements analyzer.Analyzer using tree-sitter's cpp and c
// grammars. Objective-C sources fall back to the c grammar: close enough to
// recover free functions and structs, per SPEC_FULL's explicit carve-out.
type Analyzer struct {
	cpp *sitter.Parser
	c   *sitter.Parser
}

// New returns a ready-to-use Analyzer. Analyze creates its own tree-sitter
// Parser on every call (a Parser is not safe for concurrent Parse calls), so
// one Analyzer may be shared by all of the indexer pool's workers; Analyze
// does not use the cpp and c parsers built here.
func New() *Analyzer {
	cp := sitter.NewParser()
	cp.SetLanguage(cpp.GetLanguage())
	cc := sitter.NewParser()
	cc.SetLanguage(c.GetLanguage())
	return &Analyzer{cpp: cp, c: cc}
}

func isCOnly(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".c", ".m", ".mm":
		return true
	default:
		return false
	}
}

// contentsFor resolves the bytes to parse for path, honoring an open-buffer
// override before falling back to disk via the caller-supplied reader.
func contentsFor(path string, overrides []analyzer.Override, disk func(string) ([]byte, error)) ([]byte, error) {
	for _, o := range overrides {
		if o.Path == path {
			return o.Contents, nil
		}
	}
	return disk(path)
}

// Analyze parses req.MainPath and returns a single-entry Result. Only the
// main file's own text is walked: #include directives are not followed, so
// no header's symbols appear in the result and no separate header
// IndexFiles are produced.
func (a *Analyzer) Analyze(ctx context.Context, req analyzer.Request) (*analyzer.Result, error) {
	src, err := contentsFor(req.MainPath, req.Overrides, readFile)
	if err != nil {
		return &analyzer.Result{OK: false, NErrors: 1, FirstError: err.Error()}, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(cpp.GetLanguage())
	lang := "c++"
	if isCOnly(req.MainPath) {
		parser.SetLanguage(c.GetLanguage())
		lang = "c"
	}

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return &analyzer.Result{OK: false, NErrors: 1, FirstError: err.Error()}, nil
	}
	defer tree.Close()

	doc := &scippb.Document{
		Language:     lang,
		RelativePath: req.MainPath,
	}
	w := &walker{
		src:       src,
		lines:     bytes.Split(src, []byte("\n")),
		doc:       doc,
		comments:  req.Comments,
		recordUsr: make(map[string]symbol.Usr),
	}
	w.walk(tree.RootNode(), nil)

	idx := indexfile.New(req.MainPath)
	idx.Language = lang
	idx.Args = req.Args
	idx.NoLinkage = req.NoLinkage
	idx.FileContents = src
	idx.SkippedRanges = collectSkippedRanges(src)

	w.buildIndexFile(idx)

	return &analyzer.Result{
		Indexes: []*indexfile.IndexFile{idx},
		OK:      true,
	}, nil
}

// scope tracks the enclosing container chain (namespaces/classes) while
// walking, used to build the qualified mangled descriptor and to attach
// field/method occurrences to their owning type.
type scope struct {
	parent *scope
	name   string
	usr    symbol.Usr
	// baseNames holds this scope's direct base classes' fully-qualified
	// mangled names, so a method declared in the body can derive its
	// override-edge candidate without re-walking the class header.
	baseNames []string
}

func (s *scope) qualify(name string) string {
	if s == nil || s.name == "" {
		return name
	}
	return s.qualifiedPrefix() + name
}

func (s *scope) qualifiedPrefix() string {
	if s == nil || s.name == "" {
		return ""
	}
	return s.parent.qualifiedPrefix() + s.name + "::"
}

// walker accumulates scip-shaped occurrences and symbol records from one
// tree-sitter parse tree, mirroring the recursive descent the teacher's
// class-member extraction uses, generalized to also emit Occurrences (with
// ranges and roles) rather than just a flat symbol table.
type walker struct {
	src   []byte
	lines [][]byte
	doc   *scippb.Document
	comments analyzer.CommentPolicy
	// currentFunc is the mangled descriptor of the innermost enclosing
	// function, used to attach call edges to their caller.
	currentFunc string

	symbolMeta []symbolMeta
	baseEdges  []baseEdge
	calls      []callRecord

	// recordUsr maps every class/struct/union's fully-qualified mangled
	// name to its own Usr, so a later local variable declaration of that
	// type can resolve the implicit default-constructor call (S1).
	recordUsr map[string]symbol.Usr
}

func (w *walker) walk(node *sitter.Node, sc *scope) {
	if node == nil {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "function_definition":
			w.visitFunction(child, sc)
			continue // visitFunction walks its own body with currentFunc set
		case "class_specifier":
			w.visitRecord(child, sc, "class_decl")
			continue // visitRecord walks its own body with the inner scope
		case "struct_specifier":
			w.visitRecord(child, sc, "struct_decl")
			continue
		case "union_specifier":
			w.visitRecord(child, sc, "union_decl")
			continue
		case "enum_specifier":
			w.visitEnum(child, sc)
			continue
		case "namespace_definition":
			w.visitNamespace(child, sc)
			continue // children already walked with the new scope
		case "template_declaration":
			w.walk(child, sc)
			continue
		case "declaration", "field_declaration":
			w.visitDeclaration(child, sc)
		case "call_expression":
			w.visitCall(child, sc)
		}
		w.walk(child, sc)
	}
}

func scipRange(n *sitter.Node) []int32 {
	sp, ep := n.StartPoint(), n.EndPoint()
	if sp.Row == ep.Row {
		return []int32{int32(sp.Row), int32(sp.Column), int32(ep.Column)}
	}
	return []int32{int32(sp.Row), int32(sp.Column), int32(ep.Row), int32(ep.Column)}
}

func toSymbolRange(n *sitter.Node) symbol.Range {
	sp, ep := n.StartPoint(), n.EndPoint()
	return symbol.Range{
		Start: symbol.Pos{Line: uint16(sp.Row), Column: int16(sp.Column)},
		End:   symbol.Pos{Line: uint16(ep.Row), Column: int16(ep.Column)},
	}
}

// declaratorName walks a tree-sitter declarator chain down to its leaf
// identifier, per the pattern in SimplyLiz-CodeMCP's complexity treesitter
// walk / mind-palace's parser_cpp.go: declarators nest (pointer, reference,
// function, qualified) around the real name.
func declaratorName(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "identifier", "field_identifier", "type_identifier":
		return n.Content(src)
	case "qualified_identifier":
		if name := n.ChildByFieldName("name"); name != nil {
			return declaratorName(name, src)
		}
	case "destructor_name":
		for i := 0; i < int(n.ChildCount()); i++ {
			if c := n.Child(i); c != nil && c.Type() == "identifier" {
				return "~" + c.Content(src)
			}
		}
		return "~" + n.Content(src)
	case "operator_name":
		return n.Content(src)
	case "pointer_declarator", "reference_declarator", "array_declarator", "function_declarator", "parenthesized_declarator":
		if d := n.ChildByFieldName("declarator"); d != nil {
			return declaratorName(d, src)
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		if name := declaratorName(c, src); name != "" {
			return name
		}
	}
	return ""
}

func declKindFor(name string, isDestructor, isConstructor bool) string {
	switch {
	case isDestructor:
		return "destructor"
	case isConstructor:
		return "constructor"
	default:
		return "cxx_method"
	}
}

// commentFor returns the comment block immediately preceding node's start
// line, honoring w.comments (§6 `index.comments`): CommentsNone always
// returns "", CommentsDoxygenOnly additionally requires the first line to
// open with a doxygen marker (///, /**, /*!). Scanned directly off source
// lines rather than tree-sitter's comment nodes, since a declaration's
// leading comment is a sibling, not a child, of the declarator.
func (w *walker) commentFor(node *sitter.Node) string {
	if w.comments == analyzer.CommentsNone {
		return ""
	}
	row := int(node.StartPoint().Row)

	var block []string
	for i := row - 1; i >= 0 && i < len(w.lines); i-- {
		line := strings.TrimSpace(string(w.lines[i]))
		if line == "" {
			if len(block) > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") ||
			strings.HasPrefix(line, "*") || strings.HasSuffix(line, "*/") {
			block = append([]string{line}, block...)
			continue
		}
		break
	}
	if len(block) == 0 {
		return ""
	}
	if w.comments == analyzer.CommentsDoxygenOnly && !isDoxygenComment(block[0]) {
		return ""
	}
	return strings.Join(block, "\n")
}

func isDoxygenComment(firstLine string) bool {
	return strings.HasPrefix(firstLine, "///") ||
		strings.HasPrefix(firstLine, "/**") ||
		strings.HasPrefix(firstLine, "/*!")
}

// collectSkippedRanges finds disabled-preprocessor-region spans (`#if 0`,
// `#if false`, and the dead arm of `#if 1`/`#else`), mirroring ccls's
// skipped_ranges: decoration-only, never refcounted against any symbol.
func collectSkippedRanges(src []byte) []symbol.Range {
	type frame struct {
		skip bool
		// live is set for `#if 1`/`#if true`, whose #else arm is dead.
		live      bool
		skipStart int
	}
	var stack []frame
	var ranges []symbol.Range

	sc := bufio.NewScanner(bytes.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(text, "#ifdef"), strings.HasPrefix(text, "#ifndef"):
			stack = append(stack, frame{})
		case strings.HasPrefix(text, "#if"):
			cond := strings.TrimSpace(strings.TrimPrefix(text, "#if"))
			f := frame{skip: cond == "0" || cond == "false", live: cond == "1" || cond == "true"}
			if f.skip {
				f.skipStart = line + 1
			}
			stack = append(stack, f)
		case strings.HasPrefix(text, "#elif"), strings.HasPrefix(text, "#else"):
			if len(stack) == 0 {
				continue
			}
			top := &stack[len(stack)-1]
			if top.skip {
				ranges = append(ranges, symbol.Range{
					Start: symbol.Pos{Line: uint16(top.skipStart)},
					End:   symbol.Pos{Line: uint16(line)},
				})
				top.skip = false
			} else if top.live && strings.HasPrefix(text, "#else") {
				top.skip = true
				top.skipStart = line + 1
			}
		case strings.HasPrefix(text, "#endif"):
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			if top.skip {
				ranges = append(ranges, symbol.Range{
					Start: symbol.Pos{Line: uint16(top.skipStart)},
					End:   symbol.Pos{Line: uint16(line)},
				})
			}
			stack = stack[:len(stack)-1]
		}
		line++
	}
	return ranges
}

func (w *walker) visitFunction(node *sitter.Node, sc *scope) {
	declarator := node.ChildByFieldName("declarator")
	fnDeclarator := declarator
	for fnDeclarator != nil && fnDeclarator.Type() != "function_declarator" {
		fnDeclarator = fnDeclarator.ChildByFieldName("declarator")
	}
	if declarator == nil {
		return
	}
	name := declaratorName(declarator, w.src)
	if name == "" {
		return
	}

	isCtor := sc != nil && sc.name != "" && name == sc.name
	isDtor := strings.HasPrefix(name, "~")
	declKind := "function_decl"
	if sc != nil && sc.name != "" {
		declKind = declKindFor(name, isDtor, isCtor)
	}

	mangled := w.mangle(sc, name, fnDeclarator)
	usr := symbol.HashUsr([]byte(mangled))

	spell := node
	if declarator != nil {
		spell = declarator
	}
	w.emitSymbol(usr, mangled, declKind, name, toSymbolRange(node), toSymbolRange(spell), w.commentFor(node))
	w.emitOverrideEdges(sc, usr, name, isCtor, isDtor)

	prevFunc := w.currentFunc
	w.currentFunc = mangled
	w.walk(node, sc)
	w.currentFunc = prevFunc
}

func (w *walker) visitRecord(node *sitter.Node, sc *scope, declKind string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		// Anonymous record: still worth descending into, but nothing to name.
		w.walk(node, sc)
		return
	}
	name := nameNode.Content(w.src)
	mangled := w.mangle(sc, name, nil)
	usr := symbol.HashUsr([]byte(mangled))
	w.emitSymbol(usr, mangled, declKind, name, toSymbolRange(node), toSymbolRange(nameNode), w.commentFor(node))
	w.recordUsr[mangled] = usr

	baseNames := w.baseClassNames(node, sc)
	for _, baseQualified := range baseNames {
		w.baseEdges = append(w.baseEdges, baseEdge{child: usr, base: symbol.HashUsr([]byte(baseQualified))})
	}

	inner := &scope{parent: sc, name: name, usr: usr, baseNames: baseNames}
	body := node.ChildByFieldName("body")
	if body != nil {
		w.walk(body, inner)
	}
}

// baseClassNames returns the fully-qualified mangled names of node's direct
// base classes (declared via a base_class_clause), qualified against sc —
// the scope node is itself declared in, not node's own new inner scope.
// Used both to record the class-level bases/derived edge (§4.2 invariant 5)
// and, per base, to let a same-named method inside node's body derive its
// own override-edge candidate (S2).
func (w *walker) baseClassNames(node *sitter.Node, sc *scope) []string {
	var names []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil || child.Type() != "base_class_clause" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			baseNode := child.Child(j)
			if baseNode == nil {
				continue
			}
			baseName := declaratorName(baseNode, w.src)
			if baseName == "" {
				continue
			}
			names = append(names, sc.qualify(baseName))
		}
	}
	return names
}

type baseEdge struct {
	child, base symbol.Usr
}

// emitOverrideEdges records candidate override edges for a same-named
// method in each of sc's base classes (S2: Derived::foo.bases contains
// USR(Root::foo)). Constructors and destructors never override.
func (w *walker) emitOverrideEdges(sc *scope, usr symbol.Usr, name string, isCtor, isDtor bool) {
	if sc == nil || isCtor || isDtor {
		return
	}
	for _, baseQualified := range sc.baseNames {
		candidate := baseQualified + "::" + name + "()"
		w.baseEdges = append(w.baseEdges, baseEdge{child: usr, base: symbol.HashUsr([]byte(candidate))})
	}
}

func (w *walker) visitEnum(node *sitter.Node, sc *scope) {
	nameNode := node.ChildByFieldName("name")
	name := ""
	if nameNode != nil {
		name = nameNode.Content(w.src)
	}
	mangled := w.mangle(sc, name, nil)
	usr := symbol.HashUsr([]byte(mangled))
	w.emitSymbol(usr, mangled, "enum_decl", name, toSymbolRange(node), toSymbolRange(node), w.commentFor(node))

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	inner := &scope{parent: sc, name: name, usr: usr}
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		if child == nil || child.Type() != "enumerator" {
			continue
		}
		enumName := child.ChildByFieldName("name")
		if enumName == nil {
			continue
		}
		memMangled := w.mangle(inner, enumName.Content(w.src), nil)
		memUsr := symbol.HashUsr([]byte(memMangled))
		w.emitSymbol(memUsr, memMangled, "enum_constant_decl", enumName.Content(w.src), toSymbolRange(child), toSymbolRange(enumName), w.commentFor(child))
	}
}

func (w *walker) visitNamespace(node *sitter.Node, sc *scope) {
	nameNode := node.ChildByFieldName("name")
	name := ""
	if nameNode != nil {
		name = nameNode.Content(w.src)
	}
	inner := &scope{parent: sc, name: name}
	body := node.ChildByFieldName("body")
	if body != nil {
		w.walk(body, inner)
	}
}

func (w *walker) visitDeclaration(node *sitter.Node, sc *scope) {
	declarator := node.ChildByFieldName("declarator")
	if declarator == nil {
		return
	}
	if declarator.Type() == "function_declarator" {
		name := declaratorName(declarator, w.src)
		if name == "" {
			return
		}
		declKind := "function_decl"
		if sc != nil && sc.name != "" {
			isCtor := name == sc.name
			isDtor := strings.HasPrefix(name, "~")
			declKind = declKindFor(name, isDtor, isCtor)
		}
		mangled := w.mangle(sc, name, declarator)
		usr := symbol.HashUsr([]byte(mangled))
		w.emitSymbol(usr, mangled, declKind, name, toSymbolRange(node), toSymbolRange(declarator), w.commentFor(node))
		isCtor := sc != nil && sc.name != "" && name == sc.name
		isDtor := strings.HasPrefix(name, "~")
		w.emitOverrideEdges(sc, usr, name, isCtor, isDtor)
		return
	}
	name := declaratorName(declarator, w.src)
	if name == "" {
		return
	}
	declKind := "var_decl"
	if sc != nil && sc.name != "" && node.Type() == "field_declaration" {
		declKind = "field_decl"
	}
	mangled := w.mangle(sc, name, nil)
	usr := symbol.HashUsr([]byte(mangled))
	w.emitSymbol(usr, mangled, declKind, name, toSymbolRange(node), toSymbolRange(declarator), w.commentFor(node))

	w.emitImplicitConstructorCall(node, sc, declarator)
}

// emitImplicitConstructorCall records the default-constructor call a local
// variable declaration of class/struct type makes implicitly (S1: `Foo f;`
// calls Foo::Foo() even though no call_expression node exists for it).
func (w *walker) emitImplicitConstructorCall(node *sitter.Node, sc *scope, declarator *sitter.Node) {
	if w.currentFunc == "" {
		return
	}
	typeNode := node.ChildByFieldName("type")
	if typeNode == nil {
		return
	}
	typeName := typeNode.Content(w.src)
	for _, candidate := range []string{sc.qualify(typeName), typeName} {
		if _, ok := w.recordUsr[candidate]; !ok {
			continue
		}
		short := candidate
		if i := strings.LastIndex(candidate, "::"); i >= 0 {
			short = candidate[i+2:]
		}
		ctorUsr := symbol.HashUsr([]byte(candidate + "::" + short + "()"))
		w.calls = append(w.calls, callRecord{
			caller: w.currentFunc,
			callee: ctorUsr,
			rng:    toSymbolRange(declarator).Widen(1),
		})
		return
	}
}

// visitCall records an implicit-call-widened Use/Occurrence against the
// enclosing function's call list (§4.2/§4.3: call-site ranges are widened
// by one column on each side to absorb the surrounding parens). A call made
// at file/global scope (no enclosing function_definition) still counts as a
// Use of its callee; it just has no caller to attach a Callees edge to (S3).
func (w *walker) visitCall(node *sitter.Node, sc *scope) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}
	calleeMangled, ok := calleeName(fn, w.src, sc)
	if !ok {
		return
	}
	calleeUsr := symbol.HashUsr([]byte(calleeMangled))
	callRange := toSymbolRange(fn).Widen(1)

	w.calls = append(w.calls, callRecord{
		caller: w.currentFunc,
		callee: calleeUsr,
		rng:    callRange,
	})

	occ := &scippb.Occurrence{
		Range:       scipRange(fn),
		Symbol:      calleeMangled,
		SymbolRoles: int32(scippb.SymbolRole_ReadAccess),
	}
	w.doc.Occurrences = append(w.doc.Occurrences, occ)
}

// calleeName resolves a call expression's function node to the mangled
// descriptor that identifies its declaration. An explicitly qualified call
// (Foo<int>::foo()) uses its own written scope, with template arguments
// stripped so every instantiation resolves to the same declared USR (S3);
// an unqualified call falls back to the enclosing lexical scope sc.
func calleeName(fn *sitter.Node, src []byte, sc *scope) (string, bool) {
	if fn.Type() == "qualified_identifier" {
		nameNode := fn.ChildByFieldName("name")
		if nameNode == nil {
			return "", false
		}
		name := declaratorName(nameNode, src)
		if name == "" {
			return "", false
		}
		if prefix := qualifiedScopeName(fn.ChildByFieldName("scope"), src); prefix != "" {
			return prefix + "::" + name + "()", true
		}
		return name + "()", true
	}

	name := declaratorName(fn, src)
	if name == "" {
		return "", false
	}
	return sc.qualify(name) + "()", true
}

// qualifiedScopeName renders a call's explicit scope expression back to its
// declared (template-stripped) name, e.g. `Foo<int>` or `A::B<T>` both
// yield "A::B"/"Foo".
func qualifiedScopeName(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "template_type":
		return qualifiedScopeName(n.ChildByFieldName("name"), src)
	case "qualified_identifier":
		left := qualifiedScopeName(n.ChildByFieldName("scope"), src)
		right := qualifiedScopeName(n.ChildByFieldName("name"), src)
		if left == "" {
			return right
		}
		return left + "::" + right
	case "type_identifier", "identifier", "namespace_identifier":
		return n.Content(src)
	default:
		return n.Content(src)
	}
}

type callRecord struct {
	caller string
	callee symbol.Usr
	rng    symbol.Range
}

func (w *walker) mangle(sc *scope, name string, fnDeclarator *sitter.Node) string {
	qualified := sc.qualify(name)
	if fnDeclarator != nil {
		if params := fnDeclarator.ChildByFieldName("parameters"); params != nil {
			return qualified + params.Content(w.src)
		}
	}
	return qualified
}

// emitSymbol appends a definition Occurrence and a SymbolInformation to the
// in-progress Document and records the same symbol in w.symbolMeta, from
// which buildIndexFile later builds the IndexFile's Usr2*/Entry records.
func (w *walker) emitSymbol(usr symbol.Usr, mangled, declKind, name string, extent, spell symbol.Range, comment string) {
	occ := &scippb.Occurrence{
		Range:       []int32{int32(spell.Start.Line), int32(spell.Start.Column), int32(spell.End.Column)},
		Symbol:      mangled,
		SymbolRoles: int32(scippb.SymbolRole_Definition),
	}
	w.doc.Occurrences = append(w.doc.Occurrences, occ)
	w.doc.Symbols = append(w.doc.Symbols, &scippb.SymbolInformation{
		Symbol:      mangled,
		DisplayName: name,
	})
	w.symbolMeta = append(w.symbolMeta, symbolMeta{
		usr:      usr,
		mangled:  mangled,
		declKind: declKind,
		name:     name,
		extent:   extent,
		spell:    spell,
		comment:  comment,
	})
}

type symbolMeta struct {
	usr      symbol.Usr
	mangled  string
	declKind string
	name     string
	extent   symbol.Range
	spell    symbol.Range
	comment  string
}

// buildIndexFile folds the walker's accumulated symbolMeta/baseEdges/calls
// side tables into idx's Usr2Func/Usr2Type/Usr2Var maps, resolving each
// record's DeclKind via symbol.LookupDeclKind exactly as the merge/query
// layer expects (§4.2). The intermediate scippb.Document built alongside is
// the wire shape spec.md's analyzer contract is modeled on; it is not
// itself persisted, since cachestore round-trips IndexFile, not Document.
func (w *walker) buildIndexFile(idx *indexfile.IndexFile) {
	entryFor := make(map[symbol.Usr]*indexfile.Entry, len(w.symbolMeta))

	for _, m := range w.symbolMeta {
		skind, kind := symbol.LookupDeclKind(m.declKind)
		if kind == symbol.KindInvalid {
			continue
		}
		entries := idx.EntriesOf(kind)
		e, ok := entryFor[m.usr]
		if !ok {
			e = &indexfile.Entry{Usr: m.usr}
			entries[m.usr] = e
			entryFor[m.usr] = e
		}
		if e.Def == nil {
			e.Def = &indexfile.Def{
				FileID:  symbol.MainFileID,
				Name:    m.name,
				Spell:   m.spell,
				Extent:  m.extent,
				Comment: m.comment,
			}
		}
		e.Declarations = append(e.Declarations, symbol.DeclRef{
			Use:    symbol.Use{Range: m.spell, Role: symbol.RoleDeclaration | symbol.RoleDefinition, FileID: symbol.MainFileID},
			Extent: m.extent,
		})
		_ = skind
	}

	for _, be := range w.baseEdges {
		if e, ok := entryFor[be.child]; ok && e.Def != nil {
			e.Def.Bases = append(e.Def.Bases, be.base)
		}
	}

	for _, c := range w.calls {
		callerUsr := symbol.HashUsr([]byte(c.caller))
		if e, ok := entryFor[callerUsr]; ok && e.Def != nil {
			e.Def.Callees = append(e.Def.Callees, indexfile.CallEdge{
				Range:  c.rng,
				Callee: c.callee,
				Role:   symbol.RoleCall,
			})
		}
		if callee, ok := entryFor[c.callee]; ok {
			callee.Uses = append(callee.Uses, symbol.Use{Range: c.rng, Role: symbol.RoleCall | symbol.RoleImplicit, FileID: symbol.MainFileID})
		}
	}
}

func readFile(path string) ([]byte, error) {
	return osReadFile(path)
}
