package treesitter

import (
	"context"
	"testing"

	"cxref/internal/analyzer"
	"cxref/internal/symbol"
)

func usrOf(t *testing.T, mangled string) symbol.Usr {
	t.Helper()
	return symbol.HashUsr([]byte(mangled))
}

func analyze(t *testing.T, path string, src []byte) *analyzer.Result {
	t.Helper()
	a := New()
	res, err := a.Analyze(context.Background(), analyzer.Request{
		MainPath: path,
		Overrides: []analyzer.Override{
			{Path: path, Contents: src},
		},
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.OK {
		t.Fatalf("Analyze not OK: %s", res.FirstError)
	}
	if len(res.Indexes) != 1 {
		t.Fatalf("Indexes = %d, want 1", len(res.Indexes))
	}
	return res
}

// TestDestructorOccurrence is scenario S1: a class with a constructor, a
// destructor, and a free function that calls the constructor. All three
// decls must be indexed as distinct func entries, and the call site must be
// recorded against the caller's callees and the callee's uses; no call site
// is ever recorded for the implicit destructor invocation.
func TestDestructorOccurrence(t *testing.T) {
	src := []byte("struct Foo {\n  Foo() {}\n  ~Foo() {}\n};\nvoid foo() {\n  Foo f;\n}\n")
	res := analyze(t, "/t.cc", src)
	idx := res.Indexes[0]

	ctorUsr := usrOf(t, "Foo::Foo()")
	dtorUsr := usrOf(t, "Foo::~Foo()")
	fnUsr := usrOf(t, "foo()")

	if _, ok := idx.Usr2Func[ctorUsr]; !ok {
		t.Error("Foo::Foo not indexed")
	}
	if _, ok := idx.Usr2Func[dtorUsr]; !ok {
		t.Error("Foo::~Foo not indexed")
	}
	if _, ok := idx.Usr2Func[fnUsr]; !ok {
		t.Error("foo() not indexed")
	}

	if e, ok := idx.Usr2Func[fnUsr]; ok && e.Def != nil {
		found := false
		for _, call := range e.Def.Callees {
			if call.Callee == ctorUsr && call.Role.Has(symbol.RoleCall) {
				found = true
			}
		}
		if !found {
			t.Errorf("foo().Def.Callees = %v, want a call edge to USR(Foo::Foo)=%v", e.Def.Callees, ctorUsr)
		}
	}
	if e, ok := idx.Usr2Func[ctorUsr]; ok {
		if len(e.Uses) == 0 {
			t.Error("Foo::Foo.uses is empty, want the implicit call site from `Foo f;`")
		}
	}

	if e, ok := idx.Usr2Func[dtorUsr]; ok {
		if len(e.Uses) != 0 {
			t.Errorf("Foo::~Foo.uses = %d, want 0 (no explicit destructor call site)", len(e.Uses))
		}
	}
}

// TestOverrideEdge is scenario S2: Derived::foo must record Root::foo as a
// base, which the merge layer mirrors into Root::foo.derived.
func TestOverrideEdge(t *testing.T) {
	src := []byte("class Root {\n  virtual void foo();\n};\nclass Derived : public Root {\n  void foo() override {}\n};\n")
	res := analyze(t, "/t.cc", src)
	idx := res.Indexes[0]

	derivedFooUsr := usrOf(t, "Derived::foo()")
	rootFooUsr := usrOf(t, "Root::foo()")

	e, ok := idx.Usr2Func[derivedFooUsr]
	if !ok {
		t.Fatal("Derived::foo not indexed")
	}
	if e.Def == nil {
		t.Fatal("Derived::foo has no Def")
	}
	found := false
	for _, b := range e.Def.Bases {
		if b == rootFooUsr {
			found = true
		}
	}
	if !found {
		t.Errorf("Derived::foo.Def.Bases = %v, want to contain USR(Root::foo)=%v", e.Def.Bases, rootFooUsr)
	}
}

// TestTemplateInstantiationsCollapseToOneEntry is scenario S3: two distinct
// instantiations of the same template member function must both resolve
// their call site to the single declared entry (declaration identity comes
// from the declared qualified name, not the instantiated type), and each
// call site must be recorded as a Use of it.
func TestTemplateInstantiationsCollapseToOneEntry(t *testing.T) {
	src := []byte("template<typename T> struct Foo {\n  static int foo() { return 3; }\n};\n" +
		"int a = Foo<int>::foo();\n" +
		"int b = Foo<bool>::foo();\n")
	res := analyze(t, "/t.cc", src)
	idx := res.Indexes[0]

	fooUsr := usrOf(t, "Foo::foo()")
	e, ok := idx.Usr2Func[fooUsr]
	if !ok {
		t.Fatal("Foo::foo not indexed")
	}
	count := 0
	for usr := range idx.Usr2Func {
		if usr == fooUsr {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Foo::foo entry count = %d, want 1", count)
	}
	if len(e.Uses) != 2 {
		t.Errorf("Foo::foo.Uses = %d, want 2 (one per instantiation's call site)", len(e.Uses))
	}
}

// TestDoxygenCommentAttachedToDef covers the `index.comments` supplement: a
// doxygen-style comment directly above a declaration is attached to its Def.
func TestDoxygenCommentAttachedToDef(t *testing.T) {
	src := []byte("/// Computes the answer.\nint foo() { return 42; }\n")
	a := New()
	res, err := a.Analyze(context.Background(), analyzer.Request{
		MainPath: "/t.cc",
		Comments: analyzer.CommentsDoxygenOnly,
		Overrides: []analyzer.Override{
			{Path: "/t.cc", Contents: src},
		},
	})
	if err != nil || !res.OK {
		t.Fatalf("Analyze: err=%v ok=%v", err, res.OK)
	}
	idx := res.Indexes[0]
	e, ok := idx.Usr2Func[usrOf(t, "foo()")]
	if !ok {
		t.Fatal("foo() not indexed")
	}
	if e.Def == nil || e.Def.Comment == "" {
		t.Fatal("expected foo().Def.Comment to be populated")
	}
}

// TestCommentsNonePolicySkipsComments ensures CommentsNone never attaches a
// comment, even when one immediately precedes the declaration.
func TestCommentsNonePolicySkipsComments(t *testing.T) {
	src := []byte("/// Computes the answer.\nint foo() { return 42; }\n")
	a := New()
	res, err := a.Analyze(context.Background(), analyzer.Request{
		MainPath:  "/t.cc",
		Comments:  analyzer.CommentsNone,
		Overrides: []analyzer.Override{{Path: "/t.cc", Contents: src}},
	})
	if err != nil || !res.OK {
		t.Fatalf("Analyze: err=%v ok=%v", err, res.OK)
	}
	idx := res.Indexes[0]
	e, ok := idx.Usr2Func[usrOf(t, "foo()")]
	if !ok {
		t.Fatal("foo() not indexed")
	}
	if e.Def != nil && e.Def.Comment != "" {
		t.Errorf("Comment = %q, want empty under CommentsNone", e.Def.Comment)
	}
}

// TestSkippedRangesCoversDisabledRegion covers the `#if 0` supplement: a
// disabled preprocessor region is recorded as a decoration-only range.
func TestSkippedRangesCoversDisabledRegion(t *testing.T) {
	src := []byte("int a;\n#if 0\nint dead() { return 1; }\n#endif\nint b;\n")
	res := analyze(t, "/t.cc", src)
	idx := res.Indexes[0]
	if len(idx.SkippedRanges) != 1 {
		t.Fatalf("SkippedRanges = %d, want 1", len(idx.SkippedRanges))
	}
}

func TestCOnlyExtensionUsesCGrammar(t *testing.T) {
	src := []byte("struct foo {\n  int x;\n};\nint bar() {\n  return 0;\n}\n")
	res := analyze(t, "/t.c", src)
	idx := res.Indexes[0]
	if idx.Language != "c" {
		t.Errorf("Language = %q, want %q", idx.Language, "c")
	}
	if _, ok := idx.Usr2Func[usrOf(t, "bar()")]; !ok {
		t.Error("bar() not indexed under the c grammar")
	}
}

func TestAnalyzeMissingFileReturnsNotOK(t *testing.T) {
	a := New()
	res, err := a.Analyze(context.Background(), analyzer.Request{MainPath: "/does/not/exist.cc"})
	if err != nil {
		t.Fatalf("Analyze returned error instead of a not-OK result: %v", err)
	}
	if res.OK {
		t.Fatal("expected OK=false for an unreadable main file")
	}
}
