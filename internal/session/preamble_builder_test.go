package session

import (
	"context"
	"testing"

	"cxref/internal/analyzer"
	"cxref/internal/indexfile"
)

type stubAnalyzer struct {
	lastContents []byte
	result       *analyzer.Result
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req analyzer.Request) (*analyzer.Result, error) {
	if len(req.Overrides) == 1 {
		s.lastContents = req.Overrides[0].Contents
	}
	return s.result, nil
}

func TestComputeBoundsCoversLeadingIncludeBlock(t *testing.T) {
	src := []byte("#include <a.h>\n#include \"b.h\"\n\nint main() { return 0; }\n")
	bounds := ComputeBounds(src)

	want := len("#include <a.h>\n#include \"b.h\"\n")
	if bounds.EndOffset != want {
		t.Errorf("EndOffset = %d, want %d", bounds.EndOffset, want)
	}
}

func TestComputeBoundsIsDeterministic(t *testing.T) {
	src := []byte("#include <a.h>\nint main() {}\n")
	b1 := ComputeBounds(src)
	b2 := ComputeBounds(src)
	if b1 != b2 {
		t.Error("computeBounds should be deterministic for identical input")
	}
}

func TestAnalyzerBuilderBuildsPreambleFromIncludes(t *testing.T) {
	idx := indexfile.New("/t.cc")
	idx.Includes = []string{"/a.h", "/b.h"}
	an := &stubAnalyzer{result: &analyzer.Result{OK: true, Indexes: []*indexfile.IndexFile{idx}}}
	b := &AnalyzerBuilder{An: an}

	src := []byte("#include \"a.h\"\n#include \"b.h\"\n\nvoid f() {}\n")
	pre, err := b.BuildPreamble(context.Background(), "/t.cc", []string{"clang++"}, src)
	if err != nil {
		t.Fatalf("BuildPreamble: %v", err)
	}
	if len(pre.Includes) != 2 {
		t.Fatalf("Includes = %v, want 2 entries", pre.Includes)
	}
	if len(an.lastContents) != pre.Bounds.EndOffset {
		t.Errorf("analyzer was not given exactly the preamble prefix: got %d bytes, want %d", len(an.lastContents), pre.Bounds.EndOffset)
	}
}
