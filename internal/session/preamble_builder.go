package session

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"strings"

	"cxref/internal/analyzer"
)

// AnalyzerBuilder adapts an analyzer.Analyzer into a Builder: it computes
// preamble Bounds the way ccls's ComputePreambleBounds does (ccls
// sema_manager.cc buildPreamble) — the byte offset just past the last
// top-level #include/#import line — then runs the analyzer once over that
// prefix so its discovered Includes can be stat'd into a StatCache for
// later reuse checks.
type AnalyzerBuilder struct {
	An analyzer.Analyzer
}

// BuildPreamble implements Builder.
func (b *AnalyzerBuilder) BuildPreamble(ctx context.Context, path string, args []string, buf []byte) (*PreambleData, error) {
	bounds := ComputeBounds(buf)

	res, err := b.An.Analyze(ctx, analyzer.Request{
		Args:     args,
		MainPath: path,
		Overrides: []analyzer.Override{
			{Path: path, Contents: buf[:bounds.EndOffset]},
		},
	})
	if err != nil {
		return nil, err
	}

	stat := NewStatCache()
	var includes []string
	if res != nil {
		for _, idx := range res.Indexes {
			for _, inc := range idx.Includes {
				includes = append(includes, inc)
				stat.Stat(inc)
			}
		}
	}

	return &PreambleData{
		Args:     args,
		Bounds:   bounds,
		Includes: includes,
		Stat:     stat,
	}, nil
}

// ComputeBounds finds the prefix of buf spanning every leading top-level
// #include/#import directive (lines before the first non-blank,
// non-preprocessor, non-comment line), mirroring ComputePreambleBounds's
// "stop at the first token that isn't part of the include block" rule. The
// indexer worker pool calls this directly before Manager.Rebuild so it can
// reuse the same Bounds value both for the reuse check and the session key.
func ComputeBounds(buf []byte) Bounds {
	sc := bufio.NewScanner(bytes.NewReader(buf))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var end int
	var sum bytes.Buffer
	offset := 0
	for sc.Scan() {
		line := sc.Text()
		lineEnd := offset + len(line) + 1
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "#include"), strings.HasPrefix(trimmed, "#import"):
			end = lineEnd
			sum.WriteString(trimmed)
		case strings.HasPrefix(trimmed, "//"), strings.HasPrefix(trimmed, "/*"):
		default:
			offset = lineEnd
			goto done
		}
		offset = lineEnd
	}
done:
	h := sha256.Sum256(sum.Bytes())
	return Bounds{EndOffset: end, IncludeSum: h}
}
