package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeBuilder struct {
	calls int
	build func(path string, args []string, buf []byte) (*PreambleData, error)
}

func (f *fakeBuilder) BuildPreamble(ctx context.Context, path string, args []string, buf []byte) (*PreambleData, error) {
	f.calls++
	return f.build(path, args, buf)
}

func TestStatCacheCachesFirstStat(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.h")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewStatCache()
	st1 := c.Stat(p)
	if !st1.Exists {
		t.Fatal("expected existing file to stat as present")
	}

	// Mutate the file after the first stat; the cached entry should not
	// change until Unchanged() is explicitly asked to re-verify.
	if err := os.WriteFile(p, []byte("xyz"), 0o644); err != nil {
		t.Fatal(err)
	}
	st2 := c.Stat(p)
	if st2 != st1 {
		t.Error("Stat should return the cached value on a second call, not re-stat")
	}
}

func TestStatCacheUnchangedDetectsModification(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.h")
	os.WriteFile(p, []byte("x"), 0o644)

	c := NewStatCache()
	c.Stat(p)
	if !c.Unchanged() {
		t.Fatal("expected Unchanged() to report true with no filesystem changes")
	}

	os.WriteFile(p, []byte("much longer contents now"), 0o644)
	if c.Unchanged() {
		t.Error("expected Unchanged() to detect the size change")
	}
}

func TestStatCacheUnchangedDetectsDeletion(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.h")
	os.WriteFile(p, []byte("x"), 0o644)

	c := NewStatCache()
	c.Stat(p)
	os.Remove(p)

	if c.Unchanged() {
		t.Error("expected Unchanged() to detect file deletion")
	}
}

func TestPreambleCanReuseRequiresMatchingBoundsAndUnchangedStats(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.h")
	os.WriteFile(p, []byte("x"), 0o644)

	stat := NewStatCache()
	stat.Stat(p)
	bounds := Bounds{EndOffset: 10}
	pre := &PreambleData{Bounds: bounds, Stat: stat}

	if !pre.CanReuse(bounds) {
		t.Error("expected reuse when bounds match and nothing changed on disk")
	}
	if pre.CanReuse(Bounds{EndOffset: 99}) {
		t.Error("expected no reuse when bounds differ")
	}

	os.WriteFile(p, []byte("a longer replacement"), 0o644)
	if pre.CanReuse(bounds) {
		t.Error("expected no reuse once a stat'd dependency changed")
	}
}

func TestNilPreambleCannotBeReused(t *testing.T) {
	var pre *PreambleData
	if pre.CanReuse(Bounds{}) {
		t.Error("a nil preamble should never be reusable")
	}
}

func TestManagerRebuildsWhenNoPreambleExists(t *testing.T) {
	fb := &fakeBuilder{build: func(path string, args []string, buf []byte) (*PreambleData, error) {
		return &PreambleData{Bounds: Bounds{EndOffset: 1}, Stat: NewStatCache()}, nil
	}}
	m := NewManager(fb, 4)

	_, err := m.Rebuild(context.Background(), "/t.cc", nil, []byte("int main(){}"), Bounds{EndOffset: 1})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if fb.calls != 1 {
		t.Fatalf("expected 1 build call, got %d", fb.calls)
	}
}

func TestManagerReusesPreambleWhenBoundsMatch(t *testing.T) {
	fb := &fakeBuilder{build: func(path string, args []string, buf []byte) (*PreambleData, error) {
		return &PreambleData{Bounds: Bounds{EndOffset: 1}, Stat: NewStatCache()}, nil
	}}
	m := NewManager(fb, 4)

	bounds := Bounds{EndOffset: 1}
	if _, err := m.Rebuild(context.Background(), "/t.cc", nil, nil, bounds); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Rebuild(context.Background(), "/t.cc", nil, nil, bounds); err != nil {
		t.Fatal(err)
	}

	if fb.calls != 1 {
		t.Fatalf("expected the second Rebuild to reuse the preamble, got %d build calls", fb.calls)
	}
}

func TestManagerRebuildsWhenBoundsChange(t *testing.T) {
	var seen []int
	fb := &fakeBuilder{build: func(path string, args []string, buf []byte) (*PreambleData, error) {
		return &PreambleData{Bounds: Bounds{EndOffset: len(seen) + 1}, Stat: NewStatCache()}, nil
	}}
	m := NewManager(fb, 4)

	if _, err := m.Rebuild(context.Background(), "/t.cc", nil, nil, Bounds{EndOffset: 1}); err != nil {
		t.Fatal(err)
	}
	seen = append(seen, 1)
	if _, err := m.Rebuild(context.Background(), "/t.cc", nil, nil, Bounds{EndOffset: 2}); err != nil {
		t.Fatal(err)
	}

	if fb.calls != 2 {
		t.Fatalf("expected a rebuild when bounds changed, got %d calls", fb.calls)
	}
}

func TestManagerEvictsLRUAtCapacity(t *testing.T) {
	fb := &fakeBuilder{build: func(path string, args []string, buf []byte) (*PreambleData, error) {
		return &PreambleData{Stat: NewStatCache()}, nil
	}}
	m := NewManager(fb, 2)

	m.Rebuild(context.Background(), "/a.cc", nil, nil, Bounds{})
	m.Rebuild(context.Background(), "/b.cc", nil, nil, Bounds{})
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}

	m.Rebuild(context.Background(), "/c.cc", nil, nil, Bounds{})
	if m.Len() != 2 {
		t.Fatalf("Len() after eviction = %d, want 2 (bounded at maxNum)", m.Len())
	}
}

func TestManagerEvictRemovesSession(t *testing.T) {
	fb := &fakeBuilder{build: func(path string, args []string, buf []byte) (*PreambleData, error) {
		return &PreambleData{Stat: NewStatCache()}, nil
	}}
	m := NewManager(fb, 4)
	m.Rebuild(context.Background(), "/a.cc", nil, nil, Bounds{})
	m.Evict("/a.cc")
	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Evict", m.Len())
	}
}
