package symbol

import "testing"

func TestHashUsrDeterministic(t *testing.T) {
	a := HashUsr([]byte("c:@F@foo#"))
	b := HashUsr([]byte("c:@F@foo#"))
	if a != b {
		t.Fatalf("HashUsr not deterministic: %d != %d", a, b)
	}
}

func TestHashUsrDiffers(t *testing.T) {
	a := HashUsr([]byte("c:@F@foo#"))
	b := HashUsr([]byte("c:@F@bar#"))
	if a == b {
		t.Fatalf("HashUsr collided for distinct inputs")
	}
}

func TestKindString(t *testing.T) {
	tt := []struct {
		k    Kind
		want string
	}{
		{KindFunc, "Func"},
		{KindType, "Type"},
		{KindVar, "Var"},
		{KindInvalid, "Invalid"},
		{Kind(99), "Invalid"},
	}
	for _, tc := range tt {
		if got := tc.k.String(); got != tc.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tc.k, got, tc.want)
		}
	}
}

func TestLookupDeclKind(t *testing.T) {
	sk, k := LookupDeclKind("cxx_method")
	if sk != SymbolMethod || k != KindFunc {
		t.Errorf("cxx_method -> (%v, %v), want (SymbolMethod, KindFunc)", sk, k)
	}

	sk, k = LookupDeclKind("nonsense_kind")
	if sk != SymbolUnknown || k != KindInvalid {
		t.Errorf("unknown kind -> (%v, %v), want (SymbolUnknown, KindInvalid)", sk, k)
	}
}

func TestPosLessAndValid(t *testing.T) {
	a := Pos{Line: 1, Column: 2}
	b := Pos{Line: 1, Column: 3}
	c := Pos{Line: 2, Column: 0}

	if !a.Less(b) {
		t.Error("a should be less than b")
	}
	if !b.Less(c) {
		t.Error("b should be less than c")
	}
	if c.Less(a) {
		t.Error("c should not be less than a")
	}

	invalid := Pos{Line: 1, Column: -1}
	if invalid.Valid() {
		t.Error("column -1 should be invalid")
	}
	if !a.Valid() {
		t.Error("column 2 should be valid")
	}
}

func TestRangeValid(t *testing.T) {
	valid := Range{Start: Pos{Line: 1, Column: 0}, End: Pos{Line: 1, Column: 5}}
	if !valid.Valid() {
		t.Error("expected valid range")
	}

	invalid := Range{Start: Pos{Line: 1, Column: 5}, End: Pos{Line: 1, Column: 5}}
	if invalid.Valid() {
		t.Error("equal start/end should be invalid (half-open)")
	}
}

func TestRangeWiden(t *testing.T) {
	r := Range{Start: Pos{Line: 8, Column: 7}, End: Pos{Line: 8, Column: 8}}
	w := r.Widen(1)
	want := Range{Start: Pos{Line: 8, Column: 6}, End: Pos{Line: 8, Column: 9}}
	if w != want {
		t.Errorf("Widen(1) = %+v, want %+v", w, want)
	}
}

func TestRangeWidenClampsAtZero(t *testing.T) {
	r := Range{Start: Pos{Line: 1, Column: 0}, End: Pos{Line: 1, Column: 1}}
	w := r.Widen(3)
	if w.Start.Column != 0 {
		t.Errorf("Start.Column = %d, want clamped to 0", w.Start.Column)
	}
}

func TestRoleHas(t *testing.T) {
	r := RoleCall | RoleImplicit
	if !r.Has(RoleCall) {
		t.Error("expected RoleCall bit set")
	}
	if !r.Has(RoleCall | RoleImplicit) {
		t.Error("expected both bits set")
	}
	if r.Has(RoleWrite) {
		t.Error("did not expect RoleWrite bit set")
	}
}

func TestMainFileIDSentinel(t *testing.T) {
	if MainFileID != -1 {
		t.Errorf("MainFileID = %d, want -1", MainFileID)
	}
}
