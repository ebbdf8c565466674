package version

import "testing"

func TestParseVersion(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
		major   int
		minor   int
		patch   int
	}{
		{in: "1.2.3", major: 1, minor: 2, patch: 3},
		{in: "5", major: 5},
		{in: "5.2", major: 5, minor: 2},
		{in: "1.2.3-rc1", major: 1, minor: 2, patch: 3},
		{in: "1.2.3+build5", major: 1, minor: 2, patch: 3},
		{in: "", wantErr: true},
		{in: "1..3", wantErr: true},
		{in: "a.b.c", wantErr: true},
	}

	for _, c := range cases {
		v, err := ParseVersion(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseVersion(%q): expected error, got %v", c.in, v)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseVersion(%q): unexpected error: %v", c.in, err)
		}
		if v.Major != c.major || v.Minor != c.minor || v.Patch != c.patch {
			t.Errorf("ParseVersion(%q) = %+v, want (%d,%d,%d)", c.in, v, c.major, c.minor, c.patch)
		}
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.1.0", "1.0.9", 1},
		{"2.0.0", "1.99.99", 1},
		{"1.0.0-rc1", "1.0.0", 0}, // suffixes never affect comparison
	}
	for _, c := range cases {
		a := MustParseVersion(c.a)
		b := MustParseVersion(c.b)
		if got := Compare(a, b); got != c.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestSatisfiesEmptyAlwaysTrue(t *testing.T) {
	versions := []string{"0.0.0", "1.2.3", "99.99.99"}
	for _, v := range versions {
		ok, err := Satisfies(MustParseVersion(v), "")
		if err != nil || !ok {
			t.Errorf("Satisfies(%q, \"\") = %v, %v; want true, nil", v, ok, err)
		}
	}
}

func TestSatisfiesMonotoneInConstraints(t *testing.T) {
	// Adding a constraint via AND (comma) never turns a non-satisfying
	// version into a satisfying one, and can only narrow satisfaction.
	v := MustParseVersion("1.5.0")
	ok1, _ := Satisfies(v, ">=1.0")
	ok2, _ := Satisfies(v, ">=1.0,<1.4")
	if ok1 && ok2 {
		t.Fatalf("expected narrowing constraint to exclude 1.5.0")
	}
	if !ok1 {
		t.Fatalf("expected 1.5.0 to satisfy >=1.0")
	}
}

func TestSatisfiesOperators(t *testing.T) {
	cases := []struct {
		v          string
		constraint string
		want       bool
	}{
		{"1.2.3", "=1.2.3", true},
		{"1.2.3", "==1.2.3", true},
		{"1.2.4", "==1.2.3", false},
		{"1.5.0", ">=1.0.0", true},
		{"0.9.0", ">=1.0.0", false},
		{"1.0.0", "<=1.0.0", true},
		{"1.0.1", "<1.0.2", true},
		{"1.0.2", ">1.0.1", true},
		{"1.5.0", "~=1.2", true},
		{"2.0.0", "~=1.2", false},
		{"1.1.0", "~=1.2", false},
		{"1.9.9", "1.*", true},
		{"2.0.0", "1.*", false},
		{"1.5.0", ">=1.0,<2.0", true},
		{"2.5.0", ">=1.0,<2.0", false},
	}
	for _, c := range cases {
		ok, err := Satisfies(MustParseVersion(c.v), c.constraint)
		if err != nil {
			t.Fatalf("Satisfies(%q, %q): %v", c.v, c.constraint, err)
		}
		if ok != c.want {
			t.Errorf("Satisfies(%q, %q) = %v, want %v", c.v, c.constraint, ok, c.want)
		}
	}
}

func TestParseAtom(t *testing.T) {
	a, err := ParseAtom("libfoo (>= 1.2)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name != "libfoo" || a.Op != OpGE || a.Ver.Major != 1 || a.Ver.Minor != 2 {
		t.Errorf("got %+v", a)
	}

	bare, err := ParseAtom("libbar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bare.Name != "libbar" || bare.Op != OpAny {
		t.Errorf("got %+v", bare)
	}

	tok, err := ParseAtom("cap==1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.Name != "cap" || tok.Op != OpEQEQ {
		t.Errorf("got %+v", tok)
	}
}

func TestExpandProvide(t *testing.T) {
	got := ExpandProvide("cap==1.0")
	want := []string{"cap", "cap==1.0"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ExpandProvide = %v, want %v", got, want)
	}

	bare := ExpandProvide("cap")
	if len(bare) != 1 || bare[0] != "cap" {
		t.Errorf("ExpandProvide(bare) = %v", bare)
	}
}

func TestParseDepExprAndOr(t *testing.T) {
	e, err := ParseDepExpr("A, B | C, D")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Kind != KindAnd || len(e.Children) != 3 {
		t.Fatalf("expected top-level AND with 3 children, got %+v", e)
	}
	if e.Children[1].Kind != KindOr || len(e.Children[1].Children) != 2 {
		t.Fatalf("expected OR node for 'B | C', got %+v", e.Children[1])
	}
}

func TestParseDepExprParens(t *testing.T) {
	e, err := ParseDepExpr("A (>= 1.0), (B || C)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Kind != KindAnd || len(e.Children) != 2 {
		t.Fatalf("got %+v", e)
	}
	first := e.Children[0]
	if first.Kind != KindAtom || first.Atom.Name != "A" || first.Atom.Op != OpGE {
		t.Errorf("got %+v", first)
	}
	second := e.Children[1]
	if second.Kind != KindOr || len(second.Children) != 2 {
		t.Errorf("got %+v", second)
	}
}

func TestParseDepExprTrailingInput(t *testing.T) {
	_, err := ParseDepExpr("A)")
	if err == nil {
		t.Fatal("expected error for unmatched closing paren")
	}
}

func TestParseDepExprAtoms(t *testing.T) {
	e, err := ParseDepExpr("A, B | C")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	atoms := e.Atoms()
	if len(atoms) != 3 {
		t.Fatalf("expected 3 atoms, got %d: %+v", len(atoms), atoms)
	}
}
