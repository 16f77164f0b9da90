package role

import "testing"

func TestTagTableIsStable(t *testing.T) {
	want := map[Role]Tag{
		Admin:   "admin",
		Trader:  "trader",
		Auditor: "auditor",
		Oracle:  "oracle",
		AIAgent: "ai_agent",
	}
	for r, tag := range want {
		if got := r.Tag(); got != tag {
			t.Errorf("%d.Tag() = %q, want %q", r, got, tag)
		}
	}
	if len(All()) != len(want) {
		t.Errorf("All() has %d roles, want %d", len(All()), len(want))
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"admin", Admin, false},
		{"Trader", Trader, false},
		{" auditor ", Auditor, false},
		{"oracle", Oracle, false},
		{"ai_agent", AIAgent, false},
		{"AIAgent", AIAgent, false},
		{"root", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInvalidRole(t *testing.T) {
	var r Role
	if r.Valid() {
		t.Error("zero Role is valid")
	}
	if r.Tag() != "" {
		t.Errorf("zero Role tag = %q, want empty", r.Tag())
	}
	if Role(42).String() != "role(42)" {
		t.Errorf("Role(42).String() = %q", Role(42).String())
	}
}

func TestSortTags(t *testing.T) {
	in := []Tag{"trader", "admin", "auditor"}
	got := SortTags(in)
	want := []Tag{"admin", "auditor", "trader"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortTags() = %v, want %v", got, want)
		}
	}
	if in[0] != "trader" {
		t.Error("SortTags() mutated its input")
	}
}
