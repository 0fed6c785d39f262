package topology

import "testing"

func TestOpTime_LessOrdersByTimestampThenTerm(t *testing.T) {
	a := OpTime{Timestamp: 5, Term: 1}
	b := OpTime{Timestamp: 5, Term: 2}
	if !a.Less(b) {
		t.Fatalf("expected %v < %v", a, b)
	}
	if b.Less(a) {
		t.Fatalf("did not expect %v < %v", b, a)
	}

	c := OpTime{Timestamp: 6, Term: 0}
	if !a.Less(c) {
		t.Fatalf("expected %v < %v (higher timestamp wins regardless of term)", a, c)
	}
}

func TestOpTime_Max(t *testing.T) {
	a := OpTime{Timestamp: 10, Term: 1}
	b := OpTime{Timestamp: 5, Term: 9}
	if got := a.Max(b); got != a {
		t.Fatalf("Max(%v, %v) = %v, want %v", a, b, got, a)
	}
}

func TestMember_IsElectable(t *testing.T) {
	cases := []struct {
		name string
		m    Member
		want bool
	}{
		{"normal voter", Member{Priority: 1}, true},
		{"zero priority", Member{Priority: 0}, false},
		{"arbiter", Member{Priority: 1, ArbiterOnly: true}, false},
	}
	for _, tc := range cases {
		if got := tc.m.IsElectable(); got != tc.want {
			t.Errorf("%s: IsElectable() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
