package asn

import "testing"

func TestLongestPrefixMatch(t *testing.T) {
	tbl := NewTable()
	mustAdd := func(prefix string, mask int, asnVal uint32) {
		t.Helper()
		if err := tbl.Add(prefix, mask, asnVal); err != nil {
			t.Fatalf("Add(%s/%d): %v", prefix, mask, err)
		}
	}
	mustAdd("10.0.0.0", 8, 1)
	mustAdd("10.1.0.0", 16, 2)
	mustAdd("10.1.1.0", 24, 3)
	tbl.Finalize()

	cases := []struct {
		ip   string
		want uint32
	}{
		{"10.1.1.1", 3},
		{"10.1.2.1", 2},
		{"10.2.0.1", 1},
		{"11.0.0.1", 0},
	}
	for _, c := range cases {
		if got := tbl.Lookup(c.ip); got != c.want {
			t.Errorf("Lookup(%s) = %d, want %d", c.ip, got, c.want)
		}
	}
}

func TestLookupUnknownOnGarbageInput(t *testing.T) {
	tbl := NewTable()
	tbl.Finalize()
	if got := tbl.Lookup("not-an-ip"); got != 0 {
		t.Fatalf("expected 0 for unparseable input, got %d", got)
	}
}

func TestFinalizeFreezesTable(t *testing.T) {
	tbl := NewTable()
	tbl.Finalize()
	if err := tbl.Add("10.0.0.0", 8, 1); err == nil {
		t.Fatalf("expected Add after Finalize to fail")
	}
}
