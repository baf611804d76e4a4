package scanner

import (
	"bytes"
	"testing"
)

func TestScanStringField(t *testing.T) {
	payload := []byte(`{"cmd": "reset", "reason":"drill over","operator": ""}`)

	cases := []struct {
		key  string
		want string
		ok   bool
	}{
		{`"cmd"`, "reset", true},
		{`"reason"`, "drill over", true},
		{`"operator"`, "", true},
		{`"missing"`, "", false},
	}
	for _, c := range cases {
		got, ok := ScanStringField(payload, []byte(c.key))
		if ok != c.ok {
			t.Fatalf("%s: ok = %v, want %v", c.key, ok, c.ok)
		}
		if ok && !bytes.Equal(got, []byte(c.want)) {
			t.Fatalf("%s: got %q, want %q", c.key, got, c.want)
		}
	}
}

func TestScanStringFieldRejectsNonString(t *testing.T) {
	payload := []byte(`{"qty": 3, "truncated": "abc`)
	if _, ok := ScanStringField(payload, []byte(`"qty"`)); ok {
		t.Fatal("numeric value scanned as string")
	}
	if _, ok := ScanStringField(payload, []byte(`"truncated"`)); ok {
		t.Fatal("unterminated string scanned")
	}
}

func TestIndexOf(t *testing.T) {
	payload := []byte("abcabc")
	if got := IndexOf(payload, []byte("cab")); got != 2 {
		t.Fatalf("IndexOf = %d, want 2", got)
	}
	if got := IndexOf(payload, []byte("zz")); got != -1 {
		t.Fatalf("IndexOf = %d, want -1", got)
	}
	if got := IndexOf(payload, nil); got != -1 {
		t.Fatalf("IndexOf empty key = %d, want -1", got)
	}
}
