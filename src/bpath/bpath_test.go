package bpath

import (
	"testing"

	"ustr"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		path string
		want []string
	}{
		{"/", nil},
		{"/a/b/c", []string{"a", "b", "c"}},
		{"a/b/", []string{"a", "b"}},
		{"//a//b", []string{"a", "b"}},
	}
	for _, c := range cases {
		got := Split(ustr.Ustr(c.path))
		if len(got) != len(c.want) {
			t.Fatalf("Split(%q) = %v, want %v", c.path, got, c.want)
		}
		for i := range got {
			if got[i].String() != c.want[i] {
				t.Fatalf("Split(%q)[%d] = %q, want %q", c.path, i, got[i].String(), c.want[i])
			}
		}
	}
}

func TestValid(t *testing.T) {
	if !Valid(ustr.Ustr("foo")) {
		t.Fatal("expected short name to be valid")
	}
	if Valid(ustr.Ustr("")) {
		t.Fatal("expected empty name to be invalid")
	}
	if Valid(ustr.Ustr("this-name-is-too-long")) {
		t.Fatal("expected over-length name to be invalid")
	}
}
