package dex

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCleanAndExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	t.Setenv("MMSWAP_TEST_DIR", "/tmp/mmswap")
	tests := []struct {
		in, exp string
	}{
		{"", ""},
		{"/a/b/../c", "/a/c"},
		{"$MMSWAP_TEST_DIR/db", "/tmp/mmswap/db"},
		{"~", home},
		{"~/x/y", filepath.Join(home, "x", "y")},
		{"~nosuchuserhere/x", "x"},
	}
	for _, tt := range tests {
		if got := CleanAndExpandPath(tt.in); got != filepath.FromSlash(tt.exp) {
			t.Fatalf("%q: expected %q, got %q", tt.in, tt.exp, got)
		}
	}
}

func TestSemverString(t *testing.T) {
	if s := (Semver{1, 22, 3}).String(); s != "1.22.3" {
		t.Fatalf("wrong string %q", s)
	}
}
