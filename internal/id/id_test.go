package id

import (
	"encoding/hex"
	"testing"
)

func TestNewIsUniqueHex(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		v := New()
		if len(v) != 32 {
			t.Fatalf("expected 32 hex chars, got %q", v)
		}
		if _, err := hex.DecodeString(v); err != nil {
			t.Fatalf("id is not hex: %q", v)
		}
		if _, dup := seen[v]; dup {
			t.Fatalf("duplicate id %q", v)
		}
		seen[v] = struct{}{}
	}
}
