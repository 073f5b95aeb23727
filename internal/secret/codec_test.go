package secret

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestGenerateShape(t *testing.T) {
	c := NewCodec("")
	s, err := c.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !strings.HasPrefix(s.Raw, DefaultTag) {
		t.Errorf("raw %q missing tag %q", s.Raw, DefaultTag)
	}
	if len(s.Raw) != len(DefaultTag)+64 {
		t.Errorf("raw length = %d, want %d", len(s.Raw), len(DefaultTag)+64)
	}
	if s.Prefix != s.Raw[:len(DefaultTag)+8] {
		t.Errorf("prefix = %q, want %q", s.Prefix, s.Raw[:len(DefaultTag)+8])
	}
	if s.Hash != Hash(s.Raw) {
		t.Error("hash does not match Hash(raw)")
	}
	if len(s.Hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(s.Hash))
	}
	if strings.Contains(s.Hash, s.Raw) {
		t.Error("hash must not contain the raw secret")
	}
	if !c.LooksLikeKey(s.Raw) {
		t.Error("LooksLikeKey rejected a generated key")
	}
}

func TestGenerateUnique(t *testing.T) {
	c := NewCodec("")
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		s, err := c.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seen[s.Raw] {
			t.Fatalf("duplicate secret after %d generations", i)
		}
		seen[s.Raw] = true
	}
}

func TestGenerateDeterministicFromEntropy(t *testing.T) {
	c := &Codec{tag: "test_", entropy: bytes.NewReader(bytes.Repeat([]byte{0xab}, 32))}
	s, err := c.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := "test_" + strings.Repeat("ab", 32)
	if s.Raw != want {
		t.Errorf("raw = %q, want %q", s.Raw, want)
	}
	if s.Prefix != "test_abababab" {
		t.Errorf("prefix = %q, want %q", s.Prefix, "test_abababab")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerateEntropyFailure(t *testing.T) {
	c := &Codec{tag: DefaultTag, entropy: failingReader{}}
	if _, err := c.Generate(); err == nil {
		t.Fatal("expected error when entropy source fails")
	}
}

func TestVerify(t *testing.T) {
	c := NewCodec("")
	s, err := c.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !Verify(s.Raw, s.Hash) {
		t.Error("Verify rejected the matching secret")
	}
	if Verify(s.Raw+"x", s.Hash) {
		t.Error("Verify accepted a modified secret")
	}
	if Verify(s.Prefix, s.Hash) {
		t.Error("Verify accepted the prefix alone")
	}
	if Verify(s.Raw, "") {
		t.Error("Verify accepted an empty stored hash")
	}
}

func TestLooksLikeKey(t *testing.T) {
	c := NewCodec("")
	tests := []struct {
		in   string
		want bool
	}{
		{DefaultTag + strings.Repeat("0", 64), true},
		{DefaultTag + strings.Repeat("0", 63), false},
		{"sk_" + strings.Repeat("0", 64), false},
		{"", false},
	}
	for _, tt := range tests {
		if got := c.LooksLikeKey(tt.in); got != tt.want {
			t.Errorf("LooksLikeKey(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
