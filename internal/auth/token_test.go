package auth

import (
	"strings"
	"testing"
)

func TestGenerateSessionToken_ShapeAndUniqueness(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)

	for i := 0; i < n; i++ {
		tok, err := GenerateSessionToken()
		if err != nil {
			t.Fatalf("GenerateSessionToken() error = %v", err)
		}
		if len(tok) != SessionTokenLength {
			t.Fatalf("len(token) = %d, want %d", len(tok), SessionTokenLength)
		}
		if strings.Trim(tok, tokenAlphabet) != "" {
			t.Fatalf("token %q contains characters outside the alphabet", tok)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token after %d draws", i)
		}
		seen[tok] = struct{}{}
	}
}

func TestGenerateSessionToken_UsesWholeAlphabet(t *testing.T) {
	counts := make(map[rune]int)
	for i := 0; i < 200; i++ {
		tok, err := GenerateSessionToken()
		if err != nil {
			t.Fatalf("GenerateSessionToken() error = %v", err)
		}
		for _, r := range tok {
			counts[r]++
		}
	}
	// 8000 draws over 36 symbols; every symbol should appear
	for _, r := range tokenAlphabet {
		if counts[r] == 0 {
			t.Errorf("symbol %q never drawn", r)
		}
	}
}

func TestIsWellFormedToken(t *testing.T) {
	good, _ := GenerateSessionToken() //nolint:errcheck // crypto/rand does not fail in tests
	tests := []struct {
		in   string
		want bool
	}{
		{good, true},
		{"", false},
		{good[:39], false},
		{"A" + good[1:], false},
		{good[:39] + "-", false},
	}
	for _, tt := range tests {
		if got := IsWellFormedToken(tt.in); got != tt.want {
			t.Errorf("IsWellFormedToken(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDigest(t *testing.T) {
	if Digest("abc") != Digest("abc") {
		t.Error("Digest is not deterministic")
	}
	if Digest("abc") == Digest("abd") {
		t.Error("Digest collides on different input")
	}
	// SHA-256 of "abc"
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Digest("abc"); got != want {
		t.Errorf("Digest(abc) = %s, want %s", got, want)
	}
	if got := Fingerprint("abc"); got != want[:12] {
		t.Errorf("Fingerprint(abc) = %s, want %s", got, want[:12])
	}
	if Fingerprint("") != "" {
		t.Error("Fingerprint of empty token should be empty")
	}
}
