package shortcode

import (
	"strings"
	"testing"
)

func TestRandomGenerator_Length(t *testing.T) {
	g := NewRandomGenerator()
	for i := 0; i < 100; i++ {
		code := g.Generate()
		if len(code) != Length {
			t.Fatalf("len(%q) = %d, want %d", code, len(code), Length)
		}
	}
}

func TestRandomGenerator_Alphabet(t *testing.T) {
	g := NewRandomGenerator()
	for i := 0; i < 1000; i++ {
		code := g.Generate()
		for _, c := range code {
			if !strings.ContainsRune(Alphabet, c) {
				t.Fatalf("code %q contains %q outside alphabet", code, c)
			}
		}
		if !Valid(code) {
			t.Fatalf("Valid(%q) = false", code)
		}
	}
}

// 大量生成しても衝突しないこと（衝突確率は1/62^8程度）
func TestRandomGenerator_PracticallyUnique(t *testing.T) {
	g := NewRandomGenerator()
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		code := g.Generate()
		if _, ok := seen[code]; ok {
			t.Fatalf("duplicate code %q after %d generations", code, i)
		}
		seen[code] = struct{}{}
	}
}

// 全62文字が出現すること（偏りの粗い検出）
func TestRandomGenerator_CoversAlphabet(t *testing.T) {
	g := NewRandomGenerator()
	counts := make(map[rune]int)
	for i := 0; i < 5000; i++ {
		for _, c := range g.Generate() {
			counts[c]++
		}
	}
	if len(counts) != len(Alphabet) {
		t.Errorf("distinct symbols = %d, want %d", len(counts), len(Alphabet))
	}
	// 期待値は 5000*8/62 ≒ 645
	for c, n := range counts {
		if n < 400 || n > 900 {
			t.Errorf("symbol %q appeared %d times, outside expected range", c, n)
		}
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"Ab3dE9xZ", true},
		{"ZZZZZZZZ", true},
		{"short", false},
		{"toolong123", false},
		{"abc-defg", false},
		{"abcdefg ", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.code); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
