package novelty

import (
	"strings"
	"testing"
)

func TestLooksLikeEnglish(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "", true},
		{"whitespace", " ", true},
		{"mixed-whitespace", " \t\n ", true},
		{"greeting", "Hello, how are you today?", true},
		{"pangram", "The quick brown fox jumps over the lazy dog.", true},
		{"long-sentence", "Hi! I will send you an update in a compact form next.", true},
		{"non-ascii-japanese", "日本語メッセージ", false},
		{"non-ascii-greek", "αβγδ", false},
		{"non-ascii-in-english", "Hello café, how are you?", false},
		{"no-vowels", "xyzxyzxyzxyzxyzxyzxyzxyzxyzxyzxyzxyzxyz", false},
		{"compact-long", "CMD|seq=0001;st=0x01;rt=2;tk=77;px=9", false},
		{"digits-long", "0123456789 0123456789 0123456789 0123456789 01", false},
		// Short strings only get the non-ASCII check.
		{"compact-short", "CMD|seq=0;state=0x00", true},
		{"compact-26", "X9|d=17;u=0x3f;rt=2;ack#77", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeEnglish(tt.text); got != tt.want {
				t.Errorf("LooksLikeEnglish(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestLooksLikeEnglish_LengthBoundaries(t *testing.T) {
	// 30 bytes of consonants: vowel check does not apply yet.
	at30 := strings.Repeat("x", 30)
	if !LooksLikeEnglish(at30) {
		t.Error("30-byte consonant run should bypass the vowel check")
	}
	if LooksLikeEnglish(at30 + "x") {
		t.Error("31-byte consonant run should fail the vowel check")
	}

	// 40 bytes with a single word: word check does not apply yet.
	at40 := "aeiou" + strings.Repeat("1", 35)
	if !LooksLikeEnglish(at40) {
		t.Error("40-byte text should bypass the word-count check")
	}
	if LooksLikeEnglish(at40 + "1") {
		t.Error("41-byte text with one word should fail the word-count check")
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a b c", 0},
		{"ab cd ef", 3},
		{"abc123def", 2},
		{"x9|ok;yes", 2},
	}
	for _, tt := range tests {
		if got := countWords(tt.text); got != tt.want {
			t.Errorf("countWords(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestClassifierFunc(t *testing.T) {
	var calls int
	c := ClassifierFunc(func(text string) bool {
		calls++
		return text == "ok"
	})
	if !c.Ordinary("ok") || c.Ordinary("nope") {
		t.Fatal("ClassifierFunc did not forward to the wrapped function")
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if !Default.Ordinary("plain words here") {
		t.Fatal("Default should use LooksLikeEnglish")
	}
}
