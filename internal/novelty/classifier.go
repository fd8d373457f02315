package novelty

import "strings"

// #region classifier

// Classifier decides whether text is ordinary, reportable language.
// Implementations must be pure: the same text always yields the same answer.
type Classifier interface {
	Ordinary(text string) bool
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(text string) bool

// Ordinary calls f(text).
func (f ClassifierFunc) Ordinary(text string) bool {
	return f(text)
}

// Default is the heuristic classifier used when none is configured.
var Default Classifier = ClassifierFunc(LooksLikeEnglish)

// #endregion classifier

// #region thresholds

const (
	wordCheckMinLen  = 40   // word-count check applies only above this length
	minWords         = 3    // tokens of 2+ letters required for long text
	vowelCheckMinLen = 30   // vowel-ratio check applies only above this length
	minVowelRatio    = 0.20 // English typically sits around 0.30-0.40
)

// #endregion thresholds

// #region looks-like-english

// LooksLikeEnglish is a conservative heuristic. No model call.
// Empty or whitespace-only text is ordinary. Any non-ASCII byte marks text as
// private. Long text also needs enough letter tokens and a plausible vowel ratio;
// short text only gets the non-ASCII check.
func LooksLikeEnglish(text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}

	for i := 0; i < len(text); i++ {
		if text[i] > 0x7F {
			return false
		}
	}

	if len(text) > wordCheckMinLen && countWords(text) < minWords {
		return false
	}

	letters, vowels := 0, 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if !isLetter(c) {
			continue
		}
		letters++
		switch c | 0x20 {
		case 'a', 'e', 'i', 'o', 'u':
			vowels++
		}
	}
	if letters > 0 && len(text) > vowelCheckMinLen && float64(vowels)/float64(letters) < minVowelRatio {
		return false
	}

	return true
}

// #endregion looks-like-english

// #region helpers

// countWords counts maximal runs of two or more ASCII letters.
func countWords(text string) int {
	words, run := 0, 0
	for i := 0; i <= len(text); i++ {
		if i < len(text) && isLetter(text[i]) {
			run++
			continue
		}
		if run >= 2 {
			words++
		}
		run = 0
	}
	return words
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// #endregion helpers
