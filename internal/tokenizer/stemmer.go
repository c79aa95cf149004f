package tokenizer

import "strings"

// Stem reduces a word to its stem with a five-step suffix-reduction pass:
// plural and -ed/-ing handling, two suffix-mapping tables, a bare-suffix
// table, and trailing -e/-ll cleanup. Rules are gated by the word's measure
// (the count of consonant-to-vowel transitions) so short words are left alone.
func Stem(word string) string {
	if len(word) <= 2 {
		return word
	}
	w := step1(word)
	w = step2(w)
	w = step3(w)
	w = step4(w)
	w = step5(w)
	return w
}

// step1 handles plurals and the -eed/-ed/-ing suffixes, then rewrites a
// trailing y to i so later steps see one spelling.
func step1(w string) string {
	switch {
	case strings.HasSuffix(w, "sses"):
		w = w[:len(w)-2]
	case strings.HasSuffix(w, "ies"):
		w = w[:len(w)-2]
	case strings.HasSuffix(w, "ss"):
	case strings.HasSuffix(w, "s") && len(w) > 3:
		w = w[:len(w)-1]
	}

	if strings.HasSuffix(w, "eed") {
		if measure(w[:len(w)-3]) > 0 {
			w = w[:len(w)-1]
		}
	} else if stem, ok := trimWithVowel(w, "ed"); ok {
		w = repairTrimmed(stem)
	} else if stem, ok := trimWithVowel(w, "ing"); ok {
		w = repairTrimmed(stem)
	}

	if strings.HasSuffix(w, "y") && hasVowel(w[:len(w)-1]) {
		w = w[:len(w)-1] + "i"
	}
	return w
}

// trimWithVowel strips the suffix only when the remaining stem still contains
// a vowel, which keeps words like "sing" and "red" intact.
func trimWithVowel(w string, suffix string) (string, bool) {
	if !strings.HasSuffix(w, suffix) {
		return w, false
	}
	stem := w[:len(w)-len(suffix)]
	if !hasVowel(stem) {
		return w, false
	}
	return stem, true
}

// repairTrimmed fixes stems left broken by -ed/-ing removal: restores a
// swallowed e after -at/-bl/-iz, collapses a doubled consonant, and restores
// an e after a short consonant-vowel-consonant stem.
func repairTrimmed(w string) string {
	switch {
	case strings.HasSuffix(w, "at"), strings.HasSuffix(w, "bl"), strings.HasSuffix(w, "iz"):
		return w + "e"
	case endsDoubleConsonant(w) &&
		!strings.HasSuffix(w, "l") && !strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "z"):
		return w[:len(w)-1]
	case measure(w) == 1 && endsCVC(w):
		return w + "e"
	}
	return w
}

var step2Suffixes = []struct{ suffix, replacement string }{
	{"ational", "ate"},
	{"ization", "ize"},
	{"iveness", "ive"},
	{"fulness", "ful"},
	{"ousness", "ous"},
	{"biliti", "ble"},
	{"tional", "tion"},
	{"ation", "ate"},
	{"alism", "al"},
	{"aliti", "al"},
	{"iviti", "ive"},
	{"entli", "ent"},
	{"ousli", "ous"},
	{"anci", "ance"},
	{"enci", "ence"},
	{"abli", "able"},
	{"izer", "ize"},
	{"ator", "ate"},
	{"alli", "al"},
	{"eli", "e"},
}

// step2 maps compound suffixes to their base form when the stem has measure
// above zero.
func step2(w string) string {
	for _, rule := range step2Suffixes {
		if strings.HasSuffix(w, rule.suffix) {
			stem := w[:len(w)-len(rule.suffix)]
			if measure(stem) > 0 {
				return stem + rule.replacement
			}
			return w
		}
	}
	return w
}

var step3Suffixes = []struct{ suffix, replacement string }{
	{"icate", "ic"},
	{"ative", ""},
	{"alize", "al"},
	{"iciti", "ic"},
	{"ical", "ic"},
	{"ful", ""},
	{"ness", ""},
}

// step3 strips the -ful/-ness class of suffixes when the stem has measure
// above zero.
func step3(w string) string {
	for _, rule := range step3Suffixes {
		if strings.HasSuffix(w, rule.suffix) {
			stem := w[:len(w)-len(rule.suffix)]
			if measure(stem) > 0 {
				return stem + rule.replacement
			}
			return w
		}
	}
	return w
}

var step4Suffixes = []string{
	"ement", "ance", "ence", "able", "ible", "ment",
	"ant", "ent", "ion", "ism", "ate", "iti", "ous", "ive", "ize",
	"al", "er", "ic", "ou",
}

// step4 strips bare suffixes outright, gated by a word measure of at least
// two so short words keep their endings. -ion only drops after s or t.
func step4(w string) string {
	if measure(w) < 2 {
		return w
	}
	for _, suffix := range step4Suffixes {
		if !strings.HasSuffix(w, suffix) {
			continue
		}
		stem := w[:len(w)-len(suffix)]
		if len(stem) < 2 {
			return w
		}
		if suffix == "ion" && !strings.HasSuffix(stem, "s") && !strings.HasSuffix(stem, "t") {
			return w
		}
		return stem
	}
	return w
}

// step5 drops a trailing e on longer stems and collapses a trailing ll.
func step5(w string) string {
	if strings.HasSuffix(w, "e") {
		stem := w[:len(w)-1]
		m := measure(stem)
		if m > 1 || (m == 1 && !endsCVC(stem)) {
			w = stem
		}
	}
	if measure(w) > 1 && strings.HasSuffix(w, "ll") {
		w = w[:len(w)-1]
	}
	return w
}

// measure counts consonant-to-vowel transitions in the word.
func measure(w string) int {
	m := 0
	for i := 1; i < len(w); i++ {
		if isVowel(w, i) && !isVowel(w, i-1) {
			m++
		}
	}
	return m
}

// isVowel reports whether position i holds a vowel; y counts as a vowel when
// it follows a consonant.
func isVowel(w string, i int) bool {
	switch w[i] {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	case 'y':
		return i > 0 && !isVowel(w, i-1)
	}
	return false
}

func hasVowel(w string) bool {
	for i := range w {
		if isVowel(w, i) {
			return true
		}
	}
	return false
}

func endsDoubleConsonant(w string) bool {
	n := len(w)
	return n >= 2 && w[n-1] == w[n-2] && !isVowel(w, n-1)
}

// endsCVC reports a consonant-vowel-consonant ending where the final
// consonant is not w, x, or y.
func endsCVC(w string) bool {
	n := len(w)
	if n < 3 {
		return false
	}
	if isVowel(w, n-3) || !isVowel(w, n-2) || isVowel(w, n-1) {
		return false
	}
	switch w[n-1] {
	case 'w', 'x', 'y':
		return false
	}
	return true
}
