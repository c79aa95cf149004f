// Package tokenizer turns raw field text into position-tagged terms. Three
// strategies are supported: simple (split + normalize), stemming (simple plus
// suffix reduction), and ngram (fixed-length substrings for partial matching).
package tokenizer

import (
	"strings"
	"unicode"
)

// Strategy names. These match the tokenizer values accepted in table
// configuration.
const (
	TypeSimple   = "simple"
	TypeStemming = "stemming"
	TypeNgram    = "ngram"
)

const (
	defaultMinWordLength = 2
	defaultNgramSize     = 3
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token is a normalised term with the token-offset positions at which it
// occurred in one field. Duplicate terms within a field merge their positions
// into a single Token.
type Token struct {
	Term      string
	Positions []int
	Field     string
}

// Options selects the tokenization strategy and its parameters.
type Options struct {
	Type          string
	MinWordLength int
	NgramSize     int
	CaseSensitive bool
}

func (o Options) minWordLength() int {
	if o.MinWordLength > 0 {
		return o.MinWordLength
	}
	return defaultMinWordLength
}

func (o Options) ngramSize() int {
	if o.NgramSize > 0 {
		return o.NgramSize
	}
	return defaultNgramSize
}

// Tokenize breaks text into tokens for the given field. It is deterministic
// and allocates only the returned slice and its contents.
func Tokenize(text string, field string, opts Options) []Token {
	switch opts.Type {
	case TypeNgram:
		return tokenizeNgram(text, field, opts)
	case TypeStemming:
		return tokenizeWords(text, field, opts, true)
	default:
		return tokenizeWords(text, field, opts, false)
	}
}

func tokenizeWords(text string, field string, opts Options, stemmed bool) []Token {
	if !opts.CaseSensitive {
		text = strings.ToLower(text)
	}
	words := splitWords(text)
	minLen := opts.minWordLength()

	merged := make(map[string]*Token, len(words))
	order := make([]string, 0, len(words))
	pos := 0
	for _, word := range words {
		if len([]rune(word)) < minLen {
			continue
		}
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		term := word
		if stemmed {
			term = Stem(word)
			if term == "" {
				continue
			}
		}
		appendPosition(merged, &order, term, field, pos)
		pos++
	}
	return collect(merged, order)
}

func tokenizeNgram(text string, field string, opts Options) []Token {
	text = strings.ToLower(text)
	words := splitWords(text)
	size := opts.ngramSize()
	minLen := opts.minWordLength()

	merged := make(map[string]*Token, len(words))
	order := make([]string, 0, len(words))
	for wordPos, word := range words {
		runes := []rune(word)
		if len(runes) >= size {
			// Every contiguous substring of the gram size, all sharing
			// the word's position.
			for i := 0; i+size <= len(runes); i++ {
				appendPosition(merged, &order, string(runes[i:i+size]), field, wordPos)
			}
			continue
		}
		if len(runes) >= minLen {
			appendPosition(merged, &order, word, field, wordPos)
		}
	}
	return collect(merged, order)
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func appendPosition(merged map[string]*Token, order *[]string, term string, field string, pos int) {
	token, exists := merged[term]
	if !exists {
		token = &Token{Term: term, Field: field, Positions: make([]int, 0, 2)}
		merged[term] = token
		*order = append(*order, term)
	}
	if n := len(token.Positions); n > 0 && token.Positions[n-1] == pos {
		return
	}
	token.Positions = append(token.Positions, pos)
}

func collect(merged map[string]*Token, order []string) []Token {
	tokens := make([]Token, 0, len(order))
	for _, term := range order {
		tokens = append(tokens, *merged[term])
	}
	return tokens
}

// UniqueTerms returns the distinct terms of a token set in first-seen order.
func UniqueTerms(tokens []Token) []string {
	seen := make(map[string]struct{}, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token.Term]; ok {
			continue
		}
		seen[token.Term] = struct{}{}
		terms = append(terms, token.Term)
	}
	return terms
}

// Proximity returns the minimum absolute distance between any position of
// term1 and any position of term2 within the token set, or -1 when either
// term is absent. The ranker converts the distance to a 0-1 score.
func Proximity(tokens []Token, term1 string, term2 string) int {
	var pos1, pos2 []int
	for _, token := range tokens {
		switch token.Term {
		case term1:
			pos1 = append(pos1, token.Positions...)
		case term2:
			pos2 = append(pos2, token.Positions...)
		}
	}
	if len(pos1) == 0 || len(pos2) == 0 {
		return -1
	}
	best := -1
	for _, p1 := range pos1 {
		for _, p2 := range pos2 {
			d := p1 - p2
			if d < 0 {
				d = -d
			}
			if best < 0 || d < best {
				best = d
			}
		}
	}
	return best
}
