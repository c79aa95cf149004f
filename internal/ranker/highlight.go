package ranker

import (
	"regexp"
	"strings"
)

// Default highlight markers.
const (
	DefaultPreTag  = "<em>"
	DefaultPostTag = "</em>"
)

const ellipsis = "..."

// HighlightOptions configure the markers wrapped around matches.
type HighlightOptions struct {
	PreTag  string
	PostTag string
}

func (o HighlightOptions) tags() (string, string) {
	pre, post := o.PreTag, o.PostTag
	if pre == "" {
		pre = DefaultPreTag
	}
	if post == "" {
		post = DefaultPostTag
	}
	return pre, post
}

// Highlight wraps whole-word, case-insensitive occurrences of the terms with
// the configured markers. Regex metacharacters in terms are escaped first.
func Highlight(text string, terms []string, opts HighlightOptions) string {
	re := termPattern(terms)
	if re == nil {
		return text
	}
	pre, post := opts.tags()
	return re.ReplaceAllString(text, pre+"$1"+post)
}

// Snippet carves a window of at most maxLength characters around the earliest
// term occurrence, snaps the edges to word boundaries, adds ellipses for
// truncated sides, and highlights the terms within the window.
func Snippet(text string, terms []string, maxLength int, opts HighlightOptions) string {
	if maxLength <= 0 || len(text) <= maxLength {
		return Highlight(text, terms, opts)
	}

	matchIdx := earliestMatch(text, terms)
	start := 0
	if matchIdx >= 0 {
		start = matchIdx - maxLength/2
		if start < 0 {
			start = 0
		}
	}
	end := start + maxLength
	if end > len(text) {
		end = len(text)
		start = end - maxLength
		if start < 0 {
			start = 0
		}
	}

	// Snap outward to the nearest word boundary so no word is cut in half.
	if start > 0 {
		if idx := strings.LastIndexByte(text[:start], ' '); idx >= 0 {
			start = idx + 1
		} else {
			start = 0
		}
	}
	if end < len(text) {
		if idx := strings.IndexByte(text[end:], ' '); idx >= 0 {
			end += idx
		} else {
			end = len(text)
		}
	}

	snippet := text[start:end]
	if start > 0 {
		snippet = ellipsis + snippet
	}
	if end < len(text) {
		snippet = snippet + ellipsis
	}
	return Highlight(snippet, terms, opts)
}

// earliestMatch returns the byte index of the first case-insensitive
// occurrence of any term, or -1.
func earliestMatch(text string, terms []string) int {
	lower := strings.ToLower(text)
	best := -1
	for _, term := range terms {
		if term == "" {
			continue
		}
		if idx := strings.Index(lower, strings.ToLower(term)); idx >= 0 {
			if best < 0 || idx < best {
				best = idx
			}
		}
	}
	return best
}

// termPattern compiles a whole-word, case-insensitive alternation over the
// terms, or nil when no usable term remains.
func termPattern(terms []string) *regexp.Regexp {
	escaped := make([]string, 0, len(terms))
	for _, term := range terms {
		if term == "" {
			continue
		}
		escaped = append(escaped, regexp.QuoteMeta(term))
	}
	if len(escaped) == 0 {
		return nil
	}
	re, err := regexp.Compile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
	if err != nil {
		return nil
	}
	return re
}
