// Package location maps free-text location names to canonical names,
// coordinates, and a default search bucket via a static alias table.
package location

import (
	"strings"
	"unicode"

	"github.com/rowsift/rowsift/internal/geo"
)

// Canonical is the resolved form of a location name. Point is the zero value
// when only a bucket is known.
type Canonical struct {
	Name     string
	Point    geo.Point
	BucketID string
}

// HasPoint reports whether the canonical location carries coordinates.
func (c Canonical) HasPoint() bool {
	return c.Point != (geo.Point{})
}

// Normalizer resolves raw location strings against an immutable alias table.
// The table is injected once at construction; Resolve is safe for concurrent
// use.
type Normalizer struct {
	aliases map[string]Canonical
}

// New creates a Normalizer over the given alias table. A nil table uses the
// built-in city aliases.
func New(aliases map[string]Canonical) *Normalizer {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	return &Normalizer{aliases: aliases}
}

// Resolve maps a raw location name to its canonical form. The second return
// is false when the name is unknown.
func (n *Normalizer) Resolve(raw string) (Canonical, bool) {
	key := NormalizeKey(raw)
	if key == "" {
		return Canonical{}, false
	}
	c, ok := n.aliases[key]
	return c, ok
}

// Size returns the number of aliases in the table.
func (n *Normalizer) Size() int {
	return len(n.aliases)
}

// NormalizeKey lowercases, strips punctuation, and collapses whitespace so
// "New York, NY" and "new  york ny" hit the same alias entry.
func NormalizeKey(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	lastSpace := true
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
