package location

import (
	"testing"

	"github.com/rowsift/rowsift/internal/geo"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"New York, NY", "new york ny"},
		{"new  york   ny", "new york ny"},
		{"NYC", "nyc"},
		{"  San Francisco!  ", "san francisco"},
		{"L.A.", "l a"},
		{"", ""},
		{"---", ""},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.raw); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestResolveDefaultAliases(t *testing.T) {
	n := New(nil)

	tests := []struct {
		raw      string
		wantName string
	}{
		{"NYC", "New York"},
		{"New York, NY", "New York"},
		{"manhattan", "New York"},
		{"L.A.", "Los Angeles"},
		{"philly", "Philadelphia"},
		{"san fran", "San Francisco"},
		{"Vegas", "Las Vegas"},
	}
	for _, tt := range tests {
		c, ok := n.Resolve(tt.raw)
		if !ok {
			t.Errorf("Resolve(%q) not found", tt.raw)
			continue
		}
		if c.Name != tt.wantName {
			t.Errorf("Resolve(%q).Name = %q, want %q", tt.raw, c.Name, tt.wantName)
		}
		if !c.HasPoint() {
			t.Errorf("Resolve(%q) has no coordinates", tt.raw)
		}
		if c.BucketID == "" {
			t.Errorf("Resolve(%q) has no bucket", tt.raw)
		}
	}
}

func TestResolveUnknown(t *testing.T) {
	n := New(nil)
	for _, raw := range []string{"atlantis", "", "    ", "middle of nowhere"} {
		if _, ok := n.Resolve(raw); ok {
			t.Errorf("Resolve(%q) should not resolve", raw)
		}
	}
}

func TestResolveCustomTable(t *testing.T) {
	n := New(map[string]Canonical{
		"hq": {Name: "Headquarters", Point: geo.Point{Lat: 1, Lng: 2}, BucketID: "office:hq"},
	})
	c, ok := n.Resolve("HQ")
	if !ok || c.Name != "Headquarters" {
		t.Fatalf("Resolve(HQ) = %+v, %v", c, ok)
	}
	if n.Size() != 1 {
		t.Errorf("Size() = %d, want 1", n.Size())
	}
}

func TestDefaultAliasesConsistent(t *testing.T) {
	for alias, c := range DefaultAliases() {
		if NormalizeKey(alias) != alias {
			t.Errorf("alias key %q is not in normalized form", alias)
		}
		if c.Name == "" || c.BucketID == "" {
			t.Errorf("alias %q missing name or bucket: %+v", alias, c)
		}
		if !c.Point.Valid() || !c.HasPoint() {
			t.Errorf("alias %q has invalid point %+v", alias, c.Point)
		}
	}
}
