package config

import (
	"context"
	"testing"

	"github.com/rowsift/rowsift/pkg/kv"
)

func validTable() *TableConfig {
	return &TableConfig{
		Table:            "services",
		SearchableFields: []FieldConfig{{Field: "name", Boost: 2}},
		Tokenizer:        TokenizerStemming,
	}
}

func TestTableConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TableConfig)
		wantErr bool
	}{
		{"valid", func(*TableConfig) {}, false},
		{"empty tokenizer defaults", func(c *TableConfig) { c.Tokenizer = "" }, false},
		{"missing table name", func(c *TableConfig) { c.Table = "" }, true},
		{"no searchable fields", func(c *TableConfig) { c.SearchableFields = nil }, true},
		{"unknown tokenizer", func(c *TableConfig) { c.Tokenizer = "soundex" }, true},
		{"geo missing longitude", func(c *TableConfig) {
			c.Geo = &GeoConfig{LatitudeField: "lat"}
		}, true},
		{"geo complete", func(c *TableConfig) {
			c.Geo = &GeoConfig{LatitudeField: "lat", LongitudeField: "lng"}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTable()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBoostsDefaults(t *testing.T) {
	cfg := &TableConfig{
		SearchableFields: []FieldConfig{
			{Field: "name", Boost: 3},
			{Field: "description"},
			{Field: "tags", Boost: -1},
		},
	}
	boosts := cfg.Boosts()
	if boosts["name"] != 3 {
		t.Errorf("name boost = %v, want 3", boosts["name"])
	}
	if boosts["description"] != 1 || boosts["tags"] != 1 {
		t.Errorf("unset/invalid boosts should default to 1: %v", boosts)
	}
}

func TestHasGeo(t *testing.T) {
	cfg := validTable()
	if cfg.HasGeo() {
		t.Error("HasGeo() = true without geo section")
	}
	cfg.Geo = &GeoConfig{LatitudeField: "lat"}
	if cfg.HasGeo() {
		t.Error("HasGeo() = true with incomplete geo section")
	}
	cfg.Geo.LongitudeField = "lng"
	if !cfg.HasGeo() {
		t.Error("HasGeo() = false with complete geo section")
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	reg := NewRegistry(store)
	if err := reg.Put(ctx, validTable()); err != nil {
		t.Fatal(err)
	}
	cfg, ok := reg.Get("services")
	if !ok || cfg.Tokenizer != TokenizerStemming {
		t.Fatalf("Get after Put = %+v, %v", cfg, ok)
	}

	// A fresh registry over the same store sees the persisted config.
	fresh := NewRegistry(store)
	if _, ok := fresh.Get("services"); ok {
		t.Error("fresh registry should be empty before LoadAll")
	}
	if err := fresh.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}
	cfg, ok = fresh.Get("services")
	if !ok || cfg.Table != "services" {
		t.Fatalf("Get after LoadAll = %+v, %v", cfg, ok)
	}
	if tables := fresh.Tables(); len(tables) != 1 || tables[0] != "services" {
		t.Errorf("Tables() = %v", tables)
	}
}

func TestRegistryPutRejectsInvalid(t *testing.T) {
	reg := NewRegistry(kv.NewMemory())
	bad := validTable()
	bad.SearchableFields = nil
	if err := reg.Put(context.Background(), bad); err == nil {
		t.Error("Put accepted an invalid config")
	}
}
