package kv

import (
	"context"
	"testing"
)

func TestMemoryStrings(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
	if err := m.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Errorf("Get(k) = %q, %v", got, err)
	}
	if err := m.Del(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k"); !IsNotFound(err) {
		t.Errorf("Get after Del err = %v, want ErrNotFound", err)
	}
}

func TestMemoryDeletePattern(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Set(ctx, "idx:a:term:x", "1")
	m.Set(ctx, "idx:a:term:y", "2")
	m.Set(ctx, "idx:b:term:x", "3")
	m.SAdd(ctx, "idx:a:docs", "d1")

	n, err := m.DeletePattern(ctx, "idx:a:*")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("deleted %d keys, want 3", n)
	}
	if _, err := m.Get(ctx, "idx:b:term:x"); err != nil {
		t.Errorf("unrelated key deleted: %v", err)
	}

	// Deleting again is a no-op, not an error.
	n, err = m.DeletePattern(ctx, "idx:a:*")
	if err != nil || n != 0 {
		t.Errorf("second delete = %d, %v, want 0, nil", n, err)
	}
}

func TestMemorySets(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SAdd(ctx, "s", "b", "a", "b")
	m.SRem(ctx, "s", "missing")

	members, err := m.SMembers(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0] != "a" || members[1] != "b" {
		t.Errorf("SMembers = %v, want [a b]", members)
	}
}

func TestMemoryGeoRadius(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.GeoAdd(ctx, "points",
		GeoMember{Member: "nyc", Lat: 40.7128, Lng: -74.0060},
		GeoMember{Member: "la", Lat: 34.0522, Lng: -118.2437},
	)

	near, err := m.GeoRadiusKm(ctx, "points", 40.7128, -74.0060, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(near) != 1 || near[0].Member != "nyc" {
		t.Errorf("10km radius = %v, want only nyc", near)
	}

	all, err := m.GeoRadiusKm(ctx, "points", 40.7128, -74.0060, 5000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Member != "nyc" || all[1].Member != "la" {
		t.Errorf("5000km radius = %v, want [nyc la] by ascending distance", all)
	}
	if all[0].DistKm > all[1].DistKm {
		t.Errorf("results not sorted by distance: %v", all)
	}

	capped, err := m.GeoRadiusKm(ctx, "points", 40.7128, -74.0060, 5000, 1)
	if err != nil || len(capped) != 1 {
		t.Errorf("count=1 returned %d results, %v", len(capped), err)
	}
}

func TestMemoryBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := m.Batch()
	b.Set("k1", "v1")
	b.SAdd("s", "m1")
	b.GeoAdd("g", GeoMember{Member: "p", Lat: 1, Lng: 2})

	if b.Len() != 3 {
		t.Errorf("Len = %d, want 3", b.Len())
	}
	// Nothing is visible until Exec.
	if _, err := m.Get(ctx, "k1"); !IsNotFound(err) {
		t.Errorf("batched write visible before Exec")
	}
	if err := b.Exec(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 0 {
		t.Errorf("Len after Exec = %d, want 0", b.Len())
	}
	if v, _ := m.Get(ctx, "k1"); v != "v1" {
		t.Errorf("k1 = %q after Exec", v)
	}
	members, _ := m.SMembers(ctx, "s")
	if len(members) != 1 {
		t.Errorf("set not applied: %v", members)
	}
	scanned, _ := m.GeoScan(ctx, "g")
	if len(scanned) != 1 || scanned[0].Member != "p" {
		t.Errorf("geo not applied: %v", scanned)
	}
}
