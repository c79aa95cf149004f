package geoindex

import (
	"context"
	"errors"
	"testing"

	"github.com/rowsift/rowsift/internal/geo"
	"github.com/rowsift/rowsift/pkg/config"
	apperrors "github.com/rowsift/rowsift/pkg/errors"
	"github.com/rowsift/rowsift/pkg/kv"
)

var (
	nyc = geo.Point{Lat: 40.7128, Lng: -74.0060}
	la  = geo.Point{Lat: 34.0522, Lng: -118.2437}
)

func newTestManager(t *testing.T) (*Manager, *kv.Memory) {
	t.Helper()
	store := kv.NewMemory()
	registry := config.NewRegistry(store)
	err := registry.Put(context.Background(), &config.TableConfig{
		Table:            "listings",
		SearchableFields: []config.FieldConfig{{Field: "name", Boost: 1}},
		Geo: &config.GeoConfig{
			LatitudeField:     "lat",
			LongitudeField:    "lng",
			LocationNameField: "city",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = registry.Put(context.Background(), &config.TableConfig{
		Table:            "plain",
		SearchableFields: []config.FieldConfig{{Field: "name", Boost: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewManager(store, registry), store
}

func cityRows() []map[string]any {
	return []map[string]any{
		{"id": 1, "name": "NYC Deli", "lat": nyc.Lat, "lng": nyc.Lng, "city": "New York, NY"},
		{"id": 2, "name": "LA Tacos", "lat": la.Lat, "lng": la.Lng, "city": "Los Angeles"},
	}
}

func TestIndexDocumentsGeoNotConfigured(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.IndexDocuments(context.Background(), "plain", cityRows())
	if !errors.Is(err, apperrors.ErrGeoNotConfigured) {
		t.Errorf("err = %v, want ErrGeoNotConfigured", err)
	}
}

func TestIndexDocumentsNoConfig(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.IndexDocuments(context.Background(), "unknown", cityRows())
	if !errors.Is(err, apperrors.ErrNoTableConfig) {
		t.Errorf("err = %v, want ErrNoTableConfig", err)
	}
}

func TestIndexDocumentsInvalidCoordinate(t *testing.T) {
	m, _ := newTestManager(t)
	rows := []map[string]any{
		{"id": 7, "name": "Broken", "lat": 95.0, "lng": 0.0},
	}
	_, err := m.IndexDocuments(context.Background(), "listings", rows)
	if !errors.Is(err, apperrors.ErrInvalidCoordinate) {
		t.Fatalf("err = %v, want ErrInvalidCoordinate", err)
	}
	var opErr *apperrors.OpError
	if !errors.As(err, &opErr) || opErr.Doc != "7" {
		t.Errorf("error does not name the offending document: %v", err)
	}
}

func TestIndexDocumentsSkipsMissingCoordinates(t *testing.T) {
	m, _ := newTestManager(t)
	rows := append(cityRows(), map[string]any{"id": 3, "name": "No Location"})
	indexed, err := m.IndexDocuments(context.Background(), "listings", rows)
	if err != nil {
		t.Fatal(err)
	}
	if indexed != 2 {
		t.Errorf("indexed = %d, want 2", indexed)
	}
}

func TestSearchByRadiusScenario(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	if _, err := m.IndexDocuments(ctx, "listings", cityRows()); err != nil {
		t.Fatal(err)
	}

	near, err := m.SearchByRadius(ctx, "listings", nyc, geo.Radius{Value: 10, Unit: geo.UnitKilometers}, RadiusOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(near) != 1 || near[0].DocID != "1" {
		t.Fatalf("10km results = %+v, want only doc 1", near)
	}

	wide, err := m.SearchByRadius(ctx, "listings", nyc, geo.Radius{Value: 5000, Unit: geo.UnitKilometers}, RadiusOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(wide) != 2 {
		t.Fatalf("5000km results = %+v, want both docs", wide)
	}
	if wide[0].DocID != "1" || wide[1].DocID != "2" {
		t.Errorf("results not ordered by distance: %+v", wide)
	}
	if wide[0].Distance > wide[1].Distance {
		t.Errorf("distances not ascending: %v, %v", wide[0].Distance, wide[1].Distance)
	}
	for _, r := range wide {
		if r.Relevance < 0 || r.Relevance > 1 {
			t.Errorf("doc %s relevance %v out of [0,1]", r.DocID, r.Relevance)
		}
		if r.Unit != geo.UnitKilometers {
			t.Errorf("doc %s unit = %q, want km", r.DocID, r.Unit)
		}
		if r.Data["name"] == nil {
			t.Errorf("doc %s payload missing original fields", r.DocID)
		}
		if r.Data[FieldLat] == nil || r.Data[FieldLng] == nil {
			t.Errorf("doc %s payload missing derived geo fields", r.DocID)
		}
	}
}

func TestSearchByRadiusCloserScoresHigher(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	if _, err := m.IndexDocuments(ctx, "listings", cityRows()); err != nil {
		t.Fatal(err)
	}

	results, err := m.SearchByRadius(ctx, "listings", nyc, geo.Radius{Value: 5000, Unit: geo.UnitKilometers}, RadiusOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Relevance <= results[1].Relevance {
		t.Errorf("closer doc relevance %v should exceed farther %v",
			results[0].Relevance, results[1].Relevance)
	}
}

func TestSearchByRadiusDistanceBoost(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	if _, err := m.IndexDocuments(ctx, "listings", cityRows()); err != nil {
		t.Fatal(err)
	}

	// Offset the center so the near doc sits ~40km out; at distance zero the
	// base relevance is already 1.0 and a boost would be invisible.
	center := geo.Point{Lat: nyc.Lat - 0.36, Lng: nyc.Lng}
	boosted, err := m.SearchByRadius(ctx, "listings", center,
		geo.Radius{Value: 5000, Unit: geo.UnitKilometers},
		RadiusOptions{DistanceBoosts: []DistanceBoost{{WithinKm: 50, Boost: 0.5}}})
	if err != nil {
		t.Fatal(err)
	}
	plain, err := m.SearchByRadius(ctx, "listings", center,
		geo.Radius{Value: 5000, Unit: geo.UnitKilometers}, RadiusOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// Doc 1 sits within the boost tier, doc 2 far outside it.
	if boosted[0].Relevance <= plain[0].Relevance {
		t.Errorf("boost did not raise near-doc relevance: %v vs %v",
			boosted[0].Relevance, plain[0].Relevance)
	}
	if boosted[1].Relevance != plain[1].Relevance {
		t.Errorf("boost leaked onto far doc: %v vs %v",
			boosted[1].Relevance, plain[1].Relevance)
	}
}

func TestSearchByRadiusInvalidInputs(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.SearchByRadius(ctx, "listings", geo.Point{Lat: 91, Lng: 0},
		geo.Radius{Value: 10, Unit: geo.UnitKilometers}, RadiusOptions{})
	if !errors.Is(err, apperrors.ErrInvalidCoordinate) {
		t.Errorf("invalid center err = %v, want ErrInvalidCoordinate", err)
	}

	_, err = m.SearchByRadius(ctx, "listings", nyc,
		geo.Radius{Value: -5, Unit: geo.UnitKilometers}, RadiusOptions{})
	if !errors.Is(err, apperrors.ErrInvalidGeoQuery) {
		t.Errorf("negative radius err = %v, want ErrInvalidGeoQuery", err)
	}
}

func TestSearchByLocationName(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	if _, err := m.IndexDocuments(ctx, "listings", cityRows()); err != nil {
		t.Fatal(err)
	}

	results, err := m.SearchByLocationName(ctx, "listings", "NYC", nil, RadiusOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocID != "1" {
		t.Errorf("name search = %+v, want only doc 1", results)
	}

	_, err = m.SearchByLocationName(ctx, "listings", "atlantis", nil, RadiusOptions{})
	if !errors.Is(err, apperrors.ErrUnresolvableLocation) {
		t.Errorf("unknown name err = %v, want ErrUnresolvableLocation", err)
	}
}

func clusteredRows() []map[string]any {
	rows := make([]map[string]any, 0, 11)
	id := 1
	// Five points around NYC, four around LA, two near Chicago. The Chicago
	// pair is below the minimum bucket size and must merge, not vanish.
	for i := 0; i < 5; i++ {
		rows = append(rows, map[string]any{
			"id": id, "name": "nyc", "lat": nyc.Lat + float64(i)*0.001, "lng": nyc.Lng,
		})
		id++
	}
	for i := 0; i < 4; i++ {
		rows = append(rows, map[string]any{
			"id": id, "name": "la", "lat": la.Lat + float64(i)*0.001, "lng": la.Lng,
		})
		id++
	}
	for i := 0; i < 2; i++ {
		rows = append(rows, map[string]any{
			"id": id, "name": "chi", "lat": 41.8781 + float64(i)*0.001, "lng": -87.6298,
		})
		id++
	}
	return rows
}

func TestBuildBucketsPartition(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	if _, err := m.IndexDocuments(ctx, "listings", clusteredRows()); err != nil {
		t.Fatal(err)
	}

	report, err := m.BuildBuckets(ctx, "listings", BucketBuildParams{})
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalPoints != 11 {
		t.Errorf("TotalPoints = %d, want 11", report.TotalPoints)
	}
	if report.GeoRefreshFailed {
		t.Errorf("GeoRefreshFailed set without a refresh request")
	}

	sum := 0
	for _, bucket := range report.Buckets {
		sum += bucket.Count
		if bucket.Radius.Km() < 1 {
			t.Errorf("bucket %s radius %v below 1km floor", bucket.ID, bucket.Radius)
		}
	}
	if sum != report.TotalPoints {
		t.Errorf("bucket counts sum to %d, want %d (no point dropped)", sum, report.TotalPoints)
	}

	buckets, err := m.GetBuckets(ctx, "listings")
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != report.TotalBuckets {
		t.Errorf("GetBuckets = %d buckets, report says %d", len(buckets), report.TotalBuckets)
	}
}

func TestBuildBucketsAssignsEveryDocument(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	if _, err := m.IndexDocuments(ctx, "listings", clusteredRows()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.BuildBuckets(ctx, "listings", BucketBuildParams{}); err != nil {
		t.Fatal(err)
	}

	members, err := store.GeoScan(ctx, pointsKey("listings"))
	if err != nil {
		t.Fatal(err)
	}
	for _, member := range members {
		payload, err := m.loadPayload(ctx, "listings", member.Member)
		if err != nil {
			t.Fatal(err)
		}
		bucketID, _ := payload[FieldBucketID].(string)
		if bucketID == "" {
			t.Errorf("doc %s has no bucket after build", member.Member)
		}
	}
}

func TestBuildBucketsEmptyIndex(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.BuildBuckets(context.Background(), "listings", BucketBuildParams{})
	if !errors.Is(err, apperrors.ErrIndexNotFound) {
		t.Errorf("err = %v, want ErrIndexNotFound", err)
	}
}

func TestSearchByBucket(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	if _, err := m.IndexDocuments(ctx, "listings", clusteredRows()); err != nil {
		t.Fatal(err)
	}
	report, err := m.BuildBuckets(ctx, "listings", BucketBuildParams{})
	if err != nil {
		t.Fatal(err)
	}

	bucket := report.Buckets[0]
	results, err := m.SearchByBucket(ctx, "listings", bucket.ID, RadiusOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) < bucket.Count {
		t.Errorf("bucket search returned %d results, bucket holds %d", len(results), bucket.Count)
	}

	_, err = m.SearchByBucket(ctx, "listings", "no-such-bucket", RadiusOptions{})
	if !errors.Is(err, apperrors.ErrBucketNotFound) {
		t.Errorf("missing bucket err = %v, want ErrBucketNotFound", err)
	}
}

func TestSeededBucketAssignment(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	err := m.SeedBuckets(ctx, "listings", []Bucket{
		{
			ID:           "city:new-york",
			Center:       nyc,
			Radius:       geo.Radius{Value: 50, Unit: geo.UnitKilometers},
			LocationName: "New York",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.IndexDocuments(ctx, "listings", cityRows()); err != nil {
		t.Fatal(err)
	}
	payload, err := m.loadPayload(ctx, "listings", "1")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := payload[FieldBucketID].(string); got != "city:new-york" {
		t.Errorf("doc 1 bucket = %q, want seeded containment assignment", got)
	}
}

func TestStatsAndClear(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	if _, err := m.IndexDocuments(ctx, "listings", cityRows()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.BuildBuckets(ctx, "listings", BucketBuildParams{MinBucketSize: 1}); err != nil {
		t.Fatal(err)
	}

	stats, err := m.Stats(ctx, "listings")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocuments != 2 {
		t.Errorf("TotalDocuments = %d, want 2", stats.TotalDocuments)
	}
	if stats.NormalizedLocations != 2 {
		t.Errorf("NormalizedLocations = %d, want 2", stats.NormalizedLocations)
	}
	sum := 0
	for _, n := range stats.BucketCounts {
		sum += n
	}
	if sum != 2 {
		t.Errorf("bucket counts sum = %d, want 2", sum)
	}
	if stats.IndexSizeBytes <= 0 {
		t.Errorf("IndexSizeBytes = %d, want > 0", stats.IndexSizeBytes)
	}

	if err := m.ClearIndex(ctx, "listings"); err != nil {
		t.Fatal(err)
	}
	if err := m.ClearIndex(ctx, "listings"); err != nil {
		t.Errorf("second clear err = %v, want nil", err)
	}
	cleared, err := m.Stats(ctx, "listings")
	if err != nil {
		t.Fatal(err)
	}
	if cleared.TotalDocuments != 0 {
		t.Errorf("TotalDocuments after clear = %d, want 0", cleared.TotalDocuments)
	}
}
