package geoindex

import (
	"fmt"
	"time"

	"github.com/rowsift/rowsift/internal/geo"
)

// Derived field names attached to geo-indexed document payloads.
const (
	FieldLat          = "_geo_lat"
	FieldLng          = "_geo_lng"
	FieldLocationName = "_geo_location_name"
	FieldBucketID     = "_geo_bucket_id"
)

// DefaultNameRadius is the search radius used for location-name queries when
// the caller does not override it.
var DefaultNameRadius = geo.Radius{Value: 25, Unit: geo.UnitKilometers}

// Bucket is a named geographic cluster: a center, a radius covering its
// members, and a member count. Buckets are either seeded statically or
// produced by BuildBuckets.
type Bucket struct {
	ID           string      `json:"id"`
	Center       geo.Point   `json:"center"`
	Radius       geo.Radius  `json:"radius"`
	Bounds       *geo.Bounds `json:"bounds,omitempty"`
	Count        int         `json:"count"`
	LocationName string      `json:"locationName,omitempty"`
}

// Contains reports whether the point falls within the bucket's radius.
func (b Bucket) Contains(p geo.Point) bool {
	return geo.DistanceKm(b.Center, p) <= b.Radius.Km()
}

// DistanceBoost lifts the relevance of results closer than WithinKm. When a
// result qualifies for several tiers only the largest boost applies.
type DistanceBoost struct {
	WithinKm float64 `json:"within_km"`
	Boost    float64 `json:"boost"`
}

// RadiusOptions tune a radius search.
type RadiusOptions struct {
	Limit          int
	DistanceBoosts []DistanceBoost
}

// Result is one geo search hit, ordered ascending by distance.
type Result struct {
	DocID     string         `json:"doc_id"`
	Data      map[string]any `json:"data"`
	Point     geo.Point      `json:"point"`
	Distance  float64        `json:"distance"`
	Unit      string         `json:"unit"`
	Relevance float64        `json:"relevance"`
}

// BucketBuildParams control the clustering pass.
type BucketBuildParams struct {
	TargetBucketSize int     `json:"target_bucket_size"`
	GridSizeKm       float64 `json:"grid_size_km"`
	MinBucketSize    int     `json:"min_bucket_size"`
	// RefreshGeoIndex rebuilds the raw geo index from the row source before
	// clustering. A refresh failure does not abort the build; see
	// BucketBuildReport.GeoRefreshFailed.
	RefreshGeoIndex bool `json:"refresh_geo_index"`
}

func (p BucketBuildParams) withDefaults() BucketBuildParams {
	if p.TargetBucketSize <= 0 {
		p.TargetBucketSize = 5
	}
	if p.GridSizeKm <= 0 {
		p.GridSizeKm = 10
	}
	if p.MinBucketSize <= 0 {
		p.MinBucketSize = 3
	}
	return p
}

// BucketBuildReport summarises a BuildBuckets run.
type BucketBuildReport struct {
	TotalBuckets int       `json:"total_buckets"`
	TotalPoints  int       `json:"total_points"`
	Buckets      []Bucket  `json:"buckets"`
	BuiltAt      time.Time `json:"built_at"`
	// GeoRefreshFailed is set when the requested pre-clustering index
	// refresh failed and clustering ran on the existing geo index.
	GeoRefreshFailed bool `json:"geo_refresh_failed,omitempty"`
}

// Stats describes a table's geo index.
type Stats struct {
	TotalDocuments      int            `json:"total_documents"`
	BucketCounts        map[string]int `json:"bucket_counts"`
	NormalizedLocations int            `json:"normalized_locations"`
	// IndexSizeBytes is extrapolated from a sample of stored payloads, not
	// an exhaustive walk.
	IndexSizeBytes int64 `json:"index_size_bytes"`
}

// Geo index keys, scoped per table:
//
//	geo:<table>:points          geospatial sorted set (member = docID)
//	geo:<table>:doc:<id>        JSON payload with _geo_* fields
//	geo:<table>:bucket:<id>     JSON Bucket
//	geo:<table>:bucketdocs:<id> set of member docIDs
//	geo:<table>:buckets         set of bucket ids
//	geo:<table>:locations       set of canonical location names seen
//	geo:<table>:meta            JSON BucketBuildReport of the last build
const keyPrefix = "geo"

func pointsKey(table string) string {
	return fmt.Sprintf("%s:%s:points", keyPrefix, table)
}

func geoDocKey(table string, docID string) string {
	return fmt.Sprintf("%s:%s:doc:%s", keyPrefix, table, docID)
}

func bucketKey(table string, bucketID string) string {
	return fmt.Sprintf("%s:%s:bucket:%s", keyPrefix, table, bucketID)
}

func bucketDocsKey(table string, bucketID string) string {
	return fmt.Sprintf("%s:%s:bucketdocs:%s", keyPrefix, table, bucketID)
}

func bucketSetKey(table string) string {
	return fmt.Sprintf("%s:%s:buckets", keyPrefix, table)
}

func locationsKey(table string) string {
	return fmt.Sprintf("%s:%s:locations", keyPrefix, table)
}

func metaKey(table string) string {
	return fmt.Sprintf("%s:%s:meta", keyPrefix, table)
}

func tablePattern(table string) string {
	return fmt.Sprintf("%s:%s:*", keyPrefix, table)
}

func bucketPattern(table string) string {
	return fmt.Sprintf("%s:%s:bucket*", keyPrefix, table)
}
