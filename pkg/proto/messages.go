// Package proto defines the Kafka message types exchanged with the engine's
// external collaborators: rebuild triggers in, completion events out.
package proto

import "time"

// RebuildRequest asks the daemon to (re)build a table's inverted index.
type RebuildRequest struct {
	Table string `json:"table"`
	// Full forces a clear+build with a generation swap; false performs a
	// plain build, which is only safe for a previously empty table.
	Full        bool   `json:"full"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// BucketBuildRequest asks the daemon to rebuild a table's geo buckets.
type BucketBuildRequest struct {
	Table            string `json:"table"`
	TargetBucketSize int    `json:"target_bucket_size,omitempty"`
	GridSizeKm       float64 `json:"grid_size_km,omitempty"`
	MinBucketSize    int    `json:"min_bucket_size,omitempty"`
	RefreshGeoIndex  bool   `json:"refresh_geo_index,omitempty"`
}

// IndexCompleteEvent is published after a build finishes, successfully or not.
type IndexCompleteEvent struct {
	Table       string    `json:"table"`
	Operation   string    `json:"operation"` // rebuild | geo-buckets
	Documents   int       `json:"documents"`
	Terms       int       `json:"terms"`
	Buckets     int       `json:"buckets,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
