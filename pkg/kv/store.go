// Package kv defines the key-value store operations the index and geo
// managers depend on. The production implementation is pkg/redis; an
// in-memory implementation backs package tests.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// IsNotFound reports whether err is a key-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// GeoMember is a named point for geo-set insertion.
type GeoMember struct {
	Member string
	Lat    float64
	Lng    float64
}

// GeoLocation is a geo-set member returned from a radius query, with its
// distance from the query center in kilometers.
type GeoLocation struct {
	Member string
	Lat    float64
	Lng    float64
	DistKm float64
}

// Store is the key-value surface consumed by the engine. Implementations must
// return results of GeoRadiusKm sorted ascending by distance.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	DeletePattern(ctx context.Context, pattern string) (int64, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	GeoAdd(ctx context.Context, key string, members ...GeoMember) error
	GeoRadiusKm(ctx context.Context, key string, lat, lng, radiusKm float64, count int) ([]GeoLocation, error)
	GeoScan(ctx context.Context, key string) ([]GeoMember, error)

	Batch() Batch
}

// Batch queues write commands for a single pipelined round trip. Exec either
// applies every queued command or reports an error with nothing guaranteed
// applied; builds treat any Exec failure as a full build failure.
type Batch interface {
	Set(key string, value string)
	Del(keys ...string)
	SAdd(key string, members ...string)
	GeoAdd(key string, members ...GeoMember)
	Len() int
	Exec(ctx context.Context) error
}
