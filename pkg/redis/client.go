// Package redis implements kv.Store on top of go-redis/v9: plain strings,
// SCAN-based pattern deletion, sets for bucket membership, geospatial sorted
// sets for radius queries, and pipelined batches for index builds.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rowsift/rowsift/pkg/config"
	"github.com/rowsift/rowsift/pkg/kv"
)

// Client wraps a go-redis client and implements kv.Store.
type Client struct {
	rdb *redis.Client
}

var _ kv.Store = (*Client)(nil)

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns the string value for the given key, or kv.ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", kv.ErrNotFound
	}
	return value, err
}

// Set stores a value without expiry. Index keys live until cleared or
// superseded by the next generation.
func (c *Client) Set(ctx context.Context, key string, value string) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Keys scans for keys matching the glob pattern.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning pattern %s: %w", pattern, err)
	}
	return keys, nil
}

// DeletePattern scans for keys matching the glob pattern and deletes them,
// returning the number of keys removed.
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("deleting key %s: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scanning pattern %s: %w", pattern, err)
	}
	return deleted, nil
}

// SAdd adds members to a set.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SAdd(ctx, key, args...).Err()
}

// SRem removes members from a set.
func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SRem(ctx, key, args...).Err()
}

// SMembers returns all members of a set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

// GeoAdd inserts named points into a geospatial sorted set.
func (c *Client) GeoAdd(ctx context.Context, key string, members ...kv.GeoMember) error {
	if len(members) == 0 {
		return nil
	}
	locations := make([]*redis.GeoLocation, len(members))
	for i, m := range members {
		locations[i] = &redis.GeoLocation{
			Name:      m.Member,
			Latitude:  m.Lat,
			Longitude: m.Lng,
		}
	}
	return c.rdb.GeoAdd(ctx, key, locations...).Err()
}

// GeoRadiusKm returns members within radiusKm of the center, with distances,
// sorted ascending. count <= 0 means unlimited.
func (c *Client) GeoRadiusKm(ctx context.Context, key string, lat, lng, radiusKm float64, count int) ([]kv.GeoLocation, error) {
	query := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:   lat,
			Longitude:  lng,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      count,
		},
		WithCoord: true,
		WithDist:  true,
	}
	locations, err := c.rdb.GeoSearchLocation(ctx, key, query).Result()
	if err != nil {
		return nil, err
	}
	results := make([]kv.GeoLocation, len(locations))
	for i, loc := range locations {
		results[i] = kv.GeoLocation{
			Member: loc.Name,
			Lat:    loc.Latitude,
			Lng:    loc.Longitude,
			DistKm: loc.Dist,
		}
	}
	return results, nil
}

// geoScanRadiusKm exceeds the maximum great-circle distance between any two
// points on Earth, so a search with it returns every member of the set.
const geoScanRadiusKm = 22000

// GeoScan returns every member of a geo set with its coordinates.
func (c *Client) GeoScan(ctx context.Context, key string) ([]kv.GeoMember, error) {
	query := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:   0,
			Longitude:  0,
			Radius:     geoScanRadiusKm,
			RadiusUnit: "km",
		},
		WithCoord: true,
	}
	locations, err := c.rdb.GeoSearchLocation(ctx, key, query).Result()
	if err != nil {
		return nil, err
	}
	members := make([]kv.GeoMember, len(locations))
	for i, loc := range locations {
		members[i] = kv.GeoMember{
			Member: loc.Name,
			Lat:    loc.Latitude,
			Lng:    loc.Longitude,
		}
	}
	return members, nil
}

// Batch returns a pipelined batch. All queued commands go to the server in
// one round trip on Exec.
func (c *Client) Batch() kv.Batch {
	return &pipeline{pipe: c.rdb.Pipeline()}
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

type pipeline struct {
	pipe redis.Pipeliner
	n    int
}

func (p *pipeline) Set(key string, value string) {
	p.pipe.Set(context.Background(), key, value, 0)
	p.n++
}

func (p *pipeline) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	p.pipe.Del(context.Background(), keys...)
	p.n++
}

func (p *pipeline) SAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.SAdd(context.Background(), key, args...)
	p.n++
}

func (p *pipeline) GeoAdd(key string, members ...kv.GeoMember) {
	if len(members) == 0 {
		return
	}
	locations := make([]*redis.GeoLocation, len(members))
	for i, m := range members {
		locations[i] = &redis.GeoLocation{
			Name:      m.Member,
			Latitude:  m.Lat,
			Longitude: m.Lng,
		}
	}
	p.pipe.GeoAdd(context.Background(), key, locations...)
	p.n++
}

func (p *pipeline) Len() int {
	return p.n
}

func (p *pipeline) Exec(ctx context.Context) error {
	if p.n == 0 {
		return nil
	}
	if _, err := p.pipe.Exec(ctx); err != nil {
		return fmt.Errorf("executing pipeline of %d commands: %w", p.n, err)
	}
	p.n = 0
	return nil
}
