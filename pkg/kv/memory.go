package kv

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/rowsift/rowsift/internal/geo"
)

// Memory is an in-process Store used by package tests. Radius queries run the
// same haversine math as the engine's own distance code, so test results match
// what a geospatial sorted set would return.
type Memory struct {
	mu      sync.RWMutex
	strings map[string]string
	sets    map[string]map[string]struct{}
	geos    map[string]map[string]geo.Point
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		geos:    make(map[string]map[string]geo.Point),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *Memory) Set(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.strings, key)
		delete(m.sets, key)
		delete(m.geos, key)
	}
	return nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.strings {
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	for key := range m.sets {
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	for key := range m.geos {
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := m.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if err := m.Del(ctx, keys...); err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.sets[key]
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *Memory) GeoAdd(_ context.Context, key string, members ...GeoMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	points, ok := m.geos[key]
	if !ok {
		points = make(map[string]geo.Point)
		m.geos[key] = points
	}
	for _, member := range members {
		points[member.Member] = geo.Point{Lat: member.Lat, Lng: member.Lng}
	}
	return nil
}

func (m *Memory) GeoRadiusKm(_ context.Context, key string, lat, lng, radiusKm float64, count int) ([]GeoLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	center := geo.Point{Lat: lat, Lng: lng}
	var results []GeoLocation
	for member, point := range m.geos[key] {
		dist := geo.DistanceKm(center, point)
		if dist <= radiusKm {
			results = append(results, GeoLocation{
				Member: member,
				Lat:    point.Lat,
				Lng:    point.Lng,
				DistKm: dist,
			})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].DistKm != results[j].DistKm {
			return results[i].DistKm < results[j].DistKm
		}
		return results[i].Member < results[j].Member
	})
	if count > 0 && len(results) > count {
		results = results[:count]
	}
	return results, nil
}

func (m *Memory) GeoScan(_ context.Context, key string) ([]GeoMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := make([]GeoMember, 0, len(m.geos[key]))
	for member, point := range m.geos[key] {
		members = append(members, GeoMember{Member: member, Lat: point.Lat, Lng: point.Lng})
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].Member < members[j].Member
	})
	return members, nil
}

func (m *Memory) Batch() Batch {
	return &memoryBatch{store: m}
}

type memoryOp struct {
	kind    int
	key     string
	value   string
	members []string
	geos    []GeoMember
}

const (
	opSet = iota
	opDel
	opSAdd
	opGeoAdd
)

type memoryBatch struct {
	store *Memory
	ops   []memoryOp
}

func (b *memoryBatch) Set(key string, value string) {
	b.ops = append(b.ops, memoryOp{kind: opSet, key: key, value: value})
}

func (b *memoryBatch) Del(keys ...string) {
	b.ops = append(b.ops, memoryOp{kind: opDel, members: keys})
}

func (b *memoryBatch) SAdd(key string, members ...string) {
	b.ops = append(b.ops, memoryOp{kind: opSAdd, key: key, members: members})
}

func (b *memoryBatch) GeoAdd(key string, members ...GeoMember) {
	b.ops = append(b.ops, memoryOp{kind: opGeoAdd, key: key, geos: members})
}

func (b *memoryBatch) Len() int {
	return len(b.ops)
}

func (b *memoryBatch) Exec(ctx context.Context) error {
	for _, op := range b.ops {
		switch op.kind {
		case opSet:
			if err := b.store.Set(ctx, op.key, op.value); err != nil {
				return err
			}
		case opDel:
			if err := b.store.Del(ctx, op.members...); err != nil {
				return err
			}
		case opSAdd:
			if err := b.store.SAdd(ctx, op.key, op.members...); err != nil {
				return err
			}
		case opGeoAdd:
			if err := b.store.GeoAdd(ctx, op.key, op.geos...); err != nil {
				return err
			}
		}
	}
	b.ops = b.ops[:0]
	return nil
}
