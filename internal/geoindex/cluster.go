package geoindex

import (
	"math"
	"sort"

	"github.com/rowsift/rowsift/internal/geo"
	"github.com/rowsift/rowsift/pkg/kv"
)

// kmPerDegreeLat is the approximate surface distance of one degree of
// latitude; longitude degrees shrink by cos(lat).
const kmPerDegreeLat = 111.045

// maxSplitDepth caps recursive cell splitting at 1/16 of the original grid
// size.
const maxSplitDepth = 4

type cell struct {
	members  []kv.GeoMember
	centroid geo.Point
}

// clusterPoints partitions the points into a regular grid of gridKm-sided
// cells, recursively splits over-populated cells, and greedily merges cells
// below the minimum size into their nearest neighbor. Every input point ends
// up in exactly one cluster; small clusters are merged away, never dropped.
// This is a single greedy balancing pass, not a convergence-guaranteed
// k-means.
func clusterPoints(members []kv.GeoMember, params BucketBuildParams) []cell {
	if len(members) == 0 {
		return nil
	}

	refLat := meanLat(members)
	latStep := params.GridSizeKm / kmPerDegreeLat
	lngStep := 360.0
	if cosLat := math.Cos(refLat * math.Pi / 180); cosLat > 1e-9 {
		lngStep = params.GridSizeKm / (kmPerDegreeLat * cosLat)
	}

	grid := make(map[[2]int][]kv.GeoMember)
	for _, m := range members {
		key := [2]int{
			int(math.Floor(m.Lat / latStep)),
			int(math.Floor(m.Lng / lngStep)),
		}
		grid[key] = append(grid[key], m)
	}

	var cells []cell
	for _, cellMembers := range grid {
		cells = append(cells, splitCell(cellMembers, params.TargetBucketSize, latStep, lngStep, 0)...)
	}
	cells = mergeSmall(cells, params.MinBucketSize)

	// Stable order: biggest first, centroid as tiebreak, so bucket ids are
	// reproducible across builds of the same point set.
	sort.Slice(cells, func(i, j int) bool {
		if len(cells[i].members) != len(cells[j].members) {
			return len(cells[i].members) > len(cells[j].members)
		}
		if cells[i].centroid.Lat != cells[j].centroid.Lat {
			return cells[i].centroid.Lat < cells[j].centroid.Lat
		}
		return cells[i].centroid.Lng < cells[j].centroid.Lng
	})
	return cells
}

// splitCell recursively quarters a cell while it holds more than twice the
// target population.
func splitCell(members []kv.GeoMember, target int, latStep, lngStep float64, depth int) []cell {
	if len(members) <= 2*target || depth >= maxSplitDepth {
		return []cell{newCell(members)}
	}
	halfLat := latStep / 2
	halfLng := lngStep / 2
	quads := make(map[[2]int][]kv.GeoMember)
	for _, m := range members {
		key := [2]int{
			int(math.Floor(m.Lat / halfLat)),
			int(math.Floor(m.Lng / halfLng)),
		}
		quads[key] = append(quads[key], m)
	}
	if len(quads) <= 1 {
		// All points share a sub-cell; further splitting cannot separate them.
		return []cell{newCell(members)}
	}
	var cells []cell
	for _, quadMembers := range quads {
		cells = append(cells, splitCell(quadMembers, target, halfLat, halfLng, depth+1)...)
	}
	return cells
}

// mergeSmall folds every cell below minSize into its nearest neighbor by
// centroid distance.
func mergeSmall(cells []cell, minSize int) []cell {
	for {
		if len(cells) <= 1 {
			return cells
		}
		smallest := -1
		for i, c := range cells {
			if len(c.members) >= minSize {
				continue
			}
			if smallest < 0 || len(c.members) < len(cells[smallest].members) {
				smallest = i
			}
		}
		if smallest < 0 {
			return cells
		}
		nearest := -1
		nearestDist := math.MaxFloat64
		for i, c := range cells {
			if i == smallest {
				continue
			}
			d := geo.DistanceKm(cells[smallest].centroid, c.centroid)
			if d < nearestDist {
				nearestDist = d
				nearest = i
			}
		}
		merged := newCell(append(cells[nearest].members, cells[smallest].members...))
		cells[nearest] = merged
		cells = append(cells[:smallest], cells[smallest+1:]...)
	}
}

func newCell(members []kv.GeoMember) cell {
	points := make([]geo.Point, len(members))
	for i, m := range members {
		points[i] = geo.Point{Lat: m.Lat, Lng: m.Lng}
	}
	return cell{members: members, centroid: geo.Centroid(points)}
}

func meanLat(members []kv.GeoMember) float64 {
	sum := 0.0
	for _, m := range members {
		sum += m.Lat
	}
	return sum / float64(len(members))
}

// bucketFromCell derives the persisted bucket: unit-vector centroid, a radius
// covering the farthest member, and an axis-aligned bounding box.
func bucketFromCell(id string, c cell) Bucket {
	maxDist := 0.0
	minLat, maxLat := math.MaxFloat64, -math.MaxFloat64
	minLng, maxLng := math.MaxFloat64, -math.MaxFloat64
	for _, m := range c.members {
		p := geo.Point{Lat: m.Lat, Lng: m.Lng}
		if d := geo.DistanceKm(c.centroid, p); d > maxDist {
			maxDist = d
		}
		minLat = math.Min(minLat, m.Lat)
		maxLat = math.Max(maxLat, m.Lat)
		minLng = math.Min(minLng, m.Lng)
		maxLng = math.Max(maxLng, m.Lng)
	}
	if maxDist < 1 {
		maxDist = 1
	}
	return Bucket{
		ID:     id,
		Center: c.centroid,
		Radius: geo.Radius{Value: maxDist, Unit: geo.UnitKilometers},
		Bounds: &geo.Bounds{
			NorthEast: geo.Point{Lat: maxLat, Lng: maxLng},
			SouthWest: geo.Point{Lat: minLat, Lng: minLng},
		},
		Count: len(c.members),
	}
}
