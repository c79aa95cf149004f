// Package geo provides great-circle distance math, bounding boxes, and
// centroid computation for the geo index. All functions are pure.
package geo

import (
	"fmt"
	"math"
)

// Earth radii per supported unit.
const (
	EarthRadiusKm     = 6371.0
	EarthRadiusMiles  = 3959.0
	EarthRadiusMeters = 6371000.0
)

// Supported distance units.
const (
	UnitKilometers = "km"
	UnitMiles      = "mi"
	UnitMeters     = "m"
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within [-90,90] latitude and
// [-180,180] longitude and carries no NaN.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Radius is a distance with a unit.
type Radius struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Km converts the radius to kilometers. Unknown units are treated as
// kilometers.
func (r Radius) Km() float64 {
	switch r.Unit {
	case UnitMiles:
		return r.Value * EarthRadiusKm / EarthRadiusMiles
	case UnitMeters:
		return r.Value / 1000.0
	default:
		return r.Value
	}
}

func (r Radius) String() string {
	unit := r.Unit
	if unit == "" {
		unit = UnitKilometers
	}
	return fmt.Sprintf("%g%s", r.Value, unit)
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	NorthEast Point `json:"northEast"`
	SouthWest Point `json:"southWest"`
}

// Contains reports whether p falls inside the box. It does not handle boxes
// spanning the antimeridian; bucket bounds never do.
func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.SouthWest.Lat && p.Lat <= b.NorthEast.Lat &&
		p.Lng >= b.SouthWest.Lng && p.Lng <= b.NorthEast.Lng
}

// Distance returns the great-circle distance between a and b in the given
// unit using the haversine formula.
func Distance(a, b Point, unit string) float64 {
	var radius float64
	switch unit {
	case UnitMiles:
		radius = EarthRadiusMiles
	case UnitMeters:
		radius = EarthRadiusMeters
	default:
		radius = EarthRadiusKm
	}
	return haversine(a, b) * radius
}

// DistanceKm returns the great-circle distance between a and b in kilometers.
func DistanceKm(a, b Point) float64 {
	return haversine(a, b) * EarthRadiusKm
}

// haversine returns the central angle between two points in radians.
func haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// BoundingBox returns a box that encloses the circle of radiusKm around
// center. Longitude spread widens toward the poles; at the poles the box
// covers all longitudes.
func BoundingBox(center Point, radiusKm float64) Bounds {
	latDelta := radiusKm / 111.045
	cosLat := math.Cos(center.Lat * math.Pi / 180)
	lngDelta := 180.0
	if cosLat > 1e-9 {
		lngDelta = radiusKm / (111.045 * cosLat)
	}
	return Bounds{
		NorthEast: Point{
			Lat: math.Min(center.Lat+latDelta, 90),
			Lng: math.Min(center.Lng+lngDelta, 180),
		},
		SouthWest: Point{
			Lat: math.Max(center.Lat-latDelta, -90),
			Lng: math.Max(center.Lng-lngDelta, -180),
		},
	}
}

// Centroid computes the center of a set of points by averaging their unit
// vectors, which avoids longitude wraparound error near the antimeridian.
// The zero Point is returned for an empty set.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var x, y, z float64
	for _, p := range points {
		lat := p.Lat * math.Pi / 180
		lng := p.Lng * math.Pi / 180
		x += math.Cos(lat) * math.Cos(lng)
		y += math.Cos(lat) * math.Sin(lng)
		z += math.Sin(lat)
	}
	n := float64(len(points))
	x /= n
	y /= n
	z /= n
	hyp := math.Sqrt(x*x + y*y)
	return Point{
		Lat: math.Atan2(z, hyp) * 180 / math.Pi,
		Lng: math.Atan2(y, x) * 180 / math.Pi,
	}
}
