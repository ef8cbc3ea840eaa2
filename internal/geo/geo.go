// Package geo provides great-circle distance math over WGS-84 coordinates.
//
// All distance comparisons in this service are inclusive (<=) so that the
// write path (clustering) and read path (radius queries) agree on whether a
// point at exactly the cluster radius belongs to a hotspot.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by the Haversine formula.
const EarthRadiusKm = 6371.0

// Coordinate is a WGS-84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" db:"lat"`
	Lon float64 `json:"lon" db:"lon"`
}

// HaversineDistanceKm returns the great-circle distance between a and b in
// kilometers. Accurate to within the standard Haversine error (<0.5%) for all
// valid coordinate pairs, including antimeridian and pole-adjacent points.
func HaversineDistanceKm(a, b Coordinate) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat + math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// WithinRadiusKm reports whether b lies within radiusKm of a, boundary
// inclusive.
//
// For sub-kilometer radii with both points more than 1° from the poles it
// uses an equirectangular approximation, which is well under 0.1% error at
// that scale and roughly 3x cheaper than the exact formula. All other inputs
// fall back to exact Haversine.
func WithinRadiusKm(a, b Coordinate, radiusKm float64) bool {
	if radiusKm < 1.0 && math.Abs(a.Lat) < 89 && math.Abs(b.Lat) < 89 {
		dLon := normalizeLonDelta(b.Lon - a.Lon)
		// Approximation only holds when the longitude span is itself small.
		if math.Abs(dLon) < 1 {
			x := radians(dLon) * math.Cos(radians((a.Lat+b.Lat)/2))
			y := radians(b.Lat - a.Lat)
			return EarthRadiusKm*math.Sqrt(x*x+y*y) <= radiusKm
		}
	}
	return HaversineDistanceKm(a, b) <= radiusKm
}

// BBox is a latitude/longitude bounding box used as a coarse prefilter before
// exact distance checks. When MinLon > MaxLon the box wraps the antimeridian.
type BBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// BoundingBoxKm returns a box guaranteed to contain every point within
// radiusKm of center. The box is slightly padded; callers must still apply an
// exact distance check.
func BoundingBoxKm(center Coordinate, radiusKm float64) BBox {
	// Degrees of latitude per km is nearly constant; longitude shrinks with
	// cos(lat). Factors per the WGS-84 ellipsoid, padded 1%.
	latDelta := radiusKm / 110.574 * 1.01

	box := BBox{
		MinLat: center.Lat - latDelta,
		MaxLat: center.Lat + latDelta,
	}
	if box.MinLat < -90 {
		box.MinLat = -90
	}
	if box.MaxLat > 90 {
		box.MaxLat = 90
	}

	cosLat := math.Cos(radians(center.Lat))
	if cosLat <= 0.01 {
		// Near a pole every longitude is close; take the full range.
		box.MinLon, box.MaxLon = -180, 180
		return box
	}

	lonDelta := radiusKm / (111.320 * cosLat) * 1.01
	if lonDelta >= 180 {
		box.MinLon, box.MaxLon = -180, 180
		return box
	}

	box.MinLon = normalizeLon(center.Lon - lonDelta)
	box.MaxLon = normalizeLon(center.Lon + lonDelta)
	return box
}

// Contains reports whether c lies inside the box, handling antimeridian wrap.
func (b BBox) Contains(c Coordinate) bool {
	if c.Lat < b.MinLat || c.Lat > b.MaxLat {
		return false
	}
	if b.MinLon <= b.MaxLon {
		return c.Lon >= b.MinLon && c.Lon <= b.MaxLon
	}
	return c.Lon >= b.MinLon || c.Lon <= b.MaxLon
}

// Wraps reports whether the box crosses the antimeridian.
func (b BBox) Wraps() bool {
	return b.MinLon > b.MaxLon
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// normalizeLonDelta folds a longitude difference into [-180, 180].
func normalizeLonDelta(d float64) float64 {
	for d > 180 {
		d -= 360
	}
	for d < -180 {
		d += 360
	}
	return d
}

// normalizeLon folds a longitude into [-180, 180].
func normalizeLon(lon float64) float64 {
	return normalizeLonDelta(lon)
}
