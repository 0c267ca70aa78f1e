// Package geo holds the spherical-earth math used for geofencing.
package geo

import "math"

// EarthRadiusMeters is the mean earth radius.
const EarthRadiusMeters = 6371000.0

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineMeters returns the great-circle distance between two coordinates.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// WithinCircle reports whether (lat, lon) is no farther than radiusMeters from the center.
func WithinCircle(lat, lon, centerLat, centerLon, radiusMeters float64) bool {
	return HaversineMeters(lat, lon, centerLat, centerLon) <= radiusMeters
}

// WithinPolygon is an even-odd ray casting test. Vertices are treated as a closed ring.
func WithinPolygon(vertices []Point, lat, lon float64) bool {
	n := len(vertices)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := vertices[i], vertices[j]
		if (vi.Lat > lat) != (vj.Lat > lat) {
			cross := (vj.Lng-vi.Lng)*(lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lng
			if lon < cross {
				inside = !inside
			}
		}
	}
	return inside
}

// BearingDegrees returns the initial bearing from point 1 to point 2 in [0, 360).
func BearingDegrees(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dLambda := radians(lon2 - lon1)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	deg := math.Mod(degrees(math.Atan2(y, x))+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// Fence is a named area: a circle, or a polygon when it has at least three vertices.
type Fence struct {
	Center       Point   `json:"center"`
	RadiusMeters float64 `json:"radius_meters"`
	Polygon      []Point `json:"polygon,omitempty"`
}

func (f Fence) Contains(lat, lon float64) bool {
	if len(f.Polygon) >= 3 {
		return WithinPolygon(f.Polygon, lat, lon)
	}
	if f.RadiusMeters <= 0 {
		return false
	}
	return WithinCircle(lat, lon, f.Center.Lat, f.Center.Lng, f.RadiusMeters)
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
