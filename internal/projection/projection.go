// Package projection places coordinates on a flat radar plane around a fixed
// observation point.
package projection

import (
	"math"

	"chronos-radar/internal/geometry"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distance.
const EarthRadiusKm = 6371.0

// Projection is a point expressed relative to the observation center.
// X grows to the east and Y to the north, both in kilometres.
type Projection struct {
	DistanceKm float64 `json:"distance_km"`
	BearingDeg float64 `json:"bearing_deg"`
	X          float64 `json:"x_km"`
	Y          float64 `json:"y_km"`
}

// Project converts point into polar and Cartesian offsets from center. It
// reports false when the point lies beyond maxRangeKm.
func Project(center, point geometry.Point, maxRangeKm float64) (Projection, bool) {
	d := Distance(center, point)
	if d > maxRangeKm {
		return Projection{}, false
	}
	b := Bearing(center, point)
	rad := b * math.Pi / 180
	return Projection{
		DistanceKm: d,
		BearingDeg: b,
		X:          d * math.Sin(rad),
		Y:          d * math.Cos(rad),
	}, true
}

// Distance is the haversine great-circle distance in kilometres.
func Distance(a, b geometry.Point) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing is the initial great-circle bearing from a to b in [0, 360).
func Bearing(a, b geometry.Point) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLon := radians(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// Destination returns the point reached by travelling distKm from origin on
// the given initial bearing.
func Destination(origin geometry.Point, bearingDeg, distKm float64) geometry.Point {
	lat1 := radians(origin.Lat)
	lon1 := radians(origin.Lon)
	brg := radians(bearingDeg)
	ang := distKm / EarthRadiusKm
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(math.Sin(brg)*math.Sin(ang)*math.Cos(lat1), math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2))
	return geometry.Point{Lat: lat2 * 180 / math.Pi, Lon: math.Mod(lon2*180/math.Pi+540, 360) - 180}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
