package geometry

import (
	"encoding/json"
	"strings"

	geojson "github.com/paulmach/go.geojson"

	"chronos-radar/internal/event"
)

var geometryKeys = []string{"geometry", "affected_area"}

// explicitGeometry reads a declared geometry object. Circle is not a GeoJSON
// type and is decoded by hand; everything else goes through go.geojson.
// Polygons and lines are anchored at their first vertex.
func explicitGeometry(m map[string]any) (Point, shape, bool) {
	obj := event.Map(m, geometryKeys...)
	if obj == nil {
		return Point{}, shape{}, false
	}
	typ := event.String(obj, "type")
	if strings.EqualFold(typ, "circle") {
		return circle(obj)
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return Point{}, shape{}, false
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return Point{}, shape{}, false
	}
	var pos []float64
	switch {
	case g.IsPoint():
		pos = g.Point
	case g.IsMultiPoint() && len(g.MultiPoint) > 0:
		pos = g.MultiPoint[0]
	case g.IsLineString() && len(g.LineString) > 0:
		pos = g.LineString[0]
	case g.IsPolygon() && len(g.Polygon) > 0 && len(g.Polygon[0]) > 0:
		pos = g.Polygon[0][0]
	case g.IsMultiPolygon() && len(g.MultiPolygon) > 0 && len(g.MultiPolygon[0]) > 0 && len(g.MultiPolygon[0][0]) > 0:
		pos = g.MultiPolygon[0][0][0]
	}
	p, ok := lonLat(pos)
	if !ok {
		return Point{}, shape{}, false
	}
	return p, shape{Type: string(g.Type), RadiusM: radius(obj)}, true
}

func circle(obj map[string]any) (Point, shape, bool) {
	var pos []float64
	if coords, ok := obj["coordinates"].([]any); ok {
		for _, c := range coords {
			f, ok := event.Number(c)
			if !ok {
				return Point{}, shape{}, false
			}
			pos = append(pos, f)
		}
	} else if center := event.Map(obj, "center"); center != nil {
		p, ok := latLon(center, latKeys, lonKeys)
		return p, shape{Type: "Circle", RadiusM: radius(obj)}, ok
	}
	p, ok := lonLat(pos)
	if !ok {
		return Point{}, shape{}, false
	}
	return p, shape{Type: "Circle", RadiusM: radius(obj)}, true
}

// lonLat reads a GeoJSON position, which is ordered [lon, lat].
func lonLat(pos []float64) (Point, bool) {
	if len(pos) < 2 || !validPoint(pos[1], pos[0]) {
		return Point{}, false
	}
	return Point{Lat: pos[1], Lon: pos[0]}, true
}
