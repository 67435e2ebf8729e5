// Package geo holds the location value type shared by the solver and the distance oracles.
package geo

import (
	"fmt"
	"math"
)

// Location is a point handed to the routing backend. Equality is structural.
type Location struct {
	Lng       float64 `json:"lng" yaml:"lng"`
	Lat       float64 `json:"lat" yaml:"lat"`
	Waypoint  string  `json:"waypointId,omitempty" yaml:"waypoint_id,omitempty"`
	Station   string  `json:"stationId,omitempty" yaml:"station_id,omitempty"`
	Direction int     `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// Valid reports whether the coordinates are inside the WGS84 range.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180 &&
		!math.IsNaN(l.Lat) && !math.IsNaN(l.Lng)
}

// Key returns a stable text form rounded to 1e-6 degrees (about 10cm).
func (l Location) Key() string {
	return fmt.Sprintf("%.6f,%.6f", l.Lng, l.Lat)
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b Location) float64 {
	const r = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return r * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
