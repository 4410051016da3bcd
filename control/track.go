package control

import (
	"fmt"
	"math"
)

// Vec2 is a position in the track plane, in metres.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between two points.
func (v Vec2) Distance(o Vec2) float64 {
	return math.Hypot(v.X-o.X, v.Y-o.Y)
}

// Finite reports whether both coordinates are finite numbers.
func (v Vec2) Finite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) && !math.IsNaN(v.Y) && !math.IsInf(v.Y, 0)
}

// AngleOf returns the angular position of p around the track centre in (-π, π].
// Angle 0 is the start/finish line; progress runs counter-clockwise.
func (t TrackConfig) AngleOf(p Vec2) float64 {
	return math.Atan2(p.Y-t.CentreY, p.X-t.CentreX)
}

// PointAt returns the point at the given angle and radius from the centre.
func (t TrackConfig) PointAt(angle, radius float64) Vec2 {
	return Vec2{
		X: t.CentreX + math.Cos(angle)*radius,
		Y: t.CentreY + math.Sin(angle)*radius,
	}
}

// OffTrack reports whether p lies outside the track edges.
func (t TrackConfig) OffTrack(p Vec2) bool {
	r := math.Hypot(p.X-t.CentreX, p.Y-t.CentreY)
	return r < t.InnerRadius || r > t.InnerRadius+t.Width
}

// Location names the part of the track at lapDistance metres into a lap:
// the nearest turn (1-based) and the kilometre marker.
func (t TrackConfig) Location(lapDistance float64) (turn int, km float64, label string) {
	c := t.Circumference()
	d := math.Mod(math.Max(lapDistance, 0), c)
	turn = int(math.Round(d/c*float64(t.Turns)))%t.Turns + 1
	km = d / 1000
	return turn, km, fmt.Sprintf("Turn %d (%.2f km)", turn, km)
}

// unwrapDelta folds an angle difference into (-π, π] so a crossing of the
// ±π seam reads as a small step rather than a full revolution.
// A non-finite difference reads as no movement.
func unwrapDelta(delta float64) float64 {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0
	}
	for delta > math.Pi {
		delta -= 2 * math.Pi
	}
	for delta <= -math.Pi {
		delta += 2 * math.Pi
	}
	return delta
}

// normalizeAngle maps an angle into [0, 2π).
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
