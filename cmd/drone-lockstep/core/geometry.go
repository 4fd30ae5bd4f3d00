package core

import "fmt"

// Position is a drone location in simulation units
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Sentinel marks the end of a trajectory. It is never a real location.
var Sentinel = Position{}

// IsSentinel reports whether p is the reserved (0,0,0) end-of-data marker
func (p Position) IsSentinel() bool {
	return p == Sentinel
}

// String formats the position the way reports print it
func (p Position) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", p.X, p.Y, p.Z)
}

// AABB is an axis-aligned bounding box derived from a position and the
// simulation-wide drone size
type AABB struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// BoundingBox returns pos ± size/2 on every axis
func BoundingBox(pos Position, size float64) AABB {
	half := size / 2
	return AABB{
		MinX: pos.X - half,
		MaxX: pos.X + half,
		MinY: pos.Y - half,
		MaxY: pos.Y + half,
		MinZ: pos.Z - half,
		MaxZ: pos.Z + half,
	}
}

// Intersects reports whether the two boxes overlap on all three axes.
// Touching faces count as an intersection.
func (a AABB) Intersects(b AABB) bool {
	return a.MinX <= b.MaxX && a.MaxX >= b.MinX &&
		a.MinY <= b.MaxY && a.MaxY >= b.MinY &&
		a.MinZ <= b.MaxZ && a.MaxZ >= b.MinZ
}

// String formats the box as per-axis intervals
func (a AABB) String() string {
	return fmt.Sprintf("[%.1f..%.1f, %.1f..%.1f, %.1f..%.1f]",
		a.MinX, a.MaxX, a.MinY, a.MaxY, a.MinZ, a.MaxZ)
}

// Collides is a shorthand for BoundingBox(a).Intersects(BoundingBox(b))
func Collides(a, b Position, size float64) bool {
	return BoundingBox(a, size).Intersects(BoundingBox(b, size))
}
