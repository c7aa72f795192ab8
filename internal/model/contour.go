package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrUnknownContour = errors.New("unknown contour kind")

const (
	ContourCircle  = "circle"
	ContourPolygon = "polygon"
)

// Contour is the fascicle cross-section: either a circle or a closed polygon
// given by its ordered vertices.
type Contour struct {
	Kind     string  `json:"kind"`
	Diameter float64 `json:"diameter,omitempty"`
	Center   Point   `json:"center"`
	Vertices []Point `json:"vertices,omitempty"`
}

func CircleContour(diameter float64, center Point) Contour {
	return Contour{Kind: ContourCircle, Diameter: diameter, Center: center}
}

// PolygonContour builds a polygon contour; its center is the vertex centroid.
func PolygonContour(vertices []Point) Contour {
	var cy, cz float64
	for _, v := range vertices {
		cy += v.Y
		cz += v.Z
	}
	if n := float64(len(vertices)); n > 0 {
		cy /= n
		cz /= n
	}
	return Contour{
		Kind:     ContourPolygon,
		Center:   Point{Y: cy, Z: cz},
		Vertices: append([]Point(nil), vertices...),
	}
}

func (c Contour) Validate() error {
	switch c.Kind {
	case ContourCircle:
		if c.Diameter <= 0 {
			return fmt.Errorf("circle contour diameter must be positive, got %g", c.Diameter)
		}
	case ContourPolygon:
		if len(c.Vertices) < 3 {
			return fmt.Errorf("polygon contour needs at least 3 vertices, got %d", len(c.Vertices))
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownContour, c.Kind)
	}
	return nil
}

// Radius is the circle radius, or the largest center-to-vertex distance of a polygon.
func (c Contour) Radius() float64 {
	if c.Kind == ContourCircle {
		return c.Diameter / 2
	}
	var r float64
	for _, v := range c.Vertices {
		r = math.Max(r, math.Hypot(v.Y-c.Center.Y, v.Z-c.Center.Z))
	}
	return r
}

func (c Contour) Area() float64 {
	if c.Kind == ContourCircle {
		return math.Pi * c.Diameter * c.Diameter / 4
	}
	var sum float64
	n := len(c.Vertices)
	for i := 0; i < n; i++ {
		a, b := c.Vertices[i], c.Vertices[(i+1)%n]
		sum += a.Y*b.Z - b.Y*a.Z
	}
	return math.Abs(sum) / 2
}

// ContainsCircle reports whether a disc of radius r centered at (y, z) lies
// entirely inside the contour.
func (c Contour) ContainsCircle(y, z, r float64) bool {
	if c.Kind == ContourCircle {
		return math.Hypot(y-c.Center.Y, z-c.Center.Z)+r <= c.Diameter/2
	}
	if !c.containsPoint(y, z) {
		return false
	}
	n := len(c.Vertices)
	for i := 0; i < n; i++ {
		if segmentDistance(y, z, c.Vertices[i], c.Vertices[(i+1)%n]) < r {
			return false
		}
	}
	return true
}

func (c Contour) containsPoint(y, z float64) bool {
	inside := false
	n := len(c.Vertices)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := c.Vertices[i], c.Vertices[j]
		if (a.Z > z) != (b.Z > z) && y < (b.Y-a.Y)*(z-a.Z)/(b.Z-a.Z)+a.Y {
			inside = !inside
		}
	}
	return inside
}

func segmentDistance(y, z float64, a, b Point) float64 {
	dy, dz := b.Y-a.Y, b.Z-a.Z
	lenSq := dy*dy + dz*dz
	if lenSq == 0 {
		return math.Hypot(y-a.Y, z-a.Z)
	}
	t := ((y-a.Y)*dy + (z-a.Z)*dz) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(y-(a.Y+t*dy), z-(a.Z+t*dz))
}

// UnmarshalJSON rejects kinds outside the closed set at load time.
func (c *Contour) UnmarshalJSON(data []byte) error {
	type plain Contour
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case ContourCircle, ContourPolygon:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownContour, raw.Kind)
	}
	*c = Contour(raw)
	return nil
}

func sortInts(values []int) {
	sort.Ints(values)
}
