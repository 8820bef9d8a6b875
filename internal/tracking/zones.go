// Package tracking turns raw pointer and keyboard input into records: wall
// classification, reach segmentation, keystroke validation and the speed
// warning debounce.
package tracking

import "github.com/ssukumar/GlobalInvigoration/internal/records"

// Zones splits a viewport into a left wall, a right wall and the neutral
// band between them.
type Zones struct {
	Width     float64
	WallWidth float64
	// RightEdge is where the right wall begins. It never falls left of
	// WallWidth, so the walls do not cross on narrow viewports.
	RightEdge float64

	ratio   float64
	minWall float64
}

// NewZones sizes each wall as ratio × width, but never narrower than
// minWall.
func NewZones(width, ratio, minWall float64) Zones {
	wall := max(ratio*width, minWall, 0)
	return Zones{
		Width:     width,
		WallWidth: wall,
		RightEdge: max(width-wall, wall),
		ratio:     ratio,
		minWall:   minWall,
	}
}

// Resize keeps the wall ratio and minimum while changing the viewport width.
func (z Zones) Resize(width float64) Zones {
	if width <= 0 {
		return z
	}
	return NewZones(width, z.ratio, z.minWall)
}

// Classify returns the wall containing x. Both wall bounds are inclusive and
// the left wall wins where they meet.
func (z Zones) Classify(x float64) records.Wall {
	switch {
	case x <= z.WallWidth:
		return records.WallLeft
	case x >= z.RightEdge:
		return records.WallRight
	default:
		return records.WallNone
	}
}
