// Package layout computes canvas node positions from the panel geometry of
// the designer window. Everything here is pure.
package layout

import (
	"crewcanvas/domain/core/entities"
	"crewcanvas/domain/core/valueobjects"
)

// Fallback node size for nodes that do not carry one
const (
	DefaultNodeWidth  = 280.0
	DefaultNodeHeight = 140.0
)

// Smallest area handed to Arrange, whatever the panels leave over
const (
	MinAreaWidth  = 400.0
	MinAreaHeight = 300.0
)

// Geometry describes the designer window around the canvas
type Geometry struct {
	ViewportWidth             float64 `json:"viewportWidth" validate:"gte=0"`
	ViewportHeight            float64 `json:"viewportHeight" validate:"gte=0"`
	LeftSidebarWidth          float64 `json:"leftSidebarWidth" validate:"gte=0"`
	RightSidebarWidth         float64 `json:"rightSidebarWidth" validate:"gte=0"`
	ChatPanelWidth            float64 `json:"chatPanelWidth" validate:"gte=0"`
	ChatPanelCollapsed        bool    `json:"chatPanelCollapsed"`
	ExecutionHistoryHeight    float64 `json:"executionHistoryHeight" validate:"gte=0"`
	ExecutionHistoryCollapsed bool    `json:"executionHistoryCollapsed"`
}

// Rect is an axis-aligned rectangle in canvas coordinates
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Intersects reports whether the interiors of r and o overlap. Rectangles
// that only share an edge do not intersect.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.Right() && o.X < r.Right() && r.Y < o.Bottom() && o.Y < r.Bottom()
}

// Options tunes Arrange
type Options struct {
	Padding           float64
	HorizontalSpacing float64
	VerticalSpacing   float64
}

// DefaultOptions returns the spacing used by the designer
func DefaultOptions() Options {
	return Options{
		Padding:           40,
		HorizontalSpacing: 80,
		VerticalSpacing:   40,
	}
}

// AvailableArea returns the part of the viewport not covered by panels
func AvailableArea(g Geometry) Rect {
	width := g.ViewportWidth - g.LeftSidebarWidth - g.RightSidebarWidth
	if !g.ChatPanelCollapsed {
		width -= g.ChatPanelWidth
	}
	height := g.ViewportHeight
	if !g.ExecutionHistoryCollapsed {
		height -= g.ExecutionHistoryHeight
	}
	return Rect{
		X:      max(g.LeftSidebarWidth, 0),
		Y:      0,
		Width:  max(width, MinAreaWidth),
		Height: max(height, MinAreaHeight),
	}
}

// NodeRect returns the rectangle a node occupies
func NodeRect(n entities.Node) Rect {
	w, h := nodeSize(n)
	return Rect{X: n.Position.X, Y: n.Position.Y, Width: w, Height: h}
}

func nodeSize(n entities.Node) (float64, float64) {
	w, h := n.Width, n.Height
	if w <= 0 {
		w = DefaultNodeWidth
	}
	if h <= 0 {
		h = DefaultNodeHeight
	}
	return w, h
}

// Arrange returns copies of nodes, in input order, positioned inside the
// available area: agents in the leftmost column(s), tasks next, every other
// kind after them. A column wraps to a new one when the area height runs out.
func Arrange(nodes []entities.Node, g Geometry, opts Options) []entities.Node {
	out := entities.CloneNodes(nodes)
	if len(out) == 0 {
		return out
	}
	area := AvailableArea(g)

	var agents, tasks, others []int
	for i, n := range out {
		switch n.Type {
		case entities.NodeTypeAgent:
			agents = append(agents, i)
		case entities.NodeTypeTask:
			tasks = append(tasks, i)
		default:
			others = append(others, i)
		}
	}

	top := area.Y + opts.Padding
	bottom := area.Bottom() - opts.Padding
	x := area.X + opts.Padding

	for _, group := range [][]int{agents, tasks, others} {
		if len(group) == 0 {
			continue
		}
		y := top
		colWidth := 0.0
		for _, idx := range group {
			w, h := nodeSize(out[idx])
			if y > top && y+h > bottom {
				x += colWidth + opts.HorizontalSpacing
				y = top
				colWidth = 0
			}
			out[idx].Position = valueobjects.Position{X: x, Y: y}
			y += h + opts.VerticalSpacing
			colWidth = max(colWidth, w)
		}
		x += colWidth + opts.HorizontalSpacing
	}
	return out
}

// ResolveOverlaps returns copies of nodes in which no two rectangles
// intersect. Nodes that overlap nothing keep their position; among
// overlapping nodes the earlier one stays and later ones move down until
// they are clear, spacing below the node they collided with.
func ResolveOverlaps(nodes []entities.Node, spacing float64) []entities.Node {
	out := entities.CloneNodes(nodes)
	rects := make([]Rect, len(out))
	for i, n := range out {
		rects[i] = NodeRect(n)
	}

	overlapping := make([]bool, len(out))
	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			if rects[i].Intersects(rects[j]) {
				overlapping[i] = true
				overlapping[j] = true
			}
		}
	}

	placed := make([]Rect, 0, len(out))
	for i := range out {
		if !overlapping[i] {
			placed = append(placed, rects[i])
		}
	}

	for i := range out {
		if !overlapping[i] {
			continue
		}
		r := rects[i]
		for {
			lowest, hit := 0.0, false
			for _, p := range placed {
				if r.Intersects(p) {
					lowest = max(lowest, p.Bottom())
					hit = true
				}
			}
			if !hit {
				break
			}
			r.Y = lowest + max(spacing, 0)
		}
		out[i].Position.Y = r.Y
		placed = append(placed, r)
	}
	return out
}
