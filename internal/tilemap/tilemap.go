package tilemap

import (
	"image"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
)

// Coord is a grid cell position.
type Coord struct {
	X, Y int
}

// Grid maps a square logical grid onto a fixed pixel surface.
type Grid struct {
	Size   int // cells per side
	Width  int // surface width in pixels
	Height int // surface height in pixels
}

// NewGrid returns a Size x Size grid drawn on a px x px surface.
func NewGrid(size, px int) Grid {
	return Grid{Size: size, Width: px, Height: px}
}

// TilePx returns the edge length of one cell in pixels. Only the width is
// used: non-square grids are not supported.
func (g Grid) TilePx() float64 {
	if g.Size <= 0 {
		return 0
	}
	return float64(g.Width) / float64(g.Size)
}

// InBounds returns true if c is inside the grid.
func (g Grid) InBounds(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.Size && c.Y < g.Size
}

// TileAt resolves a surface-relative pixel position to the cell containing
// it, floor(p / TilePx) computed in integers. Positions left of or above the
// origin floor to negative indices, so InBounds is false for them rather
// than snapping to row/column zero.
func (g Grid) TileAt(p image.Point) (Coord, bool) {
	if g.Size <= 0 || g.Width <= 0 {
		return Coord{}, false
	}
	c := Coord{X: floorDiv(p.X*g.Size, g.Width), Y: floorDiv(p.Y*g.Size, g.Width)}
	return c, g.InBounds(c)
}

// CellRect returns the pixel rectangle covered by c. Adjacent cells share
// edges without gaps when TilePx is fractional.
func (g Grid) CellRect(c Coord) image.Rectangle {
	if g.Size <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(
		c.X*g.Width/g.Size, c.Y*g.Width/g.Size,
		(c.X+1)*g.Width/g.Size, (c.Y+1)*g.Width/g.Size,
	)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Index answers "what is at this cell" for one snapshot of tiles and
// buildings. It is rebuilt whenever either list changes; the slices it was
// built from must not be modified afterwards.
type Index struct {
	tiles     map[Coord]*api.Tile
	buildings map[Coord]*api.Building
}

// NewIndex builds an index over the given snapshot. Buildings without
// coordinates are not indexed. When two buildings claim the same cell the
// later one wins, matching draw order.
func NewIndex(tiles []api.Tile, buildings []api.Building) *Index {
	idx := &Index{
		tiles:     make(map[Coord]*api.Tile, len(tiles)),
		buildings: make(map[Coord]*api.Building, len(buildings)),
	}
	for i := range tiles {
		t := &tiles[i]
		idx.tiles[Coord{t.X, t.Y}] = t
	}
	for i := range buildings {
		b := &buildings[i]
		if !b.Placed() {
			continue
		}
		idx.buildings[Coord{*b.X, *b.Y}] = b
	}
	return idx
}

// Tile returns the tile at c, or nil if the server did not send one.
func (idx *Index) Tile(c Coord) *api.Tile {
	if idx == nil {
		return nil
	}
	return idx.tiles[c]
}

// Building returns the building at c, or nil.
func (idx *Index) Building(c Coord) *api.Building {
	if idx == nil {
		return nil
	}
	return idx.buildings[c]
}

// Node returns the first resource node on the tile at c, or nil.
func (idx *Index) Node(c Coord) *api.ResourceNode {
	t := idx.Tile(c)
	if t == nil || !t.HasNodes() {
		return nil
	}
	return &t.Nodes[0]
}

// Len returns the number of indexed tiles.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.tiles)
}
