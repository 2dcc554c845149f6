package render

import (
	"image"
	"image/color"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
	"github.com/Garsondee/clouds-of-aurora/internal/sprite"
	"github.com/Garsondee/clouds-of-aurora/internal/tilemap"
)

// Label glyph metrics of the fixed 7x13 face.
const (
	glyphW = 7
	glyphH = 13
)

var (
	gridLineColor  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	labelColor     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	highlightColor = color.RGBA{R: 0, G: 128, B: 0, A: 77} // rgba(0,128,0,0.3)
)

// Surface is the drawing target of the compositor. Coordinates are
// surface pixels with the origin at the top-left corner.
type Surface interface {
	Clear()
	FillRect(r image.Rectangle, c color.Color)
	StrokeRect(r image.Rectangle, width float32, c color.Color)
	FillCircle(cx, cy, radius float32, c color.Color)
	DrawSprite(s sprite.Sprite, dst image.Rectangle, alpha float32)
	// DrawLabel draws text with its top-left corner at (x, y).
	DrawLabel(text string, x, y int, c color.Color)
}

// Frame is everything the compositor draws.
type Frame struct {
	Tiles     []api.Tile
	Buildings []api.Building
	// Highlight, when set, tints one cell (the placement target under the
	// pointer).
	Highlight *tilemap.Coord
}

// Compositor draws the three map layers. It keeps no state between frames.
type Compositor struct {
	atlas *sprite.Atlas
}

// NewCompositor returns a compositor resolving sprites through atlas. A nil
// atlas renders every layer with fallback colours.
func NewCompositor(atlas *sprite.Atlas) *Compositor {
	return &Compositor{atlas: atlas}
}

// Render clears s and redraws the whole frame: terrain, then that tile's
// resource nodes, for each tile; then every building; then the highlight.
// Buildings sharing a cell with a node are drawn over it.
func (c *Compositor) Render(s Surface, f Frame, g tilemap.Grid) {
	s.Clear()
	for _, t := range f.Tiles {
		cell := g.CellRect(tilemap.Coord{X: t.X, Y: t.Y})
		c.drawTerrain(s, t, cell)
		for _, n := range t.Nodes {
			c.drawNode(s, n, cell)
		}
	}
	for _, b := range f.Buildings {
		if !b.Placed() {
			continue
		}
		c.drawBuilding(s, b, g.CellRect(tilemap.Coord{X: *b.X, Y: *b.Y}))
	}
	if f.Highlight != nil && g.InBounds(*f.Highlight) {
		s.FillRect(g.CellRect(*f.Highlight), highlightColor)
	}
}

func (c *Compositor) drawTerrain(s Surface, t api.Tile, cell image.Rectangle) {
	if sp, ok := c.atlas.Resolve(sprite.Terrain, t.Terrain); ok {
		s.DrawSprite(sp, cell, 1)
	} else {
		s.FillRect(cell, sprite.FallbackTerrain(t))
	}
	s.StrokeRect(cell, 1, gridLineColor)
}

func (c *Compositor) drawNode(s Surface, n api.ResourceNode, cell image.Rectangle) {
	if sp, ok := c.atlas.Resolve(sprite.ResourceNode, n.SpriteKey); ok {
		s.DrawSprite(sp, cell, 1)
		return
	}
	cx := float32(cell.Min.X) + float32(cell.Dx())/2
	cy := float32(cell.Min.Y) + float32(cell.Dy())/2
	s.FillCircle(cx, cy, float32(cell.Dx())/4, sprite.FallbackNode(c.atlas.Loaded(sprite.ResourceNode)))
}

func (c *Compositor) drawBuilding(s Surface, b api.Building, cell image.Rectangle) {
	sp, alpha, ok := c.atlas.ResolveBuilding(b.Type, b.Constructed)
	if ok {
		s.DrawSprite(sp, cell, alpha)
	} else {
		fill := sprite.FallbackBuilding(b.Type)
		if !b.Constructed {
			fill.A /= 2
			fill.R, fill.G, fill.B = fill.R/2, fill.G/2, fill.B/2 // premultiplied
		}
		s.FillRect(cell, fill)
	}
	if initial := Initial(b.Type); initial != "" {
		x := cell.Min.X + (cell.Dx()-glyphW)/2
		y := cell.Min.Y + (cell.Dy()-glyphH)/2
		s.DrawLabel(initial, x, y, labelColor)
	}
}

// Initial returns the uppercase first letter of a building type, the
// placeholder label drawn on every building.
func Initial(buildingType string) string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(buildingType))
	if r == utf8.RuneError {
		return ""
	}
	return string(unicode.ToUpper(r))
}
