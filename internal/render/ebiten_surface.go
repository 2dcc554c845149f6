package render

import (
	"image"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/basicfont"

	"github.com/Garsondee/clouds-of-aurora/internal/sprite"
)

// LabelFace is the text face used for map labels and panels.
var LabelFace text.Face = text.NewGoXFace(basicfont.Face7x13)

// EbitenSurface draws onto an offscreen *ebiten.Image.
type EbitenSurface struct {
	dst    *ebiten.Image
	sheets map[image.Image]*ebiten.Image
}

// NewEbitenSurface wraps dst. GPU copies of sprite sheets are cached per
// source image.
func NewEbitenSurface(dst *ebiten.Image) *EbitenSurface {
	return &EbitenSurface{dst: dst, sheets: make(map[image.Image]*ebiten.Image)}
}

// Image returns the backing image.
func (s *EbitenSurface) Image() *ebiten.Image { return s.dst }

func (s *EbitenSurface) Clear() { s.dst.Clear() }

func (s *EbitenSurface) FillRect(r image.Rectangle, c color.Color) {
	vector.FillRect(s.dst, float32(r.Min.X), float32(r.Min.Y), float32(r.Dx()), float32(r.Dy()), c, false)
}

func (s *EbitenSurface) StrokeRect(r image.Rectangle, width float32, c color.Color) {
	vector.StrokeRect(s.dst, float32(r.Min.X), float32(r.Min.Y), float32(r.Dx()), float32(r.Dy()), width, c, false)
}

func (s *EbitenSurface) FillCircle(cx, cy, radius float32, c color.Color) {
	vector.FillCircle(s.dst, cx, cy, radius, c, true)
}

func (s *EbitenSurface) DrawSprite(sp sprite.Sprite, dst image.Rectangle, alpha float32) {
	sheet := s.sheet(sp.Sheet)
	if sheet == nil || sp.Src.Empty() {
		return
	}
	sub := sheet.SubImage(sp.Src).(*ebiten.Image)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(dst.Dx())/float64(sp.Src.Dx()), float64(dst.Dy())/float64(sp.Src.Dy()))
	op.GeoM.Translate(float64(dst.Min.X), float64(dst.Min.Y))
	op.ColorScale.ScaleAlpha(alpha)
	op.Filter = ebiten.FilterLinear
	s.dst.DrawImage(sub, op)
}

func (s *EbitenSurface) DrawLabel(str string, x, y int, c color.Color) {
	DrawText(s.dst, str, x, y, c)
}

func (s *EbitenSurface) sheet(img image.Image) *ebiten.Image {
	if img == nil {
		return nil
	}
	if e, ok := img.(*ebiten.Image); ok {
		return e
	}
	if e, ok := s.sheets[img]; ok {
		return e
	}
	e := ebiten.NewImageFromImage(img)
	s.sheets[img] = e
	return e
}

// DrawText draws str with LabelFace, top-left corner at (x, y).
func DrawText(dst *ebiten.Image, str string, x, y int, c color.Color) {
	op := &text.DrawOptions{}
	op.GeoM.Translate(float64(x), float64(y))
	op.ColorScale.ScaleWithColor(c)
	text.Draw(dst, str, LabelFace, op)
}
