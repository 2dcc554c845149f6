package game

import (
	"image"
	"image/color"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/Garsondee/clouds-of-aurora/internal/interact"
	"github.com/Garsondee/clouds-of-aurora/internal/render"
)

// Popup panel metrics, in screen pixels.
const (
	popupPad      = 6
	popupLineH    = 15
	popupCharW    = 7
	popupMaxChars = 36
	popupGap      = 10
)

var (
	popupBg     = color.RGBA{R: 30, G: 34, B: 44, A: 235}
	popupBorder = color.RGBA{R: 90, G: 110, B: 150, A: 255}
	popupTitle  = color.RGBA{R: 250, G: 250, B: 250, A: 255}
	popupBody   = color.RGBA{R: 205, G: 210, B: 222, A: 255}
	popupHint   = color.RGBA{R: 140, G: 150, B: 170, A: 255}
)

// popupLines returns the title and body lines shown for p, already wrapped.
func popupLines(p interact.Popup) (title string, body []string, hint string) {
	title = interact.Title(p.Info)
	var raw []string
	if p.Tier == interact.Quick {
		raw = interact.QuickLines(p.Info)
	} else {
		raw = interact.DetailedLines(p.Info)
		hint = "[C] copy"
		if _, ok := p.Info.(interact.BuildingInfo); ok {
			hint = "[C] copy  [V] assign villager"
		}
	}
	for _, l := range raw {
		body = append(body, wrap(l, popupMaxChars)...)
	}
	return title, body, hint
}

// popupRect places a w x h panel for an anchor in screen coordinates. Quick
// popups sit centred above the anchor, detailed ones below it; either flips
// to the other side when it would leave bounds, then is clamped inside.
func popupRect(tier interact.Tier, anchor image.Point, w, h int, bounds image.Rectangle) image.Rectangle {
	x := anchor.X - w/2
	above := anchor.Y - popupGap - h
	below := anchor.Y + popupGap

	y := above
	if tier == interact.Detailed {
		y = below
	}
	if y < bounds.Min.Y {
		y = below
	}
	if y+h > bounds.Max.Y {
		y = above
	}

	r := image.Rect(x, y, x+w, y+h)
	if r.Max.X > bounds.Max.X {
		r = r.Sub(image.Pt(r.Max.X-bounds.Max.X, 0))
	}
	if r.Min.X < bounds.Min.X {
		r = r.Add(image.Pt(bounds.Min.X-r.Min.X, 0))
	}
	if r.Max.Y > bounds.Max.Y {
		r = r.Sub(image.Pt(0, r.Max.Y-bounds.Max.Y))
	}
	if r.Min.Y < bounds.Min.Y {
		r = r.Add(image.Pt(0, bounds.Min.Y-r.Min.Y))
	}
	return r
}

// drawPopup renders one popup panel. Anchors are map-relative.
func (g *Game) drawPopup(screen *ebiten.Image, p interact.Popup) {
	title, body, hint := popupLines(p)

	width := len(title)
	for _, l := range body {
		width = max(width, len(l))
	}
	width = max(width, len(hint))
	w := width*popupCharW + popupPad*2
	lines := 1 + len(body)
	if hint != "" {
		lines++
	}
	h := lines*popupLineH + popupPad*2 + 3

	anchor := p.Anchor.Add(image.Pt(g.offX, g.offY))
	bounds := image.Rect(0, 0, g.width-logPanelWidth, g.height)
	r := popupRect(p.Tier, anchor, w, h, bounds)

	x, y := float32(r.Min.X), float32(r.Min.Y)
	vector.FillRect(screen, x, y, float32(w), float32(h), popupBg, false)
	vector.StrokeRect(screen, x, y, float32(w), float32(h), 1.0, popupBorder, false)

	lx := r.Min.X + popupPad
	ly := r.Min.Y + popupPad
	render.DrawText(screen, title, lx, ly, popupTitle)
	ly += popupLineH
	vector.StrokeLine(screen, float32(lx), float32(ly), float32(r.Max.X-popupPad), float32(ly), 1.0, popupBorder, false)
	ly += 3
	for _, l := range body {
		render.DrawText(screen, l, lx, ly, popupBody)
		ly += popupLineH
	}
	if hint != "" {
		render.DrawText(screen, hint, lx, ly, popupHint)
	}
}

// wrap splits s into lines of at most width runes, breaking at spaces when
// possible. Explicit newlines are kept.
func wrap(s string, width int) []string {
	var out []string
	for _, para := range strings.Split(s, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		line := ""
		for _, w := range words {
			for len([]rune(w)) > width {
				if line != "" {
					out = append(out, line)
					line = ""
				}
				rs := []rune(w)
				out = append(out, string(rs[:width]))
				w = string(rs[width:])
			}
			switch {
			case line == "":
				line = w
			case len([]rune(line))+1+len([]rune(w)) <= width:
				line += " " + w
			default:
				out = append(out, line)
				line = w
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
