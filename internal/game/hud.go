package game

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/Garsondee/clouds-of-aurora/internal/interact"
	"github.com/Garsondee/clouds-of-aurora/internal/render"
)

const (
	hudHeight    = 44
	footerHeight = 56
	lineH        = 16
)

var (
	hudBg       = color.RGBA{R: 22, G: 26, B: 34, A: 255}
	hudText     = color.RGBA{R: 225, G: 228, B: 235, A: 255}
	hudDim      = color.RGBA{R: 140, G: 146, B: 160, A: 255}
	hudWarn     = color.RGBA{R: 240, G: 170, B: 60, A: 255}
	noticeInfo  = color.RGBA{R: 120, G: 170, B: 240, A: 255}
	noticeOK    = color.RGBA{R: 110, G: 210, B: 120, A: 255}
	noticeError = color.RGBA{R: 240, G: 90, B: 80, A: 255}
)

// modeLine describes the interaction mode for the second HUD row.
func modeLine(sess *interact.Session, tick int, haveClock bool) string {
	var b strings.Builder
	if haveClock {
		fmt.Fprintf(&b, "Tick %d  ", tick)
	}
	selected := sess.SelectedType()
	if selected == "" {
		selected = "none"
	} else {
		selected = strings.ReplaceAll(selected, "_", " ")
	}
	switch {
	case sess.PlacementPending():
		fmt.Fprintf(&b, "Placing %s...", selected)
	case sess.Mode() == interact.Placement:
		fmt.Fprintf(&b, "PLACEMENT [%s]  click a tile, Esc cancels", selected)
	default:
		fmt.Fprintf(&b, "Browsing  building: %s  (1-5 select, P place)", selected)
	}
	return b.String()
}

func noticeColor(k interact.NoticeKind) color.RGBA {
	switch k {
	case interact.NoticeSuccess:
		return noticeOK
	case interact.NoticeError:
		return noticeError
	}
	return noticeInfo
}

// drawHUD renders the resource strip above the map.
func (g *Game) drawHUD(screen *ebiten.Image) {
	vector.FillRect(screen, 0, 0, float32(g.width-logPanelWidth), hudHeight, hudBg, false)

	store := g.sched.Store()
	bar := "Loading settlement..."
	if s, ok := store.Settlement(); ok {
		bar = interact.ResourceBar(s)
		if s.Name != "" {
			bar = s.Name + "  " + bar
		}
	}
	render.DrawText(screen, bar, g.offX, 6, hudText)

	clock, haveClock := store.Clock()
	render.DrawText(screen, modeLine(g.router.Session(), clock.Tick, haveClock), g.offX, 6+lineH, hudDim)
}

// drawFooter renders the notice line and the sync status under the map.
func (g *Game) drawFooter(screen *ebiten.Image) {
	y := g.offY + g.cfg.SurfacePx + 8
	if n, ok := g.router.Session().Notice(); ok {
		render.DrawText(screen, n.Text, g.offX, y, noticeColor(n.Kind))
	}
	y += lineH
	if status := g.sched.Store().Status(); status != "" {
		render.DrawText(screen, "sync: "+status, g.offX, y, hudWarn)
	} else if !g.sched.Ready() {
		render.DrawText(screen, "sync: connecting...", g.offX, y, hudDim)
	}
	y += lineH
	help := "click info | double-click assign | right-click details | H help"
	render.DrawText(screen, help, g.offX, y, hudDim)
}
