package game

import (
	"image"
	"time"

	"github.com/atotto/clipboard"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
	"github.com/Garsondee/clouds-of-aurora/internal/gesture"
	"github.com/Garsondee/clouds-of-aurora/internal/interact"
	"github.com/Garsondee/clouds-of-aurora/internal/syncloop"
	"github.com/Garsondee/clouds-of-aurora/internal/tilemap"
)

// pointerTracker turns per-frame cursor samples into leave edges.
type pointerTracker struct {
	inside bool
}

// step records whether the cursor is over the map and reports true on the
// frame it leaves.
func (p *pointerTracker) step(inside bool) bool {
	left := p.inside && !inside
	p.inside = inside
	return left
}

// typeKeys select building types in catalogue order.
var typeKeys = []ebiten.Key{ebiten.Key1, ebiten.Key2, ebiten.Key3, ebiten.Key4, ebiten.Key5}

// buildingForKey maps a number key to a catalogue entry.
func buildingForKey(k ebiten.Key) (string, bool) {
	for i, tk := range typeKeys {
		if tk == k && i < len(api.BuildingTypes) {
			return api.BuildingTypes[i], true
		}
	}
	return "", false
}

// copyText is the clipboard writer; tests replace it.
var copyText = clipboard.WriteAll

// handleInput feeds pointer and keyboard input to the disambiguator and
// router (edge-triggered).
func (g *Game) handleInput(now time.Time) {
	mx, my := ebiten.CursorPosition()
	local := image.Pt(mx-g.offX, my-g.offY)
	inside := local.In(g.mapRect())

	if g.pointer.step(inside) {
		g.router.PointerLeave()
	}
	g.hover = nil
	if inside && g.router.InPlacement() {
		if c, ok := g.grid.TileAt(local); ok {
			g.hover = &c
		}
	}

	if inside {
		if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
			g.press(gesture.Primary, local, now)
		}
		if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonRight) {
			g.press(gesture.Secondary, local, now)
		}
	}

	for _, k := range typeKeys {
		if inpututil.IsKeyJustPressed(k) {
			if t, ok := buildingForKey(k); ok {
				g.router.SelectBuildingType(t)
			}
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		g.router.TogglePlacement()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		g.router.ExitPlacement()
		g.router.Dismiss(interact.Quick)
		g.router.Dismiss(interact.Detailed)
		g.gesture.Cancel()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyC) {
		g.copyPopup(now)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyV) {
		g.router.AssignFromDetailed()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		g.sched.RequestRefresh(nil, syncloop.All...)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyH) {
		g.showHelp = !g.showHelp
	}
}

func (g *Game) press(b gesture.Button, p image.Point, now time.Time) {
	if ev, ok := g.gesture.Press(b, p, now); ok {
		g.router.Handle(ev)
	}
}

// copyPopup puts the text of the detailed popup, or the quick one when no
// detailed popup is open, on the system clipboard.
func (g *Game) copyPopup(now time.Time) {
	sess := g.router.Session()
	p, ok := sess.Popup(interact.Detailed)
	if !ok {
		if p, ok = sess.Popup(interact.Quick); !ok {
			return
		}
	}
	if err := copyText(interact.Text(p.Info, p.Tier)); err != nil {
		g.logger.Warn("clipboard write failed", "err", err)
		return
	}
	g.eventLog.Note(interact.Notice{Kind: interact.NoticeInfo, Text: "Copied " + interact.Title(p.Info) + " to clipboard."}, now)
}

func (g *Game) mapRect() image.Rectangle {
	return image.Rect(0, 0, g.cfg.SurfacePx, g.cfg.SurfacePx)
}

// placementHighlight is the cell tinted under the pointer in placement mode.
func (g *Game) placementHighlight() *tilemap.Coord {
	if !g.router.InPlacement() {
		return nil
	}
	return g.hover
}
