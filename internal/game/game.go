package game

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
	"github.com/Garsondee/clouds-of-aurora/internal/config"
	"github.com/Garsondee/clouds-of-aurora/internal/gesture"
	"github.com/Garsondee/clouds-of-aurora/internal/interact"
	"github.com/Garsondee/clouds-of-aurora/internal/loop"
	"github.com/Garsondee/clouds-of-aurora/internal/push"
	"github.com/Garsondee/clouds-of-aurora/internal/render"
	"github.com/Garsondee/clouds-of-aurora/internal/snapshot"
	"github.com/Garsondee/clouds-of-aurora/internal/sprite"
	"github.com/Garsondee/clouds-of-aurora/internal/syncloop"
	"github.com/Garsondee/clouds-of-aurora/internal/tilemap"
)

// borderWidth is the pixel gap between the window edge and the map.
const borderWidth = 24

// mappingFile is the optional sprite cell mapping inside the sprites dir.
const mappingFile = "mapping.json"

// syncLogLimit bounds the in-memory sync trace of a long session.
const syncLogLimit = 2000

type Game struct {
	cfg    config.Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	width  int
	height int
	offX   int // pixel offset from window left to map left
	offY   int // pixel offset from window top to map top

	grid       tilemap.Grid
	sheets     *sprite.Sheets
	compositor *render.Compositor
	mapBuf     *ebiten.Image
	surface    *render.EbitenSurface

	queue   *loop.Queue
	sched   *syncloop.Scheduler
	router  *interact.Router
	gesture *gesture.Disambiguator
	push    *push.Client

	pointer    pointerTracker
	hover      *tilemap.Coord
	eventLog   *EventLog
	eventsSeen uint64
	lastNotice interact.Notice
	showHelp   bool
	closed     bool
}

// New wires the client for cfg and starts the initial fetch sequence.
func New(cfg config.Config, logger *slog.Logger) (*Game, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := api.NewClient(cfg.BaseURL,
		api.WithToken(cfg.Token),
		api.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		api.WithLogger(logger),
	)

	var fsys fs.FS
	if cfg.SpritesDir != "" {
		fsys = os.DirFS(cfg.SpritesDir)
	}
	sheets := sprite.NewSheets(fsys, logger)
	atlas := sprite.NewAtlas(sheets)
	if fsys != nil {
		if err := loadMapping(atlas, fsys); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Game{
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
		width:      borderWidth + cfg.SurfacePx + borderWidth + logPanelWidth,
		height:     hudHeight + cfg.SurfacePx + footerHeight + borderWidth,
		offX:       borderWidth,
		offY:       hudHeight,
		grid:       tilemap.NewGrid(cfg.GridSize, cfg.SurfacePx),
		sheets:     sheets,
		compositor: render.NewCompositor(atlas),
		mapBuf:     ebiten.NewImage(cfg.SurfacePx, cfg.SurfacePx),
		queue:      loop.NewQueue(),
		eventLog:   NewEventLog(),
	}
	g.surface = render.NewEbitenSurface(g.mapBuf)

	opts := syncloop.Options{
		SettlementID:   cfg.SettlementID,
		Interval:       cfg.PollInterval,
		EventsInterval: cfg.EventsInterval,
		Logger:         logger,
		Log:            syncloop.NewBoundedSyncLog(syncLogLimit),
	}
	if cfg.CacheEnabled {
		opts.Persister = snapshot.NewStore(cfg.DataDir)
	}
	g.sched = syncloop.NewScheduler(client, g.queue, nil, opts)

	g.router = interact.NewRouter(ctx, interact.Deps{
		Actions: client,
		Queue:   g.queue,
		Refresh: g.sched,
		View:    g.sched.Store(),
	}, interact.Options{
		SettlementID: cfg.SettlementID,
		QuickTTL:     cfg.QuickPopupTTL,
		DetailedTTL:  cfg.DetailedPopupTTL,
		Logger:       logger,
	})
	// Polling must not overwrite the settlement while the player is placing.
	g.sched.SetGate(syncloop.Settlement, func() bool { return !g.router.InPlacement() })
	g.gesture = gesture.New(g.grid, cfg.Debounce)

	sheets.LoadAsync()
	g.sched.Start(ctx)

	if cfg.PushURL != "" {
		g.push = push.NewClient(cfg.PushURL, g.sched, push.WithToken(cfg.Token), push.WithLogger(logger))
		go g.push.Run(ctx)
	}
	return g, nil
}

func loadMapping(atlas *sprite.Atlas, fsys fs.FS) error {
	f, err := fsys.Open(mappingFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open sprite mapping: %w", err)
	}
	defer f.Close()
	return atlas.LoadMapping(f)
}

func (g *Game) Update() error {
	now := g.now()

	// Completions first so input sees the freshest state.
	g.queue.Drain()
	g.handleInput(now)
	if ev, ok := g.gesture.Update(now); ok {
		g.router.Handle(ev)
	}
	g.router.Update(now)
	g.sched.Tick(now)

	g.syncEventLog(now)
	return nil
}

// syncEventLog copies new server events and client notices into the log
// panel.
func (g *Game) syncEventLog(now time.Time) {
	store := g.sched.Store()
	if v := store.Version(); v != g.eventsSeen {
		g.eventsSeen = v
		g.eventLog.Merge(store.Events())
	}
	if n, ok := g.router.Session().Notice(); ok && n != g.lastNotice {
		g.lastNotice = n
		g.eventLog.Note(n, now)
	}
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{R: 12, G: 14, B: 18, A: 255})

	store := g.sched.Store()
	g.compositor.Render(g.surface, render.Frame{
		Tiles:     store.Tiles(),
		Buildings: store.Buildings(),
		Highlight: g.placementHighlight(),
	}, g.grid)

	var op ebiten.DrawImageOptions
	op.GeoM.Translate(float64(g.offX), float64(g.offY))
	screen.DrawImage(g.mapBuf, &op)

	ox, oy := float32(g.offX), float32(g.offY)
	px := float32(g.cfg.SurfacePx)
	vector.StrokeRect(screen, ox-1, oy-1, px+2, px+2, 2.0, color.RGBA{R: 70, G: 85, B: 110, A: 255}, false)

	g.drawHUD(screen)
	g.drawFooter(screen)
	g.eventLog.Draw(screen, g.width-logPanelWidth, g.height)

	sess := g.router.Session()
	for _, t := range []interact.Tier{interact.Quick, interact.Detailed} {
		if p, ok := sess.Popup(t); ok {
			g.drawPopup(screen, p)
		}
	}

	if g.showHelp {
		g.drawHelp(screen)
	}
}

func (g *Game) drawHelp(screen *ebiten.Image) {
	lines := []string{
		"click        quick info",
		"double-click assign / gather",
		"right-click  detailed info",
		"1-5          select building type",
		"P            toggle placement",
		"Esc          cancel / close popups",
		"C            copy popup text",
		"V            assign villager",
		"R            refresh now",
		fmt.Sprintf("TPS %.0f  sync log %d entries", ebiten.ActualTPS(), len(g.sched.Log().Entries())),
	}
	x, y := g.offX+8, g.offY+8
	vector.FillRect(screen, float32(x-4), float32(y-4), 250, float32(len(lines)*16+8), color.RGBA{R: 0, G: 0, B: 0, A: 190}, false)
	for i, l := range lines {
		ebitenutil.DebugPrintAt(screen, l, x, y+i*16)
	}
}

func (g *Game) Layout(_, _ int) (int, int) {
	return g.width, g.height
}

// Size returns the window size the layout expects.
func (g *Game) Size() (int, int) {
	return g.width, g.height
}

// Close cancels in-flight work and writes a final snapshot. Call it from
// the goroutine that ran the game once RunGame has returned.
func (g *Game) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	g.router.Close()
	g.cancel()
	g.queue.Wait()
	g.queue.Drain()
	return g.sched.SaveNow(g.now())
}
