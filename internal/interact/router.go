package interact

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"time"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
	"github.com/Garsondee/clouds-of-aurora/internal/gesture"
	"github.com/Garsondee/clouds-of-aurora/internal/loop"
	"github.com/Garsondee/clouds-of-aurora/internal/syncloop"
	"github.com/Garsondee/clouds-of-aurora/internal/tilemap"
)

// Default popup and notice lifetimes.
const (
	DefaultQuickTTL    = 6 * time.Second
	DefaultDetailedTTL = 8 * time.Second
	DefaultNoticeTTL   = 6 * time.Second
)

// Actions is the part of the API client that mutates server state.
type Actions interface {
	PlaceBuilding(ctx context.Context, req api.PlaceRequest) (api.PlaceResult, error)
	ToggleAssignment(ctx context.Context, req api.ToggleRequest) (api.ActionResult, error)
	AssignVillager(ctx context.Context, req api.AssignRequest) (api.ActionResult, error)
}

// Refresher requests out-of-band refreshes; *syncloop.Scheduler implements
// it.
type Refresher interface {
	RequestRefresh(done func(), resources ...syncloop.Resource)
}

// Deps are the collaborators of a Router.
type Deps struct {
	Actions Actions
	Queue   *loop.Queue
	Refresh Refresher
	View    View
}

// Options configures a Router.
type Options struct {
	SettlementID int
	QuickTTL     time.Duration
	DetailedTTL  time.Duration
	NoticeTTL    time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Router applies gesture events to the session.
type Router struct {
	deps    Deps
	opts    Options
	logger  *slog.Logger
	session Session

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRouter returns a router in Browsing mode. Requests it issues are
// canceled by Close or when ctx ends.
func NewRouter(ctx context.Context, deps Deps, opts Options) *Router {
	if opts.QuickTTL <= 0 {
		opts.QuickTTL = DefaultQuickTTL
	}
	if opts.DetailedTTL <= 0 {
		opts.DetailedTTL = DefaultDetailedTTL
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = DefaultNoticeTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Router{deps: deps, opts: opts, logger: opts.Logger, ctx: ctx, cancel: cancel}
}

// Session returns the interaction state for rendering.
func (r *Router) Session() *Session { return &r.session }

// InPlacement reports whether placement mode is active. The scheduler's
// settlement gate is wired to its negation.
func (r *Router) InPlacement() bool { return r.session.mode == Placement }

// Handle routes one gesture event.
func (r *Router) Handle(ev gesture.Event) {
	if !ev.InGrid {
		return
	}
	switch ev.Kind {
	case gesture.Single:
		if r.InPlacement() {
			r.place(ev.Tile)
			return
		}
		r.openAt(Quick, ev.Tile, ev.Screen)
	case gesture.Double:
		if r.InPlacement() {
			return
		}
		r.toggle(ev.Tile, ev.Screen)
	case gesture.Right:
		r.openAt(Detailed, ev.Tile, ev.Screen)
	}
}

// Update expires popups and notices.
func (r *Router) Update(now time.Time) {
	r.session.expire(now)
}

// PointerLeave dismisses the quick popup.
func (r *Router) PointerLeave() {
	r.session.dismiss(Quick)
}

// Dismiss closes the popup of tier t.
func (r *Router) Dismiss(t Tier) {
	if t < tierCount {
		r.session.dismiss(t)
	}
}

// SelectBuildingType chooses the type used by the next placement. Unknown
// types are rejected with a notice.
func (r *Router) SelectBuildingType(buildingType string) bool {
	if !slices.Contains(api.BuildingTypes, buildingType) {
		r.notify(NoticeError, fmt.Sprintf("Unknown building type %q.", buildingType))
		return false
	}
	r.session.selected = buildingType
	return true
}

// EnterPlacement switches to placement mode, optionally selecting a type.
func (r *Router) EnterPlacement(buildingType string) {
	if buildingType != "" && !r.SelectBuildingType(buildingType) {
		return
	}
	r.session.mode = Placement
	r.session.dismiss(Quick)
	r.logger.Debug("placement mode", "type", r.session.selected)
}

// ExitPlacement returns to browsing. The selected type is kept.
func (r *Router) ExitPlacement() {
	r.session.mode = Browsing
}

// TogglePlacement flips between the two modes.
func (r *Router) TogglePlacement() {
	if r.InPlacement() {
		r.ExitPlacement()
		return
	}
	r.EnterPlacement("")
}

func (r *Router) openAt(t Tier, c tilemap.Coord, anchor image.Point) bool {
	info, ok := Classify(r.deps.View.Index(), c)
	if !ok {
		return false
	}
	ttl := r.opts.QuickTTL
	if t == Detailed {
		ttl = r.opts.DetailedTTL
	}
	r.session.open(t, info, anchor, r.opts.Now().Add(ttl))
	return true
}

func (r *Router) place(c tilemap.Coord) {
	if r.session.placementPending {
		return
	}
	if r.session.selected == "" {
		r.notify(NoticeInfo, "Select a building type first.")
		return
	}
	req := api.PlaceRequest{
		SettlementID: r.opts.SettlementID,
		BuildingType: r.session.selected,
		TileX:        c.X,
		TileY:        c.Y,
	}
	r.session.placementPending = true
	r.logger.Info("placing building", "type", req.BuildingType, "x", c.X, "y", c.Y)
	loop.Run(r.ctx, r.deps.Queue, func(ctx context.Context) (api.PlaceResult, error) {
		return r.deps.Actions.PlaceBuilding(ctx, req)
	}, func(res api.PlaceResult, err error) {
		r.session.placementPending = false
		if err != nil {
			r.logger.Warn("placement failed", "type", req.BuildingType, "err", err)
			r.notify(NoticeError, api.Message(err))
			if api.IsInsufficientResources(err) {
				r.ExitPlacement()
			}
			return
		}
		r.ExitPlacement()
		r.notify(NoticeSuccess, fmt.Sprintf("Building placed successfully! ID: %d", res.BuildingID))
		r.deps.Refresh.RequestRefresh(nil, syncloop.Settlement, syncloop.Tiles)
	})
}

func (r *Router) toggle(c tilemap.Coord, anchor image.Point) {
	info, ok := Classify(r.deps.View.Index(), c)
	if !ok {
		return
	}
	req := api.ToggleRequest{SettlementID: r.opts.SettlementID}
	switch v := info.(type) {
	case NodeInfo:
		req.ObjectType, req.ObjectID = api.ObjectResourceNode, v.Node.ID
	case BuildingInfo:
		req.ObjectType, req.ObjectID = api.ObjectBuilding, v.Building.ID
	case TileInfo:
		return
	}
	loop.Run(r.ctx, r.deps.Queue, func(ctx context.Context) (api.ActionResult, error) {
		return r.deps.Actions.ToggleAssignment(ctx, req)
	}, func(res api.ActionResult, err error) {
		if err != nil {
			r.logger.Warn("toggle assignment failed", "object", req.ObjectType, "id", req.ObjectID, "err", err)
			r.notify(NoticeError, api.Message(err))
		} else {
			r.notify(NoticeSuccess, orDefault(res.Message, "Assignment updated."))
		}
		r.deps.Refresh.RequestRefresh(func() {
			if !r.InPlacement() {
				r.openAt(Quick, c, anchor)
			}
		}, syncloop.Tiles, syncloop.Settlement)
	})
}

// AssignVillager asks the server to assign a villager to a building. A zero
// settlerID lets the server pick an idle one.
func (r *Router) AssignVillager(buildingID, settlerID int) {
	req := api.AssignRequest{SettlementID: r.opts.SettlementID, BuildingID: buildingID, SettlerID: settlerID}
	loop.Run(r.ctx, r.deps.Queue, func(ctx context.Context) (api.ActionResult, error) {
		return r.deps.Actions.AssignVillager(ctx, req)
	}, func(res api.ActionResult, err error) {
		if err != nil {
			r.notify(NoticeError, api.Message(err))
			return
		}
		r.notify(NoticeSuccess, orDefault(res.Message, "Villager assigned successfully."))
		r.deps.Refresh.RequestRefresh(nil, syncloop.Settlement)
	})
}

// AssignFromDetailed assigns an idle villager to the building shown in the
// detailed popup. It reports false when that popup is not showing a
// building.
func (r *Router) AssignFromDetailed() bool {
	p, ok := r.session.Popup(Detailed)
	if !ok {
		return false
	}
	b, ok := p.Info.(BuildingInfo)
	if !ok {
		return false
	}
	r.AssignVillager(b.Building.ID, 0)
	return true
}

// Close cancels in-flight requests and dismisses every popup and notice.
func (r *Router) Close() {
	r.cancel()
	for t := Tier(0); t < tierCount; t++ {
		r.session.dismiss(t)
	}
	r.session.notice = nil
}

func (r *Router) notify(kind NoticeKind, text string) {
	r.session.notice = &Notice{Kind: kind, Text: text, Expires: r.opts.Now().Add(r.opts.NoticeTTL)}
}
