package interact

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
	"github.com/Garsondee/clouds-of-aurora/internal/api/apitest"
	"github.com/Garsondee/clouds-of-aurora/internal/gesture"
	"github.com/Garsondee/clouds-of-aurora/internal/loop"
	"github.com/Garsondee/clouds-of-aurora/internal/syncloop"
	"github.com/Garsondee/clouds-of-aurora/internal/tilemap"
)

// TestSession is a headless client used by tests. It wires the real
// disambiguator, router and scheduler against a fake server and drives them
// with a manual clock.
type TestSession struct {
	tb       testing.TB
	Server   *apitest.Server
	Queue    *loop.Queue
	Sched    *syncloop.Scheduler
	Router   *Router
	Gesture  *gesture.Disambiguator
	Grid     tilemap.Grid
	Now      time.Time
	poll     time.Duration
	debounce time.Duration
	actions  func(Actions) Actions
}

// sessionOptionKind controls when an option is applied.
type sessionOptionKind int

const (
	sessOptServer sessionOptionKind = iota // seeds the fake server, applied before start-up
	sessOptRouter                          // changes client state, applied once synced
)

// SessionOption is a builder function applied to a TestSession.
type SessionOption struct {
	kind sessionOptionKind
	fn   func(*TestSession)
}

// WithNode puts a resource node on tile (x, y).
func WithNode(x, y int, n api.ResourceNode) SessionOption {
	return SessionOption{sessOptServer, func(ts *TestSession) {
		ts.Server.AddNode(x, y, n)
	}}
}

// WithBuilding adds a building to the settlement.
func WithBuilding(b api.Building) SessionOption {
	return SessionOption{sessOptServer, func(ts *TestSession) {
		ts.Server.AddBuilding(b)
	}}
}

// WithResource sets a stockpile amount.
func WithResource(name string, amount float64) SessionOption {
	return SessionOption{sessOptServer, func(ts *TestSession) {
		ts.Server.SetResource(name, amount)
	}}
}

// WithIdleVillagers replaces the server's idle villager pool.
func WithIdleVillagers(names ...string) SessionOption {
	return SessionOption{sessOptServer, func(ts *TestSession) {
		ts.Server.Lock()
		ts.Server.IdleNames = names
		ts.Server.Unlock()
	}}
}

// WithPollInterval enables periodic polling. By default the harness polls
// once an hour so only explicit refreshes hit the server.
func WithPollInterval(d time.Duration) SessionOption {
	return SessionOption{sessOptServer, func(ts *TestSession) {
		ts.poll = d
	}}
}

// WithActions wraps the router's API actions, e.g. to rewrite responses.
func WithActions(wrap func(Actions) Actions) SessionOption {
	return SessionOption{sessOptServer, func(ts *TestSession) {
		ts.actions = wrap
	}}
}

// WithPlacement enters placement mode with buildingType selected.
func WithPlacement(buildingType string) SessionOption {
	return SessionOption{sessOptRouter, func(ts *TestSession) {
		ts.Router.EnterPlacement(buildingType)
	}}
}

// NewTestSession starts a synced session on a 10x10 map drawn at 480 px.
func NewTestSession(tb testing.TB, opts ...SessionOption) *TestSession {
	tb.Helper()
	ts := &TestSession{
		tb:       tb,
		Server:   apitest.New(tb),
		Queue:    loop.NewQueue(),
		Grid:     tilemap.NewGrid(10, 480),
		Now:      time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC),
		poll:     time.Hour,
		debounce: gesture.DefaultWindow,
	}
	for _, o := range opts {
		if o.kind == sessOptServer {
			o.fn(ts)
		}
	}

	clock := func() time.Time { return ts.Now }
	client := api.NewClient(ts.Server.BaseURL())
	ts.Sched = syncloop.NewScheduler(client, ts.Queue, nil, syncloop.Options{
		SettlementID:   1,
		Interval:       ts.poll,
		EventsInterval: -1,
		RefreshEvery:   time.Millisecond,
		Log:            syncloop.NewSyncLog(),
		Now:            clock,
	})
	var actions Actions = client
	if ts.actions != nil {
		actions = ts.actions(client)
	}
	ts.Router = NewRouter(context.Background(), Deps{
		Actions: actions,
		Queue:   ts.Queue,
		Refresh: ts.Sched,
		View:    ts.Sched.Store(),
	}, Options{SettlementID: 1, Now: clock})
	ts.Sched.SetGate(syncloop.Settlement, func() bool { return !ts.Router.InPlacement() })
	ts.Gesture = gesture.New(ts.Grid, ts.debounce)
	tb.Cleanup(ts.Router.Close)

	ts.Sched.Start(context.Background())
	ts.Queue.Settle()
	ts.Sched.Tick(ts.Now)
	for _, o := range opts {
		if o.kind == sessOptRouter {
			o.fn(ts)
		}
	}
	return ts
}

// Session is shorthand for the router's session.
func (ts *TestSession) Session() *Session { return ts.Router.Session() }

// center returns the pixel at the middle of tile (x, y).
func (ts *TestSession) center(x, y int) image.Point {
	r := ts.Grid.CellRect(tilemap.Coord{X: x, Y: y})
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}

func (ts *TestSession) press(b gesture.Button, p image.Point) {
	if ev, ok := ts.Gesture.Press(b, p, ts.Now); ok {
		ts.Router.Handle(ev)
	}
}

// Click single-clicks tile (x, y) and waits out the debounce window.
func (ts *TestSession) Click(x, y int) {
	ts.ClickAt(ts.center(x, y))
}

// ClickAt single-clicks a surface pixel.
func (ts *TestSession) ClickAt(p image.Point) {
	ts.press(gesture.Primary, p)
	ts.Advance(ts.debounce)
}

// DoubleClick double-clicks tile (x, y) and lets the resulting requests and
// refreshes complete.
func (ts *TestSession) DoubleClick(x, y int) {
	p := ts.center(x, y)
	ts.press(gesture.Primary, p)
	ts.Now = ts.Now.Add(60 * time.Millisecond)
	ts.press(gesture.Primary, p)
	ts.Settle()
}

// RightClick right-clicks tile (x, y).
func (ts *TestSession) RightClick(x, y int) {
	ts.press(gesture.Secondary, ts.center(x, y))
	ts.Settle()
}

// Advance moves the clock forward by d, fires timers, ticks the scheduler
// and settles all resulting work.
func (ts *TestSession) Advance(d time.Duration) {
	ts.Now = ts.Now.Add(d)
	if ev, ok := ts.Gesture.Update(ts.Now); ok {
		ts.Router.Handle(ev)
	}
	ts.Router.Update(ts.Now)
	ts.Sched.Tick(ts.Now)
	ts.Settle()
}

// Settle runs queued work until nothing is in flight and no refresh is
// waiting to be issued.
func (ts *TestSession) Settle() {
	ts.Queue.Settle()
	for i := 0; ts.Sched.PendingRefresh(); i++ {
		if i > 20 {
			ts.tb.Fatalf("refresh queue never drained:\n%s", ts.Sched.Log().Format())
		}
		ts.Now = ts.Now.Add(time.Millisecond)
		ts.Sched.Tick(ts.Now)
		ts.Queue.Settle()
	}
}
