package syncloop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
	"github.com/Garsondee/clouds-of-aurora/internal/api/apitest"
	"github.com/Garsondee/clouds-of-aurora/internal/loop"
	"github.com/Garsondee/clouds-of-aurora/internal/snapshot"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newLiveScheduler(t *testing.T, srv *apitest.Server, opts Options) (*Scheduler, *loop.Queue) {
	t.Helper()
	q := loop.NewQueue()
	opts.SettlementID = 1
	if opts.Log == nil {
		opts.Log = NewSyncLog()
	}
	s := NewScheduler(api.NewClient(srv.BaseURL()), q, nil, opts)
	return s, q
}

func startAndSettle(t *testing.T, s *Scheduler, q *loop.Queue) {
	t.Helper()
	s.Start(context.Background())
	q.Settle()
	if !s.Ready() {
		t.Fatalf("scheduler not ready after start:\n%s", s.Log().Format())
	}
}

func TestStart_FetchesSequentiallyThenReady(t *testing.T) {
	srv := apitest.New(t)
	s, q := newLiveScheduler(t, srv, Options{})
	startAndSettle(t, s, q)

	issued := s.Log().Filter("", EventIssued)
	want := []string{"settlement", "clock", "tiles", "events"}
	if len(issued) != len(want) {
		t.Fatalf("issued %d fetches:\n%s", len(issued), s.Log().Format())
	}
	for i, e := range issued {
		if e.Resource != want[i] {
			t.Fatalf("fetch %d = %s, want %s", i, e.Resource, want[i])
		}
	}
	st, ok := s.Store().Settlement()
	if !ok || st.Name != "Aurora" {
		t.Fatalf("settlement = %+v ok=%v", st, ok)
	}
	if len(s.Store().Tiles()) != 100 {
		t.Fatalf("tiles = %d", len(s.Store().Tiles()))
	}
	if c, ok := s.Store().Clock(); !ok || c.Season != "Spring" {
		t.Fatalf("clock = %+v", c)
	}
}

func TestStart_ErrorsDoNotPreventReadiness(t *testing.T) {
	srv := apitest.New(t)
	srv.FailPath("/map/", 502)
	s, q := newLiveScheduler(t, srv, Options{})
	startAndSettle(t, s, q)

	st := s.Store().State(Tiles)
	var apiErr *api.Error
	if !errors.As(st.LastError, &apiErr) || apiErr.Status != 502 {
		t.Fatalf("tiles error = %v", st.LastError)
	}
	if st.Failures != 1 || st.Loaded {
		t.Fatalf("tiles state = %+v", st)
	}
	if !strings.Contains(s.Store().Status(), "tiles") {
		t.Fatalf("status = %q", s.Store().Status())
	}
	if _, ok := s.Store().Settlement(); !ok {
		t.Fatal("settlement should still load")
	}

	// Next poll recovers and clears the error.
	srv.FailPath("/map/", 0)
	s.Tick(t0)
	s.Tick(t0.Add(time.Second))
	q.Settle()
	if st := s.Store().State(Tiles); st.LastError != nil || !st.Loaded || len(s.Store().Tiles()) != 100 {
		t.Fatalf("tiles after recovery = %+v", st)
	}
	if s.Store().Status() != "" {
		t.Fatalf("status after recovery = %q", s.Store().Status())
	}
}

func TestTick_PollsEachResourceOnItsInterval(t *testing.T) {
	srv := apitest.New(t)
	s, q := newLiveScheduler(t, srv, Options{Interval: time.Second, EventsInterval: 10 * time.Second})
	startAndSettle(t, s, q)
	base := srv.CountPath("GET", "/map/")

	s.Tick(t0) // arms the interval
	s.Tick(t0.Add(999 * time.Millisecond))
	q.Settle()
	if n := srv.CountPath("GET", "/map/"); n != base {
		t.Fatalf("polled early: %d map requests", n-base)
	}
	for i := 1; i <= 3; i++ {
		s.Tick(t0.Add(time.Duration(i) * time.Second))
		q.Settle()
	}
	if n := srv.CountPath("GET", "/map/") - base; n != 3 {
		t.Fatalf("map polls = %d, want 3", n)
	}
	if n := srv.CountPath("GET", "/game-state/"); n != 4 {
		t.Fatalf("clock requests = %d, want 4", n)
	}
	if n := srv.CountPath("GET", "/events/"); n != 1 {
		t.Fatalf("events requests = %d, want only the start-up fetch", n)
	}
	s.Tick(t0.Add(10 * time.Second))
	q.Settle()
	if n := srv.CountPath("GET", "/events/"); n != 2 {
		t.Fatalf("events requests = %d, want 2", n)
	}
}

func TestGate_ClosedSkipsSettlementButNotTiles(t *testing.T) {
	srv := apitest.New(t)
	s, q := newLiveScheduler(t, srv, Options{})
	placing := false
	s.SetGate(Settlement, func() bool { return !placing })
	startAndSettle(t, s, q)

	placing = true
	s.Tick(t0)
	for i := 1; i <= 5; i++ {
		s.Tick(t0.Add(time.Duration(i) * time.Second))
		q.Settle()
	}
	if n := srv.CountPath("GET", "/settlements/1/"); n != 1 {
		t.Fatalf("settlement fetched %d times while gated", n)
	}
	if n := s.Log().Count("settlement", EventSkipped); n != 5 {
		t.Fatalf("skips = %d", n)
	}
	if n := srv.CountPath("GET", "/map/"); n != 6 {
		t.Fatalf("tiles fetched %d times, want 6", n)
	}

	placing = false
	s.Tick(t0.Add(6 * time.Second))
	q.Settle()
	if n := srv.CountPath("GET", "/settlements/1/"); n != 2 {
		t.Fatalf("settlement polling did not resume: %d", n)
	}
}

func TestRequestRefresh_CoalescesAndBypassesGate(t *testing.T) {
	srv := apitest.New(t)
	s, q := newLiveScheduler(t, srv, Options{})
	s.SetGate(Settlement, func() bool { return false })
	startAndSettle(t, s, q)
	srv.SetResource("wood", 7)

	calls := 0
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RequestRefresh(func() { calls++ }, Settlement, Tiles)
		}()
	}
	wg.Wait()
	if !s.PendingRefresh() {
		t.Fatal("requests should be queued until the next tick")
	}
	s.Tick(t0)
	q.Settle()

	if calls != 3 {
		t.Fatalf("done callbacks = %d, want 3", calls)
	}
	if n := srv.CountPath("GET", "/settlements/1/"); n != 2 {
		t.Fatalf("settlement fetched %d times, want start + one coalesced refresh", n)
	}
	st, _ := s.Store().Settlement()
	if wood, _ := st.Resource("wood"); wood.Amount != 7 {
		t.Fatalf("forced refresh was not applied: wood = %v", wood.Amount)
	}
	if e, ok := s.Log().LastOf("settlement", EventApplied); !ok || !e.Forced {
		t.Fatalf("last settlement apply = %+v", e)
	}
}

func TestRequestRefresh_DoneRunsAfterFailures(t *testing.T) {
	srv := apitest.New(t)
	s, q := newLiveScheduler(t, srv, Options{EventsInterval: -1})
	startAndSettle(t, s, q)
	srv.FailPath("/map/", 500)

	done := false
	s.RequestRefresh(func() { done = true }, Tiles)
	s.Tick(t0)
	q.Settle()
	if !done {
		t.Fatal("done must run even when the fetch fails")
	}
	if len(s.Store().Tiles()) != 100 {
		t.Fatal("failed refresh must keep last-known-good tiles")
	}
}

func TestPersister_RestoresThenSaves(t *testing.T) {
	srv := apitest.New(t)
	store := snapshot.NewStore(t.TempDir())
	cached := api.Settlement{ID: 1, Name: "Cached"}
	if err := store.Save(snapshot.State{SettlementID: 1, Settlement: &cached, SavedAt: t0}); err != nil {
		t.Fatal(err)
	}
	s, q := newLiveScheduler(t, srv, Options{Persister: store, PersistEvery: time.Minute})

	s.Start(context.Background())
	if st, ok := s.Store().Settlement(); !ok || st.Name != "Cached" {
		t.Fatalf("store not primed from snapshot: %+v", st)
	}
	q.Settle()
	if st, _ := s.Store().Settlement(); st.Name != "Aurora" {
		t.Fatalf("live data should replace the snapshot, got %q", st.Name)
	}

	s.Tick(t0)
	q.Settle()
	if s.Log().Count("store", EventPersisted) != 1 {
		t.Fatalf("expected one save:\n%s", s.Log().Format())
	}
	got, err := store.Load(1)
	if err != nil || got.Settlement.Name != "Aurora" || len(got.Tiles) != 100 {
		t.Fatalf("saved snapshot = %+v err=%v", got.Settlement, err)
	}

	// Throttled: nothing new is saved within PersistEvery.
	s.Tick(t0.Add(time.Second))
	q.Settle()
	if s.Log().Count("store", EventPersisted) != 1 {
		t.Fatal("save should be throttled")
	}
	if err := s.SaveNow(t0.Add(2 * time.Second)); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
}

// --- scripted fetcher: responses are released by the test, in any order ---

type reply struct {
	v   any
	err error
}

type call struct {
	r       Resource
	release chan reply
}

type scriptedFetcher struct {
	calls chan *call
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{calls: make(chan *call, 32)}
}

func (f *scriptedFetcher) wait(r Resource) reply {
	c := &call{r: r, release: make(chan reply, 1)}
	f.calls <- c
	return <-c.release
}

func (f *scriptedFetcher) FetchSettlement(context.Context, int) (api.Settlement, error) {
	rep := f.wait(Settlement)
	if rep.err != nil {
		return api.Settlement{}, rep.err
	}
	return rep.v.(api.Settlement), nil
}

func (f *scriptedFetcher) FetchGameClock(context.Context) (api.GameClock, error) {
	rep := f.wait(Clock)
	if rep.err != nil {
		return api.GameClock{}, rep.err
	}
	return rep.v.(api.GameClock), nil
}

func (f *scriptedFetcher) FetchMapTiles(context.Context, int) ([]api.Tile, error) {
	rep := f.wait(Tiles)
	if rep.err != nil {
		return nil, rep.err
	}
	return rep.v.([]api.Tile), nil
}

func (f *scriptedFetcher) FetchEvents(context.Context, int) ([]api.SettlementEvent, error) {
	rep := f.wait(Events)
	if rep.err != nil {
		return nil, rep.err
	}
	return rep.v.([]api.SettlementEvent), nil
}

func (f *scriptedFetcher) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a fetch")
		return nil
	}
}

// answer releases c and runs its completion on the test goroutine.
func answer(t *testing.T, q *loop.Queue, c *call, v any, err error) {
	t.Helper()
	c.release <- reply{v: v, err: err}
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("completion never posted")
		}
		time.Sleep(time.Millisecond)
	}
	q.Drain()
}

func settlementNamed(name string) api.Settlement { return api.Settlement{ID: 1, Name: name} }

func tilesOf(terrain string) []api.Tile { return []api.Tile{{Terrain: terrain}} }

func startScripted(t *testing.T, gate func() bool) (*Scheduler, *scriptedFetcher, *loop.Queue) {
	t.Helper()
	f := newScriptedFetcher()
	q := loop.NewQueue()
	s := NewScheduler(f, q, nil, Options{SettlementID: 1, EventsInterval: -1, Log: NewSyncLog()})
	if gate != nil {
		s.SetGate(Settlement, gate)
	}
	s.Start(context.Background())
	answer(t, q, f.next(t), settlementNamed("start"), nil)
	answer(t, q, f.next(t), api.GameClock{Tick: 1}, nil)
	answer(t, q, f.next(t), tilesOf("grass"), nil)
	if !s.Ready() {
		t.Fatal("not ready")
	}
	s.Tick(t0)
	return s, f, q
}

func TestPeriodicSettlementLandingDuringPlacementIsDiscarded(t *testing.T) {
	placing := false
	s, f, q := startScripted(t, func() bool { return !placing })

	s.Tick(t0.Add(time.Second))
	calls := map[Resource]*call{}
	for i := 0; i < 3; i++ {
		c := f.next(t)
		calls[c.r] = c
	}
	placing = true
	answer(t, q, calls[Settlement], settlementNamed("stale"), nil)
	if st, _ := s.Store().Settlement(); st.Name != "start" {
		t.Fatalf("settlement overwritten during placement: %q", st.Name)
	}
	if !s.Log().HasEntry("settlement", EventDiscarded, "gate closed") {
		t.Fatalf("expected a discard:\n%s", s.Log().Format())
	}
	// Clock and tiles are unaffected by the gate.
	answer(t, q, calls[Tiles], tilesOf("forest"), nil)
	if s.Store().Tiles()[0].Terrain != "forest" {
		t.Fatal("tiles should apply while placing")
	}
	answer(t, q, calls[Clock], api.GameClock{Tick: 2}, nil)
}

func TestOlderResponseNeverOverwritesNewer(t *testing.T) {
	s, f, q := startScripted(t, nil)

	var order []string
	s.RequestRefresh(func() { order = append(order, "first") }, Tiles)
	s.Tick(t0.Add(10 * time.Millisecond))
	older := f.next(t)
	s.RequestRefresh(func() { order = append(order, "second") }, Tiles)
	s.Tick(t0.Add(200 * time.Millisecond))
	newer := f.next(t)

	answer(t, q, newer, tilesOf("lake"), nil)
	answer(t, q, older, tilesOf("mountain"), nil)

	if got := s.Store().Tiles()[0].Terrain; got != "lake" {
		t.Fatalf("terrain = %q, want the newer response", got)
	}
	if !s.Log().HasEntry("tiles", EventDropped, "stale") {
		t.Fatalf("expected the older response to be dropped:\n%s", s.Log().Format())
	}
	// The newer fetch satisfies both waiters.
	if len(order) != 2 {
		t.Fatalf("done order = %v", order)
	}
}

func TestPeriodicFetchInFlightIsNotDuplicated(t *testing.T) {
	s, f, q := startScripted(t, nil)

	s.Tick(t0.Add(time.Second))
	held := map[Resource]*call{}
	for i := 0; i < 3; i++ {
		c := f.next(t)
		held[c.r] = c
	}
	s.Tick(t0.Add(2 * time.Second))
	if n := s.Log().Count("tiles", EventSkipped); n != 1 {
		t.Fatalf("tiles skips = %d:\n%s", n, s.Log().Format())
	}
	for _, c := range held {
		answer(t, q, c, map[Resource]any{Settlement: settlementNamed("x"), Clock: api.GameClock{}, Tiles: tilesOf("grass")}[c.r], nil)
	}
	s.Tick(t0.Add(3 * time.Second))
	for i := 0; i < 3; i++ {
		answer(t, q, f.next(t), nil, errors.New("offline"))
	}
	if st := s.Store().State(Clock); st.Failures != 1 || !st.Loaded {
		t.Fatalf("clock state = %+v", st)
	}
}

func TestRequestRefresh_LaterFailedPollDoesNotSatisfyDone(t *testing.T) {
	s, f, q := startScripted(t, nil)

	fired := false
	var seen string
	s.RequestRefresh(func() {
		fired = true
		seen = s.Store().Tiles()[0].Terrain
	}, Tiles)
	s.Tick(t0.Add(10 * time.Millisecond))
	forced := f.next(t)

	// The periodic tiles fetch is issued after the forced one and fails
	// first.
	s.Tick(t0.Add(time.Second))
	periodic := map[Resource]*call{}
	for i := 0; i < 3; i++ {
		c := f.next(t)
		periodic[c.r] = c
	}
	answer(t, q, periodic[Tiles], nil, errors.New("transient 502"))
	if fired {
		t.Fatalf("done ran before the forced refresh landed; saw %q", seen)
	}

	answer(t, q, forced, tilesOf("lake"), nil)
	if !fired || seen != "lake" {
		t.Fatalf("fired=%v seen=%q, want the refreshed tiles", fired, seen)
	}
	answer(t, q, periodic[Settlement], settlementNamed("x"), nil)
	answer(t, q, periodic[Clock], api.GameClock{Tick: 2}, nil)
}

func TestRequestHint_HonoursGateAndInFlight(t *testing.T) {
	placing := true
	s, f, q := startScripted(t, func() bool { return !placing })

	s.RequestHint(Settlement, Tiles)
	s.Tick(t0.Add(10 * time.Millisecond))
	c := f.next(t)
	if c.r != Tiles {
		t.Fatalf("hint fetched %s, want tiles", c.r)
	}
	if !s.Log().HasEntry("settlement", EventSkipped, "gate closed") {
		t.Fatalf("settlement hint should be gated:\n%s", s.Log().Format())
	}

	s.RequestHint(Tiles)
	s.Tick(t0.Add(200 * time.Millisecond))
	if !s.Log().HasEntry("tiles", EventSkipped, "in flight") {
		t.Fatalf("second tiles hint should be skipped:\n%s", s.Log().Format())
	}
	answer(t, q, c, tilesOf("forest"), nil)
	if got := s.Store().Tiles()[0].Terrain; got != "forest" {
		t.Fatalf("terrain = %q", got)
	}
	if st, _ := s.Store().Settlement(); st.Name != "start" {
		t.Fatalf("settlement changed while gated: %q", st.Name)
	}
	select {
	case extra := <-f.calls:
		t.Fatalf("unexpected fetch of %s", extra.r)
	default:
	}

	// With the gate open the same hint goes through.
	placing = false
	s.RequestHint(Settlement)
	s.Tick(t0.Add(400 * time.Millisecond))
	c = f.next(t)
	if c.r != Settlement {
		t.Fatalf("hint fetched %s, want settlement", c.r)
	}
	answer(t, q, c, settlementNamed("pushed"), nil)
	if st, _ := s.Store().Settlement(); st.Name != "pushed" {
		t.Fatalf("settlement = %q", st.Name)
	}
}
