package syncloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
	"github.com/Garsondee/clouds-of-aurora/internal/loop"
	"github.com/Garsondee/clouds-of-aurora/internal/snapshot"
)

// Defaults for Options fields left zero.
const (
	DefaultInterval       = time.Second
	DefaultEventsInterval = 10 * time.Second
	DefaultRefreshEvery   = 100 * time.Millisecond
	DefaultRefreshBurst   = 4
	DefaultPersistEvery   = 30 * time.Second
)

// Fetcher is the part of the API client the scheduler polls.
type Fetcher interface {
	FetchSettlement(ctx context.Context, id int) (api.Settlement, error)
	FetchGameClock(ctx context.Context) (api.GameClock, error)
	FetchMapTiles(ctx context.Context, id int) ([]api.Tile, error)
	FetchEvents(ctx context.Context, id int) ([]api.SettlementEvent, error)
}

// Persister saves and restores store snapshots.
type Persister interface {
	Save(st snapshot.State) error
	Load(settlementID int) (snapshot.State, error)
}

// Options configures a Scheduler.
type Options struct {
	SettlementID int
	// Interval is the poll period of settlement, clock and tiles.
	Interval time.Duration
	// EventsInterval is the poll period of the event log. Negative
	// disables event polling entirely.
	EventsInterval time.Duration
	// RefreshEvery and RefreshBurst pace immediate refresh batches.
	RefreshEvery time.Duration
	RefreshBurst int
	// PersistEvery throttles snapshot saves.
	PersistEvery time.Duration
	Persister    Persister
	Logger       *slog.Logger
	Log          *SyncLog
	Now          func() time.Time
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.EventsInterval == 0 {
		o.EventsInterval = DefaultEventsInterval
	}
	if o.RefreshEvery <= 0 {
		o.RefreshEvery = DefaultRefreshEvery
	}
	if o.RefreshBurst <= 0 {
		o.RefreshBurst = DefaultRefreshBurst
	}
	if o.PersistEvery <= 0 {
		o.PersistEvery = DefaultPersistEvery
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type flight struct {
	seq    uint64
	forced bool
}

type refreshRequest struct {
	resources [resourceCount]bool
	done      func()
	hint      bool // honour gates, like a periodic fetch
}

// waiter is an issued refresh request waiting for its fetches to complete.
type waiter struct {
	want [resourceCount]uint64 // 0 once satisfied
	done func()
}

// Scheduler polls each resource on its own interval and serves immediate
// refresh requests. Except for RequestRefresh and RequestHint, all methods
// must be called from the goroutine that drains the queue.
type Scheduler struct {
	fetch  Fetcher
	queue  *loop.Queue
	store  *Store
	log    *SyncLog
	logger *slog.Logger
	opts   Options

	ctx     context.Context
	gates   [resourceCount]func() bool
	issued  [resourceCount]uint64
	busy    [resourceCount]bool // periodic fetch in flight
	next    [resourceCount]time.Time
	started bool
	ready   bool
	round   int
	waiters []*waiter

	limiter *rate.Limiter
	mu      sync.Mutex
	pending []refreshRequest

	dirty       bool
	saving      bool
	lastPersist time.Time
}

// NewScheduler wires a scheduler. Completions are delivered through q.
func NewScheduler(f Fetcher, q *loop.Queue, store *Store, opts Options) *Scheduler {
	opts.defaults()
	if store == nil {
		store = NewStore()
	}
	return &Scheduler{
		fetch:   f,
		queue:   q,
		store:   store,
		log:     opts.Log,
		logger:  opts.Logger,
		opts:    opts,
		ctx:     context.Background(),
		limiter: rate.NewLimiter(rate.Every(opts.RefreshEvery), opts.RefreshBurst),
	}
}

// Store returns the store the scheduler writes to.
func (s *Scheduler) Store() *Store { return s.store }

// Log returns the sync trace, which may be nil.
func (s *Scheduler) Log() *SyncLog { return s.log }

// Ready reports whether the start-up fetch sequence has finished.
func (s *Scheduler) Ready() bool { return s.ready }

// SetGate installs the predicate deciding whether periodic fetches and hints
// of r run. Immediate refresh requests ignore gates.
func (s *Scheduler) SetGate(r Resource, open func() bool) {
	if r < resourceCount {
		s.gates[r] = open
	}
}

func (s *Scheduler) gateOpen(r Resource) bool {
	g := s.gates[r]
	return g == nil || g()
}

// Start primes the store from the persister, then fetches settlement, clock,
// tiles and events one after another. Ready turns true once the sequence
// ends, whether or not the fetches succeeded.
func (s *Scheduler) Start(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true
	s.ctx = ctx
	s.restore()
	s.startStep(0)
}

func (s *Scheduler) startStep(i int) {
	for i < len(All) && s.interval(All[i]) < 0 {
		i++
	}
	if i == len(All) {
		s.ready = true
		s.logger.Info("sync ready", "settlement", s.opts.SettlementID, "status", s.store.Status())
		return
	}
	s.issue(All[i], true, "start", func() { s.startStep(i + 1) })
}

// RequestRefresh asks for an immediate fetch of resources (all when none
// are named). Duplicate requests made before the next Tick share one fetch
// per resource. done, if not nil, runs on the update goroutine after every
// named resource has completed, successfully or not. Safe for concurrent
// use.
func (s *Scheduler) RequestRefresh(done func(), resources ...Resource) {
	var req refreshRequest
	if len(resources) == 0 {
		resources = All
	}
	for _, r := range resources {
		if r < resourceCount {
			req.resources[r] = true
		}
	}
	req.done = done
	s.enqueue(req)
}

// RequestHint asks for an early poll of resources (all when none are named),
// for background change notifications. Unlike RequestRefresh it honours
// gates and is skipped while a periodic fetch of the same resource is in
// flight. Safe for concurrent use.
func (s *Scheduler) RequestHint(resources ...Resource) {
	req := refreshRequest{hint: true}
	if len(resources) == 0 {
		resources = All
	}
	for _, r := range resources {
		if r < resourceCount {
			req.resources[r] = true
		}
	}
	s.enqueue(req)
}

func (s *Scheduler) enqueue(req refreshRequest) {
	s.mu.Lock()
	s.pending = append(s.pending, req)
	s.mu.Unlock()
}

// PendingRefresh reports whether refresh requests are waiting to be issued.
func (s *Scheduler) PendingRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Tick advances the scheduler to now: it issues due periodic fetches,
// flushes the refresh queue and saves a snapshot when one is due.
func (s *Scheduler) Tick(now time.Time) {
	if !s.started {
		return
	}
	s.round++
	s.flushRefresh(now)
	if s.ready {
		s.poll(now)
	}
	s.persist(now)
}

func (s *Scheduler) flushRefresh(now time.Time) {
	s.mu.Lock()
	if len(s.pending) == 0 || !s.limiter.AllowN(now, 1) {
		s.mu.Unlock()
		return
	}
	reqs := s.pending
	s.pending = nil
	s.mu.Unlock()

	var batch, hints [resourceCount]bool
	for _, req := range reqs {
		for r, want := range req.resources {
			if req.hint {
				hints[r] = hints[r] || want
			} else {
				batch[r] = batch[r] || want
			}
		}
	}
	var seqs [resourceCount]uint64
	for _, r := range All {
		switch {
		case batch[r]:
			seqs[r] = s.issue(r, true, "refresh", nil)
		case hints[r]:
			s.tryPoll(r, "hint")
		}
	}
	for _, req := range reqs {
		if req.done == nil {
			continue
		}
		w := &waiter{done: req.done}
		for r, want := range req.resources {
			if want {
				w.want[r] = seqs[r]
			}
		}
		s.waiters = append(s.waiters, w)
	}
}

func (s *Scheduler) interval(r Resource) time.Duration {
	if r == Events {
		return s.opts.EventsInterval
	}
	return s.opts.Interval
}

func (s *Scheduler) poll(now time.Time) {
	for _, r := range All {
		iv := s.interval(r)
		if iv < 0 {
			continue
		}
		if s.next[r].IsZero() {
			s.next[r] = now.Add(iv)
			continue
		}
		if now.Before(s.next[r]) {
			continue
		}
		s.next[r] = now.Add(iv)
		s.tryPoll(r, "")
	}
}

// tryPoll issues an unforced fetch of r unless its gate is closed or one is
// already in flight.
func (s *Scheduler) tryPoll(r Resource, why string) {
	if !s.gateOpen(r) {
		s.record(r, EventSkipped, 0, false, "gate closed")
		return
	}
	if s.busy[r] {
		s.record(r, EventSkipped, 0, false, "in flight")
		return
	}
	s.busy[r] = true
	s.issue(r, false, why, nil)
}

func (s *Scheduler) fetcher(r Resource) func(ctx context.Context) (any, error) {
	id := s.opts.SettlementID
	switch r {
	case Settlement:
		return func(ctx context.Context) (any, error) { return s.fetch.FetchSettlement(ctx, id) }
	case Clock:
		return func(ctx context.Context) (any, error) { return s.fetch.FetchGameClock(ctx) }
	case Tiles:
		return func(ctx context.Context) (any, error) { return s.fetch.FetchMapTiles(ctx, id) }
	default:
		return func(ctx context.Context) (any, error) { return s.fetch.FetchEvents(ctx, id) }
	}
}

// issue starts one fetch of r and returns its sequence number. then runs
// after the result has been handled.
func (s *Scheduler) issue(r Resource, forced bool, why string, then func()) uint64 {
	s.issued[r]++
	f := flight{seq: s.issued[r], forced: forced}
	s.record(r, EventIssued, f.seq, forced, why)
	loop.Run(s.ctx, s.queue, s.fetcher(r), func(v any, err error) {
		s.complete(r, f, v, err)
		if then != nil {
			then()
		}
	})
	return f.seq
}

func (s *Scheduler) complete(r Resource, f flight, v any, err error) {
	if !f.forced {
		s.busy[r] = false
	}
	applied := s.store.state[r].Seq
	switch {
	case f.seq < applied:
		s.record(r, EventDropped, f.seq, f.forced, "stale")
	case err != nil:
		s.store.fail(r, err)
		s.record(r, EventFailed, f.seq, f.forced, err.Error())
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("sync fetch failed", "resource", r.String(), "seq", f.seq, "err", err)
		}
	case !f.forced && !s.gateOpen(r):
		s.record(r, EventDiscarded, f.seq, false, "gate closed")
	default:
		s.store.apply(r, f.seq, v, s.opts.Now())
		s.dirty = true
		s.record(r, EventApplied, f.seq, f.forced, "")
	}
	s.settle(r, f.seq)
}

// settle runs the callbacks of waiters satisfied by the fetch seq of r. A
// waiter is satisfied by its own fetch, or once the store holds data at
// least as new. A later fetch that failed or was discarded does not count.
func (s *Scheduler) settle(r Resource, seq uint64) {
	var ready []func()
	applied := s.store.state[r].Seq
	kept := s.waiters[:0]
	for _, w := range s.waiters {
		if want := w.want[r]; want != 0 && (seq == want || applied >= want) {
			w.want[r] = 0
		}
		if w.satisfied() {
			ready = append(ready, w.done)
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(s.waiters); i++ {
		s.waiters[i] = nil
	}
	s.waiters = kept
	for _, fn := range ready {
		fn()
	}
}

func (w *waiter) satisfied() bool {
	for _, seq := range w.want {
		if seq != 0 {
			return false
		}
	}
	return true
}

func (s *Scheduler) record(r Resource, event string, seq uint64, forced bool, detail string) {
	s.log.Add(SyncLogEntry{
		Round:    s.round,
		Resource: r.String(),
		Event:    event,
		Seq:      seq,
		Forced:   forced,
		Detail:   detail,
	})
	s.logger.Debug("sync", "resource", r.String(), "event", event, "seq", seq, "forced", forced, "detail", detail)
}

func (s *Scheduler) restore() {
	p := s.opts.Persister
	if p == nil {
		return
	}
	st, err := p.Load(s.opts.SettlementID)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		return
	}
	if err != nil {
		s.logger.Warn("snapshot load failed", "err", err)
		return
	}
	s.store.Restore(st)
	for _, r := range All {
		if s.store.State(r).Loaded {
			s.record(r, EventRestored, 0, false, st.SavedAt.Format(time.RFC3339))
		}
	}
}

func (s *Scheduler) persist(now time.Time) {
	p := s.opts.Persister
	if p == nil || !s.dirty || s.saving || now.Sub(s.lastPersist) < s.opts.PersistEvery {
		return
	}
	st := s.store.Snapshot(s.opts.SettlementID, now)
	s.dirty = false
	s.saving = true
	s.lastPersist = now
	loop.Run(s.ctx, s.queue, func(context.Context) (struct{}, error) {
		return struct{}{}, p.Save(st)
	}, func(_ struct{}, err error) {
		s.saving = false
		if err != nil {
			s.dirty = true
			s.logger.Warn("snapshot save failed", "err", err)
			return
		}
		s.log.Add(SyncLogEntry{Round: s.round, Resource: "store", Event: EventPersisted})
	})
}

// SaveNow writes a snapshot synchronously if anything changed since the
// last save. Used on shutdown.
func (s *Scheduler) SaveNow(now time.Time) error {
	p := s.opts.Persister
	if p == nil || !s.dirty {
		return nil
	}
	if err := p.Save(s.store.Snapshot(s.opts.SettlementID, now)); err != nil {
		return err
	}
	s.dirty = false
	s.lastPersist = now
	return nil
}
