package syncloop

import (
	"fmt"
	"strings"
	"time"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
	"github.com/Garsondee/clouds-of-aurora/internal/snapshot"
	"github.com/Garsondee/clouds-of-aurora/internal/tilemap"
)

// Resource is one independently synchronised server resource.
type Resource uint8

const (
	Settlement Resource = iota
	Clock
	Tiles
	Events
	resourceCount // sentinel
)

// All lists every resource in start-up fetch order.
var All = []Resource{Settlement, Clock, Tiles, Events}

var resourceNames = [resourceCount]string{
	Settlement: "settlement",
	Clock:      "clock",
	Tiles:      "tiles",
	Events:     "events",
}

func (r Resource) String() string {
	if r >= resourceCount {
		return fmt.Sprintf("Resource(%d)", r)
	}
	return resourceNames[r]
}

// ResourceState is the bookkeeping kept next to each resource's data.
type ResourceState struct {
	Loaded    bool
	Seq       uint64 // sequence number of the applied response
	UpdatedAt time.Time
	LastError error
	Failures  int // consecutive
}

// Store holds the latest successfully received copy of each resource. Each
// value is replaced wholesale on apply and never mutated in place, so a
// snapshot handed to another goroutine stays valid.
type Store struct {
	settlement api.Settlement
	clock      api.GameClock
	tiles      []api.Tile
	events     []api.SettlementEvent
	state      [resourceCount]ResourceState

	version    uint64
	index      *tilemap.Index
	indexBuilt uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Settlement returns the latest settlement and whether one was received.
func (s *Store) Settlement() (api.Settlement, bool) {
	return s.settlement, s.state[Settlement].Loaded
}

// Clock returns the latest game clock.
func (s *Store) Clock() (api.GameClock, bool) {
	return s.clock, s.state[Clock].Loaded
}

// Tiles returns the latest map tiles.
func (s *Store) Tiles() []api.Tile { return s.tiles }

// Events returns the latest settlement events, newest first as served.
func (s *Store) Events() []api.SettlementEvent { return s.events }

// Buildings returns the buildings of the latest settlement.
func (s *Store) Buildings() []api.Building { return s.settlement.Buildings }

// State returns the bookkeeping for r.
func (s *Store) State(r Resource) ResourceState {
	if r >= resourceCount {
		return ResourceState{}
	}
	return s.state[r]
}

// Version increases every time any resource is applied.
func (s *Store) Version() uint64 { return s.version }

// Index returns a coordinate lookup over the current tiles and buildings,
// rebuilt lazily after either changes.
func (s *Store) Index() *tilemap.Index {
	if s.index == nil || s.indexBuilt != s.version {
		s.index = tilemap.NewIndex(s.tiles, s.settlement.Buildings)
		s.indexBuilt = s.version
	}
	return s.index
}

// Status returns a one-line summary of resources currently failing, or ""
// when every resource is healthy.
func (s *Store) Status() string {
	var parts []string
	for _, r := range All {
		st := s.state[r]
		if st.LastError == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s (%d)", r, api.Message(st.LastError), st.Failures))
	}
	return strings.Join(parts, " | ")
}

func (s *Store) apply(r Resource, seq uint64, v any, now time.Time) {
	switch r {
	case Settlement:
		s.settlement = v.(api.Settlement)
	case Clock:
		s.clock = v.(api.GameClock)
	case Tiles:
		s.tiles = v.([]api.Tile)
	case Events:
		s.events = v.([]api.SettlementEvent)
	}
	s.state[r] = ResourceState{Loaded: true, Seq: seq, UpdatedAt: now}
	s.version++
}

func (s *Store) fail(r Resource, err error) {
	st := &s.state[r]
	st.LastError = err
	st.Failures++
}

// Snapshot copies the loaded resources for persistence.
func (s *Store) Snapshot(settlementID int, now time.Time) snapshot.State {
	out := snapshot.State{SettlementID: settlementID, SavedAt: now, Tiles: s.tiles, Events: s.events}
	if s.state[Settlement].Loaded {
		st := s.settlement
		out.Settlement = &st
	}
	if s.state[Clock].Loaded {
		c := s.clock
		out.Clock = &c
	}
	return out
}

// Restore primes empty resources from a saved snapshot. Resources already
// received from the server are left alone. Restored data carries sequence
// number zero so any live response replaces it.
func (s *Store) Restore(st snapshot.State) {
	restored := false
	if st.Settlement != nil && !s.state[Settlement].Loaded {
		s.settlement = *st.Settlement
		s.state[Settlement] = ResourceState{Loaded: true, UpdatedAt: st.SavedAt}
		restored = true
	}
	if st.Clock != nil && !s.state[Clock].Loaded {
		s.clock = *st.Clock
		s.state[Clock] = ResourceState{Loaded: true, UpdatedAt: st.SavedAt}
		restored = true
	}
	if st.Tiles != nil && !s.state[Tiles].Loaded {
		s.tiles = st.Tiles
		s.state[Tiles] = ResourceState{Loaded: true, UpdatedAt: st.SavedAt}
		restored = true
	}
	if st.Events != nil && !s.state[Events].Loaded {
		s.events = st.Events
		s.state[Events] = ResourceState{Loaded: true, UpdatedAt: st.SavedAt}
		restored = true
	}
	if restored {
		s.version++
	}
}
