package gesture

import (
	"image"
	"time"

	"github.com/Garsondee/clouds-of-aurora/internal/tilemap"
)

// DefaultWindow is how long a primary press is held back waiting for a
// second press.
const DefaultWindow = 180 * time.Millisecond

// Kind is the logical interaction emitted for a press sequence.
type Kind uint8

const (
	Single Kind = iota + 1
	Double
	Right
)

func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Double:
		return "double"
	case Right:
		return "right"
	}
	return "none"
}

// Button is the pointer button that was pressed.
type Button uint8

const (
	Primary Button = iota
	Secondary
)

// State is the disambiguator state.
type State uint8

const (
	Idle State = iota
	PendingSingle
)

// Event is one logical tile interaction.
type Event struct {
	Kind Kind
	// Tile is the grid cell under the pointer. It is only meaningful when
	// InGrid is true; out-of-grid presses still emit so the router can
	// decide to ignore them.
	Tile   tilemap.Coord
	InGrid bool
	// Screen is the surface-relative pointer position, used to anchor
	// popups.
	Screen image.Point
	At     time.Time
}

// Disambiguator is the per-surface gesture state machine. It is driven from
// a single goroutine; the debounce timer is a deadline checked by Update.
type Disambiguator struct {
	grid   tilemap.Grid
	window time.Duration

	state    State
	token    uint64 // incremented on every arm
	armed    uint64 // token of the live timer; 0 when none
	deadline time.Time
	pending  Event
}

// New returns a disambiguator for a surface laid out as grid. A window <= 0
// uses DefaultWindow.
func New(grid tilemap.Grid, window time.Duration) *Disambiguator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Disambiguator{grid: grid, window: window}
}

// State returns the current state.
func (d *Disambiguator) State() State { return d.state }

// SetGrid changes the layout used to resolve tiles for later presses.
func (d *Disambiguator) SetGrid(g tilemap.Grid) { d.grid = g }

// Press feeds one button press at surface position p. It returns the event
// emitted immediately (Double or Right), if any.
func (d *Disambiguator) Press(b Button, p image.Point, now time.Time) (Event, bool) {
	if b == Secondary {
		return d.event(Right, p, now), true
	}
	if d.state == PendingSingle && d.armed != 0 && now.Before(d.deadline) {
		d.disarm()
		return d.event(Double, p, now), true
	}
	// Either idle, or the deadline passed without an Update in between; the
	// held single is still owed.
	if d.state == PendingSingle {
		prev := d.pending
		d.arm(p, now)
		prev.At = now
		return prev, true
	}
	d.arm(p, now)
	return Event{}, false
}

// Update fires the debounce timer if its deadline has passed and returns
// the held Single.
func (d *Disambiguator) Update(now time.Time) (Event, bool) {
	if d.state != PendingSingle || d.armed != d.token || now.Before(d.deadline) {
		return Event{}, false
	}
	ev := d.pending
	ev.At = now
	d.disarm()
	return ev, true
}

// Deadline returns when the pending single fires, if one is pending.
func (d *Disambiguator) Deadline() (time.Time, bool) {
	if d.state != PendingSingle {
		return time.Time{}, false
	}
	return d.deadline, true
}

// Cancel drops any pending single without emitting it.
func (d *Disambiguator) Cancel() {
	d.disarm()
}

func (d *Disambiguator) arm(p image.Point, now time.Time) {
	d.token++
	d.armed = d.token
	d.deadline = now.Add(d.window)
	d.pending = d.event(Single, p, now)
	d.state = PendingSingle
}

func (d *Disambiguator) disarm() {
	d.armed = 0
	d.pending = Event{}
	d.state = Idle
}

func (d *Disambiguator) event(k Kind, p image.Point, now time.Time) Event {
	c, ok := d.grid.TileAt(p)
	return Event{Kind: k, Tile: c, InGrid: ok, Screen: p, At: now}
}
