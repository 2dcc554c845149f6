package interact

import (
	"image"
	"time"

	"github.com/Garsondee/clouds-of-aurora/internal/tilemap"
)

// Mode is the interaction mode of the map.
type Mode uint8

const (
	Browsing Mode = iota
	Placement
)

func (m Mode) String() string {
	if m == Placement {
		return "placement"
	}
	return "browsing"
}

// Tier selects one of the two independent popup slots.
type Tier uint8

const (
	Quick Tier = iota
	Detailed
	tierCount // sentinel
)

func (t Tier) String() string {
	if t == Detailed {
		return "detailed"
	}
	return "quick"
}

// Popup is an open information popup.
type Popup struct {
	Tier     Tier
	Info     Info
	Tile     tilemap.Coord
	Anchor   image.Point
	Deadline time.Time
}

// NoticeKind is the severity of a notice.
type NoticeKind uint8

const (
	NoticeInfo NoticeKind = iota
	NoticeSuccess
	NoticeError
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeSuccess:
		return "success"
	case NoticeError:
		return "error"
	}
	return "info"
}

// Notice is a transient status message shown under the map.
type Notice struct {
	Kind    NoticeKind
	Text    string
	Expires time.Time
}

// Session is the client-only interaction state. It is owned by the update
// goroutine and changed only through the Router.
type Session struct {
	mode             Mode
	selected         string
	popups           [tierCount]*Popup
	placementPending bool
	notice           *Notice
}

// Mode returns the current mode.
func (s *Session) Mode() Mode { return s.mode }

// SelectedType returns the building type chosen for placement, or "".
func (s *Session) SelectedType() string { return s.selected }

// PlacementPending reports whether a placement request is in flight.
func (s *Session) PlacementPending() bool { return s.placementPending }

// Popup returns the open popup of tier t.
func (s *Session) Popup(t Tier) (Popup, bool) {
	if t >= tierCount || s.popups[t] == nil {
		return Popup{}, false
	}
	return *s.popups[t], true
}

// Notice returns the current notice.
func (s *Session) Notice() (Notice, bool) {
	if s.notice == nil {
		return Notice{}, false
	}
	return *s.notice, true
}

// open replaces the popup of tier t and restarts its dismiss timer.
func (s *Session) open(t Tier, info Info, anchor image.Point, deadline time.Time) *Popup {
	p := &Popup{Tier: t, Info: info, Tile: info.Coord(), Anchor: anchor, Deadline: deadline}
	s.popups[t] = p
	return p
}

func (s *Session) dismiss(t Tier) {
	s.popups[t] = nil
}

// expire closes popups and the notice whose deadline has passed.
func (s *Session) expire(now time.Time) {
	for t, p := range s.popups {
		if p != nil && !now.Before(p.Deadline) {
			s.popups[t] = nil
		}
	}
	if s.notice != nil && !now.Before(s.notice.Expires) {
		s.notice = nil
	}
}
