package game

import (
	"fmt"
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
	"github.com/Garsondee/clouds-of-aurora/internal/interact"
	"github.com/Garsondee/clouds-of-aurora/internal/render"
)

const (
	logPanelWidth = 320
	logMaxEntries = 60
	logLineHeight = 15
	logWrapChars  = 42
)

// LogSource says where an event log entry came from.
type LogSource uint8

const (
	SourceServer LogSource = iota // settlement event log
	SourceClient                  // notices raised by this client
)

// LogEntry is one line in the event log panel.
type LogEntry struct {
	Stamp   string
	Source  LogSource
	Kind    string
	Message string
}

// EventLog is a ring buffer of settlement events and client notices.
type EventLog struct {
	entries []LogEntry
	head    int
	count   int
	seen    map[int]struct{}
}

// NewEventLog creates an event log with a fixed capacity.
func NewEventLog() *EventLog {
	return &EventLog{
		entries: make([]LogEntry, logMaxEntries),
		seen:    make(map[int]struct{}),
	}
}

// Add appends an entry, overwriting the oldest when full.
func (el *EventLog) Add(e LogEntry) {
	el.entries[el.head] = e
	el.head = (el.head + 1) % logMaxEntries
	if el.count < logMaxEntries {
		el.count++
	}
}

// Merge adds the server events that have not been seen before, oldest
// first. The server returns newest first.
func (el *EventLog) Merge(events []api.SettlementEvent) int {
	added := 0
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if _, ok := el.seen[ev.ID]; ok {
			continue
		}
		el.seen[ev.ID] = struct{}{}
		el.Add(LogEntry{Stamp: shortStamp(ev.Timestamp), Source: SourceServer, Kind: ev.Type, Message: ev.Description})
		added++
	}
	return added
}

// Note records a client notice raised at the given time.
func (el *EventLog) Note(n interact.Notice, at time.Time) {
	el.Add(LogEntry{
		Stamp:   at.Format("15:04:05"),
		Source:  SourceClient,
		Kind:    n.Kind.String(),
		Message: n.Text,
	})
}

// Recent returns entries in chronological order (oldest first).
func (el *EventLog) Recent() []LogEntry {
	result := make([]LogEntry, el.count)
	for i := 0; i < el.count; i++ {
		idx := (el.head - el.count + i + logMaxEntries) % logMaxEntries
		result[i] = el.entries[idx]
	}
	return result
}

// shortStamp trims an RFC 3339 timestamp to its clock part.
func shortStamp(ts string) string {
	if len(ts) >= 19 && ts[10] == 'T' {
		return ts[11:19]
	}
	return ts
}

// Draw renders the event log panel on the right side of the screen.
func (el *EventLog) Draw(screen *ebiten.Image, panelX int, panelH int) {
	vector.FillRect(screen, float32(panelX), 0, float32(logPanelWidth), float32(panelH), color.RGBA{R: 14, G: 16, B: 22, A: 248}, false)
	vector.StrokeLine(screen, float32(panelX), 0, float32(panelX), float32(panelH), 1.0, color.RGBA{R: 60, G: 70, B: 90, A: 255}, false)

	vector.FillRect(screen, float32(panelX), 0, float32(logPanelWidth), 18, color.RGBA{R: 26, G: 30, B: 42, A: 255}, false)
	ebitenutil.DebugPrintAt(screen, "SETTLEMENT LOG", panelX+8, 2)
	vector.StrokeLine(screen, float32(panelX), 18, float32(panelX+logPanelWidth), 18, 1.0, color.RGBA{R: 60, G: 80, B: 110, A: 200}, false)

	var lines []logLine
	for _, e := range el.Recent() {
		head := fmt.Sprintf("%s %s", e.Stamp, e.Message)
		for i, l := range wrap(head, logWrapChars) {
			lines = append(lines, logLine{text: l, entry: e, first: i == 0})
		}
	}

	// Newest at the bottom.
	maxVisible := (panelH - 26) / logLineHeight
	if len(lines) > maxVisible {
		lines = lines[len(lines)-maxVisible:]
	}

	y := 22
	for _, l := range lines {
		if l.first {
			vector.FillRect(screen, float32(panelX+5), float32(y+4), 3, 7, entryColor(l.entry), false)
		}
		col := color.RGBA{R: 200, G: 205, B: 215, A: 255}
		if l.entry.Source == SourceClient {
			col = color.RGBA{R: 160, G: 170, B: 190, A: 255}
		}
		render.DrawText(screen, l.text, panelX+12, y, col)
		y += logLineHeight
	}
}

type logLine struct {
	text  string
	entry LogEntry
	first bool
}

func entryColor(e LogEntry) color.RGBA {
	if e.Source == SourceServer {
		return color.RGBA{R: 210, G: 180, B: 90, A: 255}
	}
	switch e.Kind {
	case "success":
		return noticeOK
	case "error":
		return noticeError
	}
	return noticeInfo
}
