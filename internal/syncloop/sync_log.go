package syncloop

import (
	"fmt"
	"strings"
)

// Sync log event names.
const (
	EventIssued    = "issued"
	EventApplied   = "applied"
	EventSkipped   = "skipped"   // periodic fetch not issued: gate closed or one in flight
	EventDiscarded = "discarded" // periodic result landed while the gate was closed
	EventDropped   = "dropped"   // older than what is already applied
	EventFailed    = "failed"
	EventPersisted = "persisted"
	EventRestored  = "restored"
)

// SyncLogEntry is one recorded scheduler decision.
type SyncLogEntry struct {
	Round    int // scheduler Tick count when recorded
	Resource string
	Event    string
	Seq      uint64
	Forced   bool
	Detail   string
}

// String formats the entry as a fixed-width log line.
//
//	[T=042] tiles      applied    #7  forced
func (e SyncLogEntry) String() string {
	line := fmt.Sprintf("[T=%03d] %-10s %-10s #%-3d", e.Round, e.Resource, e.Event, e.Seq)
	if e.Forced {
		line += " forced"
	}
	if e.Detail != "" {
		line += " " + e.Detail
	}
	return line
}

// SyncLog is a machine-readable trace of what the scheduler fetched and
// what it did with each response.
type SyncLog struct {
	entries []SyncLogEntry
	limit   int
}

// NewSyncLog creates an empty, unbounded log.
func NewSyncLog() *SyncLog {
	return &SyncLog{}
}

// NewBoundedSyncLog creates a log that keeps only the newest limit entries.
func NewBoundedSyncLog(limit int) *SyncLog {
	return &SyncLog{limit: limit}
}

// Add records a new entry.
func (sl *SyncLog) Add(e SyncLogEntry) {
	if sl == nil {
		return
	}
	sl.entries = append(sl.entries, e)
	if sl.limit > 0 && len(sl.entries) > sl.limit {
		n := copy(sl.entries, sl.entries[len(sl.entries)-sl.limit:])
		sl.entries = sl.entries[:n]
	}
}

// Entries returns all recorded entries.
func (sl *SyncLog) Entries() []SyncLogEntry {
	if sl == nil {
		return nil
	}
	return sl.entries
}

// Filter returns entries matching resource and/or event. Pass an empty
// string to match any value for that field.
func (sl *SyncLog) Filter(resource, event string) []SyncLogEntry {
	var out []SyncLogEntry
	for _, e := range sl.Entries() {
		if resource != "" && e.Resource != resource {
			continue
		}
		if event != "" && e.Event != event {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Count returns how many entries match resource and event.
func (sl *SyncLog) Count(resource, event string) int {
	return len(sl.Filter(resource, event))
}

// LastOf returns the most recent entry matching resource and event.
func (sl *SyncLog) LastOf(resource, event string) (SyncLogEntry, bool) {
	entries := sl.Filter(resource, event)
	if len(entries) == 0 {
		return SyncLogEntry{}, false
	}
	return entries[len(entries)-1], true
}

// HasEntry reports whether an entry matches resource, event and a detail
// substring.
func (sl *SyncLog) HasEntry(resource, event, detailSubstr string) bool {
	for _, e := range sl.Filter(resource, event) {
		if detailSubstr == "" || strings.Contains(e.Detail, detailSubstr) {
			return true
		}
	}
	return false
}

// Format returns the full log, one entry per line.
func (sl *SyncLog) Format() string {
	var sb strings.Builder
	for _, e := range sl.Entries() {
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Summary returns per-resource counts of each event.
func (sl *SyncLog) Summary() string {
	var sb strings.Builder
	sb.WriteString("--- Sync summary ---\n")
	for _, r := range All {
		name := r.String()
		fmt.Fprintf(&sb, "%-10s issued=%d applied=%d skipped=%d discarded=%d dropped=%d failed=%d\n",
			name,
			sl.Count(name, EventIssued),
			sl.Count(name, EventApplied),
			sl.Count(name, EventSkipped),
			sl.Count(name, EventDiscarded),
			sl.Count(name, EventDropped),
			sl.Count(name, EventFailed))
	}
	return sb.String()
}
