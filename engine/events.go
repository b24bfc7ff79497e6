package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/breakout/ledger"
)

type EventKind string

const (
	EventBadBar        EventKind = "bad_bar"
	EventArmed         EventKind = "armed"
	EventNoSessionData EventKind = "no_session_data"
	EventSizingSkip    EventKind = "sizing_skip"
	EventAmbiguousBar  EventKind = "ambiguous_bar"
	EventOverlap       EventKind = "overlapping_session"
	EventEntry         EventKind = "entry"
	EventAbandoned     EventKind = "entry_abandoned"
	EventDuplicate     EventKind = "duplicate_position"
	EventSessionTraded EventKind = "session_already_traded"
	EventExit          EventKind = "exit"
	EventCloseFailed   EventKind = "close_failed"
	EventStopMoved     EventKind = "stop_moved"
	EventReconciled    EventKind = "reconciled"
)

type Event struct {
	Time   time.Time `json:"time"`
	Kind   EventKind `json:"kind"`
	Detail string    `json:"detail"`
}

// Summary counts what happened during a run. Log keeps every event that is
// not routine trading flow.
type Summary struct {
	Bars   int               `json:"bars"`
	Counts map[EventKind]int `json:"counts"`
	Log    []Event           `json:"log,omitempty"`
}

func (s Summary) Count(k EventKind) int { return s.Counts[k] }

func (s *Summary) add(ev Event) {
	if s.Counts == nil {
		s.Counts = make(map[EventKind]int)
	}
	s.Counts[ev.Kind]++
	switch ev.Kind {
	case EventArmed, EventEntry, EventExit, EventStopMoved:
	default:
		s.Log = append(s.Log, ev)
	}
}

func (s Summary) clone() Summary {
	out := Summary{Bars: s.Bars, Counts: make(map[EventKind]int, len(s.Counts))}
	for k, v := range s.Counts {
		out.Counts[k] = v
	}
	out.Log = append([]Event(nil), s.Log...)
	return out
}

// String renders the counters on one line, sorted by kind.
func (s Summary) String() string {
	kinds := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	var b strings.Builder
	fmt.Fprintf(&b, "bars=%d", s.Bars)
	for _, k := range kinds {
		fmt.Fprintf(&b, " %s=%d", k, s.Counts[EventKind(k)])
	}
	return b.String()
}

// Observers fans engine activity out to several observers.
type Observers []Observer

func (o Observers) Event(ev Event) {
	for _, x := range o {
		x.Event(ev)
	}
}

func (o Observers) Trade(tr ledger.Trade) {
	for _, x := range o {
		x.Trade(tr)
	}
}

func (o Observers) Equity(p ledger.EquityPoint) {
	for _, x := range o {
		x.Equity(p)
	}
}
