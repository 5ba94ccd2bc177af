// Package ledger holds the repeat-scoped buffer of accepted shot events.
package ledger

import (
	"sort"
	"time"

	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
)

// Ledger is an append-only buffer of shot events for one repeat.
// It carries no synchronization of its own; the owning session
// serializes all access.
type Ledger struct {
	events []model.ShotEvent
}

func New() *Ledger {
	return &Ledger{events: make([]model.ShotEvent, 0)}
}

// Append records a shot with its acceptance timestamp.
func (l *Ledger) Append(shot model.ShotRecord, receivedAt time.Time) {
	l.events = append(l.events, model.ShotEvent{Shot: shot, ReceivedAt: receivedAt})
}

func (l *Ledger) Len() int {
	return len(l.events)
}

// Sorted returns a copy of the events ordered by acceptance time.
func (l *Ledger) Sorted() []model.ShotEvent {
	ret := make([]model.ShotEvent, len(l.events))
	copy(ret, l.events)
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].ReceivedAt.Before(ret[j].ReceivedAt)
	})
	return ret
}

func (l *Ledger) Clear() {
	l.events = l.events[:0]
}
