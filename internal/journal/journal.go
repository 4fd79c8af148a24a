// Package journal is the append-only audit trail of accepted transitions and anomalous inputs.
package journal

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audit record.
type EventType string

const (
	Entry EventType = "ENTRY"
	Exit  EventType = "EXIT"
	Error EventType = "ERROR"
	Raw   EventType = "RAW"
)

// TradeEvent is one audit record.
type TradeEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Symbol    string          `json:"symbol,omitempty"`
	TF        string          `json:"tf,omitempty"`
	Side      string          `json:"side,omitempty"`
	Price     *float64        `json:"price"`
	TP        *float64        `json:"tp,omitempty"`
	SL        *float64        `json:"sl,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Position  string          `json:"position,omitempty"`
	Error     string          `json:"error,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// NewEvent stamps a fresh ID and a UTC timestamp.
func NewEvent(typ EventType, now time.Time) TradeEvent {
	return TradeEvent{ID: uuid.NewString(), Type: typ, Timestamp: now.UTC()}
}

const (
	DefaultLimit = 20
	MaxLimit     = 200
)

// Filter narrows Query results. Empty fields match everything.
type Filter struct {
	Symbol string
	TF     string
	Side   string
	Type   string
	Limit  int
}

// Normalized clamps the limit and canonicalises case.
func (f Filter) Normalized() Filter {
	f.Symbol = strings.ToUpper(strings.TrimSpace(f.Symbol))
	f.TF = strings.TrimSpace(f.TF)
	f.Side = strings.ToUpper(strings.TrimSpace(f.Side))
	f.Type = strings.ToUpper(strings.TrimSpace(f.Type))
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

// Match reports whether ev satisfies the filter.
func (f Filter) Match(ev TradeEvent) bool {
	if f.Symbol != "" && ev.Symbol != f.Symbol {
		return false
	}
	if f.TF != "" && ev.TF != f.TF {
		return false
	}
	if f.Side != "" && ev.Side != f.Side {
		return false
	}
	if f.Type != "" && string(ev.Type) != f.Type {
		return false
	}
	return true
}

// Stats summarises the journal by event type and side.
type Stats struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
	BySide map[string]int `json:"by_side"`
}

func newStats() Stats {
	return Stats{ByType: map[string]int{}, BySide: map[string]int{}}
}

func (s *Stats) add(ev TradeEvent) {
	s.Total++
	s.ByType[string(ev.Type)]++
	if ev.Side != "" {
		s.BySide[ev.Side]++
	}
}

// Journal is the persistence collaborator consumed by the engine and the read endpoints.
type Journal interface {
	Append(ctx context.Context, ev TradeEvent) error
	Query(ctx context.Context, f Filter) ([]TradeEvent, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// newestFirst filters events (oldest first) and returns at most f.Limit, newest first.
func newestFirst(events []TradeEvent, f Filter) []TradeEvent {
	out := make([]TradeEvent, 0, f.Limit)
	for i := len(events) - 1; i >= 0 && len(out) < f.Limit; i-- {
		if f.Match(events[i]) {
			out = append(out, events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}
