// Package position tracks the single logical position per symbol and decides entries and exits.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/risk"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/signal"
)

// Position is the direction currently held.
type Position string

const (
	Flat  Position = "FLAT"
	Long  Position = "LONG"
	Short Position = "SHORT"
)

// State is the persisted per-symbol record. Entry, TP and SL are set iff the
// position is not FLAT.
type State struct {
	Symbol       string     `json:"symbol"`
	Position     Position   `json:"position"`
	EntryPrice   *float64   `json:"entry_price"`
	TP           *float64   `json:"tp"`
	SL           *float64   `json:"sl"`
	LastSignalTS *time.Time `json:"last_signal_ts"`
	SignalsToday int        `json:"signals_today"`
	SignalsDay   string     `json:"signals_day"`
}

// NewState returns the FLAT defaults used on first load.
func NewState(symbol string) State {
	return State{Symbol: symbol, Position: Flat}
}

var errInvariant = errors.New("position invariant violated")

// Valid checks the FLAT/levels invariant.
func (s State) Valid() error {
	levels := s.EntryPrice != nil && s.TP != nil && s.SL != nil
	none := s.EntryPrice == nil && s.TP == nil && s.SL == nil
	switch s.Position {
	case Flat:
		if !none {
			return fmt.Errorf("%w: FLAT with levels set", errInvariant)
		}
	case Long, Short:
		if !levels {
			return fmt.Errorf("%w: %s without entry/tp/sl", errInvariant, s.Position)
		}
	default:
		return fmt.Errorf("%w: unknown position %q", errInvariant, s.Position)
	}
	if s.SignalsToday < 0 {
		return fmt.Errorf("%w: negative signals_today", errInvariant)
	}
	return nil
}

// Clone deep-copies pointer fields.
func (s State) Clone() State {
	out := s
	out.EntryPrice = copyFloat(s.EntryPrice)
	out.TP = copyFloat(s.TP)
	out.SL = copyFloat(s.SL)
	if s.LastSignalTS != nil {
		ts := *s.LastSignalTS
		out.LastSignalTS = &ts
	}
	return out
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Kind names what a transition emitted.
type Kind string

const (
	KindEntry Kind = "ENTRY"
	KindExit  Kind = "EXIT"
)

// Transition describes an accepted state change.
type Transition struct {
	Kind   Kind
	Before State
	After  State
}

// Machine applies signals to states using the configured risk limits.
type Machine struct {
	Limits risk.Limits
}

// NewMachine builds a machine.
func NewMachine(limits risk.Limits) *Machine {
	return &Machine{Limits: limits}
}

// Apply mutates st according to sig. It returns the transition and true when an
// event must be emitted. Every other combination leaves the position unchanged
// and reports why an entry was declined, if it was.
func (m *Machine) Apply(st *State, sig signal.Signal, now time.Time) (Transition, risk.Decline, bool) {
	risk.RollDay(&st.SignalsDay, &st.SignalsToday, now)

	switch {
	case sig.Side.IsExit():
		if st.Position == Flat {
			return Transition{}, risk.DeclineNone, false
		}
		before := st.Clone()
		st.Position = Flat
		st.EntryPrice, st.TP, st.SL = nil, nil, nil
		ts := now.UTC()
		st.LastSignalTS = &ts
		return Transition{Kind: KindExit, Before: before, After: st.Clone()}, risk.DeclineNone, true

	case sig.Side.IsEntry():
		if st.Position != Flat {
			return Transition{}, risk.DeclineNone, false
		}
		ok, decline := m.Limits.Allow(risk.Candidate{
			Side:         sig.Side,
			Price:        sig.Price,
			TP:           sig.TP,
			SL:           sig.SL,
			LastSignalTS: st.LastSignalTS,
			SignalsDay:   &st.SignalsDay,
			SignalsToday: &st.SignalsToday,
		}, now)
		if !ok {
			return Transition{}, decline, false
		}
		before := st.Clone()
		st.Position = Long
		if sig.Side == signal.Sell {
			st.Position = Short
		}
		st.EntryPrice = copyFloat(sig.Price)
		st.TP = copyFloat(sig.TP)
		st.SL = copyFloat(sig.SL)
		ts := now.UTC()
		st.LastSignalTS = &ts
		st.SignalsToday++
		return Transition{Kind: KindEntry, Before: before, After: st.Clone()}, risk.DeclineNone, true
	}
	return Transition{}, risk.DeclineNone, false
}
