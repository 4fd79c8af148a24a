// Package engine turns authenticated alerts into position transitions and fans the
// resulting events out to the journal, the event stream and the notifier.
package engine

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/auth"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/journal"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/metrics"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/notify"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/position"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/risk"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/signal"
)

// Reasons returned by the processor in addition to auth.Reason codes.
const (
	ReasonEmptyBody        = "empty_body"
	ReasonBadPassphrase    = "bad_passphrase"
	ReasonStateUnavailable = "state_unavailable"
)

// Notes describing accepted requests.
const (
	NoteRawMessage   = "raw_message received"
	NoteNoTransition = "no transition"
)

// Config holds the values the processor consumes.
type Config struct {
	Secret        []byte
	Passphrase    string
	MaxSkew       time.Duration
	NonceTTL      time.Duration
	NonceCapacity int
	Limits        risk.Limits
}

// Publisher receives events after they have been journaled.
type Publisher interface {
	Publish(ev journal.TradeEvent)
}

// Recorder is the part of the journal the processor writes to.
type Recorder interface {
	Append(ctx context.Context, ev journal.TradeEvent) error
}

// Deps are the collaborators. States and Journal are required; the rest are optional.
type Deps struct {
	States   position.Store
	Journal  Recorder
	Notifier notify.Notifier
	Stream   Publisher
	Log      zerolog.Logger
	Clock    func() time.Time
}

// Outcome is what the caller learns about one request.
type Outcome struct {
	Accepted bool                `json:"ok"`
	Reason   string              `json:"reason,omitempty"`
	Note     string              `json:"note,omitempty"`
	Event    *journal.TradeEvent `json:"event,omitempty"`
	Notified bool                `json:"notified,omitempty"`
}

// Processor owns the replay guard, the per-symbol state cache and their locks.
type Processor struct {
	cfg      Config
	verifier *auth.Verifier
	machine  *position.Machine
	states   position.Store
	journal  Recorder
	notifier notify.Notifier
	stream   Publisher
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	symbols map[string]*symbolSlot
}

type symbolSlot struct {
	mu     sync.Mutex
	loaded bool
	state  position.State
}

// New wires a processor.
func New(cfg Config, deps Deps) *Processor {
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = auth.DefaultNonceTTL
	}
	if cfg.NonceCapacity <= 0 {
		cfg.NonceCapacity = auth.DefaultNonceCapacity
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	guard := auth.NewReplayGuard(cfg.NonceTTL, cfg.NonceCapacity)
	return &Processor{
		cfg:      cfg,
		verifier: auth.NewVerifier(cfg.Secret, cfg.MaxSkew, guard),
		machine:  position.NewMachine(cfg.Limits),
		states:   deps.States,
		journal:  deps.Journal,
		notifier: deps.Notifier,
		stream:   deps.Stream,
		log:      deps.Log,
		now:      clock,
		symbols:  make(map[string]*symbolSlot),
	}
}

// Limits returns the active risk limits.
func (p *Processor) Limits() risk.Limits { return p.cfg.Limits }

// Process handles one raw request body.
func (p *Processor) Process(ctx context.Context, body []byte) Outcome {
	now := p.now()

	payload, err := signal.Decode(body)
	switch {
	case errors.Is(err, signal.ErrEmptyBody):
		return p.finish("rejected", Outcome{Reason: ReasonEmptyBody})
	case errors.Is(err, signal.ErrNotJSON):
		return p.finish("raw", p.processRaw(ctx, string(body), now))
	case err != nil:
		return p.finish("rejected", Outcome{Reason: ReasonEmptyBody})
	}
	if len(payload) == 0 {
		return p.finish("rejected", Outcome{Reason: ReasonEmptyBody})
	}

	res := p.verifier.Verify(payload, now)
	metrics.ReplayCacheSize.Set(float64(p.verifier.Guard().Len()))
	if !res.OK {
		metrics.AuthRejections.WithLabelValues(string(res.Reason)).Inc()
		p.log.Warn().Str("reason", string(res.Reason)).Str("symbol", payload.String("symbol", "")).Msg("signal rejected")
		return p.finish("rejected", Outcome{Reason: string(res.Reason)})
	}
	payload = payload.Clone()

	if p.cfg.Passphrase != "" {
		got := payload.String("passphrase", "")
		if subtle.ConstantTimeCompare([]byte(got), []byte(p.cfg.Passphrase)) != 1 {
			metrics.AuthRejections.WithLabelValues(ReasonBadPassphrase).Inc()
			p.log.Warn().Str("reason", ReasonBadPassphrase).Msg("signal rejected")
			return p.finish("rejected", Outcome{Reason: ReasonBadPassphrase})
		}
	}

	sig := signal.Normalize(payload, now)
	out := p.apply(ctx, sig, auditPayload(payload), now)
	if out.Event == nil && out.Accepted {
		return p.finish("noop", out)
	}
	if !out.Accepted {
		return p.finish("rejected", out)
	}
	return p.finish("transition", out)
}

func (p *Processor) finish(outcome string, out Outcome) Outcome {
	metrics.WebhookRequests.WithLabelValues(outcome).Inc()
	return out
}

func (p *Processor) slot(symbol string) *symbolSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.symbols[symbol]
	if !ok {
		s = &symbolSlot{}
		p.symbols[symbol] = s
	}
	return s
}

// apply runs the state machine and its side effects under the symbol lock, so
// two concurrent entries for one symbol cannot both open a position.
func (p *Processor) apply(ctx context.Context, sig signal.Signal, raw json.RawMessage, now time.Time) Outcome {
	s := p.slot(sig.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		st, err := p.states.Load(ctx, sig.Symbol)
		if err != nil {
			p.recordFailure(ctx, "state_load", sig, err, now)
			return Outcome{Reason: ReasonStateUnavailable}
		}
		if err := st.Valid(); err != nil {
			p.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("stored state invalid, resetting to FLAT")
			st = position.NewState(sig.Symbol)
		}
		s.state, s.loaded = st, true
	}

	tr, decline, emitted := p.machine.Apply(&s.state, sig, now)
	if !emitted {
		if decline != risk.DeclineNone {
			metrics.FilterDeclines.WithLabelValues(string(decline)).Inc()
			p.log.Info().Str("symbol", sig.Symbol).Str("side", string(sig.Side)).Str("filter", string(decline)).Msg("entry declined")
		} else {
			p.log.Debug().Str("symbol", sig.Symbol).Str("side", string(sig.Side)).Str("position", string(s.state.Position)).Msg("signal ignored")
		}
		return Outcome{Accepted: true, Note: NoteNoTransition}
	}

	if err := p.states.Save(ctx, s.state); err != nil {
		p.recordFailure(ctx, "state", sig, err, now)
	}

	ev := transitionEvent(tr, sig, raw, now)
	out := Outcome{Accepted: true, Event: &ev}
	if err := p.journal.Append(ctx, ev); err != nil {
		p.recordFailure(ctx, "journal", sig, err, now)
	} else {
		metrics.TradeEvents.WithLabelValues(string(ev.Type), ev.Symbol).Inc()
	}
	if p.stream != nil {
		p.stream.Publish(ev)
	}
	p.log.Info().
		Str("symbol", sig.Symbol).
		Str("side", string(sig.Side)).
		Str("event", string(ev.Type)).
		Str("position", string(tr.After.Position)).
		Msg("position transition")

	out.Notified = p.notify(ctx, p.message(tr, sig), sig, now)
	return out
}

func (p *Processor) message(tr position.Transition, sig signal.Signal) string {
	if tr.Kind == position.KindExit {
		return notify.FormatExit(sig.Symbol, sig.TF, string(sig.Side), sig.Price, sig.Reason)
	}
	return notify.FormatEntry(notify.EntryMessage{
		Symbol:       sig.Symbol,
		TF:           sig.TF,
		Side:         string(sig.Side),
		Position:     string(tr.After.Position),
		Price:        tr.After.EntryPrice,
		TP:           tr.After.TP,
		SL:           tr.After.SL,
		MinRR:        p.cfg.Limits.MinRR,
		SignalsToday: tr.After.SignalsToday,
		MaxPerDay:    p.cfg.Limits.MaxSignalsPerDay,
	})
}

func (p *Processor) notify(ctx context.Context, text string, sig signal.Signal, now time.Time) bool {
	if p.notifier == nil {
		metrics.Notifications.WithLabelValues("skipped").Inc()
		return false
	}
	delivered, err := p.notifier.Notify(ctx, text)
	switch {
	case delivered:
		metrics.Notifications.WithLabelValues("delivered").Inc()
	case err == nil || errors.Is(err, notify.ErrNotConfigured):
		metrics.Notifications.WithLabelValues("skipped").Inc()
	default:
		metrics.Notifications.WithLabelValues("failed").Inc()
	}
	if err != nil && !errors.Is(err, notify.ErrNotConfigured) {
		p.recordFailure(ctx, "notify", sig, err, now)
	}
	return delivered
}

// recordFailure logs a downstream error and leaves an ERROR audit record.
// The state transition that preceded it stays committed.
func (p *Processor) recordFailure(ctx context.Context, sink string, sig signal.Signal, err error, now time.Time) {
	metrics.DownstreamFailures.WithLabelValues(sink).Inc()
	p.log.Error().Err(err).Str("sink", sink).Str("symbol", sig.Symbol).Str("side", string(sig.Side)).Msg("downstream failure")
	if sink == "journal" {
		return
	}
	ev := journal.NewEvent(journal.Error, now)
	ev.Symbol = sig.Symbol
	ev.TF = sig.TF
	ev.Side = string(sig.Side)
	ev.Price = sig.Price
	ev.Reason = sink
	ev.Error = err.Error()
	if appendErr := p.journal.Append(ctx, ev); appendErr != nil {
		metrics.DownstreamFailures.WithLabelValues("journal").Inc()
		p.log.Error().Err(appendErr).Msg("record error event")
		return
	}
	metrics.TradeEvents.WithLabelValues(string(ev.Type), ev.Symbol).Inc()
}

// processRaw keeps non-JSON bodies out of the state machine: they are journaled
// and forwarded as text.
func (p *Processor) processRaw(ctx context.Context, raw string, now time.Time) Outcome {
	ev := journal.NewEvent(journal.Raw, now)
	ev.Symbol, ev.TF, ev.Side = "RAW", "RAW", "RAW"
	ev.Reason = "RAW_MESSAGE"
	if data, err := json.Marshal(map[string]string{"raw_message": raw}); err == nil {
		ev.Raw = data
	}
	sig := signal.Signal{Symbol: "RAW", TF: "RAW", Side: "RAW"}
	if err := p.journal.Append(ctx, ev); err != nil {
		p.recordFailure(ctx, "journal", sig, err, now)
	} else {
		metrics.TradeEvents.WithLabelValues(string(ev.Type), ev.Symbol).Inc()
	}
	if p.stream != nil {
		p.stream.Publish(ev)
	}
	p.log.Warn().Int("bytes", len(raw)).Msg("non-json alert received")
	out := Outcome{Accepted: true, Note: NoteRawMessage, Event: &ev}
	out.Notified = p.notify(ctx, notify.FormatRaw(raw), sig, now)
	return out
}

func transitionEvent(tr position.Transition, sig signal.Signal, raw json.RawMessage, now time.Time) journal.TradeEvent {
	typ := journal.Entry
	if tr.Kind == position.KindExit {
		typ = journal.Exit
	}
	ev := journal.NewEvent(typ, now)
	ev.Symbol = sig.Symbol
	ev.TF = sig.TF
	ev.Side = string(sig.Side)
	ev.Reason = sig.Reason
	ev.Position = string(tr.After.Position)
	ev.Raw = raw
	if typ == journal.Entry {
		ev.Price = tr.After.EntryPrice
		ev.TP = tr.After.TP
		ev.SL = tr.After.SL
	} else {
		ev.Price = sig.Price
	}
	return ev
}

// auditPayload serialises the verified payload without the passphrase.
func auditPayload(p signal.Payload) json.RawMessage {
	c := p.Clone()
	delete(c, "passphrase")
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return data
}
