// Package notify delivers human-readable alerts about accepted transitions.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned by sinks that lack credentials.
var ErrNotConfigured = errors.New("notifier not configured")

// Notifier sends a text message and reports whether it was delivered.
type Notifier interface {
	Notify(ctx context.Context, text string) (bool, error)
}

// LogNotifier writes messages to the structured log. It never delivers to a human,
// so it reports delivered=false.
type LogNotifier struct{ log zerolog.Logger }

// NewLogNotifier wraps a logger.
func NewLogNotifier(log zerolog.Logger) *LogNotifier { return &LogNotifier{log: log} }

// Notify logs text.
func (n *LogNotifier) Notify(_ context.Context, text string) (bool, error) {
	n.log.Info().Str("text", text).Msg("notification (log only)")
	return false, nil
}

// Multi fans a message out to every sink. It is delivered when any sink delivered;
// errors from all sinks are joined.
type Multi []Notifier

// Notify sends to every sink in order.
func (m Multi) Notify(ctx context.Context, text string) (bool, error) {
	var (
		delivered bool
		errs      []error
	)
	for _, n := range m {
		if n == nil {
			continue
		}
		ok, err := n.Notify(ctx, text)
		if ok {
			delivered = true
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return delivered, errors.Join(errs...)
}

// MaxRawRunes caps how much of an unparsed body is forwarded.
const MaxRawRunes = 3500

// EntryMessage carries what FormatEntry prints.
type EntryMessage struct {
	Symbol       string
	TF           string
	Side         string
	Position     string
	Price        *float64
	TP           *float64
	SL           *float64
	MinRR        float64
	SignalsToday int
	MaxPerDay    int
}

// FormatEntry renders an accepted entry.
func FormatEntry(m EntryMessage) string {
	var b strings.Builder
	b.WriteString("📡 SIGNAL\n")
	fmt.Fprintf(&b, "🪙 %s ⏱ %s\n", m.Symbol, m.TF)
	fmt.Fprintf(&b, "📌 %s (%s)\n", m.Side, m.Position)
	fmt.Fprintf(&b, "💰 Entry: %s\n", num(m.Price))
	fmt.Fprintf(&b, "🎯 TP: %s\n", num(m.TP))
	fmt.Fprintf(&b, "🛑 SL: %s\n", num(m.SL))
	fmt.Fprintf(&b, "🧠 Filter: RR≥%g | Signals today: %d/%d", m.MinRR, m.SignalsToday, m.MaxPerDay)
	return b.String()
}

// FormatExit renders a closed position.
func FormatExit(symbol, tf, side string, price *float64, reason string) string {
	if reason == "" {
		reason = "N/A"
	}
	return fmt.Sprintf("✅ CLOSE\n🪙 %s ⏱ %s\n📌 %s\n💰 Price: %s\n🧾 %s", symbol, tf, side, num(price), reason)
}

// FormatRaw renders a non-JSON body, truncated to MaxRawRunes.
func FormatRaw(raw string) string {
	runes := []rune(raw)
	if len(runes) > MaxRawRunes {
		runes = runes[:MaxRawRunes]
	}
	return "⚠️ Alert source sent non-JSON text:\n" + string(runes)
}

func num(v *float64) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprintf("%g", *v)
}
