// Package signal standardizes alert payloads shared between the webhook boundary and the engine.
package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payload is an untrusted decoded alert body. It stays untyped until the signature is verified.
type Payload map[string]any

var (
	// ErrEmptyBody reports a request with no content.
	ErrEmptyBody = errors.New("empty body")
	// ErrNotJSON reports a body that is not a JSON object.
	ErrNotJSON = errors.New("body is not a json object")
)

// Side enumerates the actions an alert may request.
type Side string

const (
	Buy       Side = "BUY"
	Sell      Side = "SELL"
	ExitLong  Side = "EXIT_LONG"
	ExitShort Side = "EXIT_SHORT"
)

// IsEntry reports whether the side opens a position.
func (s Side) IsEntry() bool { return s == Buy || s == Sell }

// IsExit reports whether the side closes a position.
func (s Side) IsExit() bool { return s == ExitLong || s == ExitShort }

const (
	DefaultSymbol = "BTCUSDT"
	DefaultTF     = "15m"
)

// Signal is the typed view of a payload that already passed verification.
type Signal struct {
	Symbol string
	TF     string
	Side   Side
	Price  *float64
	TP     *float64
	SL     *float64
	Reason string
	Ts     time.Time
}

// Decode parses a raw request body. Numbers are kept as json.Number so the
// canonical encoder sees the sender's values rather than float64 approximations.
func Decode(body []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrEmptyBody
	}
	if trimmed[0] != '{' {
		return nil, ErrNotJSON
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var payload Payload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if dec.More() {
		return nil, ErrNotJSON
	}
	if payload == nil {
		return nil, ErrNotJSON
	}
	return payload, nil
}

// Clone returns a shallow copy so later stages never mutate verified input.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns the field as trimmed text, or def when missing or empty.
func (p Payload) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case json.Number:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// Normalize builds a Signal from a verified payload. Symbol and side are upper-cased;
// numeric fields that fail to parse become nil.
func Normalize(p Payload, now time.Time) Signal {
	return Signal{
		Symbol: strings.ToUpper(p.String("symbol", DefaultSymbol)),
		TF:     p.String("tf", DefaultTF),
		Side:   Side(strings.ToUpper(p.String("side", ""))),
		Price:  ParseNumber(p["price"]),
		TP:     ParseNumber(p["tp"]),
		SL:     ParseNumber(p["sl"]),
		Reason: p.String("reason", ""),
		Ts:     now.UTC(),
	}
}

// ParseNumber converts numbers and numeric strings to float64. NaN, Inf, empty
// strings and anything non-numeric yield nil.
func ParseNumber(v any) *float64 {
	var d decimal.Decimal
	switch x := v.(type) {
	case nil:
		return nil
	case json.Number:
		parsed, err := decimal.NewFromString(x.String())
		if err != nil {
			return nil
		}
		d = parsed
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		d = parsed
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return &x
	case int:
		d = decimal.NewFromInt(int64(x))
	case int64:
		d = decimal.NewFromInt(x)
	default:
		return nil
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}
