package auth

import (
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Reason is a machine-readable rejection code. It satisfies error so callers can
// compare with errors.Is.
type Reason string

func (r Reason) Error() string { return string(r) }

const (
	ReasonNone                   Reason = ""
	ReasonSecretNotConfigured    Reason = "secret_not_configured"
	ReasonInvalidTimestamp       Reason = "invalid_timestamp"
	ReasonInvalidNonce           Reason = "invalid_nonce"
	ReasonInvalidSignatureFormat Reason = "invalid_signature_format"
	ReasonTimestampSkew          Reason = "timestamp_skew"
	ReasonReplayDetected         Reason = "replay_detected"
	ReasonBadSignature           Reason = "bad_signature"
)

const (
	DefaultMaxSkew  = 120 * time.Second
	MinNonceLength  = 8
	SignatureHexLen = 64
)

// Result is the verdict for a single payload.
type Result struct {
	OK     bool
	Reason Reason
}

// Err returns nil on success and the rejection reason otherwise.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return r.Reason
}

func reject(reason Reason) Result { return Result{Reason: reason} }

// Verifier checks freshness, nonce uniqueness and the HMAC signature of a payload.
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	guard   *ReplayGuard
}

// NewVerifier wires a verifier. An empty secret makes every call fail closed.
func NewVerifier(secret []byte, maxSkew time.Duration, guard *ReplayGuard) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	if guard == nil {
		guard = NewReplayGuard(DefaultNonceTTL, DefaultNonceCapacity)
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Verifier{secret: key, maxSkew: maxSkew, guard: guard}
}

// Guard exposes the replay cache for metrics.
func (v *Verifier) Guard() *ReplayGuard { return v.guard }

// Verify runs the checks in a fixed order. Structural checks come before the
// replay lookup so malformed requests never consume a nonce slot.
func (v *Verifier) Verify(payload map[string]any, now time.Time) Result {
	if len(v.secret) == 0 {
		return reject(ReasonSecretNotConfigured)
	}
	ts, ok := parseTimestamp(payload["ts"])
	if !ok {
		return reject(ReasonInvalidTimestamp)
	}
	nonce, ok := payload["nonce"].(string)
	if !ok || utf8.RuneCountInString(nonce) < MinNonceLength {
		return reject(ReasonInvalidNonce)
	}
	provided, ok := decodeSignature(payload[SigField])
	if !ok {
		return reject(ReasonInvalidSignatureFormat)
	}
	window := int64(v.maxSkew / time.Second)
	if ts < now.Unix()-window || ts > now.Unix()+window {
		return reject(ReasonTimestampSkew)
	}
	if v.guard.Seen(nonce, now) {
		return reject(ReasonReplayDetected)
	}
	canonical, err := Canonical(payload)
	if err != nil {
		return reject(ReasonBadSignature)
	}
	expected := mac(v.secret, Message(ts, nonce, canonical))
	if !hmac.Equal(expected, provided) {
		return reject(ReasonBadSignature)
	}
	return Result{OK: true}
}

func decodeSignature(v any) ([]byte, bool) {
	s, ok := v.(string)
	if !ok || len(s) != SignatureHexLen {
		return nil, false
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func parseTimestamp(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		ts, err := strconv.ParseInt(x.String(), 10, 64)
		return ts, err == nil
	case string:
		x = strings.TrimSpace(x)
		if x == "" || strings.TrimLeft(x, "0123456789") != "" {
			return 0, false
		}
		ts, err := strconv.ParseInt(x, 10, 64)
		return ts, err == nil
	case int:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) || math.Abs(x) > 1<<53 {
			return 0, false
		}
		return int64(x), true
	default:
		return 0, false
	}
}
