package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const (
	testSecret = "s3cret"
	testTS     = int64(1700000000)
	testNonce  = "abcdefgh"
	// HMAC-SHA256 of the scenario payload, computed independently of this package.
	scenarioSig = "c0c56de88814cace1ba21f623db3b6064c95479085053ea2948cb062c7399f03"
)

func scenarioPayload() map[string]any {
	return map[string]any{
		"symbol": "BTCUSDT",
		"tf":     "15m",
		"side":   "BUY",
		"price":  "100",
		"tp":     "110",
		"sl":     "95",
		"reason": "test",
		"ts":     json.Number("1700000000"),
		"nonce":  testNonce,
	}
}

func signed(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	sig, err := Sign([]byte(testSecret), testTS, testNonce, payload)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	payload[SigField] = sig
	return payload
}

func TestCanonicalSortedCompact(t *testing.T) {
	out, err := Canonical(scenarioPayload())
	if err != nil {
		t.Fatalf("Canonical returned error: %v", err)
	}
	want := `{"nonce":"abcdefgh","price":"100","reason":"test","side":"BUY","sl":"95","symbol":"BTCUSDT","tf":"15m","tp":"110","ts":1700000000}`
	if string(out) != want {
		t.Fatalf("unexpected canonical form:\n got %s\nwant %s", out, want)
	}
}

func TestCanonicalIgnoresSigAndOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": map[string]any{"y": true, "x": nil}, SigField: "zzz"}
	b := map[string]any{"a": map[string]any{"x": nil, "y": true}, "b": json.Number("1.0")}
	ca, err := Canonical(a)
	if err != nil {
		t.Fatalf("Canonical(a): %v", err)
	}
	cb, err := Canonical(b)
	if err != nil {
		t.Fatalf("Canonical(b): %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("expected identical encodings, got %s vs %s", ca, cb)
	}
	if string(ca) != `{"a":{"x":null,"y":true},"b":1}` {
		t.Fatalf("unexpected encoding %s", ca)
	}
}

func TestCanonicalNumberForms(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{json.Number("100"), "100"},
		{json.Number("100.0"), "100"},
		{json.Number("1e2"), "100"},
		{json.Number("-0"), "0"},
		{json.Number("0.50"), "0.5"},
		{100.25, "100.25"},
		{float32(1.5), "1.5"},
		{int64(-7), "-7"},
		{uint(3), "3"},
		{decimal.RequireFromString("2.500"), "2.5"},
	}
	for _, tc := range cases {
		out, err := Canonical(map[string]any{"n": tc.in})
		if err != nil {
			t.Fatalf("Canonical(%v) returned error: %v", tc.in, err)
		}
		if want := fmt.Sprintf(`{"n":%s}`, tc.want); string(out) != want {
			t.Fatalf("number %v: got %s want %s", tc.in, out, want)
		}
	}
}

func TestCanonicalStringsNotHTMLEscaped(t *testing.T) {
	out, err := Canonical(map[string]any{"reason": "ema<200 & rsi>70 \"x\" ñ", "list": []any{"a", 1}})
	if err != nil {
		t.Fatalf("Canonical returned error: %v", err)
	}
	want := `{"list":["a",1],"reason":"ema<200 & rsi>70 \"x\" ñ"}`
	if string(out) != want {
		t.Fatalf("got %s want %s", out, want)
	}
}

func TestCanonicalRejectsUnsupported(t *testing.T) {
	if _, err := Canonical(map[string]any{"n": math.NaN()}); err == nil {
		t.Fatalf("expected NaN to be rejected")
	}
	if _, err := Canonical(map[string]any{"c": make(chan int)}); err == nil {
		t.Fatalf("expected unsupported type to be rejected")
	}
}

func TestSignMatchesReference(t *testing.T) {
	sig, err := Sign([]byte(testSecret), testTS, testNonce, scenarioPayload())
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if sig != scenarioSig {
		t.Fatalf("unexpected signature %s", sig)
	}
}

func TestReplayGuardCapacityEviction(t *testing.T) {
	guard := NewReplayGuard(time.Minute, 2)
	now := time.Unix(testTS, 0)
	for _, n := range []string{"A", "B", "C"} {
		if guard.Seen(n, now) {
			t.Fatalf("expected %s to be new", n)
		}
	}
	if guard.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", guard.Len())
	}
	if guard.Seen("A", now) {
		t.Fatalf("expected evicted nonce A to be treated as new")
	}
	if !guard.Seen("C", now) {
		t.Fatalf("expected C to still be tracked")
	}
}

func TestReplayGuardTTL(t *testing.T) {
	guard := NewReplayGuard(10*time.Minute, 10)
	start := time.Unix(testTS, 0)
	if guard.Seen("nonce-1", start) {
		t.Fatalf("expected first sighting to be new")
	}
	if !guard.Seen("nonce-1", start.Add(10*time.Minute)) {
		t.Fatalf("expected nonce to survive exactly ttl")
	}
	if guard.Seen("nonce-1", start.Add(10*time.Minute+time.Second)) {
		t.Fatalf("expected nonce to expire after ttl")
	}
}

func TestReplayGuardConcurrentDuplicates(t *testing.T) {
	guard := NewReplayGuard(time.Minute, 100)
	now := time.Unix(testTS, 0)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !guard.Seen("same-nonce", now) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 1 {
		t.Fatalf("expected exactly one admission, got %d", admitted)
	}
}

func TestVerifyScenarioOnceThenReplay(t *testing.T) {
	v := NewVerifier([]byte(testSecret), 0, NewReplayGuard(0, 0))
	payload := scenarioPayload()
	payload[SigField] = scenarioSig
	now := time.Unix(testTS+30, 0)

	if res := v.Verify(payload, now); !res.OK {
		t.Fatalf("expected accept, got %s", res.Reason)
	}
	res := v.Verify(payload, now.Add(time.Second))
	if res.OK || res.Reason != ReasonReplayDetected {
		t.Fatalf("expected replay_detected, got %+v", res)
	}
	if !errors.Is(res.Err(), ReasonReplayDetected) {
		t.Fatalf("expected errors.Is to match reason")
	}
}

func TestVerifyRejectionOrder(t *testing.T) {
	now := time.Unix(testTS, 0)
	cases := []struct {
		name   string
		secret string
		mutate func(map[string]any)
		want   Reason
	}{
		{"no secret", "", func(map[string]any) {}, ReasonSecretNotConfigured},
		{"missing ts", testSecret, func(p map[string]any) { delete(p, "ts") }, ReasonInvalidTimestamp},
		{"fractional ts", testSecret, func(p map[string]any) { p["ts"] = json.Number("1700000000.5") }, ReasonInvalidTimestamp},
		{"text ts", testSecret, func(p map[string]any) { p["ts"] = "soon" }, ReasonInvalidTimestamp},
		{"short nonce", testSecret, func(p map[string]any) { p["nonce"] = "abc" }, ReasonInvalidNonce},
		{"multibyte nonce", testSecret, func(p map[string]any) { p["nonce"] = "éééé" }, ReasonInvalidNonce},
		{"numeric nonce", testSecret, func(p map[string]any) { p["nonce"] = json.Number("12345678") }, ReasonInvalidNonce},
		{"missing sig", testSecret, func(p map[string]any) { delete(p, SigField) }, ReasonInvalidSignatureFormat},
		{"short sig", testSecret, func(p map[string]any) { p[SigField] = "abcd" }, ReasonInvalidSignatureFormat},
		{"non hex sig", testSecret, func(p map[string]any) { p[SigField] = strings.Repeat("z", 64) }, ReasonInvalidSignatureFormat},
		{"skewed", testSecret, func(p map[string]any) { p["ts"] = json.Number("1699999000") }, ReasonTimestampSkew},
		{"ancient ts", testSecret, func(p map[string]any) { p["ts"] = json.Number(strconv.FormatInt(testTS-math.MaxInt64-1, 10)) }, ReasonTimestampSkew},
		{"future ts", testSecret, func(p map[string]any) { p["ts"] = json.Number(strconv.FormatInt(math.MaxInt64, 10)) }, ReasonTimestampSkew},
		{"tampered", testSecret, func(p map[string]any) { p["tp"] = "111" }, ReasonBadSignature},
	}
	for _, tc := range cases {
		payload := scenarioPayload()
		payload[SigField] = scenarioSig
		tc.mutate(payload)
		v := NewVerifier([]byte(tc.secret), 0, nil)
		if res := v.Verify(payload, now); res.OK || res.Reason != tc.want {
			t.Fatalf("%s: expected %s got %+v", tc.name, tc.want, res)
		}
	}
}

func TestVerifyMalformedDoesNotConsumeNonce(t *testing.T) {
	guard := NewReplayGuard(0, 0)
	v := NewVerifier([]byte(testSecret), 0, guard)
	now := time.Unix(testTS, 0)

	bad := scenarioPayload()
	bad[SigField] = "nothex"
	if res := v.Verify(bad, now); res.Reason != ReasonInvalidSignatureFormat {
		t.Fatalf("expected format rejection, got %+v", res)
	}
	skewed := scenarioPayload()
	skewed[SigField] = scenarioSig
	if res := v.Verify(skewed, now.Add(time.Hour)); res.Reason != ReasonTimestampSkew {
		t.Fatalf("expected skew rejection, got %+v", res)
	}
	if guard.Len() != 0 {
		t.Fatalf("expected no nonce recorded, got %d", guard.Len())
	}

	good := scenarioPayload()
	good[SigField] = scenarioSig
	if res := v.Verify(good, now); !res.OK {
		t.Fatalf("expected accept after malformed attempts, got %+v", res)
	}
}

func TestVerifyAnyByteChangeInvalidates(t *testing.T) {
	base := signed(t, map[string]any{
		"symbol": "ETHUSDT",
		"side":   "SELL",
		"price":  json.Number("2500.5"),
		"tp":     json.Number("2400"),
		"sl":     json.Number("2550"),
		"ts":     json.Number("1700000000"),
		"nonce":  testNonce,
	})
	now := time.Unix(testTS, 0)
	for _, field := range []string{"symbol", "side", "price", "tp", "sl"} {
		tampered := make(map[string]any, len(base))
		for k, v := range base {
			tampered[k] = v
		}
		switch cur := tampered[field].(type) {
		case string:
			tampered[field] = cur + "X"
		case json.Number:
			tampered[field] = json.Number(cur.String() + "1")
		}
		v := NewVerifier([]byte(testSecret), 0, nil)
		if res := v.Verify(tampered, now); res.Reason != ReasonBadSignature {
			t.Fatalf("tampering %s: expected bad_signature got %+v", field, res)
		}
	}
	v := NewVerifier([]byte(testSecret), 0, nil)
	if res := v.Verify(base, now); !res.OK {
		t.Fatalf("expected untampered payload to verify, got %+v", res)
	}
}

func TestVerifyAcceptsUppercaseHex(t *testing.T) {
	payload := scenarioPayload()
	payload[SigField] = strings.ToUpper(scenarioSig)
	v := NewVerifier([]byte(testSecret), 0, nil)
	if res := v.Verify(payload, time.Unix(testTS, 0)); !res.OK {
		t.Fatalf("expected uppercase hex accepted, got %+v", res)
	}
}

func TestVerifyAcceptsQuotedTimestamp(t *testing.T) {
	payload := scenarioPayload()
	payload["ts"] = "1700000000"
	payload = signed(t, payload)
	v := NewVerifier([]byte(testSecret), 0, nil)
	if res := v.Verify(payload, time.Unix(testTS, 0)); !res.OK {
		t.Fatalf("expected quoted ts accepted, got %+v", res)
	}
}
