package signal

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestDecodeKeepsNumbers(t *testing.T) {
	payload, err := Decode([]byte(` {"symbol":"btcusdt","price":100.50,"ts":1700000000} `))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if _, ok := payload["price"].(json.Number); !ok {
		t.Fatalf("expected json.Number for price, got %T", payload["price"])
	}
	if payload["price"].(json.Number).String() != "100.50" {
		t.Fatalf("expected literal preserved, got %v", payload["price"])
	}
}

func TestDecodeRejectsEmptyAndText(t *testing.T) {
	if _, err := Decode([]byte("   ")); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	cases := []string{"BUY BTCUSDT now", `["a"]`, `{"a":1} {"b":2}`, `{"a":`, "null"}
	for _, body := range cases {
		if _, err := Decode([]byte(body)); !errors.Is(err, ErrNotJSON) {
			t.Fatalf("expected ErrNotJSON for %q, got %v", body, err)
		}
	}
}

func TestParseNumber(t *testing.T) {
	cases := map[string]struct {
		in   any
		want *float64
	}{
		"string":      {in: "100", want: ptr(100)},
		"spaced":      {in: " 95.5 ", want: ptr(95.5)},
		"json number": {in: json.Number("110"), want: ptr(110)},
		"float":       {in: 1.5, want: ptr(1.5)},
		"int":         {in: 7, want: ptr(7)},
		"empty":       {in: "", want: nil},
		"garbage":     {in: "abc", want: nil},
		"nan":         {in: "NaN", want: nil},
		"inf float":   {in: math.Inf(1), want: nil},
		"overflow":    {in: "1e400", want: nil},
		"underflow":   {in: "-1e400", want: nil},
		"big number":  {in: json.Number("1e400"), want: nil},
		"nil":         {in: nil, want: nil},
		"bool":        {in: true, want: nil},
	}
	for name, tc := range cases {
		got := ParseNumber(tc.in)
		if (got == nil) != (tc.want == nil) {
			t.Fatalf("%s: expected %v got %v", name, tc.want, got)
		}
		if got != nil && *got != *tc.want {
			t.Fatalf("%s: expected %.4f got %.4f", name, *tc.want, *got)
		}
	}
}

func TestNormalizeDefaults(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sig := Normalize(Payload{"side": " buy ", "price": "100", "tp": "bad"}, now)
	if sig.Symbol != DefaultSymbol || sig.TF != DefaultTF {
		t.Fatalf("expected defaults, got %s %s", sig.Symbol, sig.TF)
	}
	if sig.Side != Buy || !sig.Side.IsEntry() {
		t.Fatalf("expected BUY entry side, got %q", sig.Side)
	}
	if sig.Price == nil || *sig.Price != 100 {
		t.Fatalf("expected price 100")
	}
	if sig.TP != nil || sig.SL != nil {
		t.Fatalf("expected unparsable tp and missing sl to be nil")
	}
	if !sig.Ts.Equal(now) {
		t.Fatalf("unexpected ts %s", sig.Ts)
	}
}

func ptr(f float64) *float64 { return &f }
