// Package auth authenticates inbound alerts: canonical encoding, HMAC signatures and nonce replay protection.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// SigField is excluded from the canonical encoding.
const SigField = "sig"

// Canonical encodes payload without its sig field. Keys are sorted, there is no
// whitespace, strings are not HTML-escaped and numbers use plain decimal notation
// with trailing fractional zeros removed (100, 100.0 and 1e2 all encode as 100).
func Canonical(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	stripped := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == SigField {
			continue
		}
		stripped[k] = v
	}
	if err := encodeValue(&buf, stripped); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Message builds the signing input "{ts}.{nonce}.{canonical}".
func Message(ts int64, nonce string, canonical []byte) []byte {
	msg := make([]byte, 0, len(canonical)+len(nonce)+24)
	msg = strconv.AppendInt(msg, ts, 10)
	msg = append(msg, '.')
	msg = append(msg, nonce...)
	msg = append(msg, '.')
	return append(msg, canonical...)
}

// Sign returns the lowercase hex HMAC-SHA256 of the message for payload.
func Sign(secret []byte, ts int64, nonce string, payload map[string]any) (string, error) {
	canonical, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac(secret, Message(ts, nonce, canonical))), nil
}

func mac(secret, msg []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(msg)
	return h.Sum(nil)
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return encodeString(buf, x)
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return fmt.Errorf("canonical: invalid number %q: %w", x.String(), err)
		}
		buf.WriteString(d.String())
	case decimal.Decimal:
		buf.WriteString(x.String())
	case float64:
		return encodeFloat(buf, x)
	case float32:
		return encodeFloat(buf, float64(x))
	case int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(x, 10))
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeValue(buf, x[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("canonical: unsupported type %T", v)
	}
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonical: non-finite number %v", f)
	}
	buf.WriteString(decimal.NewFromFloat(f).String())
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encoder terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
