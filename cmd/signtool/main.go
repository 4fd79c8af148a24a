// Binary signtool signs an alert payload the way the webhook expects it.
//
//	echo '{"symbol":"BTCUSDT","side":"BUY","price":"100","tp":"110","sl":"95"}' | signtool -secret s3cret
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/auth"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/config"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/signal"
)

func main() {
	secret := flag.String("secret", "", "shared secret (defaults to WEBHOOK_SECRET)")
	in := flag.String("in", "-", "payload file, - for stdin")
	flag.Parse()

	_ = config.LoadDotEnv()
	if *secret == "" {
		*secret = os.Getenv("WEBHOOK_SECRET")
	}

	var (
		body []byte
		err  error
	)
	if *in == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(*in)
	}
	if err != nil {
		fail(err)
	}

	out, err := signPayload(body, *secret, time.Now(), newNonce)
	if err != nil {
		fail(err)
	}
	fmt.Println(string(out))
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "signtool:", err)
	os.Exit(1)
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// signPayload stamps ts and nonce when absent and sets sig over everything else.
func signPayload(body []byte, secret string, now time.Time, nonce func() string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("secret is empty")
	}
	payload, err := signal.Decode(body)
	if err != nil {
		return nil, err
	}
	delete(payload, auth.SigField)

	if _, ok := payload["ts"]; !ok {
		payload["ts"] = json.Number(strconv.FormatInt(now.Unix(), 10))
	}
	ts, err := strconv.ParseInt(fmt.Sprint(payload["ts"]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ts must be unix seconds: %w", err)
	}
	n := payload.String("nonce", "")
	if n == "" {
		n = nonce()
		payload["nonce"] = n
	}
	if utf8.RuneCountInString(n) < auth.MinNonceLength {
		return nil, fmt.Errorf("nonce must be at least %d characters", auth.MinNonceLength)
	}

	sig, err := auth.Sign([]byte(secret), ts, n, payload)
	if err != nil {
		return nil, err
	}
	payload[auth.SigField] = sig
	return json.Marshal(payload)
}
